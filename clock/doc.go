/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package clock disciplines the local clock of the PTP daemon.

It wraps the clock_adjtime(2) syscall for CLOCK_REALTIME and for PTP hardware
clocks (PHC) of network cards, and offers three implementations of the daemon's
clock controls:
  - SysClock for the system clock, used with software timestamps
  - PHC for the hardware clock matching hardware timestamps
  - FreeRunning which only observes, for monitoring without adjusting time
*/
package clock

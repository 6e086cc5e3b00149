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

package stats

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// procSampler samples the daemon process and the Go runtime into counters
type procSampler struct {
	start time.Time
	proc  *process.Process
	prev  *runtime.MemStats
}

// perSecond sets the rate of a monotonic counter between two samples
func perSecond(set func(string, int64), name string, cur, prev uint64, interval time.Duration) {
	if cur < prev || interval <= 0 {
		return
	}
	set(name, int64(float64(cur-prev)/interval.Seconds()))
}

func (p *procSampler) sample(set func(string, int64), interval time.Duration) error {
	if p.proc == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return fmt.Errorf("opening own process: %w", err)
		}
		p.proc = proc
	}
	set("process.uptime_s", int64(time.Since(p.start).Seconds()))
	if pct, err := p.proc.Percent(0); err == nil {
		set("process.cpu_permille", int64(pct*10))
	}
	if mem, err := p.proc.MemoryInfo(); err == nil {
		set("process.rss", int64(mem.RSS))
		set("process.vms", int64(mem.VMS))
	}
	if n, err := p.proc.NumFDs(); err == nil {
		set("process.fds", int64(n))
	}
	if n, err := p.proc.NumThreads(); err == nil {
		set("process.threads", int64(n))
	}

	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	set("runtime.goroutines", int64(runtime.NumGoroutine()))
	set("runtime.mem.sys", int64(m.Sys))
	set("runtime.mem.heap_alloc", int64(m.HeapAlloc))
	set("runtime.mem.heap_objects", int64(m.HeapObjects))
	set("runtime.gc.count", int64(m.NumGC))
	set("runtime.gc.pause_total_ns", int64(m.PauseTotalNs))
	if p.prev != nil {
		perSecond(set, "runtime.mem.mallocs_per_s", m.Mallocs, p.prev.Mallocs, interval)
		perSecond(set, "runtime.gc.pause_ns_per_s", m.PauseTotalNs, p.prev.PauseTotalNs, interval)
	}
	p.prev = m
	return nil
}

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
Package stats collects the counters of the PTP daemon and serves them
as JSON and in the Prometheus exposition format.
*/
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/facebook/ptpd/ptp/port"
)

// Stats is a concurrency safe set of counters, it implements port.StatsServer
type Stats struct {
	mux      sync.Mutex
	counters map[string]int64
}

// NewStats created new instance of Stats
func NewStats() *Stats {
	return &Stats{counters: map[string]int64{}}
}

// UpdateCounterBy will increment counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value
func (s *Stats) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// GetCounters returns a copy of all counters
func (s *Stats) GetCounters() Counters {
	ret := make(Counters)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	s.mux.Unlock()
	return ret
}

// Reset sets all the counters to 0
func (s *Stats) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.mux.Unlock()
}

// Counters is what the daemon reports
type Counters map[string]int64

// PortStats returns two maps: message type to counter, TX and RX
func (c Counters) PortStats() (tx map[string]uint64, rx map[string]uint64) {
	tx = map[string]uint64{}
	rx = map[string]uint64{}
	for k, v := range c {
		if strings.HasPrefix(k, port.PortStatsTxPrefix) {
			tx[strings.TrimPrefix(k, port.PortStatsTxPrefix)] = uint64(v)
		}
		if strings.HasPrefix(k, port.PortStatsRxPrefix) {
			rx[strings.TrimPrefix(k, port.PortStatsRxPrefix)] = uint64(v)
		}
	}
	return tx, rx
}

// SysStats returns the process and runtime counters
func (c Counters) SysStats() map[string]int64 {
	res := map[string]int64{}
	for k, v := range c {
		if strings.HasPrefix(k, "process.") || strings.HasPrefix(k, "runtime.") {
			res[k] = v
		}
	}
	return res
}

// FetchCounters returns counters fetched from the daemon monitoring url
func FetchCounters(url string) (Counters, error) {
	counters := make(Counters)
	c := http.Client{
		Timeout: time.Second * 2,
	}
	resp, err := c.Get(fmt.Sprintf("%s/counters", url))
	if err != nil {
		return counters, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return counters, fmt.Errorf("fetching counters: %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return counters, err
	}
	err = json.Unmarshal(b, &counters)
	return counters, err
}

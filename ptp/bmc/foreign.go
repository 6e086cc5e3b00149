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

package bmc

import (
	"net/netip"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

const (
	// ForeignMasterThreshold is how many announces a master must send within the window to be qualified
	ForeignMasterThreshold = 2
	// ForeignMasterTimeWindow is the qualification window in announce intervals
	ForeignMasterTimeWindow = 4
	// DefaultForeignMasterCapacity is the table size used when none is given
	DefaultForeignMasterCapacity = 5
	// maxStepsRemoved marks announces that went through too many boundary clocks
	maxStepsRemoved = 255
)

// ForeignRecord is one entry of the ForeignMasterTable
type ForeignRecord struct {
	Dataset  Dataset
	Address  netip.Addr
	Header   ptp.Header
	Announce ptp.AnnounceBody
	// Count is the total number of announces seen from this master
	Count    int
	LastSeen time.Time
	arrivals []time.Time
}

// Qualified reports whether the record has enough recent announces to take part in BMCA
func (r *ForeignRecord) Qualified(threshold int) bool {
	return len(r.arrivals) >= threshold
}

// ForeignMasterTable keeps the masters heard on a port, keyed by sender port identity
type ForeignMasterTable struct {
	// Self is the identity of the owning port, announces from it are ignored
	Self       ptp.PortIdentity
	Comparator Comparator
	Threshold  int
	// Window is how far back announces count towards qualification
	Window time.Duration

	capacity int
	records  map[ptp.PortIdentity]*ForeignRecord
}

// NewForeignMasterTable returns a table holding at most capacity masters
func NewForeignMasterTable(self ptp.PortIdentity, capacity int, announceInterval time.Duration) *ForeignMasterTable {
	if capacity <= 0 {
		capacity = DefaultForeignMasterCapacity
	}
	return &ForeignMasterTable{
		Self:      self,
		Threshold: ForeignMasterThreshold,
		Window:    ForeignMasterTimeWindow * announceInterval,
		capacity:  capacity,
		records:   make(map[ptp.PortIdentity]*ForeignRecord, capacity),
	}
}

// Len returns number of records in the table
func (t *ForeignMasterTable) Len() int {
	return len(t.records)
}

// Get returns the record of a given sender
func (t *ForeignMasterTable) Get(sender ptp.PortIdentity) (*ForeignRecord, bool) {
	r, ok := t.records[sender]
	return r, ok
}

// Observe inserts or refreshes the record of the announce sender.
// It returns false when the announce was ignored.
func (t *ForeignMasterTable) Observe(m *ptp.Message, addr netip.Addr, now time.Time) (*ForeignRecord, bool) {
	if m.SourcePortIdentity.ClockIdentity == t.Self.ClockIdentity {
		log.Debugf("ignoring announce from own clock %s", m.SourcePortIdentity)
		return nil, false
	}
	ds, err := NewDataset(m, t.Self)
	if err != nil {
		log.Warningf("foreign master table: %v", err)
		return nil, false
	}
	if ds.StepsRemoved >= maxStepsRemoved {
		log.Debugf("ignoring announce from %s with %d steps removed", ds.Sender, ds.StepsRemoved)
		return nil, false
	}
	announce := m.Body.(*ptp.AnnounceBody)

	r, found := t.records[ds.Sender]
	if found {
		// keep what was set locally, the rest comes from the wire
		ds.LocalPreference = r.Dataset.LocalPreference
		ds.Disqualified = r.Dataset.Disqualified
	} else {
		if len(t.records) >= t.capacity {
			worst := t.worst()
			if t.Comparator.Dscmp(ds, &worst.Dataset) <= Unknown {
				log.Debugf("foreign master table full, dropping %s", ds.Sender)
				return nil, false
			}
			log.Debugf("foreign master table full, evicting %s for %s", worst.Dataset.Sender, ds.Sender)
			delete(t.records, worst.Dataset.Sender)
		}
		r = &ForeignRecord{}
		t.records[ds.Sender] = r
	}
	r.Dataset = *ds
	r.Address = addr
	r.Header = m.Header
	r.Announce = *announce
	r.Count++
	r.LastSeen = now
	r.arrivals = append(r.arrivals, now)
	r.arrivals = trimArrivals(r.arrivals, now, t.Window)
	return r, true
}

func trimArrivals(arrivals []time.Time, now time.Time, window time.Duration) []time.Time {
	if window <= 0 {
		return arrivals
	}
	i := 0
	for i < len(arrivals) && now.Sub(arrivals[i]) > window {
		i++
	}
	return arrivals[i:]
}

// SetLocalPreference sets the local preference of a known master
func (t *ForeignMasterTable) SetLocalPreference(sender ptp.PortIdentity, pref uint8) {
	if r, ok := t.records[sender]; ok {
		r.Dataset.LocalPreference = pref
	}
}

// Disqualify marks a master so it loses against every qualified one
func (t *ForeignMasterTable) Disqualify(sender ptp.PortIdentity) {
	if r, ok := t.records[sender]; ok {
		r.Dataset.Disqualified = true
	}
}

// Expire drops records not refreshed within timeout and ages announces out of the window.
// It returns how many records were removed.
func (t *ForeignMasterTable) Expire(now time.Time, timeout time.Duration) int {
	removed := 0
	for id, r := range t.records {
		if now.Sub(r.LastSeen) > timeout {
			log.Debugf("foreign master %s expired", id)
			delete(t.records, id)
			removed++
			continue
		}
		r.arrivals = trimArrivals(r.arrivals, now, t.Window)
	}
	return removed
}

// Clear drops all records
func (t *ForeignMasterTable) Clear() {
	t.records = make(map[ptp.PortIdentity]*ForeignRecord, t.capacity)
}

// sorted returns records ordered by sender so selection doesn't depend on map order
func (t *ForeignMasterTable) sorted() []*ForeignRecord {
	list := make([]*ForeignRecord, 0, len(t.records))
	for _, r := range t.records {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Dataset.Sender.Less(list[j].Dataset.Sender)
	})
	return list
}

// Qualified returns the records that may take part in BMCA
func (t *ForeignMasterTable) Qualified() []*ForeignRecord {
	var out []*ForeignRecord
	for _, r := range t.sorted() {
		if r.Qualified(t.Threshold) {
			out = append(out, r)
		}
	}
	return out
}

// Best returns the best qualified master, or nil if there is none
func (t *ForeignMasterTable) Best() *ForeignRecord {
	var best *ForeignRecord
	for _, r := range t.Qualified() {
		if best == nil || t.Comparator.Dscmp(&r.Dataset, &best.Dataset) > Unknown {
			best = r
		}
	}
	return best
}

func (t *ForeignMasterTable) worst() *ForeignRecord {
	var worst *ForeignRecord
	for _, r := range t.sorted() {
		if worst == nil || t.Comparator.Dscmp(&r.Dataset, &worst.Dataset) < Unknown {
			worst = r
		}
	}
	return worst
}

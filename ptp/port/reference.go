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

package port

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ReferenceSource is what the local clock is disciplined from
type ReferenceSource uint8

// Reference sources
const (
	SourceNone ReferenceSource = iota
	SourcePTP
	SourceExternal
)

var referenceSourceToString = map[ReferenceSource]string{
	SourceNone:     "NONE",
	SourcePTP:      "PTP",
	SourceExternal: "EXTERNAL",
}

func (s ReferenceSource) String() string {
	if str, ok := referenceSourceToString[s]; ok {
		return str
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Reference is the ReferenceBinder shared by all ports of a clock
type Reference struct {
	sync.Mutex
	source  ReferenceSource
	holders map[uint16]bool
}

// NewReference returns an unbound Reference
func NewReference() *Reference {
	return &Reference{holders: map[uint16]bool{}}
}

// Bind implements ReferenceBinder. An unsynchronised clock bound by a port serves as an external reference.
func (r *Reference) Bind(port uint16) {
	r.Lock()
	defer r.Unlock()
	if !r.holders[port] {
		log.Debugf("reference: bound by port %d", port)
	}
	r.holders[port] = true
	if r.source == SourceNone {
		r.source = SourceExternal
	}
}

// Release implements ReferenceBinder
func (r *Reference) Release(port uint16) {
	r.Lock()
	defer r.Unlock()
	delete(r.holders, port)
	if len(r.holders) == 0 && r.source == SourceExternal {
		r.source = SourceNone
	}
}

// SetSource implements ReferenceBinder
func (r *Reference) SetSource(src ReferenceSource) {
	r.Lock()
	defer r.Unlock()
	if r.source != src {
		log.Infof("reference: source %s -> %s", r.source, src)
	}
	r.source = src
}

// Clear implements ReferenceBinder. A clock still held by a port stays an external reference.
func (r *Reference) Clear() {
	r.Lock()
	defer r.Unlock()
	if len(r.holders) > 0 {
		r.source = SourceExternal
		return
	}
	r.source = SourceNone
}

// Source returns the current source
func (r *Reference) Source() ReferenceSource {
	r.Lock()
	defer r.Unlock()
	return r.source
}

// Holders returns the ports holding the binding, sorted
func (r *Reference) Holders() []uint16 {
	r.Lock()
	defer r.Unlock()
	out := make([]uint16, 0, len(r.holders))
	for p := range r.holders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

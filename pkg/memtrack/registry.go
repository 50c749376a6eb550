// Copyright 2025 The MemTrack Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package memtrack

import (
	"fmt"
	"sync/atomic"

	"github.com/meridiandb/memtrack/pkg/util/syncutil"
)

// A Registry hands out trackers shared across independently scheduled
// execution units, keyed by an opaque identity (e.g. a query id): passing
// the same id from every fragment of a query running on one machine yields
// per-query limits rather than per-fragment ones.
//
// Entries are reference counted. The registry itself holds no strong
// reference: when the last Handle for an id is released, the tracker is
// unregistered from its parent and the entry removed, and a later
// GetOrCreate for the same id constructs a fresh tracker.
//
// A Registry is typically created once at process start and lives for the
// process lifetime.
type Registry[ID comparable] struct {
	mu       syncutil.Mutex
	trackers map[ID]*registryEntry
}

type registryEntry struct {
	tracker *Tracker
	refs    int
}

// NewSharedRegistry creates an empty Registry.
func NewSharedRegistry[ID comparable]() *Registry[ID] {
	return &Registry[ID]{trackers: map[ID]*registryEntry{}}
}

// GetOrCreate returns a Handle on the tracker for id. The first call for
// an id constructs a new tracker with the given limit and parent; later
// calls while any handle is alive return the same tracker and ignore the
// proposed limit and parent, which the caller must keep identical across
// calls for a given id (divergence is a contract violation and is not
// detected). Construction and insertion are atomic with respect to the
// registry lock, so concurrent first-time lookups cannot race into two
// distinct trackers.
func (r *Registry[ID]) GetOrCreate(id ID, limit int64, parent *Tracker) *Handle[ID] {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.trackers[id]
	if !ok {
		t := newTracker(
			fmt.Sprintf("%v", id), limit, parent, nil, true /* autoUnregister */)
		e = &registryEntry{tracker: t}
		r.trackers[id] = e
	}
	e.refs++
	return &Handle[ID]{registry: r, id: id, tracker: e.tracker}
}

// Len returns the number of live entries. For diagnostics.
func (r *Registry[ID]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// A Handle is a strong, reference-counted reference to a shared tracker.
// Each Handle must be released exactly once when the execution unit that
// obtained it finishes; Release is idempotent per handle, so deferring it
// on an error path alongside an explicit call is safe.
type Handle[ID comparable] struct {
	registry *Registry[ID]
	id       ID
	tracker  *Tracker
	released atomic.Bool
}

// Tracker returns the shared tracker. It must not be used after Release.
func (h *Handle[ID]) Tracker() *Tracker {
	return h.tracker
}

// Release drops this handle's reference. Releasing the last handle for an
// id removes the registry entry and unregisters the tracker from its
// parent's children.
func (h *Handle[ID]) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	r := h.registry
	r.mu.Lock()
	e := r.trackers[h.id]
	e.refs--
	last := e.refs == 0
	if last {
		delete(r.trackers, h.id)
	}
	r.mu.Unlock()
	if last {
		h.tracker.close()
	}
}

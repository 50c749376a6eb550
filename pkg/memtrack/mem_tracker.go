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
	"container/list"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/meridiandb/memtrack/pkg/util/buildutil"
	"github.com/meridiandb/memtrack/pkg/util/metric"
	"github.com/meridiandb/memtrack/pkg/util/syncutil"
)

// ConsumptionMetric is an externally maintained byte gauge that a mirrored
// root tracker resamples its consumption from (e.g. allocator statistics).
type ConsumptionMetric interface {
	Value() int64
}

// ReclaimFunc frees some memory after a tracker's limit is reached. A
// ReclaimFunc does not need to be thread-safe as long as it is added to
// only one Tracker, but it may be invoked repeatedly and must tolerate
// being called when there is nothing left to free.
type ReclaimFunc func()

// A Tracker is one accounting unit in the hierarchy. See the package
// documentation for an overview.
type Tracker struct {
	label string
	// limit in bytes; negative means no limit.
	limit  int64
	parent *Tracker

	// consumption counts bytes for this node. For mirrored trackers the
	// counter is resampled from consumptionMetric on every call instead of
	// accumulated.
	consumption       *metric.HighWaterMark
	consumptionMetric ConsumptionMetric

	// all is this tracker followed by all of its ancestors up to the root;
	// limited is the subset of all with a valid limit. Both are fixed at
	// construction and never change.
	all     []*Tracker
	limited []*Tracker

	// reclaimMu serializes runs of the reclamation chain so concurrent
	// over-limit callers don't reclaim redundantly. It also guards
	// reclaimFuncs.
	reclaimMu    syncutil.Mutex
	reclaimFuncs []ReclaimFunc

	// children is used for reporting only; updating a tracker never
	// touches its children. Guarded by childrenMu.
	childrenMu syncutil.Mutex
	children   list.List
	// childElem is this tracker's element in parent.children, kept for
	// O(1) removal.
	childElem *list.Element

	// autoUnregister makes close() remove the tracker from its parent's
	// children. Set for registry-created query trackers, whose lifetime is
	// shared by multiple fragments; the parent is process-lifetime so
	// referencing it during teardown is safe.
	autoUnregister bool

	// Per-call update tracing, for debugging. See EnableLogging.
	traceUpdates atomic.Bool
	traceStack   atomic.Bool

	// Diagnostic metrics; nil unless RegisterMetrics was called. Metric
	// registration must happen before the tracker is shared between
	// goroutines.
	reclaims                *metric.Counter
	bytesFreedByLastReclaim *metric.Gauge
	bytesOverLimit          *metric.Gauge
}

// New constructs a tracker with the given label and byte limit under
// parent. A negative limit means unlimited. parent may be nil for a plain
// root. The caller is responsible for calling UnregisterFromParent when the
// tracker's scope ends, unless the tracker lives as long as the process.
func New(label string, limit int64, parent *Tracker) *Tracker {
	return newTracker(label, limit, parent, nil, false /* autoUnregister */)
}

// NewRoot constructs a mirrored root tracker whose consumption is resampled
// from m on every call rather than accumulated from Consume/Release. A
// mirrored tracker cannot have a parent.
func NewRoot(label string, limit int64, m ConsumptionMetric) *Tracker {
	return newTracker(label, limit, nil, m, false /* autoUnregister */)
}

func newTracker(
	label string, limit int64, parent *Tracker, m ConsumptionMetric, autoUnregister bool,
) *Tracker {
	if buildutil.Invariants && m != nil && parent != nil {
		panic(errors.AssertionFailedf(
			"%s: a metric-mirrored tracker cannot have a parent", label))
	}
	t := &Tracker{
		label:             label,
		limit:             limit,
		parent:            parent,
		consumption:       metric.NewHighWaterMark(),
		consumptionMetric: m,
		autoUnregister:    autoUnregister,
	}
	for cur := t; cur != nil; cur = cur.parent {
		t.all = append(t.all, cur)
		if cur.limit >= 0 {
			t.limited = append(t.limited, cur)
		}
	}
	if parent != nil {
		parent.addChild(t)
	}
	return t
}

// Label returns the display label. It is not an identity key.
func (t *Tracker) Label() string { return t.label }

// Limit returns the byte limit; negative means unlimited.
func (t *Tracker) Limit() int64 { return t.limit }

// HasLimit returns whether the tracker has a valid limit.
func (t *Tracker) HasLimit() bool { return t.limit >= 0 }

// Parent returns the parent tracker, or nil for roots.
func (t *Tracker) Parent() *Tracker { return t.parent }

// Consumption returns the bytes currently tracked.
func (t *Tracker) Consumption() int64 { return t.consumption.Value() }

// PeakConsumption returns the maximum consumption ever recorded. For
// mirrored trackers this is the maximum resampled value, not necessarily
// the highest value the underlying metric ever reached.
func (t *Tracker) PeakConsumption() int64 { return t.consumption.MaxValue() }

// Consume increases consumption of this tracker and its ancestors by
// bytes. No limit is checked; Consume cannot fail.
func (t *Tracker) Consume(bytes int64) {
	if t.consumptionMetric != nil {
		t.consumption.Set(t.consumptionMetric.Value())
		return
	}
	if bytes == 0 {
		return
	}
	if buildutil.Invariants && bytes < 0 {
		panic(errors.AssertionFailedf("Consume(%d): negative byte count; use Release", bytes))
	}
	if t.traceUpdates.Load() {
		t.logUpdate("Consume", bytes)
	}
	for _, tr := range t.all {
		v := tr.consumption.Inc(bytes)
		if buildutil.Invariants && v < 0 {
			panic(errors.AssertionFailedf(
				"%s: negative consumption %d after Consume(%d)", tr.label, v, bytes))
		}
	}
}

// Release decreases consumption of this tracker and its ancestors by
// bytes.
func (t *Tracker) Release(bytes int64) {
	if t.consumptionMetric != nil {
		t.consumption.Set(t.consumptionMetric.Value())
		return
	}
	if bytes == 0 {
		return
	}
	if buildutil.Invariants && bytes < 0 {
		panic(errors.AssertionFailedf("Release(%d): negative byte count; use Consume", bytes))
	}
	if t.traceUpdates.Load() {
		t.logUpdate("Release", bytes)
	}
	for _, tr := range t.all {
		v := tr.consumption.Inc(-bytes)
		if buildutil.Invariants && v < 0 {
			panic(errors.AssertionFailedf(
				"%s: negative consumption %d after Release(%d)", tr.label, v, bytes))
		}
	}
}

// TryConsume increases consumption of this tracker and its ancestors by
// bytes only if they can all consume bytes without exceeding their limits.
// When a limited ancestor would be pushed over, its reclamation chain runs
// (targeting limit-bytes of headroom) and the update is retried once. If
// any ancestor still refuses, every tracker updated so far is restored to
// its pre-call consumption and TryConsume returns false.
//
// High water marks are not rolled back: a transient peak recorded during a
// failed attempt is retained. Peaks are used only for diagnostics, and
// rolling them back exactly would require cross-node coordination the hot
// path deliberately avoids.
func (t *Tracker) TryConsume(bytes int64) bool {
	if t.consumptionMetric != nil {
		t.consumption.Set(t.consumptionMetric.Value())
	}
	if bytes == 0 {
		return true
	}
	if buildutil.Invariants && bytes < 0 {
		panic(errors.AssertionFailedf("TryConsume(%d): negative byte count", bytes))
	}
	if t.traceUpdates.Load() {
		t.logUpdate("TryConsume", bytes)
	}
	var i int
	for i = 0; i < len(t.all); i++ {
		tr := t.all[i]
		if tr.limit < 0 {
			tr.consumption.Inc(bytes)
			continue
		}
		if tr.consumption.TryInc(bytes, tr.limit) {
			continue
		}
		// This tracker is out of headroom. Reclaim down to limit-bytes and
		// retry once; bail if either fails.
		if tr.reclaim(tr.limit-bytes) || !tr.consumption.TryInc(bytes, tr.limit) {
			break
		}
	}
	if i == len(t.all) {
		return true
	}
	// Someone failed; roll back the trackers that were updated.
	for j := 0; j < i; j++ {
		t.all[j].consumption.Inc(-bytes)
	}
	return false
}

// AnyLimitExceeded returns true if a valid limit of this tracker or one of
// its ancestors is exceeded, checking the closest tracker first and
// stopping at the first offender.
func (t *Tracker) AnyLimitExceeded() bool {
	for _, tr := range t.limited {
		if tr.LimitExceeded() {
			return true
		}
	}
	return false
}

// LimitExceeded checks this tracker's limit and, if it is exceeded,
// attempts to free memory by running the reclamation chain. It returns
// whether the limit is still exceeded afterwards. A tracker without a
// limit never reports exceeded and runs no reclamation.
func (t *Tracker) LimitExceeded() bool {
	if t.limit >= 0 && t.consumption.Value() > t.limit {
		if t.bytesOverLimit != nil {
			t.bytesOverLimit.Update(t.consumption.Value() - t.limit)
		}
		return t.reclaim(t.limit)
	}
	return false
}

// AddReclaimFunc appends f to the reclamation chain. Functions run in the
// order they were added; expensive ones should be added last, since the
// chain stops as soon as enough memory has been freed. f must remain valid
// for the lifetime of the tracker.
func (t *Tracker) AddReclaimFunc(f ReclaimFunc) {
	t.reclaimMu.Lock()
	defer t.reclaimMu.Unlock()
	t.reclaimFuncs = append(t.reclaimFuncs, f)
}

// reclaim runs the reclamation chain until consumption drops to target,
// returning whether consumption still exceeds target afterwards.
// Concurrent reclaimers for the same tracker serialize on reclaimMu rather
// than reclaiming redundantly.
func (t *Tracker) reclaim(target int64) bool {
	t.reclaimMu.Lock()
	defer t.reclaimMu.Unlock()
	pre := t.consumption.Value()
	if pre <= target {
		// Someone else reclaimed while we waited for the lock.
		return false
	}
	for _, f := range t.reclaimFuncs {
		f()
		if t.consumption.Value() <= target {
			break
		}
	}
	post := t.consumption.Value()
	if t.reclaims != nil {
		t.reclaims.Inc(1)
	}
	if t.bytesFreedByLastReclaim != nil {
		t.bytesFreedByLastReclaim.Update(pre - post)
	}
	return post > target
}

// RegisterMetrics publishes this tracker's diagnostic metrics under
// "<prefix>.reclaims", "<prefix>.bytes-freed-by-last-reclaim",
// "<prefix>.bytes-over-limit", "<prefix>.current" and "<prefix>.peak".
// Registration is optional and must happen before the tracker is shared
// between goroutines. The two gauges read -1 until the corresponding event
// first occurs.
func (t *Tracker) RegisterMetrics(r *metric.Registry, prefix string) {
	t.reclaims = r.Counter(prefix + ".reclaims")
	t.bytesFreedByLastReclaim = r.Gauge(prefix + ".bytes-freed-by-last-reclaim")
	t.bytesFreedByLastReclaim.Update(-1)
	t.bytesOverLimit = r.Gauge(prefix + ".bytes-over-limit")
	t.bytesOverLimit.Update(-1)
	r.MustAdd(prefix+".%s", t.consumption)
}

// addChild adds c to the reporting-only children set.
func (t *Tracker) addChild(c *Tracker) {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	c.childElem = t.children.PushBack(c)
}

// UnregisterFromParent removes this tracker from its parent's children
// set. It is idempotent and a no-op for roots.
func (t *Tracker) UnregisterFromParent() {
	if t.parent == nil {
		return
	}
	t.parent.childrenMu.Lock()
	defer t.parent.childrenMu.Unlock()
	if t.childElem != nil {
		t.parent.children.Remove(t.childElem)
		t.childElem = nil
	}
}

// close tears the tracker down at the end of its scope.
func (t *Tracker) close() {
	if t.autoUnregister {
		t.UnregisterFromParent()
	}
}

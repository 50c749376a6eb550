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
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/meridiandb/memtrack/pkg/util/buildutil"
)

// ErrMemoryBudgetExceeded is the sentinel wrapped by errors returned from
// BoundAccount.Grow when an allocation is refused. A refusal is an
// ordinary, expected outcome, not a fault; callers typically fail the
// query at a higher layer.
var ErrMemoryBudgetExceeded = errors.New("memory budget exceeded")

// A BoundAccount tracks the cumulative bytes one owner has consumed from a
// tracker, so that everything can be returned at once when the owner's
// scope ends. It remembers its own total, which the tracker does not do
// for individual callers.
//
// A BoundAccount is not safe for concurrent use; each execution unit owns
// its own account.
type BoundAccount struct {
	used    int64
	tracker *Tracker
}

// MakeBoundAccount creates an empty account bound to t.
func (t *Tracker) MakeBoundAccount() BoundAccount {
	return BoundAccount{tracker: t}
}

// Used returns the bytes currently held by the account.
func (b *BoundAccount) Used() int64 {
	return b.used
}

// Tracker returns the tracker the account draws from.
func (b *BoundAccount) Tracker() *Tracker {
	return b.tracker
}

// Grow consumes n bytes from the tracker on behalf of the account. If the
// tracker refuses, nothing is consumed and an error wrapping
// ErrMemoryBudgetExceeded is returned.
func (b *BoundAccount) Grow(n int64) error {
	if buildutil.Invariants && n < 0 {
		panic(errors.AssertionFailedf("Grow(%d): negative byte count; use Shrink", n))
	}
	if !b.tracker.TryConsume(n) {
		return errors.Wrapf(ErrMemoryBudgetExceeded,
			"%s: %d bytes requested, %d already allocated by this account",
			redact.SafeString(b.tracker.Label()), n, b.used)
	}
	b.used += n
	return nil
}

// Shrink releases n bytes back to the tracker. Releasing more than the
// account holds is a programmer error; in production builds the release
// is clamped to the account's total so the tracker stays consistent.
func (b *BoundAccount) Shrink(n int64) {
	if buildutil.Invariants && (n < 0 || n > b.used) {
		panic(errors.AssertionFailedf(
			"Shrink(%d): account holds %d bytes", n, b.used))
	}
	if n > b.used {
		n = b.used
	}
	b.tracker.Release(n)
	b.used -= n
}

// Resize adjusts a previous allocation of oldSz bytes to newSz bytes,
// growing or shrinking by the difference. On a refused grow the original
// allocation is left intact.
func (b *BoundAccount) Resize(oldSz, newSz int64) error {
	switch delta := newSz - oldSz; {
	case delta > 0:
		return b.Grow(delta)
	case delta < 0:
		b.Shrink(-delta)
	}
	return nil
}

// Clear releases everything the account holds, returning it to empty.
func (b *BoundAccount) Clear() {
	b.tracker.Release(b.used)
	b.used = 0
}

// Close releases everything the account holds. The account must not be
// used afterwards.
func (b *BoundAccount) Close() {
	b.Clear()
}

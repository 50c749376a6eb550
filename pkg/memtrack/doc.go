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

/*
Package memtrack implements hierarchical memory-consumption accounting for a
query-processing runtime.

A Tracker counts bytes consumed; it carries an optional limit and can be
arranged into a tree such that the consumption counted by a Tracker is also
counted by its ancestors. Execution units call Consume/Release/TryConsume on
the tracker nearest their own scope (typically an operator-level tracker);
each call walks the precomputed ancestor chain, updating every ancestor's
counter. The hot path is lock-free: each per-node update is an independent
atomic operation, and there is deliberately no cross-ancestor atomicity.

By default consumption is accumulated from Consume/Release. Alternatively a
root tracker can mirror an external metric (NewRoot), in which case the
metric's value is resampled on every call rather than tallied; this is used
for the process tracker, whose real usage is reported by the allocator and
may exceed the computed total.

Reclaim functions can be attached to a tracker to free memory when its limit
is reached. TryConsume and LimitExceeded invoke them, in registration order,
before reporting the limit as exceeded; execution stops as soon as enough
headroom is reclaimed, so cheap functions should be added first and
expensive ones last.

Trackers scoped to a logical query are shared between its independently
scheduled fragments through a Registry, which hands out reference-counted
Handles keyed by an opaque identity; releasing the last handle tears the
tracker down deterministically.

All Tracker methods are safe for concurrent use.
*/
package memtrack

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
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/meridiandb/memtrack/pkg/util/humanizeutil"
	"github.com/meridiandb/memtrack/pkg/util/log"
)

// LogUsage returns a human-readable usage dump of this tracker and all of
// its children, recursively, each line indented by prefix plus two spaces
// per level. It is read-only and never participates in the accounting hot
// path; the children lock of each node is held only while snapshotting
// that node's children.
func (t *Tracker) LogUsage(prefix string) string {
	var buf strings.Builder
	t.logUsage(&buf, prefix)
	return buf.String()
}

func (t *Tracker) logUsage(buf *strings.Builder, prefix string) {
	buf.WriteString(prefix)
	label := t.label
	if label == "" {
		label = "<unnamed>"
	}
	buf.WriteString(label)
	buf.WriteString(":")
	if t.limit >= 0 {
		fmt.Fprintf(buf, " limit=%s", humanizeutil.IBytes(t.limit))
	}
	fmt.Fprintf(buf, " total=%s peak=%s",
		humanizeutil.IBytes(t.Consumption()), humanizeutil.IBytes(t.PeakConsumption()))
	for _, c := range t.childrenSnapshot() {
		buf.WriteByte('\n')
		c.logUsage(buf, prefix+"  ")
	}
}

func (t *Tracker) childrenSnapshot() []*Tracker {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	children := make([]*Tracker, 0, t.children.Len())
	for e := t.children.Front(); e != nil; e = e.Next() {
		children = append(children, e.Value.(*Tracker))
	}
	return children
}

// EnableLogging toggles logging of every Consume/Release/TryConsume call
// on this tracker, optionally with the caller's stack. This is a debugging
// aid only; it is not part of the accounting contract.
func (t *Tracker) EnableLogging(enabled, alsoCaptureStack bool) {
	t.traceUpdates.Store(enabled)
	t.traceStack.Store(alsoCaptureStack)
}

func (t *Tracker) logUpdate(op string, bytes int64) {
	ctx := context.Background()
	log.Infof(ctx, "%s: %s(%d) consumption=%d", t.label, op, bytes, t.consumption.Value())
	if t.traceStack.Load() {
		log.Infof(ctx, "%s", debug.Stack())
	}
}

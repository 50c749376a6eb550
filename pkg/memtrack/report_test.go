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
	"bytes"
	"testing"

	"github.com/meridiandb/memtrack/pkg/util/leaktest"
	"github.com/meridiandb/memtrack/pkg/util/log"
	"github.com/stretchr/testify/require"
)

func TestLogUsage(t *testing.T) {
	defer leaktest.AfterTest(t)()
	root := New("process", -1, nil)
	q1 := New("query-1", 100, root)
	op := New("scan", -1, q1)
	New("query-2", 2048, root)

	op.Consume(60)
	op.Release(10)

	const expected = `process: total=50 B peak=60 B
  query-1: limit=100 B total=50 B peak=60 B
    scan: total=50 B peak=60 B
  query-2: limit=2.0 KiB total=0 B peak=0 B`
	require.Equal(t, expected, root.LogUsage(""))

	const indented = `> query-1: limit=100 B total=50 B peak=60 B
>   scan: total=50 B peak=60 B`
	require.Equal(t, indented, q1.LogUsage("> "))
}

func TestLogUsageUnnamed(t *testing.T) {
	defer leaktest.AfterTest(t)()
	n := New("", -1, nil)
	require.Equal(t, "<unnamed>: total=0 B peak=0 B", n.LogUsage(""))
}

func TestLogUsageAfterUnregister(t *testing.T) {
	defer leaktest.AfterTest(t)()
	root := New("process", -1, nil)
	q := New("query", -1, root)
	q.UnregisterFromParent()
	require.Equal(t, "process: total=0 B peak=0 B", root.LogUsage(""))
}

func TestEnableLogging(t *testing.T) {
	defer leaktest.AfterTest(t)()
	var buf bytes.Buffer
	defer log.SetOutput(&buf)()

	n := New("traced", -1, nil)
	n.Consume(5) // not yet enabled
	n.EnableLogging(true, false)
	n.Consume(10)
	n.Release(15)
	n.TryConsume(3)
	n.EnableLogging(false, false)
	n.Release(3)

	out := buf.String()
	require.NotContains(t, out, "Consume(5)")
	require.Contains(t, out, "traced: Consume(10)")
	require.Contains(t, out, "traced: Release(15)")
	require.Contains(t, out, "traced: TryConsume(3)")
	require.NotContains(t, out, "Release(3)")
}

func TestEnableLoggingWithStack(t *testing.T) {
	defer leaktest.AfterTest(t)()
	var buf bytes.Buffer
	defer log.SetOutput(&buf)()

	n := New("traced", -1, nil)
	n.EnableLogging(true, true)
	n.Consume(1)
	n.Release(1)
	require.Contains(t, buf.String(), "goroutine")
	require.Contains(t, buf.String(), "TestEnableLoggingWithStack")
}

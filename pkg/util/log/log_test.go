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

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/logtags"
	"github.com/stretchr/testify/require"
)

func TestMakeMessageTags(t *testing.T) {
	ctx := logtags.AddTag(context.Background(), "q", 42)
	msg := makeMessage(ctx, "consumed %d bytes", []interface{}{100})
	require.Equal(t, "[q42] consumed 100 bytes", msg)

	msg = makeMessage(context.Background(), "plain", nil)
	require.Equal(t, "plain", msg)
}

func TestOutput(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()

	Infof(context.Background(), "hello %s", "world")
	out := buf.String()
	require.Contains(t, out, "hello world")
	require.Contains(t, out, "log_test.go")
	require.Equal(t, byte('I'), out[0])
}

func TestVerbosity(t *testing.T) {
	require.False(t, V(1))
	SetVerbosity(2)
	defer SetVerbosity(0)
	require.True(t, V(1))
	require.True(t, V(2))
	require.False(t, V(3))

	var buf bytes.Buffer
	defer SetOutput(&buf)()
	VEventf(context.Background(), 3, "dropped")
	VEventf(context.Background(), 2, "kept")
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "kept")
}

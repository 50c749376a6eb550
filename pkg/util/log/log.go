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

// Package log provides leveled, structured logging. Messages carry the
// context's log tags (see package logtags) and are formatted through the
// redact package so that unsafe values can be stripped before reporting.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/meridiandb/memtrack/pkg/util/syncutil"
)

// Severity identifies the sort of log: info, warning etc.
type Severity int32

// These constants identify the log levels in order of increasing severity.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

const severityChar = "IWEF"

var logging = struct {
	mu syncutil.Mutex
	w  io.Writer
	// verbosity threshold for V(); accessed atomically.
	verbosity int32
}{w: os.Stderr}

// SetOutput redirects log output to w and returns a function restoring the
// previous writer. Intended for tests.
func SetOutput(w io.Writer) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.w
	logging.w = w
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.w = prev
	}
}

// SetVerbosity sets the threshold below which V(level) returns true.
func SetVerbosity(level int32) {
	atomic.StoreInt32(&logging.verbosity, level)
}

// V returns true if the verbosity is at or above the requested level.
// Use as a gate for expensive log statements:
//
//	if log.V(2) { log.Infof(ctx, "...", ...) }
func V(level int32) bool {
	return atomic.LoadInt32(&logging.verbosity) >= level
}

// makeMessage prepends the context's log tags to the formatted message.
func makeMessage(ctx context.Context, format string, args []interface{}) string {
	var buf strings.Builder
	if tags := logtags.FromContext(ctx); tags != nil {
		buf.WriteByte('[')
		buf.WriteString(tags.String())
		buf.WriteString("] ")
	}
	if len(format) == 0 {
		buf.WriteString(redact.Sprint(args...).StripMarkers())
	} else {
		buf.WriteString(redact.Sprintf(format, args...).StripMarkers())
	}
	return buf.String()
}

// outputLogEntry writes one formatted entry to the current writer.
func outputLogEntry(sev Severity, depth int, msg string) {
	file, line := caller(depth + 1)
	now := time.Now()
	logging.mu.Lock()
	defer logging.mu.Unlock()
	fmt.Fprintf(logging.w, "%c%s %s:%d  %s\n",
		severityChar[sev], now.Format("060102 15:04:05.000000"), file, line, msg)
}

func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???", 1
	}
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	return file, line
}

func addStructured(
	ctx context.Context, sev Severity, depth int, format string, args []interface{},
) {
	if ctx == nil {
		panic("nil context")
	}
	outputLogEntry(sev, depth+1, makeMessage(ctx, format, args))
	if sev == SeverityFatal {
		os.Exit(255)
	}
}

// Infof logs to the INFO log.
func Infof(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityInfo, 1, format, args)
}

// Warningf logs to the WARNING log.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityWarning, 1, format, args)
}

// Errorf logs to the ERROR log.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityError, 1, format, args)
}

// Fatalf logs to the ERROR log and terminates the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityFatal, 1, format, args)
}

// VEventf logs to the INFO log when the verbosity is at or above level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		addStructured(ctx, SeverityInfo, 1, format, args)
	}
}

// Copyright 2025 The Cascade Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
	limit int
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	if w.limit > 0 && len(w.lines) >= w.limit {
		return len(bytes), nil
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := &Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(tw.lines) != 3 {
		t.Fatalf("got %d lines, wanted 3", len(tw.lines))
	}
	if tw.lines[0] != "line 1\n" {
		t.Fatalf("got line %q, wanted line 1", tw.lines[0])
	}
	if tw.lines[1] != "line 2\n" {
		t.Fatalf("got line %q, wanted line 2", tw.lines[1])
	}
	if !strings.Contains(tw.lines[2], "Dropped 2 log messages") {
		t.Fatalf("got line %q, wanted dropped message report", tw.lines[2])
	}
}

func TestCaller(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	bl := &BasicLogger{
		Emitter: e,
		Level:   Debug,
	}
	bl.Debugf("testing...\n") // Just for errors.
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, wanted 1", len(tw.lines))
	}
}

func TestLevels(t *testing.T) {
	tw := &testWriter{}
	bl := &BasicLogger{
		Emitter: GoogleEmitter{&Writer{Next: tw}},
		Level:   Info,
	}
	bl.Debugf("should not appear")
	if len(tw.lines) != 0 {
		t.Fatalf("debug line emitted below level: %v", tw.lines)
	}
	bl.Infof("should appear")
	bl.Warningf("should appear too")
	if len(tw.lines) != 2 {
		t.Fatalf("got %d lines, wanted 2", len(tw.lines))
	}
	if !bl.IsLogging(Info) {
		t.Error("IsLogging(Info) = false at Info level")
	}
	if bl.IsLogging(Debug) {
		t.Error("IsLogging(Debug) = true at Info level")
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	bl := &BasicLogger{
		Emitter: JSONEmitter{Writer: &Writer{Next: tw}},
		Level:   Debug,
	}
	bl.Infof("hello %d", 42)
	if len(tw.lines) == 0 {
		t.Fatal("no output emitted")
	}
	if !strings.Contains(tw.lines[0], `"hello 42"`) {
		t.Errorf("JSON line %q missing message", tw.lines[0])
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	logger := RateLimitedLogger(&BasicLogger{
		Emitter: GoogleEmitter{&Writer{Next: tw}},
		Level:   Debug,
	}, time.Minute)
	for i := 0; i < 100; i++ {
		logger.Infof("spam %d", i)
	}
	if len(tw.lines) > 2 {
		t.Errorf("rate limiter let %d lines through in one burst", len(tw.lines))
	}
	if !logger.IsLogging(Info) {
		t.Error("rate limited logger does not report its level")
	}
}

func TestSetLevel(t *testing.T) {
	old := Log().Level
	defer SetLevel(old)
	SetLevel(Debug)
	if !IsLogging(Debug) {
		t.Error("IsLogging(Debug) = false after SetLevel(Debug)")
	}
	SetLevel(Warning)
	if IsLogging(Info) {
		t.Error("IsLogging(Info) = true at Warning level")
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[Level]string{
		Warning: "Warning",
		Info:    "Info",
		Debug:   "Debug",
	} {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func BenchmarkGoogleLogging(b *testing.B) {
	tw := &testWriter{limit: 1}
	bl := &BasicLogger{
		Emitter: GoogleEmitter{&Writer{Next: tw}},
		Level:   Debug,
	}
	for i := 0; i < b.N; i++ {
		bl.Debugf("hello %d, %d, %d", 1, 2, 3)
	}
}

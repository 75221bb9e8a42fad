// Copyright 2025 Agentic World, LLC (Sherin Thomas)
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

package debug

import (
	"bytes"
	"strings"
	"testing"
)

// TestLogDebuggerWritesEvents verifies events reach the configured writer
// with the counter, type and source/task identifiers.
func TestLogDebuggerWritesEvents(t *testing.T) {
	var buf bytes.Buffer
	d := &LogDebugger{Output: &buf}
	if err := d.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	d.Event(&Event{
		Type:     "fetch",
		TaskID:   "task-1",
		SourceID: "forumpress",
		Values:   map[string]string{"url": "https://example.com"},
	})
	d.Event(&Event{Type: "item", TaskID: "task-1", SourceID: "forumpress"})

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "[000001] fetch [forumpress/task-1]") {
		t.Errorf("first line missing counter/type/ids: %q", lines[0])
	}
	if !strings.Contains(lines[0], `"url":"https://example.com"`) {
		t.Errorf("first line missing event values: %q", lines[0])
	}
	if !strings.Contains(lines[1], "[000002] item [forumpress/task-1]") {
		t.Errorf("second line missing incremented counter: %q", lines[1])
	}
}

// TestLogDebuggerPrefix verifies the configured prefix appears on every line.
func TestLogDebuggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	d := &LogDebugger{Output: &buf, Prefix: "sweep: "}
	if err := d.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	d.Event(&Event{Type: "task", TaskID: "t", SourceID: "s"})

	if !strings.HasPrefix(buf.String(), "sweep: ") {
		t.Errorf("expected prefix on log line, got %q", buf.String())
	}
}

// TestLogDebuggerInitResetsCounter verifies Init restarts numbering, so a
// reused debugger begins a fresh run at 1.
func TestLogDebuggerInitResetsCounter(t *testing.T) {
	var buf bytes.Buffer
	d := &LogDebugger{Output: &buf}
	if err := d.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	d.Event(&Event{Type: "task"})
	d.Event(&Event{Type: "task"})

	buf.Reset()
	if err := d.Init(); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	d.Event(&Event{Type: "task"})
	if !strings.Contains(buf.String(), "[000001]") {
		t.Errorf("expected counter reset after Init, got %q", buf.String())
	}
}

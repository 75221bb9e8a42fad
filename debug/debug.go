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

// Package debug provides event-based instrumentation for collection runs.
package debug

import (
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// Event represents one action during a collection run.
type Event struct {
	// Type is the event type ("task", "acquire", "fetch", "item", "error", ...)
	Type string
	// TaskID identifies the collection task emitting the event
	TaskID string
	// SourceID identifies the source the task collects from
	SourceID string
	// Values contains the event's key-value details
	Values map[string]string
}

// Debugger is the interface for collection instrumentation backends.
type Debugger interface {
	// Init initializes the backend
	Init() error
	// Event receives a new event
	Event(e *Event)
}

// LogDebugger is the simplest debugger: it prints events to any io.Writer.
type LogDebugger struct {
	// Output is the log destination. Nil means os.Stderr.
	Output io.Writer
	// Prefix appears at the beginning of each generated log line
	Prefix string
	// Flag defines the logging properties, as in the standard log package
	Flag int

	logger  *log.Logger
	counter int64
	start   time.Time
}

// Init implements Debugger.Init()
func (l *LogDebugger) Init() error {
	l.counter = 0
	l.start = time.Now()
	if l.Output == nil {
		l.Output = os.Stderr
	}
	l.logger = log.New(l.Output, l.Prefix, l.Flag)
	return nil
}

// Event implements Debugger.Event()
func (l *LogDebugger) Event(e *Event) {
	i := atomic.AddInt64(&l.counter, 1)
	l.logger.Printf("[%06d] %s [%s/%s] %q (%s)\n", i, e.Type, e.SourceID, e.TaskID, e.Values, time.Since(l.start))
}

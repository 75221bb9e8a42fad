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

package omnisweep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CollectionMode selects which strategy operation a task invokes.
type CollectionMode string

const (
	ModeSearch     CollectionMode = "search"
	ModeProfile    CollectionMode = "profile"
	ModePosts      CollectionMode = "posts"
	ModePostDetail CollectionMode = "post_detail"
	ModeComments   CollectionMode = "comments"
)

// TaskState is the lifecycle state of a CollectionTask.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// CollectionTask is one unit of collection work: a source, a mode and its
// target. Tasks move Pending -> Running -> {Succeeded, Failed, Cancelled};
// the pipeline owns all transitions. Result fields are readable once the
// task is terminal.
type CollectionTask struct {
	// ID is assigned at creation.
	ID string
	// SourceID names the source strategy to run.
	SourceID string
	// Mode selects the operation.
	Mode CollectionMode
	// Target is the query, user id or post id, depending on Mode.
	Target string
	// MaxResults caps returned items; zero means the source default.
	MaxResults int
	// IncludeReplies includes nested replies in comments mode.
	IncludeReplies bool
	// Criteria filters and scores collected items. Nil accepts everything.
	Criteria *MatchCriteria
	// Owner prefers credentials imported for this owner.
	Owner string
	// Timeout is the wall-clock ceiling for the whole task, independent of
	// per-attempt backoff. Zero means the pipeline default.
	Timeout time.Duration
	// MaxRetries bounds the retry loop. Zero means the pipeline default.
	MaxRetries int

	mu           sync.Mutex
	state        TaskState
	err          error
	collectionID string
	itemCount    int
	startedAt    time.Time
	finishedAt   time.Time
	cancel       context.CancelFunc
	cancelled    bool
}

// NewCollectionTask creates a Pending task with a fresh id.
func NewCollectionTask(sourceID string, mode CollectionMode, target string) *CollectionTask {
	return &CollectionTask{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		Mode:     mode,
		Target:   target,
		state:    TaskPending,
	}
}

// State returns the task's current state.
func (t *CollectionTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal failure cause, if any.
func (t *CollectionTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Result returns the stored collection id and accepted item count.
func (t *CollectionTask) Result() (collectionID string, itemCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collectionID, t.itemCount
}

// Times returns when the task started and finished running.
func (t *CollectionTask) Times() (started, finished time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt, t.finishedAt
}

// Cancel requests cancellation. Observed at the next suspension point; a
// task that already finished is unaffected.
func (t *CollectionTask) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// start transitions Pending -> Running and installs the cancel func. Returns
// false when the task already left Pending (double submit, or cancelled
// before it ran).
func (t *CollectionTask) start(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskPending || t.cancelled {
		return false
	}
	t.state = TaskRunning
	t.cancel = cancel
	t.startedAt = time.Now()
	return true
}

// wasCancelled reports whether Cancel was called.
func (t *CollectionTask) wasCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *CollectionTask) finish(state TaskState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = state
	t.err = err
	t.finishedAt = time.Now()
	t.cancel = nil
}

func (t *CollectionTask) setResult(collectionID string, itemCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collectionID = collectionID
	t.itemCount = itemCount
}

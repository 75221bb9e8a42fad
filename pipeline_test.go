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
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/omnisweep/omnisweep/storage"
)

// scriptedStrategy is a SourceStrategy whose Search pops one scripted error
// per call before succeeding, so retry-loop tests can stage failures.
type scriptedStrategy struct {
	UnsupportedStrategy
	sourceID string
	caps     Capability

	items    []*ContentItem
	comments []InteractionNode
	errs     []error
	calls    int

	// started is closed on the first Search call; block makes Search hang
	// until the context dies.
	started chan struct{}
	block   bool
}

func (s *scriptedStrategy) SourceID() string         { return s.sourceID }
func (s *scriptedStrategy) Capabilities() Capability { return s.caps }

func (s *scriptedStrategy) Search(ctx context.Context, _ string, _ int, _ *MatchCriteria) ([]*ContentItem, error) {
	s.calls++
	if s.started != nil && s.calls == 1 {
		close(s.started)
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.items, nil
}

func (s *scriptedStrategy) GetComments(ctx context.Context, _ string, _ int, _ bool) ([]InteractionNode, error) {
	return s.comments, nil
}

func testPipelineConfig() *Config {
	return &Config{
		Concurrency:    1,
		QueueSize:      4,
		TaskTimeout:    10 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

// newTestPipeline wires a pipeline around strat with numCreds cookie-set
// credentials for its source.
func newTestPipeline(t *testing.T, strat *scriptedStrategy, numCreds int) (*Pipeline, *CredentialPool, *storage.InMemoryStore) {
	t.Helper()
	registry := NewStrategyRegistry()
	registry.Register(strat.sourceID, func(env *StrategyEnv) (SourceStrategy, error) {
		return strat, nil
	})
	pool := NewCredentialPool("")
	for i := 0; i < numCreds; i++ {
		if _, err := pool.ImportCookieSet(strat.sourceID, testCookies("example.com"), ""); err != nil {
			t.Fatalf("ImportCookieSet failed: %v", err)
		}
	}
	store := &storage.InMemoryStore{}
	p, err := NewPipeline(context.Background(), testPipelineConfig(), registry, pool, store)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	t.Cleanup(p.Close)
	return p, pool, store
}

// TestPipelineRunSuccess tests the happy path: items flow through matching,
// scoring, deduplication and persistence, and the task succeeds.
func TestPipelineRunSuccess(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		items: []*ContentItem{
			{ID: "1", SourceID: "s1", Title: "go concurrency guide", Engagement: Engagement{Likes: 50}},
			{ID: "2", SourceID: "s1", Title: "unrelated cooking blog"},
			{ID: "3", SourceID: "s1", Title: "GO   Concurrency guide"}, // duplicate of 1
			{ID: "4", SourceID: "s1", Title: "go generics guide"},
		},
	}
	p, _, store := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "go")
	task.Criteria = &MatchCriteria{Keywords: []string{"go"}}
	p.Run(task)

	if task.State() != TaskSucceeded {
		t.Fatalf("Expected Succeeded, got %s (err: %v)", task.State(), task.Err())
	}
	collectionID, count := task.Result()
	if count != 2 {
		t.Errorf("Expected 2 accepted items (unmatched and duplicate dropped), got %d", count)
	}
	records := store.Records(collectionID)
	if len(records) != 2 {
		t.Fatalf("Expected 2 persisted records, got %d", len(records))
	}
	if records[0].ItemID != "1" || records[1].ItemID != "4" {
		t.Errorf("Expected strategy order preserved, got %s, %s", records[0].ItemID, records[1].ItemID)
	}
	if records[0].Score <= 0 {
		t.Errorf("Expected positive match score persisted, got %v", records[0].Score)
	}
	var stored ContentItem
	if err := json.Unmarshal(records[0].Payload, &stored); err != nil {
		t.Fatalf("Payload not valid item JSON: %v", err)
	}
	if stored.MatchScore <= 0 {
		t.Error("Expected match score embedded in the payload")
	}
}

// TestPipelineAuthRetry tests the auth-invalid path: the credential is
// invalidated, a replacement is acquired once, and the task succeeds.
func TestPipelineAuthRetry(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		items:    []*ContentItem{{ID: "1", SourceID: "s1", Title: "result"}},
		errs:     []error{&AuthInvalidError{SourceID: "s1", Reason: "session expired"}},
	}
	p, pool, _ := newTestPipeline(t, strat, 2)

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskSucceeded {
		t.Fatalf("Expected Succeeded after reauth, got %s (err: %v)", task.State(), task.Err())
	}
	if strat.calls != 2 {
		t.Errorf("Expected 2 strategy calls, got %d", strat.calls)
	}
	stats := pool.Statistics()
	if stats["s1"].ValidSets != 1 {
		t.Errorf("Expected the failing credential invalidated, valid sets: %d", stats["s1"].ValidSets)
	}
}

// TestPipelineAuthRetryOnce tests that a second auth failure is terminal:
// one replacement credential, never a loop through the whole pool.
func TestPipelineAuthRetryOnce(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		errs: []error{
			&AuthInvalidError{SourceID: "s1", Reason: "expired"},
			&AuthInvalidError{SourceID: "s1", Reason: "expired"},
		},
	}
	p, pool, _ := newTestPipeline(t, strat, 3)

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed, got %s", task.State())
	}
	var authErr *AuthInvalidError
	if !errors.As(task.Err(), &authErr) {
		t.Errorf("Expected AuthInvalidError, got %v", task.Err())
	}
	if strat.calls != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", strat.calls)
	}
	// Both used credentials invalidated; the third untouched.
	if stats := pool.Statistics(); stats["s1"].ValidSets != 1 {
		t.Errorf("Expected 1 remaining valid credential, got %d", stats["s1"].ValidSets)
	}
}

// TestPipelineRateLimited tests that the task waits out the announced reset
// and then succeeds.
func TestPipelineRateLimited(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		items:    []*ContentItem{{ID: "1", SourceID: "s1", Title: "result"}},
		errs:     []error{&RateLimitedError{SourceID: "s1", ResetAt: time.Now().Add(50 * time.Millisecond)}},
	}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	start := time.Now()
	p.Run(task)

	if task.State() != TaskSucceeded {
		t.Fatalf("Expected Succeeded after the reset, got %s (err: %v)", task.State(), task.Err())
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Expected the task to wait to the announced reset, took %v", elapsed)
	}
}

// TestPipelineTransientRetry tests exponential-backoff retries on transient
// failures within the budget.
func TestPipelineTransientRetry(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		items:    []*ContentItem{{ID: "1", SourceID: "s1", Title: "result"}},
		errs: []error{
			Transient(errors.New("connection reset")),
			Transient(errors.New("gateway timeout")),
		},
	}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskSucceeded {
		t.Fatalf("Expected Succeeded after transient retries, got %s (err: %v)", task.State(), task.Err())
	}
	if strat.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", strat.calls)
	}
}

// TestPipelineRetryBudget tests that persistent transient failures exhaust
// the budget and fail the task with the last cause.
func TestPipelineRetryBudget(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		errs: []error{
			Transient(errors.New("down")),
			Transient(errors.New("down")),
			Transient(errors.New("down")),
			Transient(errors.New("down")),
			Transient(errors.New("down")),
		},
	}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	task.MaxRetries = 2
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed, got %s", task.State())
	}
	if strat.calls != 3 {
		t.Errorf("Expected 3 attempts for budget 2, got %d", strat.calls)
	}
	if err := task.Err(); err == nil || !strings.Contains(err.Error(), "retry budget exceeded") {
		t.Errorf("Expected budget-exceeded error, got %v", err)
	}
}

// TestPipelinePoolExhausted tests fail-fast when no credential is available.
func TestPipelinePoolExhausted(t *testing.T) {
	strat := &scriptedStrategy{sourceID: "s1", caps: CapSearch}
	p, _, _ := newTestPipeline(t, strat, 0)

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed, got %s", task.State())
	}
	if !errors.Is(task.Err(), ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", task.Err())
	}
	if strat.calls != 0 {
		t.Error("Strategy must not run without a credential")
	}
}

// TestPipelineUnknownSource tests task failure for an unregistered source.
func TestPipelineUnknownSource(t *testing.T) {
	strat := &scriptedStrategy{sourceID: "s1", caps: CapSearch}
	p, pool, _ := newTestPipeline(t, strat, 1)
	if _, err := pool.ImportCookieSet("other", testCookies("example.com"), ""); err != nil {
		t.Fatalf("ImportCookieSet failed: %v", err)
	}

	task := NewCollectionTask("other", ModeSearch, "q")
	p.Run(task)

	if !errors.Is(task.Err(), ErrUnknownSource) {
		t.Errorf("Expected ErrUnknownSource, got %v", task.Err())
	}
}

// TestPipelineUnsupportedMode tests the capability gate before the retry
// loop.
func TestPipelineUnsupportedMode(t *testing.T) {
	strat := &scriptedStrategy{sourceID: "s1", caps: CapSearch}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModePosts, "u1")
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed, got %s", task.State())
	}
	if !errors.Is(task.Err(), ErrUnsupportedMode) {
		t.Errorf("Expected ErrUnsupportedMode, got %v", task.Err())
	}
	if strat.calls != 0 {
		t.Error("Unsupported mode must not reach the strategy")
	}
}

// TestPipelineCancellation tests that Cancel is observed at a suspension
// point and distinguished from failure.
func TestPipelineCancellation(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		started:  make(chan struct{}),
		block:    true,
	}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	done := make(chan struct{})
	go func() {
		p.Run(task)
		close(done)
	}()

	<-strat.started
	task.Cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Cancelled task did not finish")
	}

	if task.State() != TaskCancelled {
		t.Fatalf("Expected Cancelled, got %s", task.State())
	}
	if !errors.Is(task.Err(), ErrTaskCancelled) {
		t.Errorf("Expected ErrTaskCancelled, got %v", task.Err())
	}
}

// TestPipelineCancelBeforeRun tests that a task cancelled while queued never
// starts.
func TestPipelineCancelBeforeRun(t *testing.T) {
	strat := &scriptedStrategy{sourceID: "s1", caps: CapSearch}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	task.Cancel()
	p.Run(task)

	if strat.calls != 0 {
		t.Error("Cancelled task must not reach the strategy")
	}
	if task.State() != TaskPending {
		t.Errorf("Expected task to stay Pending, got %s", task.State())
	}
}

// TestPipelineTimeout tests the per-task wall clock: a deadline hit is a
// Failed task with ErrTaskTimeout, not a cancellation.
func TestPipelineTimeout(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		block:    true,
	}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	task.Timeout = 50 * time.Millisecond
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed, got %s", task.State())
	}
	if !errors.Is(task.Err(), ErrTaskTimeout) {
		t.Errorf("Expected ErrTaskTimeout, got %v", task.Err())
	}
}

// TestPipelineCommentsMode tests that comments mode persists one thread item
// carrying the reply forest and its summary.
func TestPipelineCommentsMode(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapComments,
		comments: []InteractionNode{
			{ID: "c1", Text: "great thread"},
			{ID: "c2", Text: "agreed", ParentID: "c1"},
			{ID: "c3", Text: "terrible take"},
		},
	}
	p, _, store := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeComments, "post-9")
	task.IncludeReplies = true
	p.Run(task)

	if task.State() != TaskSucceeded {
		t.Fatalf("Expected Succeeded, got %s (err: %v)", task.State(), task.Err())
	}
	collectionID, count := task.Result()
	if count != 1 {
		t.Fatalf("Expected 1 thread item, got %d", count)
	}
	records := store.Records(collectionID)
	var stored ContentItem
	if err := json.Unmarshal(records[0].Payload, &stored); err != nil {
		t.Fatalf("Payload not valid item JSON: %v", err)
	}
	if stored.ID != "post-9" || stored.Type != ItemComment {
		t.Errorf("Unexpected thread item: %s/%s", stored.ID, stored.Type)
	}
	if len(stored.Comments) != 2 {
		t.Errorf("Expected 2 roots in the forest, got %d", len(stored.Comments))
	}
	if stored.Summary == nil || stored.Summary.TotalCount != 3 {
		t.Errorf("Unexpected thread summary: %+v", stored.Summary)
	}
}

// TestPipelineCommentsModeIgnoresCriteria tests that keyword criteria never
// drop the thread container: in comments mode the post is already chosen, so
// criteria gate discovered items only.
func TestPipelineCommentsModeIgnoresCriteria(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapComments,
		comments: []InteractionNode{
			{ID: "c1", Text: "first"},
			{ID: "c2", Text: "second", ParentID: "c1"},
		},
	}
	p, _, store := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeComments, "post-9")
	task.IncludeReplies = true
	task.Criteria = &MatchCriteria{Keywords: []string{"unrelated"}, MinLikes: 100}
	p.Run(task)

	if task.State() != TaskSucceeded {
		t.Fatalf("Expected Succeeded, got %s (err: %v)", task.State(), task.Err())
	}
	collectionID, count := task.Result()
	if count != 1 {
		t.Fatalf("Expected the thread persisted despite criteria, got %d items", count)
	}
	records := store.Records(collectionID)
	var stored ContentItem
	if err := json.Unmarshal(records[0].Payload, &stored); err != nil {
		t.Fatalf("Payload not valid item JSON: %v", err)
	}
	if stored.Summary == nil || stored.Summary.TotalCount != 2 {
		t.Errorf("Unexpected thread summary: %+v", stored.Summary)
	}
}

// fakeSessionFactory hands the pipeline pre-built in-memory pages instead of
// real browser sessions.
type fakeSessionFactory struct {
	page     *fakePage
	sessions int
	closed   int
}

func (f *fakeSessionFactory) NewSession(_ *EvasionContext) (PageSession, error) {
	f.sessions++
	return &fakeSession{fakePage: f.page, factory: f}, nil
}

type fakeSession struct {
	*fakePage
	factory *fakeSessionFactory
}

func (s *fakeSession) Close() { s.factory.closed++ }

// TestPipelineChallengeSolved tests the challenge path: one slider attempt
// against the session page, after which the operation is retried and the task
// succeeds.
func TestPipelineChallengeSolved(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		items:    []*ContentItem{{ID: "1", SourceID: "s1", Title: "result"}},
		errs:     []error{&ChallengePresentedError{SourceID: "s1", Handle: "#captcha"}},
	}
	p, _, _ := newTestPipeline(t, strat, 1)
	factory := &fakeSessionFactory{page: newFakePage()}
	p.SetBrowser(factory)

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskSucceeded {
		t.Fatalf("Expected Succeeded after the challenge, got %s (err: %v)", task.State(), task.Err())
	}
	if strat.calls != 2 {
		t.Errorf("Expected 2 strategy calls, got %d", strat.calls)
	}
	if len(factory.page.initScripts) != 1 {
		t.Errorf("Expected the session fingerprinted once, got %d init scripts", len(factory.page.initScripts))
	}
	if factory.sessions != 1 || factory.closed != 1 {
		t.Errorf("Expected 1 session opened and closed, got %d/%d", factory.sessions, factory.closed)
	}
}

// TestPipelineChallengeOnce tests that a second challenge within the same
// task is terminal: the slider is attempted at most once per session.
func TestPipelineChallengeOnce(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		errs: []error{
			&ChallengePresentedError{SourceID: "s1", Handle: "#captcha"},
			&ChallengePresentedError{SourceID: "s1", Handle: "#captcha"},
		},
	}
	p, _, _ := newTestPipeline(t, strat, 1)
	p.SetBrowser(&fakeSessionFactory{page: newFakePage()})

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed on the second challenge, got %s", task.State())
	}
	var challengeErr *ChallengePresentedError
	if !errors.As(task.Err(), &challengeErr) {
		t.Errorf("Expected ChallengePresentedError, got %v", task.Err())
	}
	if strat.calls != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", strat.calls)
	}
}

// TestPipelineChallengeSolveFails tests that a failed slider attempt fails
// the task with the original challenge error rather than retrying.
func TestPipelineChallengeSolveFails(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		errs:     []error{&ChallengePresentedError{SourceID: "s1", Handle: "#captcha"}},
	}
	p, _, _ := newTestPipeline(t, strat, 1)
	page := newFakePage()
	// The handle survives the drag, so the solve attempt fails.
	page.boxes[".secsdk-captcha-drag-icon"] = Box{X: 50, Y: 300, Width: 40, Height: 40}
	p.SetBrowser(&fakeSessionFactory{page: page})

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed, got %s", task.State())
	}
	var challengeErr *ChallengePresentedError
	if !errors.As(task.Err(), &challengeErr) {
		t.Errorf("Expected ChallengePresentedError, got %v", task.Err())
	}
	if strat.calls != 1 {
		t.Errorf("Expected a single attempt, got %d", strat.calls)
	}
	if len(page.drags) != 1 {
		t.Errorf("Expected one drag gesture, got %d", len(page.drags))
	}
}

// TestPipelineChallengeWithoutBrowser tests that a challenge is terminal when
// the pipeline has no browser session to solve it with.
func TestPipelineChallengeWithoutBrowser(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		errs:     []error{&ChallengePresentedError{SourceID: "s1", Handle: "#captcha"}},
	}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	p.Run(task)

	if task.State() != TaskFailed {
		t.Fatalf("Expected Failed, got %s", task.State())
	}
	if strat.calls != 1 {
		t.Errorf("Expected a single attempt, got %d", strat.calls)
	}
}

// TestPipelineSubmit tests asynchronous execution through the worker pool.
func TestPipelineSubmit(t *testing.T) {
	strat := &scriptedStrategy{
		sourceID: "s1",
		caps:     CapSearch,
		items:    []*ContentItem{{ID: "1", SourceID: "s1", Title: "result"}},
	}
	p, _, _ := newTestPipeline(t, strat, 1)

	task := NewCollectionTask("s1", ModeSearch, "q")
	if err := p.Submit(task); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for task.State() != TaskSucceeded {
		if time.Now().After(deadline) {
			t.Fatalf("Task did not finish: state %s, err %v", task.State(), task.Err())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

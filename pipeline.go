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
	"fmt"
	"log"
	"time"

	"github.com/omnisweep/omnisweep/debug"
	"github.com/omnisweep/omnisweep/storage"
)

// Pipeline drives CollectionTasks: it acquires a credential, prepares an
// evasion context, runs the source strategy inside the retry loop, applies
// the matcher and interaction processor, and persists accepted items. A
// bounded worker pool caps concurrent sessions; within one task all calls
// are sequential.
type Pipeline struct {
	cfg      *Config
	registry *StrategyRegistry
	pool     *CredentialPool
	evasion  *EvasionLayer
	store    storage.Store
	matcher  *Matcher
	backoff  Backoff

	metrics  *Metrics
	debugger debug.Debugger
	browser  SessionFactory

	ctx     context.Context
	workers *WorkerPool
}

// PageSession is a Page the pipeline owns for one task's lifetime.
type PageSession interface {
	Page
	Close()
}

// SessionFactory opens a fresh browser-backed page per collection task.
// BrowserAllocator is the chromedp-backed implementation.
type SessionFactory interface {
	NewSession(ec *EvasionContext) (PageSession, error)
}

// NewPipeline wires a pipeline from its collaborators. ctx governs the
// worker pool: cancelling it stops accepting and running tasks.
func NewPipeline(ctx context.Context, cfg *Config, registry *StrategyRegistry, pool *CredentialPool, store storage.Store) (*Pipeline, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if registry == nil || pool == nil || store == nil {
		return nil, fmt.Errorf("pipeline requires a registry, a credential pool and a store")
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	p := &Pipeline{
		cfg:      cfg,
		registry: registry,
		pool:     pool,
		evasion:  NewEvasionLayer(cfg.Evasion, NewSigner(nil)),
		store:    store,
		matcher:  NewMatcher(cfg.Matcher),
		backoff: Backoff{
			Base: cfg.RetryBaseDelay,
			Max:  cfg.RetryMaxDelay,
		},
		ctx:     ctx,
		workers: NewWorkerPool(ctx, cfg.Concurrency, cfg.QueueSize),
	}
	return p, nil
}

// SetDebugger attaches a debugger to the pipeline.
func (p *Pipeline) SetDebugger(d debug.Debugger) {
	if d != nil {
		if err := d.Init(); err != nil {
			log.Printf("debugger init failed: %v", err)
			return
		}
	}
	p.debugger = d
}

// SetMetrics attaches Prometheus collectors.
func (p *Pipeline) SetMetrics(m *Metrics) {
	p.metrics = m
}

// SetBrowser enables browser-backed strategies. Without it, strategies only
// get the HTTP fetcher.
func (p *Pipeline) SetBrowser(b SessionFactory) {
	p.browser = b
}

// Evasion exposes the evasion layer, mainly so callers can configure the
// request signer's key fetcher.
func (p *Pipeline) Evasion() *EvasionLayer {
	return p.evasion
}

// Submit queues a task on the worker pool. Blocks while the queue is full.
func (p *Pipeline) Submit(task *CollectionTask) error {
	return p.workers.Submit(func() { p.Run(task) })
}

// Close stops the worker pool after in-flight tasks finish.
func (p *Pipeline) Close() {
	p.workers.Close()
}

// Run executes one task synchronously through its whole lifecycle.
func (p *Pipeline) Run(task *CollectionTask) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.cfg.TaskTimeout
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if !task.start(cancel) {
		return
	}
	p.event(task, "task", map[string]string{"mode": string(task.Mode), "target": task.Target})

	err := p.execute(ctx, task)

	state := TaskSucceeded
	switch {
	case err == nil:
	case task.wasCancelled():
		state = TaskCancelled
		err = ErrTaskCancelled
	case errors.Is(err, context.DeadlineExceeded):
		state = TaskFailed
		err = fmt.Errorf("%w: %v", ErrTaskTimeout, err)
	default:
		state = TaskFailed
	}
	task.finish(state, err)

	started, finished := task.Times()
	p.metrics.taskFinished(task.SourceID, state, finished.Sub(started).Seconds())
	values := map[string]string{"state": string(state)}
	if err != nil {
		values["error"] = err.Error()
	}
	p.event(task, "done", values)
}

// execute runs the task body: credential, session, retry loop, processing.
func (p *Pipeline) execute(ctx context.Context, task *CollectionTask) error {
	cred, err := p.pool.Acquire(task.SourceID, task.Owner)
	if err != nil {
		// Pool exhaustion fails fast: waiting here would hold a worker slot
		// with no credential to use.
		return err
	}
	// rateUpdate carries whatever rate-limit metadata the run observed back
	// to the pool on release.
	rateUpdate := &RateLimitUpdate{Remaining: -1}
	defer func() {
		if cred != nil {
			if rerr := p.pool.Release(cred, rateUpdate); rerr != nil {
				log.Printf("credential release failed: %v", rerr)
			}
		}
	}()
	p.event(task, "acquire", map[string]string{"credential": cred.ID})

	ec := p.evasion.PrepareContext(cred)
	fetcher, err := NewFetcher(p.fetcherConfig(ec))
	if err != nil {
		return err
	}
	if err := fetcher.UseCredential(cred); err != nil {
		return err
	}

	var page Page
	if p.browser != nil {
		session, err := p.browser.NewSession(ec)
		if err != nil {
			return fmt.Errorf("starting browser session: %w", err)
		}
		defer session.Close()
		if err := p.evasion.InjectFingerprint(ctx, ec, session); err != nil {
			return fmt.Errorf("injecting fingerprint: %w", err)
		}
		page = session
	}

	strategy, err := p.registry.New(task.SourceID, &StrategyEnv{
		SourceID:   task.SourceID,
		Fetcher:    fetcher,
		Page:       page,
		Credential: cred,
		Evasion:    p.evasion,
		Signer:     p.evasion.Signer(),
	})
	if err != nil {
		return err
	}
	if !strategy.Capabilities().Has(modeCapability(task.Mode)) {
		return fmt.Errorf("source %q, mode %q: %w", task.SourceID, task.Mode, ErrUnsupportedMode)
	}

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = p.cfg.MaxRetries
	}

	var lastErr error
	var authRetried, challengeTried bool
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := p.invoke(ctx, strategy, task)
		if err == nil {
			return p.process(ctx, task, items)
		}
		lastErr = err

		var authErr *AuthInvalidError
		var rateErr *RateLimitedError
		var challengeErr *ChallengePresentedError
		switch {
		case errors.As(err, &authErr):
			p.metrics.credentialInvalidated(task.SourceID)
			if ierr := p.pool.Invalidate(cred, authErr.Reason); ierr != nil {
				log.Printf("credential invalidation failed: %v", ierr)
			}
			cred = nil
			if authRetried {
				return err
			}
			authRetried = true
			next, aerr := p.pool.Acquire(task.SourceID, task.Owner)
			if aerr != nil {
				return fmt.Errorf("after invalid credential: %w", aerr)
			}
			cred = next
			ec = p.evasion.PrepareContext(cred)
			if uerr := fetcher.UseCredential(cred); uerr != nil {
				return uerr
			}
			p.metrics.retried(task.SourceID, "auth")
			p.event(task, "reauth", map[string]string{"credential": cred.ID})

		case errors.As(err, &rateErr):
			rateUpdate.Remaining = 0
			rateUpdate.ResetAt = rateErr.ResetAt
			p.metrics.retried(task.SourceID, "rate_limited")
			p.event(task, "rate_limited", map[string]string{"reset_at": rateErr.ResetAt.Format(time.RFC3339)})
			// Wait to the announced reset, not a generic backoff.
			if werr := sleepCtx(ctx, time.Until(rateErr.ResetAt)); werr != nil {
				return werr
			}

		case errors.As(err, &challengeErr):
			if page == nil || challengeTried {
				return err
			}
			challengeTried = true
			solved, serr := p.evasion.SolveSlider(ctx, page)
			if serr != nil || !solved {
				// Session is degraded; the caller may retry the whole task
				// later with a fresh session.
				return err
			}
			p.metrics.retried(task.SourceID, "challenge")
			p.event(task, "challenge_solved", nil)

		case IsTransient(err):
			delay := p.backoff.Delay(attempt)
			p.metrics.retried(task.SourceID, "transient")
			p.event(task, "retry", map[string]string{"delay": delay.String()})
			if werr := sleepCtx(ctx, delay); werr != nil {
				return werr
			}

		default:
			return err
		}
	}
	return fmt.Errorf("retry budget exceeded: %w", lastErr)
}

// invoke dispatches the task to the strategy operation for its mode and
// normalizes the result into items.
func (p *Pipeline) invoke(ctx context.Context, strategy SourceStrategy, task *CollectionTask) ([]*ContentItem, error) {
	switch task.Mode {
	case ModeSearch:
		return strategy.Search(ctx, task.Target, task.MaxResults, task.Criteria)

	case ModeProfile:
		profile, err := strategy.GetProfile(ctx, task.Target)
		if err != nil {
			return nil, err
		}
		return []*ContentItem{profileItem(task.SourceID, profile)}, nil

	case ModePosts:
		return strategy.GetPosts(ctx, task.Target, task.MaxResults, task.Criteria)

	case ModePostDetail:
		item, err := strategy.GetPostDetail(ctx, task.Target)
		if err != nil {
			return nil, err
		}
		if task.IncludeReplies && strategy.Capabilities().Has(CapComments) {
			nodes, err := strategy.GetComments(ctx, task.Target, task.MaxResults, true)
			if err != nil {
				return nil, err
			}
			attachThread(item, nodes)
		}
		return []*ContentItem{item}, nil

	case ModeComments:
		nodes, err := strategy.GetComments(ctx, task.Target, task.MaxResults, task.IncludeReplies)
		if err != nil {
			return nil, err
		}
		item := &ContentItem{
			ID:       task.Target,
			SourceID: task.SourceID,
			Type:     ItemComment,
		}
		attachThread(item, nodes)
		return []*ContentItem{item}, nil

	default:
		return nil, fmt.Errorf("mode %q: %w", task.Mode, ErrUnsupportedMode)
	}
}

// process applies the matcher and deduplicator in strategy order and
// persists what survives. A single malformed item is logged and skipped,
// never fatal to the batch.
func (p *Pipeline) process(ctx context.Context, task *CollectionTask, items []*ContentItem) error {
	dedupe := NewDeduplicator()
	records := make([]storage.Record, 0, len(items))
	started, _ := task.Times()

	// Criteria gate discovered items. The comments-mode container stands in
	// for a post the caller already named, so it bypasses the matcher.
	applyCriteria := task.Mode != ModeComments

	for _, item := range items {
		if item == nil {
			continue
		}
		var score float64
		if applyCriteria {
			matched, s := p.matcher.Score(item, task.Criteria)
			if !matched {
				p.metrics.itemRejected(task.SourceID, "unmatched")
				continue
			}
			score = s
			item.MatchScore = s
		}

		dup, err := dedupe.Dedupe(ctx, item)
		if err != nil {
			log.Printf("task %s: dedupe failed for item %q: %v", task.ID, item.ID, err)
			p.metrics.itemRejected(task.SourceID, "malformed")
			continue
		}
		if dup {
			p.metrics.itemRejected(task.SourceID, "duplicate")
			continue
		}

		payload, err := json.Marshal(item)
		if err != nil {
			log.Printf("task %s: marshalling item %q failed: %v", task.ID, item.ID, err)
			p.metrics.itemRejected(task.SourceID, "malformed")
			continue
		}
		records = append(records, storage.Record{
			ItemID:      item.ID,
			SourceID:    item.SourceID,
			Type:        string(item.Type),
			Title:       item.Title,
			URL:         item.URL,
			Score:       score,
			PublishedAt: item.PublishedAt,
			Payload:     payload,
		})
		p.metrics.itemAccepted(task.SourceID)
	}

	id, err := p.store.SaveCollection(task.SourceID, records, storage.CollectionMeta{
		TaskID:     task.ID,
		Mode:       string(task.Mode),
		Query:      task.Target,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("persisting collection: %w", err)
	}
	task.setResult(id, len(records))
	p.event(task, "saved", map[string]string{"collection": id, "items": fmt.Sprintf("%d", len(records))})
	return nil
}

func (p *Pipeline) fetcherConfig(ec *EvasionContext) FetcherConfig {
	cfg := p.cfg.Fetcher
	if cfg.UserAgent == "" {
		cfg.UserAgent = ec.UserAgent
	}
	return cfg
}

func (p *Pipeline) event(task *CollectionTask, eventType string, values map[string]string) {
	if p.debugger == nil {
		return
	}
	p.debugger.Event(&debug.Event{
		Type:     eventType,
		TaskID:   task.ID,
		SourceID: task.SourceID,
		Values:   values,
	})
}

// modeCapability maps a collection mode to the capability it requires.
func modeCapability(mode CollectionMode) Capability {
	switch mode {
	case ModeSearch:
		return CapSearch
	case ModeProfile:
		return CapProfile
	case ModePosts:
		return CapPosts
	case ModePostDetail:
		return CapPostDetail
	case ModeComments:
		return CapComments
	}
	return 0
}

// profileItem wraps a Profile lookup result as a persistable item.
func profileItem(sourceID string, profile *Profile) *ContentItem {
	raw, _ := json.Marshal(profile)
	return &ContentItem{
		ID:       profile.UserID,
		SourceID: sourceID,
		Type:     ItemProfile,
		Title:    profile.Name,
		Body:     profile.Bio,
		Author:   AuthorRef{ID: profile.UserID, Name: profile.Name},
		Raw:      raw,
	}
}

// attachThread builds the reply forest for nodes and attaches it, with its
// summary, to item.
func attachThread(item *ContentItem, nodes []InteractionNode) {
	forest := BuildTree(nodes)
	item.Comments = forest
	item.Summary = Summarize(forest, 0)
}

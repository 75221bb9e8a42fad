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
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// BrowserAllocator owns the headless Chrome allocator shared by browser
// sessions. Construct one at process start and pass it where needed; each
// collection task gets its own session (and so its own browser context).
type BrowserAllocator struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
}

// NewBrowserAllocator starts the allocator. timeout bounds individual
// browser operations; zero means 30s.
func NewBrowserAllocator(timeout time.Duration) *BrowserAllocator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	a := &BrowserAllocator{timeout: timeout}
	a.allocCtx, a.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return a
}

// Close releases the allocator. Sessions must be closed first.
func (a *BrowserAllocator) Close() {
	if a.allocCancel != nil {
		a.allocCancel()
	}
}

// NewSession creates an isolated browser context implementing Page. Each
// session holds one tab; a collection task drives it sequentially.
// NOTE: each session consumes roughly 100-200MB of RAM; the pipeline's
// concurrency limit is what bounds the number of live sessions.
func (a *BrowserAllocator) NewSession(ec *EvasionContext) (PageSession, error) {
	ctx, cancel := chromedp.NewContext(a.allocCtx)
	s := &BrowserSession{ctx: ctx, cancel: cancel, timeout: a.timeout}
	if ec != nil && ec.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(ec.UserAgent)
		if ec.Language != "" {
			ua = ua.WithAcceptLanguage(ec.Language)
		}
		if err := chromedp.Run(ctx, ua); err != nil {
			cancel()
			return nil, fmt.Errorf("setting user agent override: %w", err)
		}
	}
	return s, nil
}

// BrowserSession is the chromedp-backed Page implementation.
type BrowserSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// Close tears the session's browser context down.
func (s *BrowserSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// run executes actions with the session's operation timeout. The caller's
// context is only inspected before the operation starts: browser calls are
// never interrupted mid-flight, matching the engine's cancellation model.
func (s *BrowserSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// Navigate implements Page.
func (s *BrowserSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Reload implements Page.
func (s *BrowserSession) Reload(ctx context.Context) error {
	return s.run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Evaluate implements Page.
func (s *BrowserSession) Evaluate(ctx context.Context, script string, out any) error {
	return s.run(ctx, chromedp.Evaluate(script, out))
}

// Content implements Page.
func (s *BrowserSession) Content(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// ElementBox implements Page.
func (s *BrowserSession) ElementBox(ctx context.Context, selector string) (Box, bool, error) {
	var res struct {
		Found  bool    `json:"found"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return {found: false, x: 0, y: 0, width: 0, height: 0}; }
		const r = el.getBoundingClientRect();
		return {found: true, x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, selector)
	if err := s.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		return Box{}, false, err
	}
	return Box{X: res.X, Y: res.Y, Width: res.Width, Height: res.Height}, res.Found, nil
}

// Drag implements Page: press at the first step, move through the rest with
// their delays, release at the last.
func (s *BrowserSession) Drag(ctx context.Context, path []DragStep) error {
	if len(path) < 2 {
		return fmt.Errorf("drag path needs at least 2 points")
	}
	return s.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		start := path[0]
		press := input.DispatchMouseEvent(input.MousePressed, start.X, start.Y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := press.Do(cctx); err != nil {
			return err
		}
		for _, step := range path[1:] {
			if step.Delay > 0 {
				select {
				case <-cctx.Done():
					return cctx.Err()
				case <-time.After(step.Delay):
				}
			}
			move := input.DispatchMouseEvent(input.MouseMoved, step.X, step.Y).
				WithButton(input.Left)
			if err := move.Do(cctx); err != nil {
				return err
			}
		}
		end := path[len(path)-1]
		release := input.DispatchMouseEvent(input.MouseReleased, end.X, end.Y).
			WithButton(input.Left).
			WithClickCount(1)
		return release.Do(cctx)
	}))
}

// AddInitScript implements Page: the script is evaluated before any page
// script on every subsequent navigation in this session.
func (s *BrowserSession) AddInitScript(ctx context.Context, script string) error {
	return s.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		_, err := cdppage.AddScriptToEvaluateOnNewDocument(script).Do(cctx)
		return err
	}))
}

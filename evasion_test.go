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
	"strings"
	"testing"
	"time"
)

// fakePage is an in-memory Page for evasion-layer tests.
type fakePage struct {
	content     string
	boxes       map[string]Box
	drags       [][]DragStep
	reloads     int
	initScripts []string
	evaluated   []string

	// onDrag runs after a drag is recorded, letting tests simulate the
	// challenge UI reacting to the gesture.
	onDrag func()
	// onReload runs when the page reloads.
	onReload func()
}

func newFakePage() *fakePage {
	return &fakePage{boxes: make(map[string]Box)}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { return ctx.Err() }

func (p *fakePage) Reload(ctx context.Context) error {
	p.reloads++
	if p.onReload != nil {
		p.onReload()
	}
	return ctx.Err()
}

func (p *fakePage) Evaluate(ctx context.Context, script string, out any) error {
	p.evaluated = append(p.evaluated, script)
	return ctx.Err()
}

func (p *fakePage) Content(ctx context.Context) (string, error) {
	return p.content, ctx.Err()
}

func (p *fakePage) ElementBox(ctx context.Context, selector string) (Box, bool, error) {
	box, found := p.boxes[selector]
	return box, found, ctx.Err()
}

func (p *fakePage) Drag(ctx context.Context, path []DragStep) error {
	p.drags = append(p.drags, path)
	if p.onDrag != nil {
		p.onDrag()
	}
	return ctx.Err()
}

func (p *fakePage) AddInitScript(ctx context.Context, script string) error {
	p.initScripts = append(p.initScripts, script)
	return ctx.Err()
}

func fastEvasionConfig() EvasionConfig {
	return EvasionConfig{
		RecoverWait:  time.Millisecond,
		ReadDelayMin: time.Millisecond,
		ReadDelayMax: 2 * time.Millisecond,
		ScrollBudget: 20 * time.Millisecond,
	}
}

// TestPrepareContext tests that each session context gets its own identity
// drawn once.
func TestPrepareContext(t *testing.T) {
	l := NewEvasionLayer(EvasionConfig{}, nil)
	cred := &CredentialSet{ID: "c1", SourceID: "s1"}

	ec := l.PrepareContext(cred)
	if ec.DeviceID == "" || len(ec.DeviceID) != 32 {
		t.Errorf("Expected 32-hex device id, got %q", ec.DeviceID)
	}
	if ec.Credential != cred {
		t.Error("Expected credential carried on the context")
	}
	if ec.UserAgent == "" || ec.Language == "" {
		t.Error("Expected user agent and language populated")
	}
	if ec.CanvasSeed <= 0 {
		t.Errorf("Expected positive canvas seed, got %d", ec.CanvasSeed)
	}
	if other := l.PrepareContext(cred); other.DeviceID == ec.DeviceID {
		t.Error("Expected distinct device ids across contexts")
	}
}

// TestInjectFingerprintOnce tests that fingerprint injection is applied once
// per context.
func TestInjectFingerprintOnce(t *testing.T) {
	l := NewEvasionLayer(EvasionConfig{}, nil)
	ec := l.PrepareContext(nil)
	page := newFakePage()

	for i := 0; i < 3; i++ {
		if err := l.InjectFingerprint(context.Background(), ec, page); err != nil {
			t.Fatalf("InjectFingerprint failed: %v", err)
		}
	}
	if len(page.initScripts) != 1 {
		t.Errorf("Expected 1 init script, got %d", len(page.initScripts))
	}
	if !strings.Contains(page.initScripts[0], "webdriver") {
		t.Error("Expected the init script to mask the webdriver flag")
	}
}

// TestDetectRiskSignal tests both detection channels: marker selectors and
// diagnostic phrases.
func TestDetectRiskSignal(t *testing.T) {
	cfg := fastEvasionConfig()
	cfg.RiskSelectors = []string{".captcha-box"}
	l := NewEvasionLayer(cfg, nil)
	page := newFakePage()

	page.content = "<html><body>regular results</body></html>"
	risky, err := l.DetectRiskSignal(context.Background(), page)
	if err != nil {
		t.Fatalf("DetectRiskSignal failed: %v", err)
	}
	if risky {
		t.Error("Clean page flagged as risky")
	}

	page.content = "<html><body>Please VERIFY you are HUMAN</body></html>"
	if risky, _ := l.DetectRiskSignal(context.Background(), page); !risky {
		t.Error("Expected phrase detection, case-insensitively")
	}

	page.content = "<html></html>"
	page.boxes[".captcha-box"] = Box{X: 10, Y: 10, Width: 300, Height: 200}
	if risky, _ := l.DetectRiskSignal(context.Background(), page); !risky {
		t.Error("Expected selector detection")
	}
}

// TestRecover tests the wait-reload-recheck sequence in both outcomes.
func TestRecover(t *testing.T) {
	l := NewEvasionLayer(fastEvasionConfig(), nil)

	page := newFakePage()
	page.content = "unusual traffic detected"
	page.onReload = func() { page.content = "normal results" }

	// Recover waits RecoverWait plus a fixed 2s settle after the reload, so
	// give the test a generous deadline rather than running unbounded.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok, err := l.Recover(ctx, page)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if !ok {
		t.Error("Expected recovery after the block page cleared")
	}
	if page.reloads != 1 {
		t.Errorf("Expected exactly one reload, got %d", page.reloads)
	}

	stuck := newFakePage()
	stuck.content = "unusual traffic detected"
	ok, err = l.Recover(ctx, stuck)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if ok {
		t.Error("Expected recovery to report the persisting signal")
	}
	if stuck.reloads != 1 {
		t.Errorf("Recover must not loop: got %d reloads", stuck.reloads)
	}
}

// TestSleepCtxCancellation tests that pacing waits observe cancellation.
func TestSleepCtxCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepCtx(ctx, time.Minute); err == nil {
		t.Error("Expected context error from cancelled sleep")
	}
	if time.Since(start) > time.Second {
		t.Error("Cancelled sleep did not return promptly")
	}
	if err := sleepCtx(context.Background(), 0); err != nil {
		t.Errorf("Zero-duration sleep failed: %v", err)
	}
}

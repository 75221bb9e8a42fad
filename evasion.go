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
	"crypto/rand"
	"encoding/hex"
	mathrand "math/rand"
	"strings"
	"time"
)

// Box is an element bounding box in page coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// Page abstracts the browser-automation primitive the evasion layer drives.
// BrowserSession is the chromedp implementation; tests supply fakes.
type Page interface {
	// Navigate loads a URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Reload reloads the current document.
	Reload(ctx context.Context) error
	// Evaluate runs a script in the page, unmarshalling its result into out
	// when out is non-nil.
	Evaluate(ctx context.Context, script string, out any) error
	// Content returns the current document HTML.
	Content(ctx context.Context) (string, error)
	// ElementBox returns the bounding box of the first element matching the
	// selector. found is false when no element matches.
	ElementBox(ctx context.Context, selector string) (box Box, found bool, err error)
	// Drag dispatches a press-move-release pointer gesture along path.
	Drag(ctx context.Context, path []DragStep) error
	// AddInitScript registers a script evaluated before any page script on
	// every subsequent navigation.
	AddInitScript(ctx context.Context, script string) error
}

// EvasionContext is the per-session state applied consistently across one
// session's requests. Hardware characteristics and noise seeds are drawn once
// at PrepareContext and cached for the context's lifetime — real devices do
// not change mid-session, and per-request re-randomization is itself a
// detection signal.
type EvasionContext struct {
	DeviceID   string
	Credential *CredentialSet
	Hardware   HardwareProfile
	CanvasSeed int64
	UserAgent  string
	Language   string
	CreatedAt  time.Time

	injected bool
}

// EvasionConfig tunes the evasion layer. Zero values fall back to the
// defaults in NewDefaultConfig.
type EvasionConfig struct {
	// RiskPhrases are diagnostic strings whose presence in page content
	// indicates a block or challenge page.
	RiskPhrases []string
	// RiskSelectors are CSS selectors of known challenge UI markers.
	RiskSelectors []string
	// RecoverWait is how long Recover pauses before reloading.
	RecoverWait time.Duration
	// SliderSelector locates the drag handle of slider challenges.
	SliderSelector string
	// ScrollBudget bounds the total duration of one randomized scroll pass.
	ScrollBudget time.Duration
	// ReadDelayMin and ReadDelayMax bound the simulated reading pause
	// between page interactions.
	ReadDelayMin time.Duration
	ReadDelayMax time.Duration
}

// EvasionLayer shapes fingerprints, signs requests and copes with active
// challenges. Construct one at process start and share it; it keeps no
// per-session state (that lives in EvasionContext).
type EvasionLayer struct {
	cfg    EvasionConfig
	signer *Signer
}

// NewEvasionLayer builds the layer. signer may be nil for sources that never
// need signed parameters.
func NewEvasionLayer(cfg EvasionConfig, signer *Signer) *EvasionLayer {
	if cfg.RecoverWait == 0 {
		cfg.RecoverWait = 5 * time.Second
	}
	if cfg.SliderSelector == "" {
		cfg.SliderSelector = ".secsdk-captcha-drag-icon"
	}
	if cfg.ScrollBudget == 0 {
		cfg.ScrollBudget = 20 * time.Second
	}
	if cfg.ReadDelayMin == 0 {
		cfg.ReadDelayMin = time.Second
	}
	if cfg.ReadDelayMax <= cfg.ReadDelayMin {
		cfg.ReadDelayMax = cfg.ReadDelayMin + 2*time.Second
	}
	if len(cfg.RiskPhrases) == 0 {
		cfg.RiskPhrases = []string{
			"verify you are human",
			"unusual traffic",
			"access denied",
			"please complete the security check",
		}
	}
	return &EvasionLayer{cfg: cfg, signer: signer}
}

// Signer returns the layer's parameter signer, or nil.
func (l *EvasionLayer) Signer() *Signer {
	return l.signer
}

// PrepareContext creates the evasion state for one session using cred. The
// device identifier is stable for the session and the hardware profile is
// drawn once from realistic distributions.
func (l *EvasionLayer) PrepareContext(cred *CredentialSet) *EvasionContext {
	return &EvasionContext{
		DeviceID:   newDeviceID(),
		Credential: cred,
		Hardware:   randomHardwareProfile(),
		CanvasSeed: mathrand.Int63n(1_000_000) + 1,
		UserAgent:  randomUserAgent(),
		Language:   randomLanguage(),
		CreatedAt:  time.Now(),
	}
}

// InjectFingerprint installs the context's fingerprint script on the page so
// it runs before any page script. Applied once per context; repeat calls on
// the same context are no-ops.
func (l *EvasionLayer) InjectFingerprint(ctx context.Context, ec *EvasionContext, page Page) error {
	if ec.injected {
		return nil
	}
	if err := page.AddInitScript(ctx, FingerprintScript(ec)); err != nil {
		return err
	}
	ec.injected = true
	return nil
}

// DetectRiskSignal reports whether the page currently shows a known block or
// challenge indicator.
func (l *EvasionLayer) DetectRiskSignal(ctx context.Context, page Page) (bool, error) {
	for _, sel := range l.cfg.RiskSelectors {
		if _, found, err := page.ElementBox(ctx, sel); err == nil && found {
			return true, nil
		}
	}
	content, err := page.Content(ctx)
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(content)
	for _, phrase := range l.cfg.RiskPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true, nil
		}
	}
	return false, nil
}

// Recover performs a bounded wait, one reload, and a single re-check. It
// never loops: if the signal persists after the reload the caller decides
// what to do with the degraded session.
func (l *EvasionLayer) Recover(ctx context.Context, page Page) (bool, error) {
	if err := sleepCtx(ctx, l.cfg.RecoverWait); err != nil {
		return false, err
	}
	if err := page.Reload(ctx); err != nil {
		return false, err
	}
	if err := sleepCtx(ctx, 2*time.Second); err != nil {
		return false, err
	}
	risky, err := l.DetectRiskSignal(ctx, page)
	if err != nil {
		return false, err
	}
	return !risky, nil
}

// sleepCtx pauses for d, returning early with the context error on
// cancellation. Every pacing wait in the engine goes through here so tasks
// observe cancellation at suspension points.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newDeviceID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure is unrecoverable
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}

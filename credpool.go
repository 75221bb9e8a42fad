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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kennygrant/sanitize"
)

// AuthType tags how an API credential authenticates.
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
	AuthOAuth2 AuthType = "oauth2"
	AuthBearer AuthType = "bearer_token"
	AuthBasic  AuthType = "basic_auth"
	AuthCookie AuthType = "cookie"
)

// CookieEntry is one cookie in a cookie-set credential. Expires is a unix
// timestamp; zero means a session cookie that never expires on our side.
type CookieEntry struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// Expired reports whether the cookie is past its expiry at now.
func (c *CookieEntry) Expired(now time.Time) bool {
	return c.Expires != 0 && now.Unix() > c.Expires
}

// chromeEpoch is 1601-01-01 UTC; Chromium cookie exports store expiry as
// microseconds since then.
var chromeEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// ChromeExpiresToUnix converts a Chromium expires_utc value (microseconds
// since 1601) to a unix timestamp. Zero stays zero (session cookie).
func ChromeExpiresToUnix(expiresUTC int64) int64 {
	if expiresUTC == 0 {
		return 0
	}
	return chromeEpoch.Add(time.Duration(expiresUTC) * time.Microsecond).Unix()
}

// CredentialSet is one reusable identity for a source: either a cookie set or
// an API credential. It is handed out by the CredentialPool and injected into
// requests by the evasion layer.
type CredentialSet struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	Owner     string            `json:"owner,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at,omitzero"`
	Valid     bool              `json:"valid"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Cookie-set credentials.
	Cookies []CookieEntry `json:"cookies,omitempty"`

	// API credentials.
	AuthType     AuthType `json:"auth_type,omitempty"`
	Token        string   `json:"token,omitempty"`
	Secret       string   `json:"secret,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
}

// IsCookieSet reports whether the credential is cookie-based.
func (cs *CredentialSet) IsCookieSet() bool {
	return len(cs.Cookies) > 0
}

// Usable reports whether the credential can be handed out at now: it must be
// valid, not past its own expiry, and hold at least one unexpired cookie or
// token. A credential with no live entries is never returned as usable.
func (cs *CredentialSet) Usable(now time.Time) bool {
	if !cs.Valid {
		return false
	}
	if !cs.ExpiresAt.IsZero() && now.After(cs.ExpiresAt) {
		return false
	}
	if cs.IsCookieSet() {
		for i := range cs.Cookies {
			if !cs.Cookies[i].Expired(now) {
				return true
			}
		}
		return false
	}
	return cs.Token != "" || (cs.AuthType == AuthBasic && cs.Secret != "")
}

// CookieValue returns the value of the named unexpired cookie, or "".
func (cs *CredentialSet) CookieValue(name string) string {
	now := time.Now()
	for i := range cs.Cookies {
		if cs.Cookies[i].Name == name && !cs.Cookies[i].Expired(now) {
			return cs.Cookies[i].Value
		}
	}
	return ""
}

// HTTPCookies converts the unexpired entries to http.Cookie values for jar
// injection.
func (cs *CredentialSet) HTTPCookies() []*http.Cookie {
	now := time.Now()
	out := make([]*http.Cookie, 0, len(cs.Cookies))
	for i := range cs.Cookies {
		e := &cs.Cookies[i]
		if e.Expired(now) {
			continue
		}
		c := &http.Cookie{
			Name:     e.Name,
			Value:    e.Value,
			Domain:   e.Domain,
			Path:     e.Path,
			Secure:   e.Secure,
			HttpOnly: e.HTTPOnly,
		}
		if e.Expires != 0 {
			c.Expires = time.Unix(e.Expires, 0)
		}
		out = append(out, c)
	}
	return out
}

// APICredentialImport is the import shape for API credentials.
type APICredentialImport struct {
	SourceID     string    `json:"sourceId"`
	AuthType     AuthType  `json:"authType"`
	Token        string    `json:"token"`
	Secret       string    `json:"secret,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	Owner        string    `json:"owner,omitempty"`
}

// poolEntry pairs a credential with its rate-limit window and rotation
// bookkeeping. The window is owned here and nowhere else.
type poolEntry struct {
	cred          *CredentialSet
	window        *RateLimitWindow
	lastAcquired  time.Time
	invalidReason string
}

// sourcePool is the rotation queue for one source id. Front of the queue is
// the least recently used credential.
type sourcePool struct {
	mu    sync.Mutex
	queue []*poolEntry
}

// PoolStats summarizes one source's pool for statistics and the CLI.
type PoolStats struct {
	TotalSets int      `json:"total_sets"`
	ValidSets int      `json:"valid_sets"`
	Owners    []string `json:"owners,omitempty"`
}

// CredentialPool holds, per source id, an ordered collection of credentials
// and their rate-limit windows, and hands out a usable credential on demand
// under least-recently-used rotation. Access is serialized per source id so
// unrelated sources never contend. All operations are pool bookkeeping only;
// none blocks on the network.
type CredentialPool struct {
	mu      sync.Mutex
	sources map[string]*sourcePool

	// Dir, when set, is where pools are persisted as one JSON file per
	// source id.
	Dir string

	// DefaultWindow configures the rate-limit window attached to imported
	// API credentials when the import carries no explicit limit.
	DefaultWindow struct {
		MaxRequests int
		Duration    time.Duration
	}
}

// NewCredentialPool returns an empty pool. dir may be "" to disable
// persistence.
func NewCredentialPool(dir string) *CredentialPool {
	p := &CredentialPool{
		sources: make(map[string]*sourcePool),
		Dir:     dir,
	}
	p.DefaultWindow.MaxRequests = 300
	p.DefaultWindow.Duration = time.Hour
	return p
}

func (p *CredentialPool) source(sourceID string) *sourcePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.sources[sourceID]
	if !ok {
		sp = &sourcePool{}
		p.sources[sourceID] = sp
	}
	return sp
}

// Acquire returns a usable credential for the source. Candidates must be
// valid, unexpired and not currently rate limited. When ownerHint is set an
// exact owner match is preferred; otherwise the least recently used candidate
// wins and is moved to the back of the queue, so under sustained load no
// single credential is hit disproportionately.
//
// Acquire never blocks waiting for a reset: an exhausted pool returns
// ErrPoolExhausted immediately. Use EarliestReset to decide how long a caller
// could wait.
func (p *CredentialPool) Acquire(sourceID, ownerHint string) (*CredentialSet, error) {
	sp := p.source(sourceID)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	now := time.Now()
	pick := -1
	for i, e := range sp.queue {
		if !e.cred.Usable(now) {
			continue
		}
		if e.window != nil && !e.window.Allow(now) {
			continue
		}
		if ownerHint != "" && e.cred.Owner == ownerHint {
			pick = i
			break
		}
		if ownerHint == "" && pick < 0 {
			pick = i
			break
		}
		if pick < 0 {
			pick = i // fallback if the hinted owner has no usable entry
		}
	}
	if pick < 0 {
		return nil, fmt.Errorf("%s: %w", sourceID, ErrPoolExhausted)
	}

	e := sp.queue[pick]
	e.lastAcquired = now
	if e.window != nil {
		e.window.Consume(now)
	}
	// Rotate: move the returned entry to the back of the queue.
	sp.queue = append(append(sp.queue[:pick:pick], sp.queue[pick+1:]...), e)
	return e.cred, nil
}

// Release applies rate-limit metadata observed while the credential was in
// use. The reset time never moves backwards. A nil update is a plain release.
func (p *CredentialPool) Release(cred *CredentialSet, update *RateLimitUpdate) error {
	if cred == nil {
		return ErrNoCredential
	}
	sp := p.source(cred.SourceID)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e := sp.find(cred.ID)
	if e == nil {
		return fmt.Errorf("release %s: %w", cred.ID, ErrNoCredential)
	}
	if update != nil {
		if e.window == nil {
			e.window = NewRateLimitWindow(p.DefaultWindow.MaxRequests, p.DefaultWindow.Duration)
		}
		e.window.Update(update.Remaining, update.ResetAt)
	}
	return nil
}

// Invalidate marks the credential invalid immediately. The entry stays in the
// pool for audit and statistics; it is only excluded from rotation. Remove is
// the explicit operator path for physical deletion.
func (p *CredentialPool) Invalidate(cred *CredentialSet, reason string) error {
	if cred == nil {
		return ErrNoCredential
	}
	sp := p.source(cred.SourceID)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	e := sp.find(cred.ID)
	if e == nil {
		return fmt.Errorf("invalidate %s: %w", cred.ID, ErrNoCredential)
	}
	e.cred.Valid = false
	e.invalidReason = reason
	return nil
}

// Remove physically deletes a credential from the pool. Explicit operator
// action only; the pipeline never calls this.
func (p *CredentialPool) Remove(sourceID, credentialID string) {
	sp := p.source(sourceID)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for i, e := range sp.queue {
		if e.cred.ID == credentialID {
			sp.queue = append(sp.queue[:i], sp.queue[i+1:]...)
			return
		}
	}
}

func (sp *sourcePool) find(credentialID string) *poolEntry {
	for _, e := range sp.queue {
		if e.cred.ID == credentialID {
			return e
		}
	}
	return nil
}

// EarliestReset returns the earliest rate-limit reset across the source's
// pool, for callers that want to wait out an exhausted pool. ok is false when
// no entry has a window in progress.
func (p *CredentialPool) EarliestReset(sourceID string) (time.Time, bool) {
	sp := p.source(sourceID)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	var earliest time.Time
	for _, e := range sp.queue {
		if e.window == nil {
			continue
		}
		if at := e.window.ResetAt(); !at.IsZero() && (earliest.IsZero() || at.Before(earliest)) {
			earliest = at
		}
	}
	return earliest, !earliest.IsZero()
}

// ImportCookieSet validates and inserts a cookie-set credential at the back
// of the source's rotation. Every entry needs a name, value and domain.
func (p *CredentialPool) ImportCookieSet(sourceID string, entries []CookieEntry, owner string) (*CredentialSet, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("import %s: empty cookie set", sourceID)
	}
	for i := range entries {
		if entries[i].Name == "" || entries[i].Value == "" {
			return nil, fmt.Errorf("import %s: cookie %d missing name or value", sourceID, i)
		}
		if entries[i].Domain == "" {
			return nil, fmt.Errorf("import %s: cookie %q missing domain", sourceID, entries[i].Name)
		}
		if entries[i].Path == "" {
			entries[i].Path = "/"
		}
	}
	cred := &CredentialSet{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Owner:     owner,
		CreatedAt: time.Now(),
		Valid:     true,
		Cookies:   entries,
		AuthType:  AuthCookie,
	}
	p.insert(cred, nil)
	return cred, nil
}

// ImportCookieMap imports a flat name→value map with an explicit domain, the
// second accepted wire format for cookie credentials.
func (p *CredentialPool) ImportCookieMap(sourceID string, cookies map[string]string, domain, owner string) (*CredentialSet, error) {
	if domain == "" {
		return nil, fmt.Errorf("import %s: cookie map requires a domain", sourceID)
	}
	entries := make([]CookieEntry, 0, len(cookies))
	for name, value := range cookies {
		entries = append(entries, CookieEntry{Name: name, Value: value, Domain: domain, Path: "/"})
	}
	return p.ImportCookieSet(sourceID, entries, owner)
}

// ImportAPICredential validates and inserts an API credential with a fresh
// rate-limit window.
func (p *CredentialPool) ImportAPICredential(imp APICredentialImport) (*CredentialSet, error) {
	if imp.SourceID == "" {
		return nil, fmt.Errorf("import api credential: missing sourceId")
	}
	if imp.AuthType == "" {
		return nil, fmt.Errorf("import %s: missing authType", imp.SourceID)
	}
	if imp.Token == "" {
		return nil, fmt.Errorf("import %s: missing token", imp.SourceID)
	}
	cred := &CredentialSet{
		ID:           uuid.NewString(),
		SourceID:     imp.SourceID,
		Owner:        imp.Owner,
		CreatedAt:    time.Now(),
		ExpiresAt:    imp.ExpiresAt,
		Valid:        true,
		AuthType:     imp.AuthType,
		Token:        imp.Token,
		Secret:       imp.Secret,
		RefreshToken: imp.RefreshToken,
	}
	p.insert(cred, NewRateLimitWindow(p.DefaultWindow.MaxRequests, p.DefaultWindow.Duration))
	return cred, nil
}

func (p *CredentialPool) insert(cred *CredentialSet, window *RateLimitWindow) {
	sp := p.source(cred.SourceID)
	sp.mu.Lock()
	sp.queue = append(sp.queue, &poolEntry{cred: cred, window: window})
	sp.mu.Unlock()
}

// ProbeFunc is a caller-supplied liveness check for one credential. It should
// perform a cheap authenticated request and report whether the session is
// still accepted.
type ProbeFunc func(ctx context.Context, cred *CredentialSet) (bool, error)

// Validate runs probe against every credential of the source sequentially —
// concurrent probes against one source risk session collisions — and updates
// validity flags. The pool lock is not held across probe calls.
func (p *CredentialPool) Validate(ctx context.Context, sourceID string, probe ProbeFunc) (map[string]bool, error) {
	sp := p.source(sourceID)
	sp.mu.Lock()
	creds := make([]*CredentialSet, 0, len(sp.queue))
	for _, e := range sp.queue {
		creds = append(creds, e.cred)
	}
	sp.mu.Unlock()

	results := make(map[string]bool, len(creds))
	for _, cred := range creds {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		ok, err := probe(ctx, cred)
		if err != nil {
			ok = false
		}
		results[cred.ID] = ok
		sp.mu.Lock()
		if e := sp.find(cred.ID); e != nil {
			e.cred.Valid = ok
			if !ok {
				e.invalidReason = "validation probe failed"
			}
		}
		sp.mu.Unlock()
	}
	return results, nil
}

// Statistics returns per-source pool counts.
func (p *CredentialPool) Statistics() map[string]PoolStats {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sources))
	for id := range p.sources {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	now := time.Now()
	stats := make(map[string]PoolStats, len(ids))
	for _, id := range ids {
		sp := p.source(id)
		sp.mu.Lock()
		s := PoolStats{TotalSets: len(sp.queue)}
		for _, e := range sp.queue {
			if e.cred.Usable(now) {
				s.ValidSets++
			}
			if e.cred.Owner != "" {
				s.Owners = append(s.Owners, e.cred.Owner)
			}
		}
		sp.mu.Unlock()
		stats[id] = s
	}
	return stats
}

// Save persists one source's credentials as JSON under Dir. No-op when Dir is
// unset.
func (p *CredentialPool) Save(sourceID string) error {
	if p.Dir == "" {
		return nil
	}
	sp := p.source(sourceID)
	sp.mu.Lock()
	creds := make([]*CredentialSet, 0, len(sp.queue))
	for _, e := range sp.queue {
		creds = append(creds, e.cred)
	}
	sp.mu.Unlock()

	if err := os.MkdirAll(p.Dir, 0750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	name := sanitize.BaseName(sourceID) + ".json"
	tmp := filepath.Join(p.Dir, name+"~")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(p.Dir, name))
}

// Load reads a previously saved pool file for the source, appending its
// still-usable credentials to the rotation.
func (p *CredentialPool) Load(sourceID string) error {
	if p.Dir == "" {
		return nil
	}
	name := sanitize.BaseName(sourceID) + ".json"
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var creds []*CredentialSet
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("load %s: %w", sourceID, err)
	}
	now := time.Now()
	for _, cred := range creds {
		if !cred.Usable(now) {
			continue
		}
		var w *RateLimitWindow
		if !cred.IsCookieSet() {
			w = NewRateLimitWindow(p.DefaultWindow.MaxRequests, p.DefaultWindow.Duration)
		}
		p.insert(cred, w)
	}
	return nil
}

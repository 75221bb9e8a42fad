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
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/saintfish/chardet"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// LimitRule provides connection restrictions for domains.
// Both DomainRegexp and DomainGlob can be used to specify
// the included domains patterns, but at least one is required.
// There can be two kind of limitations:
//   - Parallelism: Set limit for the number of concurrent requests to matching domains
//   - Delay: Wait specified amount of time between requests (parallelism is 1 in this case)
type LimitRule struct {
	// DomainRegexp is a regular expression to match against domains
	DomainRegexp string
	// DomainGlob is a glob pattern to match against domains
	DomainGlob string
	// Delay is the duration to wait before creating a new request to the matching domains
	Delay time.Duration
	// RandomDelay is the extra randomized duration to wait added to Delay before creating a new request
	RandomDelay time.Duration
	// Parallelism is the number of the maximum allowed concurrent requests of the matching domains
	Parallelism    int
	waitChan       chan bool
	compiledRegexp *regexp.Regexp
	compiledGlob   glob.Glob
}

// Init initializes the private members of LimitRule
func (r *LimitRule) Init() error {
	waitChanSize := 1
	if r.Parallelism > 1 {
		waitChanSize = r.Parallelism
	}
	r.waitChan = make(chan bool, waitChanSize)
	hasPattern := false
	if r.DomainRegexp != "" {
		c, err := regexp.Compile(r.DomainRegexp)
		if err != nil {
			return err
		}
		r.compiledRegexp = c
		hasPattern = true
	}
	if r.DomainGlob != "" {
		c, err := glob.Compile(r.DomainGlob)
		if err != nil {
			return err
		}
		r.compiledGlob = c
		hasPattern = true
	}
	if !hasPattern {
		return ErrNoPattern
	}
	return nil
}

// Match checks that the domain parameter triggers the rule
func (r *LimitRule) Match(domain string) bool {
	match := false
	if r.compiledRegexp != nil && r.compiledRegexp.MatchString(domain) {
		match = true
	}
	if r.compiledGlob != nil && r.compiledGlob.Match(domain) {
		match = true
	}
	return match
}

// FetchResponse is the outcome of one fetch: final status, decoded body and
// headers. Body has already been charset-converted to UTF-8 when the source
// declared (or sniffed as) something else.
type FetchResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	URL        string
	// Trace holds connection timings when TraceHTTP is enabled.
	Trace *HTTPTrace
}

// RequestHook runs before a request is sent; it may mutate headers.
type RequestHook func(req *http.Request)

// ResponseHook runs after a response body has been read.
type ResponseHook func(resp *FetchResponse)

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// Timeout bounds one request round trip. Zero means 20s.
	Timeout time.Duration
	// MaxBodySize truncates response bodies; zero means 10MB. Responses
	// whose Content-Length already exceeds it fail with ErrBodyTooLarge.
	MaxBodySize int
	// UserAgent is sent when no hook overrides it.
	UserAgent string
	// RespectRobots enables robots.txt checks before every fetch. Off by
	// default: collection targets are accessed as a logged-in member, not
	// as a generic crawler, but politeness mode is available for sources
	// that warrant it.
	RespectRobots bool
	// PerHostRate caps sustained requests per second per host. Zero
	// disables the token bucket; LimitRule delays still apply.
	PerHostRate float64
	// PerHostBurst is the token bucket burst; zero means 1.
	PerHostBurst int
	// DetectCharset sniffs the body encoding when headers declare none.
	DetectCharset bool
	// TraceHTTP attaches connection timings to every response.
	TraceHTTP bool
}

// Fetcher is the HTTP path for API-backed and static-HTML strategies. It
// enforces per-domain pacing, injects the task's credential, repairs
// charsets and maps HTTP failures onto the engine's error taxonomy so the
// pipeline retry loop can react uniformly. One Fetcher serves one task;
// hooks and credentials are not synchronized for cross-task sharing.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
	jar    http.CookieJar

	mu            sync.RWMutex
	limitRules    []*LimitRule
	limiters      map[string]*rate.Limiter
	robots        map[string]*robotstxt.RobotsData
	requestHooks  []RequestHook
	responseHooks []ResponseHook
	authHeader    string
	rnd           *rand.Rand
}

// NewFetcher creates a Fetcher with its own cookie jar.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 10 * 1024 * 1024
	}
	if cfg.PerHostBurst == 0 {
		cfg.PerHostBurst = 1
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		cfg:      cfg,
		client:   &http.Client{Jar: jar, Timeout: cfg.Timeout},
		jar:      jar,
		limiters: make(map[string]*rate.Limiter),
		robots:   make(map[string]*robotstxt.RobotsData),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// SetTransport replaces the underlying RoundTripper. Tests install a
// MockTransport here.
func (f *Fetcher) SetTransport(rt http.RoundTripper) {
	f.client.Transport = rt
}

// Limit registers a rate limit rule.
func (f *Fetcher) Limit(rule *LimitRule) error {
	if err := rule.Init(); err != nil {
		return err
	}
	f.mu.Lock()
	f.limitRules = append(f.limitRules, rule)
	f.mu.Unlock()
	return nil
}

// OnRequest registers a hook run before every request.
func (f *Fetcher) OnRequest(hook RequestHook) {
	f.mu.Lock()
	f.requestHooks = append(f.requestHooks, hook)
	f.mu.Unlock()
}

// OnResponse registers a hook run after every response.
func (f *Fetcher) OnResponse(hook ResponseHook) {
	f.mu.Lock()
	f.responseHooks = append(f.responseHooks, hook)
	f.mu.Unlock()
}

// UseCredential applies cred to subsequent requests: cookie credentials load
// the jar for their domains, API credentials set a bearer header.
func (f *Fetcher) UseCredential(cred *CredentialSet) error {
	if cred == nil {
		return nil
	}
	if cred.IsCookieSet() {
		byDomain := make(map[string][]*http.Cookie)
		for _, c := range cred.HTTPCookies() {
			byDomain[c.Domain] = append(byDomain[c.Domain], c)
		}
		for domain, cookies := range byDomain {
			u, err := url.Parse("https://" + strings.TrimPrefix(domain, "."))
			if err != nil {
				return fmt.Errorf("cookie domain %q: %w", domain, err)
			}
			f.jar.SetCookies(u, cookies)
		}
		return nil
	}
	f.mu.Lock()
	f.authHeader = "Bearer " + cred.Token
	f.mu.Unlock()
	return nil
}

// matchingRule returns the first limit rule matching domain, or nil.
func (f *Fetcher) matchingRule(domain string) *LimitRule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range f.limitRules {
		if r.Match(domain) {
			return r
		}
	}
	return nil
}

// hostLimiter returns the token bucket for host, creating it on first use.
func (f *Fetcher) hostLimiter(host string) *rate.Limiter {
	if f.cfg.PerHostRate <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.PerHostRate), f.cfg.PerHostBurst)
		f.limiters[host] = l
	}
	return l
}

// Get fetches u and returns the decoded response, or a taxonomy error.
func (f *Fetcher) Get(ctx context.Context, u string) (*FetchResponse, error) {
	return f.Do(ctx, http.MethodGet, u, nil, nil)
}

// Do performs one request. Status codes map to the error taxonomy: 401/403
// invalidate the credential, 429 carries the announced reset, 408 and 5xx
// are transient. Network failures are transient too.
func (f *Fetcher) Do(ctx context.Context, method, u string, header http.Header, body io.Reader) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header.Clone()
	}
	if f.cfg.RespectRobots && !f.robotsAllowed(ctx, req.URL) {
		return nil, fmt.Errorf("robots.txt disallows %s", u)
	}
	if err := f.pace(ctx, req.URL.Host); err != nil {
		return nil, err
	}

	f.mu.RLock()
	auth := f.authHeader
	reqHooks := f.requestHooks
	respHooks := f.responseHooks
	f.mu.RUnlock()

	if req.Header.Get("User-Agent") == "" && f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if auth != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", auth)
	}
	for _, hook := range reqHooks {
		hook(req)
	}

	var trace *HTTPTrace
	if f.cfg.TraceHTTP {
		trace = &HTTPTrace{}
		req = trace.WithTrace(req)
	}

	res, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(err)
	}
	defer res.Body.Close()

	if res.ContentLength > int64(f.cfg.MaxBodySize) {
		return nil, ErrBodyTooLarge
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, int64(f.cfg.MaxBodySize)))
	if err != nil {
		return nil, Transient(err)
	}

	if taxErr := f.statusError(res, req.URL.Host); taxErr != nil {
		return nil, taxErr
	}

	decoded, err := f.decodeBody(raw, res.Header.Get("Content-Type"))
	if err != nil {
		// Charset trouble is not worth losing the page over; keep raw bytes.
		decoded = raw
	}
	resp := &FetchResponse{
		StatusCode: res.StatusCode,
		Body:       decoded,
		Headers:    res.Header,
		URL:        req.URL.String(),
		Trace:      trace,
	}
	for _, hook := range respHooks {
		hook(resp)
	}
	return resp, nil
}

// pace blocks per the matching limit rule and the per-host token bucket.
// Cancellation is honored while waiting.
func (f *Fetcher) pace(ctx context.Context, host string) error {
	if r := f.matchingRule(host); r != nil {
		select {
		case r.waitChan <- true:
		case <-ctx.Done():
			return ctx.Err()
		}
		delay := r.Delay
		if r.RandomDelay != 0 {
			f.mu.Lock()
			delay += time.Duration(f.rnd.Int63n(int64(r.RandomDelay)))
			f.mu.Unlock()
		}
		if err := sleepCtx(ctx, delay); err != nil {
			<-r.waitChan
			return err
		}
		<-r.waitChan
	}
	if l := f.hostLimiter(host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// statusError maps a non-2xx response to the engine's error taxonomy.
func (f *Fetcher) statusError(res *http.Response, host string) error {
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return &AuthInvalidError{SourceID: host, Reason: res.Status}
	case res.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{SourceID: host, ResetAt: parseRetryAfter(res.Header.Get("Retry-After"))}
	case res.StatusCode == http.StatusRequestTimeout || res.StatusCode >= 500:
		return Transient(fmt.Errorf("server returned %s", res.Status))
	case res.StatusCode >= 400:
		return fmt.Errorf("server returned %s", res.Status)
	}
	return nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms. An
// unparseable header falls back to one minute out.
func parseRetryAfter(value string) time.Time {
	if value == "" {
		return time.Now().Add(time.Minute)
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Now().Add(time.Duration(secs) * time.Second)
	}
	if t, err := http.ParseTime(value); err == nil {
		return t
	}
	return time.Now().Add(time.Minute)
}

// decodeBody converts the body to UTF-8. The declared charset wins; when
// none is declared and sniffing is enabled, the detector's best guess is
// used.
func (f *Fetcher) decodeBody(body []byte, contentType string) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	if !strings.Contains(strings.ToLower(contentType), "charset") && f.cfg.DetectCharset {
		detector := chardet.NewTextDetector()
		if result, err := detector.DetectBest(body); err == nil && result.Charset != "" {
			contentType = contentType + "; charset=" + result.Charset
		}
	}
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

// robotsAllowed fetches and caches robots.txt per host. Fetch failures allow
// the request: politeness mode must not turn an outage into a hard block.
func (f *Fetcher) robotsAllowed(ctx context.Context, u *url.URL) bool {
	f.mu.RLock()
	robots, ok := f.robots[u.Host]
	f.mu.RUnlock()
	if !ok {
		robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
		if err != nil {
			return true
		}
		res, err := f.client.Do(req)
		if err != nil {
			return true
		}
		defer res.Body.Close()
		robots, err = robotstxt.FromResponse(res)
		if err != nil {
			return true
		}
		f.mu.Lock()
		f.robots[u.Host] = robots
		f.mu.Unlock()
	}
	ua := f.cfg.UserAgent
	if ua == "" {
		ua = "omnisweep"
	}
	return robots.TestAgent(u.Path, ua)
}

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

// Package extensions provides optional request hooks for the Fetcher.
package extensions

import (
	"math/rand"
	"net/http"
	"sync"

	"github.com/omnisweep/omnisweep"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// RandomUserAgent sets a randomly picked browser user agent on every
// request that does not carry one already.
func RandomUserAgent(f *omnisweep.Fetcher) {
	f.OnRequest(func(req *http.Request) {
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
		}
	})
}

// Referer sets the previous response's URL as the Referer header, so a
// sequence of fetches within one task looks like in-page navigation.
func Referer(f *omnisweep.Fetcher) {
	var mu sync.Mutex
	var last string
	f.OnResponse(func(resp *omnisweep.FetchResponse) {
		mu.Lock()
		last = resp.URL
		mu.Unlock()
	})
	f.OnRequest(func(req *http.Request) {
		mu.Lock()
		ref := last
		mu.Unlock()
		if ref != "" && req.Header.Get("Referer") == "" {
			req.Header.Set("Referer", ref)
		}
	})
}

// AcceptLanguage pins the Accept-Language header for the session, matching
// the language the evasion context advertises in the browser fingerprint.
func AcceptLanguage(f *omnisweep.Fetcher, lang string) {
	f.OnRequest(func(req *http.Request) {
		if req.Header.Get("Accept-Language") == "" {
			req.Header.Set("Accept-Language", lang)
		}
	})
}

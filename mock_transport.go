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
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"
)

// MockResponse represents a mock HTTP response
type MockResponse struct {
	// StatusCode is the HTTP status code to return (default: 200)
	StatusCode int
	// Body is the response body content (used if BodyFunc is nil)
	Body string
	// BodyFunc generates the body dynamically based on the request; if set,
	// it takes precedence over Body
	BodyFunc func(*http.Request) string
	// Headers are the HTTP headers to include in the response
	Headers http.Header
	// Delay simulates network latency before returning the response
	Delay time.Duration
	// Error simulates a network error
	Error error
}

type mockPattern struct {
	pattern  *regexp.Regexp
	response *MockResponse
}

// MockTransport implements http.RoundTripper for testing purposes. It serves
// registered responses for exact URLs or URL patterns without running an
// actual HTTP server, so strategy and fetcher tests stay hermetic.
type MockTransport struct {
	responses map[string]*MockResponse
	patterns  []mockPattern
	mutex     sync.RWMutex
}

// NewMockTransport creates a new MockTransport instance
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses: make(map[string]*MockResponse),
	}
}

// RegisterResponse registers a mock response for an exact URL match
func (m *MockTransport) RegisterResponse(url string, response *MockResponse) {
	normalizeMockResponse(response)
	m.mutex.Lock()
	m.responses[url] = response
	m.mutex.Unlock()
}

// RegisterHTML is a convenience method to register an HTML response with status 200
func (m *MockTransport) RegisterHTML(url, html string) {
	headers := make(http.Header)
	headers.Set("Content-Type", "text/html; charset=utf-8")
	m.RegisterResponse(url, &MockResponse{Body: html, Headers: headers})
}

// RegisterJSON is a convenience method to register a JSON response with status 200
func (m *MockTransport) RegisterJSON(url, json string) {
	headers := make(http.Header)
	headers.Set("Content-Type", "application/json; charset=utf-8")
	m.RegisterResponse(url, &MockResponse{Body: json, Headers: headers})
}

// RegisterError registers a mock error for a URL (simulates network failure)
func (m *MockTransport) RegisterError(url string, err error) {
	m.RegisterResponse(url, &MockResponse{Error: err})
}

// RegisterPattern registers a mock response for URLs matching a regex pattern
func (m *MockTransport) RegisterPattern(pattern string, response *MockResponse) error {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	normalizeMockResponse(response)
	m.mutex.Lock()
	m.patterns = append(m.patterns, mockPattern{pattern: regex, response: response})
	m.mutex.Unlock()
	return nil
}

// Reset clears all registered responses and patterns
func (m *MockTransport) Reset() {
	m.mutex.Lock()
	m.responses = make(map[string]*MockResponse)
	m.patterns = nil
	m.mutex.Unlock()
}

func normalizeMockResponse(response *MockResponse) {
	if response.StatusCode == 0 {
		response.StatusCode = 200
	}
	if response.Headers == nil {
		response.Headers = make(http.Header)
	}
}

// RoundTrip implements the http.RoundTripper interface
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	m.mutex.RLock()
	mockResp, found := m.responses[url]
	if !found {
		for _, p := range m.patterns {
			if p.pattern.MatchString(url) {
				mockResp = p.response
				found = true
				break
			}
		}
	}
	m.mutex.RUnlock()

	if !found {
		return &http.Response{
			StatusCode: 404,
			Body:       io.NopCloser(bytes.NewBufferString("Not Found")),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	if mockResp.Delay > 0 {
		time.Sleep(mockResp.Delay)
	}
	if mockResp.Error != nil {
		return nil, mockResp.Error
	}

	bodyContent := mockResp.Body
	if mockResp.BodyFunc != nil {
		bodyContent = mockResp.BodyFunc(req)
	}

	resp := &http.Response{
		StatusCode:    mockResp.StatusCode,
		Body:          io.NopCloser(bytes.NewBufferString(bodyContent)),
		Header:        mockResp.Headers.Clone(),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		ContentLength: int64(len(bodyContent)),
	}
	return resp, nil
}

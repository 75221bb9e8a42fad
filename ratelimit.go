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

import "time"

// RateLimitWindow tracks the remaining request quota of one credential within
// a fixed window. It is owned exclusively by the pool entry it belongs to and
// is guarded by the source pool's lock; it has no lock of its own.
//
// Remaining is monotonically non-increasing within a window and resets to
// MaxRequests exactly at the reset timestamp, never early.
type RateLimitWindow struct {
	MaxRequests int
	Window      time.Duration

	remaining int
	resetAt   time.Time
}

// NewRateLimitWindow returns a window with the full quota available. The
// first Consume starts the window clock.
func NewRateLimitWindow(maxRequests int, window time.Duration) *RateLimitWindow {
	return &RateLimitWindow{
		MaxRequests: maxRequests,
		Window:      window,
		remaining:   maxRequests,
	}
}

// roll resets the quota if the window has elapsed.
func (w *RateLimitWindow) roll(now time.Time) {
	if !w.resetAt.IsZero() && !now.Before(w.resetAt) {
		w.remaining = w.MaxRequests
		w.resetAt = time.Time{}
	}
}

// Allow reports whether a request may be made at now.
func (w *RateLimitWindow) Allow(now time.Time) bool {
	w.roll(now)
	return w.remaining > 0
}

// Consume spends one unit of quota. The first consumption of a fresh window
// fixes its reset time.
func (w *RateLimitWindow) Consume(now time.Time) {
	w.roll(now)
	if w.resetAt.IsZero() {
		w.resetAt = now.Add(w.Window)
	}
	if w.remaining > 0 {
		w.remaining--
	}
}

// Update applies live rate-limit metadata observed on a response. A negative
// remaining means "no information". The reset time never moves backwards, and
// remaining never increases within the current window.
func (w *RateLimitWindow) Update(remaining int, resetAt time.Time) {
	if remaining >= 0 && remaining < w.remaining {
		w.remaining = remaining
	}
	if resetAt.After(w.resetAt) {
		w.resetAt = resetAt
	}
}

// Remaining returns the quota left at now.
func (w *RateLimitWindow) Remaining(now time.Time) int {
	w.roll(now)
	return w.remaining
}

// ResetAt returns the end of the current window. The zero time means no
// window is in progress.
func (w *RateLimitWindow) ResetAt() time.Time {
	return w.resetAt
}

// RateLimitUpdate carries rate-limit metadata read off a live response,
// passed by the pipeline to CredentialPool.Release. Remaining < 0 means the
// response carried no quota header.
type RateLimitUpdate struct {
	Remaining int
	ResetAt   time.Time
}

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
	"errors"
	"fmt"
	"testing"
)

// TestTransientWrapping tests wrap, unwrap and classification of transient
// failures.
func TestTransientWrapping(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) must stay nil")
	}

	cause := errors.New("connection reset")
	err := Transient(cause)
	if !IsTransient(err) {
		t.Error("Expected transient classification")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the cause reachable through Unwrap")
	}

	// Classification survives further wrapping.
	wrapped := fmt.Errorf("fetching page: %w", err)
	if !IsTransient(wrapped) {
		t.Error("Expected transient classification through wrapping")
	}

	if IsTransient(cause) {
		t.Error("Plain errors are not transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}

// TestTypedErrorsAs tests that the typed taxonomy errors survive wrapping
// for errors.As dispatch.
func TestTypedErrorsAs(t *testing.T) {
	authCause := &AuthInvalidError{SourceID: "s1", Reason: "expired"}
	wrapped := fmt.Errorf("search failed: %w", authCause)
	var authErr *AuthInvalidError
	if !errors.As(wrapped, &authErr) || authErr.SourceID != "s1" {
		t.Errorf("AuthInvalidError lost through wrapping: %v", wrapped)
	}

	var rateErr *RateLimitedError
	if !errors.As(fmt.Errorf("x: %w", &RateLimitedError{SourceID: "s1"}), &rateErr) {
		t.Error("RateLimitedError lost through wrapping")
	}

	var challengeErr *ChallengePresentedError
	if !errors.As(fmt.Errorf("x: %w", &ChallengePresentedError{SourceID: "s1", Handle: ".slider"}), &challengeErr) {
		t.Error("ChallengePresentedError lost through wrapping")
	}
	if challengeErr.Handle != ".slider" {
		t.Errorf("Expected handle preserved, got %q", challengeErr.Handle)
	}
}

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
	"time"
)

var (
	// ErrPoolExhausted is returned by CredentialPool.Acquire when no usable
	// credential exists for the requested source. The caller must either wait
	// for the earliest rate-limit reset across the pool or fail the task.
	ErrPoolExhausted = errors.New("credential pool exhausted")
	// ErrUnknownSource is returned when a task references a source id with no
	// registered strategy.
	ErrUnknownSource = errors.New("unknown source")
	// ErrUnsupportedMode is returned when a task requests a capability the
	// source strategy does not implement.
	ErrUnsupportedMode = errors.New("mode not supported by source")
	// ErrTaskCancelled is the terminal cause attached to cancelled tasks.
	ErrTaskCancelled = errors.New("task cancelled")
	// ErrTaskTimeout is the terminal cause attached to tasks that exceeded
	// their wall-clock ceiling.
	ErrTaskTimeout = errors.New("task deadline exceeded")
	// ErrNoCredential is returned by Release/Invalidate for a nil credential.
	ErrNoCredential = errors.New("no credential")
	// ErrNoPattern is the error type for LimitRules without patterns.
	ErrNoPattern = errors.New("no pattern defined in LimitRule")
	// ErrChallengeFailed is returned when the slider solving routine did not
	// clear the presented challenge.
	ErrChallengeFailed = errors.New("challenge not cleared")
	// ErrBodyTooLarge is returned when a response exceeds MaxBodySize.
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
)

// AuthInvalidError reports that the credential used for a request was
// rejected by the source. The pipeline invalidates the credential and retries
// once with a different one if the pool has any.
type AuthInvalidError struct {
	SourceID string
	Reason   string
}

func (e *AuthInvalidError) Error() string {
	return fmt.Sprintf("%s: credential rejected: %s", e.SourceID, e.Reason)
}

// RateLimitedError reports that the source announced a rate limit. ResetAt is
// the announced end of the limit window; the pipeline waits until then rather
// than applying generic backoff.
type RateLimitedError struct {
	SourceID string
	ResetAt  time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited until %s", e.SourceID, e.ResetAt.Format(time.RFC3339))
}

// ChallengePresentedError reports that the source served an anti-bot
// challenge instead of content. Handle identifies the challenge element so
// the evasion layer can attempt to solve it.
type ChallengePresentedError struct {
	SourceID string
	Handle   string
}

func (e *ChallengePresentedError) Error() string {
	return fmt.Sprintf("%s: challenge presented (%s)", e.SourceID, e.Handle)
}

// TransientError wraps a recoverable failure (network error, timeout, 5xx).
// The pipeline retries these with exponential backoff up to the retry budget.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// Transient wraps err as a TransientError. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// IsTransient reports whether err is retryable with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

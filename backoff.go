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
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. The base delay
// doubles per attempt up to Max; jitter spreads concurrent retries so many
// tasks failing together do not retry together.
type Backoff struct {
	// Base is the delay before the first retry. Zero means 1s.
	Base time.Duration
	// Max caps the pre-jitter delay. Zero means 2m.
	Max time.Duration
	// Jitter is the maximum random addition, as a fraction of the computed
	// delay. Zero means 0.25; negative disables jitter entirely.
	Jitter float64
}

// Delay returns the wait before retry number attempt (0-based). The
// pre-jitter delay is non-decreasing in attempt and never below Base.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 2 * time.Minute
	}
	jitter := b.Jitter
	if jitter == 0 {
		jitter = 0.25
	} else if jitter < 0 {
		jitter = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	return delay + time.Duration(rand.Float64()*jitter*float64(delay))
}

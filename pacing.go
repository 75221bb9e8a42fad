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
	"fmt"
	mathrand "math/rand"
	"time"
)

// ScrollMove is one segment of a randomized scroll pass. Negative distance
// scrolls back up.
type ScrollMove struct {
	Distance int
	Pause    time.Duration
}

// GenerateScrollMoves produces a human-plausible scroll sequence: variable
// distance, occasional backward movement, variable pauses. The sum of pauses
// never exceeds budget — bounded total duration is the only contract this
// behavioral primitive carries.
func GenerateScrollMoves(budget time.Duration, rng *mathrand.Rand) []ScrollMove {
	segments := 3 + rng.Intn(6)
	moves := make([]ScrollMove, 0, segments)
	var spent time.Duration
	for i := 0; i < segments; i++ {
		distance := 300 + rng.Intn(500)
		if i > 0 && rng.Float64() < 0.2 {
			distance = -(80 + rng.Intn(150))
		}
		pause := time.Duration(500+rng.Intn(1000)) * time.Millisecond
		if spent+pause > budget {
			break
		}
		spent += pause
		moves = append(moves, ScrollMove{Distance: distance, Pause: pause})
	}
	return moves
}

// RandomizedScroll scrolls the page like a reading human. Used by source
// strategies between page interactions; each pause is a suspension point
// where cancellation is observed.
func (l *EvasionLayer) RandomizedScroll(ctx context.Context, page Page) error {
	rng := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	for _, move := range GenerateScrollMoves(l.cfg.ScrollBudget, rng) {
		script := fmt.Sprintf("window.scrollBy({top: %d, behavior: 'smooth'})", move.Distance)
		if err := page.Evaluate(ctx, script, nil); err != nil {
			return err
		}
		if err := sleepCtx(ctx, move.Pause); err != nil {
			return err
		}
	}
	return nil
}

// ReadDelay pauses for a random duration inside the configured reading
// window, simulating a human taking in the page.
func (l *EvasionLayer) ReadDelay(ctx context.Context) error {
	span := l.cfg.ReadDelayMax - l.cfg.ReadDelayMin
	d := l.cfg.ReadDelayMin + time.Duration(mathrand.Int63n(int64(span)))
	return sleepCtx(ctx, d)
}

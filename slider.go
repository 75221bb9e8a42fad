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
	mathrand "math/rand"
	"time"
)

// DragStep is one sampled point of a drag gesture, with the pause before the
// pointer moves there.
type DragStep struct {
	X, Y  float64
	Delay time.Duration
}

// GenerateDragPath samples a human-plausible horizontal drag of the given
// distance starting at (startX, startY). Movement follows a cubic ease-out
// curve — fast start, slow settle — with small per-step jitter on both axes
// and variable inter-step delay, never a linear constant-velocity line.
// rng may be seeded for reproducible tests.
func GenerateDragPath(startX, startY, distance float64, rng *mathrand.Rand) []DragStep {
	steps := 20 + rng.Intn(11)
	path := make([]DragStep, 0, steps+1)
	path = append(path, DragStep{X: startX, Y: startY})
	for i := 1; i <= steps; i++ {
		progress := float64(i) / float64(steps)
		eased := 1 - (1-progress)*(1-progress)*(1-progress)
		jx := rng.Float64()*4 - 2
		jy := rng.Float64()*4 - 2
		x := startX + distance*eased + jx
		y := startY + jy
		// keep the final point on target so the handle lands in the slot
		if i == steps {
			x = startX + distance
			y = startY
		}
		path = append(path, DragStep{
			X:     x,
			Y:     y,
			Delay: time.Duration(10+rng.Intn(21)) * time.Millisecond,
		})
	}
	return path
}

// SolveSlider attempts a slider challenge on the page. A missing handle
// element means no challenge is present and counts as success. After the
// drag it waits for the verdict and re-checks once: success is the handle
// disappearing.
func (l *EvasionLayer) SolveSlider(ctx context.Context, page Page) (bool, error) {
	box, found, err := page.ElementBox(ctx, l.cfg.SliderSelector)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	startX := box.X + box.Width/2
	startY := box.Y + box.Height/2
	distance := float64(260 + mathrand.Intn(31))
	path := GenerateDragPath(startX, startY, distance, mathrand.New(mathrand.NewSource(time.Now().UnixNano())))

	if err := page.Drag(ctx, path); err != nil {
		return false, err
	}
	if err := sleepCtx(ctx, 2*time.Second); err != nil {
		return false, err
	}
	_, stillThere, err := page.ElementBox(ctx, l.cfg.SliderSelector)
	if err != nil {
		return false, err
	}
	if stillThere {
		return false, ErrChallengeFailed
	}
	return true, nil
}

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
	"sync"
)

// WorkerPool runs a fixed number of worker goroutines over a queue of work
// items. The pipeline uses it to bound concurrent collection sessions, since
// each session holds a browser or network context that is expensive to keep
// alive.
type WorkerPool struct {
	maxWorkers int
	workQueue  chan func()
	wg         *sync.WaitGroup
	ctx        context.Context
}

// NewWorkerPool starts maxWorkers workers reading from a queue of queueSize.
// Submit blocks when the queue is full, providing backpressure.
func NewWorkerPool(ctx context.Context, maxWorkers int, queueSize int) *WorkerPool {
	wp := &WorkerPool{
		maxWorkers: maxWorkers,
		workQueue:  make(chan func(), queueSize),
		wg:         &sync.WaitGroup{},
		ctx:        ctx,
	}
	for i := 0; i < maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case work, ok := <-wp.workQueue:
			if !ok {
				return
			}
			work()
		case <-wp.ctx.Done():
			return
		}
	}
}

// Submit queues a work item, blocking while the queue is full. Returns the
// context error if the pool's context is cancelled first.
func (wp *WorkerPool) Submit(work func()) error {
	select {
	case wp.workQueue <- work:
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight items to finish.
func (wp *WorkerPool) Close() {
	close(wp.workQueue)
	wp.wg.Wait()
}

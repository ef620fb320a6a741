/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package export

import (
	"context"
	"sync"
	"sync/atomic"
)

// queue is a fixed-capacity ring. Push never blocks: at capacity the oldest
// entry is overwritten and counted as dropped.
type queue struct {
	mu     sync.Mutex
	buf    []item
	head   int
	size   int
	closed bool

	notify  chan struct{}
	dropped atomic.Uint64
}

func newQueue(capacity int) *queue {
	return &queue{
		buf:    make([]item, capacity),
		notify: make(chan struct{}, 1),
	}
}

// push enqueues one item, evicting the oldest when full.
func (q *queue) push(it item) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return
	}

	if q.size == len(q.buf) {
		q.buf[q.head] = item{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped.Add(1)
	}

	q.buf[(q.head+q.size)%len(q.buf)] = it
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop dequeues the oldest item, blocking until one is available, the queue
// is closed and empty, or the context ends.
func (q *queue) pop(ctx context.Context) (item, bool) {
	for {
		q.mu.Lock()

		if q.size > 0 {
			it := q.buf[q.head]
			q.buf[q.head] = item{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.mu.Unlock()

			return it, true
		}

		closed := q.closed
		q.mu.Unlock()

		if closed {
			return item{}, false
		}

		select {
		case <-ctx.Done():
			return item{}, false
		case <-q.notify:
		}
	}
}

// close stops accepting new items. pop keeps returning queued items until
// the queue is empty.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.size
}

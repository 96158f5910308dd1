// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The Conductor Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stream

import (
	"log/slog"
	"sync"
)

// subscriber owns an unbounded mailbox drained by a dedicated goroutine.
// Append enqueues without blocking; the run loop preserves offset order
// and isolates handler panics.
type subscriber struct {
	eventType EventType
	handler   Handler

	mu     sync.Mutex
	queue  []*Event
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newSubscriber(eventType EventType, handler Handler) *subscriber {
	return &subscriber{
		eventType: eventType,
		handler:   handler,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (sub *subscriber) enqueue(e *Event) {
	if sub.eventType != TypeWildcard && e.Type != sub.eventType {
		return
	}
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.queue = append(sub.queue, e)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) run() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			batch := sub.queue
			sub.queue = nil
			sub.mu.Unlock()

			for _, e := range batch {
				sub.deliver(e)
			}
		}
	}
}

func (sub *subscriber) deliver(e *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Subscriber handler panicked, event skipped",
				"event_type", e.Type, "offset", e.Offset, "panic", r)
		}
	}()
	sub.handler(e)
}

func (sub *subscriber) stop() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.queue = nil
	sub.mu.Unlock()
	close(sub.done)
}

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

package spawn

import (
	"context"
	"time"

	"github.com/conductor-ai/conductor/pkg/stream"
)

// WaitOutcome is the terminal signal observed for a session.
type WaitOutcome struct {
	Event    *stream.Event
	Idle     bool // terminal via session.idle; result must be fetched
	TimedOut bool
	Elapsed  time.Duration
}

// WaitForCompletion blocks until the session reaches a terminal event or
// the timeout elapses.
//
// The history ring is snapshotted before subscribing. The order matters:
// subscribing first and checking history second can miss an event that
// lands between the two, while the reverse at worst observes it twice.
func WaitForCompletion(ctx context.Context, s *stream.Stream, sessionID string, timeout time.Duration) WaitOutcome {
	start := time.Now()

	for _, e := range s.History(0, stream.Filter{StreamID: sessionID}) {
		if outcome, ok := terminal(e); ok {
			outcome.Elapsed = time.Since(start)
			return outcome
		}
	}

	done := make(chan WaitOutcome, 1)
	unsubscribe := s.Subscribe(stream.TypeWildcard, func(e *stream.Event) {
		if e.StreamID != sessionID {
			return
		}
		if outcome, ok := terminal(e); ok {
			select {
			case done <- outcome:
			default:
			}
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		outcome.Elapsed = time.Since(start)
		return outcome
	case <-timer.C:
		return WaitOutcome{TimedOut: true, Elapsed: time.Since(start)}
	case <-ctx.Done():
		return WaitOutcome{TimedOut: true, Elapsed: time.Since(start)}
	}
}

// terminal classifies an event as a terminal signal for its session.
// session.idle is terminal in the "fetch the result now" sense.
func terminal(e *stream.Event) (WaitOutcome, bool) {
	switch e.Type {
	case stream.EventAgentCompleted, stream.EventAgentFailed:
		return WaitOutcome{Event: e}, true
	case stream.EventSessionIdle:
		return WaitOutcome{Event: e, Idle: true}, true
	}
	return WaitOutcome{}, false
}

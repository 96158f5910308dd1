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

package ledger

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/conductor-ai/conductor/pkg/stream"
)

// LearningDebounce coalesces bursts of learning events into a single
// ledger write after quiescence.
const LearningDebounce = 250 * time.Millisecond

// Apply folds one ledger.* event into the projection. Non-ledger events
// are ignored. Applying a prefix of events and then continuing is
// indistinguishable from applying the whole sequence.
func Apply(l *Ledger, e *stream.Event) {
	switch e.Type {
	case stream.EventLedgerEpicCreated:
		l.StartEpic(&Epic{
			ID:      e.PayloadString("epic_id"),
			Title:   e.PayloadString("title"),
			Request: e.PayloadString("request"),
			Status:  EpicPlanned,
		})

	case stream.EventLedgerEpicStarted:
		if l.Epic != nil {
			l.Epic.Status = EpicInProgress
			l.touch()
		}

	case stream.EventLedgerEpicCompleted:
		status := EpicCompleted
		if e.PayloadString("status") == "failed" {
			status = EpicFailed
		}
		l.FinishEpic(status)

	case stream.EventLedgerTaskCreated:
		id := e.PayloadString("task_id")
		if l.Epic != nil {
			for _, t := range l.Epic.Tasks {
				if t.ID == id {
					return
				}
			}
		}
		if err := l.AddTask(Task{
			ID:    id,
			Title: e.PayloadString("title"),
			Agent: e.PayloadString("agent"),
		}); err != nil {
			slog.Warn("Dropping ledger task event", "task_id", id, "error", err)
		}

	case stream.EventLedgerTaskStarted:
		l.UpdateTask(e.PayloadString("task_id"), func(t *Task) {
			t.Status = "running"
			l.Meta.CurrentTask = t.Title
		})

	case stream.EventLedgerTaskCompleted:
		l.UpdateTask(e.PayloadString("task_id"), func(t *Task) {
			t.Status = "completed"
			t.Outcome = e.PayloadString("result")
			if l.Meta.CurrentTask == t.Title {
				l.Meta.CurrentTask = ""
			}
		})

	case stream.EventLedgerTaskFailed:
		l.UpdateTask(e.PayloadString("task_id"), func(t *Task) {
			t.Status = failureStatus(e)
			t.Outcome = e.PayloadString("error")
		})

	case stream.EventLedgerTaskYielded:
		l.UpdateTask(e.PayloadString("task_id"), func(t *Task) {
			t.Status = "suspended"
		})

	case stream.EventLedgerHandoffCreated:
		l.SetHandoff(&Handoff{
			ID:                e.PayloadString("handoff_id"),
			Decisions:         payloadStrings(e, "decisions"),
			Plan:              payloadStrings(e, "plan"),
			AffectedFiles:     payloadStrings(e, "affected_files"),
			RelevantLearnings: payloadStrings(e, "relevant_learnings"),
		})

	case stream.EventLedgerHandoffResumed:
		l.ResumeHandoff()

	case stream.EventLedgerLearningExtract:
		l.AddLearning(e.PayloadString("learning_type"), e.PayloadString("content"))
	}
}

// failureStatus distinguishes timeouts from plain failures.
func failureStatus(e *stream.Event) string {
	if e.PayloadString("reason") == "timeout" {
		return "timeout"
	}
	return "failed"
}

func payloadStrings(e *stream.Event, key string) []string {
	if e.Payload == nil {
		return nil
	}
	raw, ok := e.Payload[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Projector subscribes to the stream and advances the projected ledger.
// Learning events are debounced; everything else writes immediately.
type Projector struct {
	store     *Store
	stream    *stream.Stream
	sessionID string
	debounce  time.Duration

	mu      sync.Mutex
	pending []*stream.Event
	timer   *time.Timer

	unsubscribe stream.Unsubscribe
}

// NewProjector creates a projector writing to store.
func NewProjector(store *Store, s *stream.Stream, sessionID string) *Projector {
	return &Projector{
		store:     store,
		stream:    s,
		sessionID: sessionID,
		debounce:  LearningDebounce,
	}
}

// SetDebounce overrides the learning debounce window, for tests.
func (p *Projector) SetDebounce(d time.Duration) {
	p.debounce = d
}

// Start subscribes the projector to the stream.
func (p *Projector) Start() {
	p.unsubscribe = p.stream.Subscribe(stream.TypeWildcard, p.handle)
}

func (p *Projector) handle(e *stream.Event) {
	if !strings.HasPrefix(string(e.Type), "ledger.") {
		return
	}

	if e.Type == stream.EventLedgerLearningExtract {
		p.mu.Lock()
		p.pending = append(p.pending, e)
		if p.timer == nil {
			p.timer = time.AfterFunc(p.debounce, p.flushLearnings)
		} else {
			p.timer.Reset(p.debounce)
		}
		p.mu.Unlock()
		return
	}

	p.write([]*stream.Event{e})
}

// flushLearnings writes all coalesced learning events in one pass.
func (p *Projector) flushLearnings() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.timer = nil
	p.mu.Unlock()

	if len(batch) > 0 {
		p.write(batch)
	}
}

func (p *Projector) write(events []*stream.Event) {
	err := p.store.Update(p.sessionID, func(l *Ledger) error {
		for _, e := range events {
			Apply(l, e)
		}
		return nil
	})
	if err != nil {
		slog.Warn("Ledger projection write failed", "error", err)
	}
}

// Flush forces any pending debounced learnings to disk. Part of the
// shutdown protocol.
func (p *Projector) Flush() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	p.flushLearnings()
}

// Stop unsubscribes and flushes.
func (p *Projector) Stop() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.Flush()
}

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

// Package recovery reconstructs orchestrator state from the event log
// after a crash.
//
// The durable log is the single source of truth. Recovery replays every
// persisted segment, rebuilds the ledger projection by folding ledger
// events, hydrates the task registry with unfinished work, and
// rehydrates pending checkpoints (emitting synthetic rejections for
// those whose deadline passed while the process was down).
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conductor-ai/conductor/pkg/checkpoint"
	"github.com/conductor-ai/conductor/pkg/ledger"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/task"
)

// ErrRecoveryFailed wraps unrecoverable replay failures.
var ErrRecoveryFailed = errors.New("recovery failed")

// Report summarizes one recovery pass.
type Report struct {
	EventsReplayed     int
	LastOffset         uint64
	LedgerRebuilt      bool
	TasksHydrated      int
	CheckpointsPending int
	SessionID          string
}

// Recoverer wires the components recovery touches.
type Recoverer struct {
	stream      *stream.Stream
	ledger      *ledger.Store
	tasks       *task.Registry
	checkpoints *checkpoint.Manager
}

// New creates a recoverer. checkpoints may be nil when human-in-loop is
// disabled.
func New(s *stream.Stream, store *ledger.Store, tasks *task.Registry, checkpoints *checkpoint.Manager) *Recoverer {
	return &Recoverer{
		stream:      s,
		ledger:      store,
		tasks:       tasks,
		checkpoints: checkpoints,
	}
}

// Run executes the full recovery procedure. Safe on a fresh workspace:
// an empty log yields an empty report.
func (r *Recoverer) Run() (*Report, error) {
	resumed, err := r.stream.Resume()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}

	report := &Report{
		EventsReplayed: resumed.EventsReplayed,
		LastOffset:     resumed.LastOffset,
	}
	if resumed.EventsReplayed == 0 {
		return report, nil
	}

	events, err := r.stream.Query(stream.Filter{})
	if err != nil {
		return nil, fmt.Errorf("%w: query log: %v", ErrRecoveryFailed, err)
	}

	l := r.rebuildLedger(events, report)
	if l != nil {
		if err := r.ledger.Save(l); err != nil {
			return nil, fmt.Errorf("%w: write reconstructed ledger: %v", ErrRecoveryFailed, err)
		}
		report.LedgerRebuilt = true
		report.TasksHydrated = r.hydrateTasks(l)
	}

	if r.checkpoints != nil {
		report.CheckpointsPending = r.checkpoints.Rehydrate(events)
	}

	r.emitResumed(report)
	return report, nil
}

// rebuildLedger folds every ledger event into a fresh projection, then
// finalizes the epic status: all tasks completed closes the epic, all
// failed fails it, anything mixed stays in progress.
func (r *Recoverer) rebuildLedger(events []*stream.Event, report *Report) *ledger.Ledger {
	sessionID := ""
	sawLedgerEvent := false
	for _, e := range events {
		if strings.HasPrefix(string(e.Type), "ledger.") {
			sawLedgerEvent = true
			if sessionID == "" && e.CorrelationID != "" {
				sessionID = e.CorrelationID
			}
		}
	}
	if !sawLedgerEvent {
		return nil
	}
	report.SessionID = sessionID

	l := ledger.New(sessionID)
	for _, e := range events {
		ledger.Apply(l, e)
	}
	finalizeEpic(l)
	return l
}

// finalizeEpic closes out an epic whose tasks all reached the same
// terminal fate while the process was down.
func finalizeEpic(l *ledger.Ledger) {
	if l.Epic == nil || len(l.Epic.Tasks) == 0 {
		return
	}

	completed, failed := 0, 0
	for _, t := range l.Epic.Tasks {
		switch t.Status {
		case "completed":
			completed++
		case "failed", "timeout":
			failed++
		}
	}
	switch {
	case completed == len(l.Epic.Tasks):
		l.FinishEpic(ledger.EpicCompleted)
	case failed == len(l.Epic.Tasks):
		l.FinishEpic(ledger.EpicFailed)
	}
}

// hydrateTasks seeds the registry with the epic's unfinished tasks.
// Session ids stay empty until the coordinator re-spawns them.
func (r *Recoverer) hydrateTasks(l *ledger.Ledger) int {
	if l.Epic == nil {
		return 0
	}

	var recovered []task.Task
	for _, lt := range l.Epic.Tasks {
		switch lt.Status {
		case "", "pending", "running", "suspended", "stale":
			recovered = append(recovered, task.Task{
				AgentName:    lt.Agent,
				Prompt:       lt.Title,
				Status:       task.StatusPending,
				LedgerTaskID: lt.ID,
			})
		}
	}
	return r.tasks.Hydrate(recovered)
}

func (r *Recoverer) emitResumed(report *Report) {
	_, err := r.stream.Append(stream.Input{
		Type:          stream.EventSessionResumed,
		StreamID:      report.SessionID,
		CorrelationID: report.SessionID,
		Actor:         "recovery",
		Payload: map[string]any{
			"events_replayed":     report.EventsReplayed,
			"last_offset":         report.LastOffset,
			"tasks_hydrated":      report.TasksHydrated,
			"checkpoints_pending": report.CheckpointsPending,
		},
	})
	if err != nil {
		slog.Warn("Recording session resume failed", "error", err)
	}
}

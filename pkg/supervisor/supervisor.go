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

// Package supervisor drives timeouts, stuck detection, retries and
// terminal cleanup for supervised tasks.
//
// Exactly one supervisor runs per orchestrator. It polls on an adaptive
// interval derived from the highest complexity among running tasks: more
// complex work is polled less aggressively. A tick never halts the loop;
// per-task failures are logged and the next tick is scheduled
// unconditionally.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conductor-ai/conductor/pkg/checkpoint"
	"github.com/conductor-ai/conductor/pkg/ledger"
	"github.com/conductor-ai/conductor/pkg/observability"
	"github.com/conductor-ai/conductor/pkg/runtime"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/task"
)

// Interval and threshold defaults.
const (
	DefaultBaseInterval   = 30 * time.Second
	DefaultMaxInterval    = 120 * time.Second
	DefaultStuckThreshold = 30 * time.Second

	// cleanupAge is how long terminal tasks linger before removal.
	cleanupAge = time.Hour
)

// Options configures the supervisor loop.
type Options struct {
	BaseInterval   time.Duration
	MaxInterval    time.Duration
	StuckThreshold time.Duration
	Verbose        bool
}

func (o *Options) defaults() {
	if o.BaseInterval == 0 {
		o.BaseInterval = DefaultBaseInterval
	}
	if o.MaxInterval == 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.StuckThreshold == 0 {
		o.StuckThreshold = DefaultStuckThreshold
	}
}

// Supervisor is the periodic observer over the task registry.
type Supervisor struct {
	tasks       *task.Registry
	runtime     runtime.Client
	stream      *stream.Stream
	ledger      *ledger.Store
	checkpoints *checkpoint.Manager
	opts        Options

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a supervisor. checkpoints may be nil when human-in-loop is
// disabled; stuck tasks then escalate via the event alone.
func New(tasks *task.Registry, rt runtime.Client, s *stream.Stream, store *ledger.Store, checkpoints *checkpoint.Manager, opts Options) *Supervisor {
	opts.defaults()
	return &Supervisor{
		tasks:       tasks,
		runtime:     rt,
		stream:      s,
		ledger:      store,
		checkpoints: checkpoints,
		opts:        opts,
	}
}

// Start launches the loop. Calling Start on a running supervisor is a
// no-op.
func (sv *Supervisor) Start(ctx context.Context) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	sv.cancel = cancel
	sv.done = make(chan struct{})
	sv.running = true

	go sv.loop(ctx)
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	if !sv.running {
		sv.mu.Unlock()
		return
	}
	cancel := sv.cancel
	done := sv.done
	sv.running = false
	sv.mu.Unlock()

	cancel()
	<-done
}

func (sv *Supervisor) loop(ctx context.Context) {
	defer close(sv.done)

	timer := time.NewTimer(sv.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sv.Tick(ctx)
			timer.Reset(sv.Interval())
		}
	}
}

// Interval computes the adaptive poll interval from the highest
// complexity among running tasks. Idle registries poll at the maximum.
func (sv *Supervisor) Interval() time.Duration {
	running := sv.tasks.ByStatus(task.StatusRunning)
	if len(running) == 0 {
		return sv.opts.MaxInterval
	}

	highest := task.ComplexityLow
	for _, t := range running {
		switch t.Complexity {
		case task.ComplexityHigh:
			highest = task.ComplexityHigh
		case task.ComplexityMedium:
			if highest == task.ComplexityLow {
				highest = task.ComplexityMedium
			}
		}
	}

	switch highest {
	case task.ComplexityLow:
		return sv.opts.BaseInterval
	case task.ComplexityHigh:
		return sv.opts.MaxInterval
	default:
		return (sv.opts.BaseInterval + sv.opts.MaxInterval) / 2
	}
}

// Tick runs one supervision pass. Exported so recovery and tests can
// drive the supervisor synchronously.
func (sv *Supervisor) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Supervisor tick panicked", "panic", r)
		}
	}()

	observability.GetGlobalMetrics().RecordSupervisorTick(ctx)

	status, err := sv.runtime.SessionStatus(ctx)
	if err != nil {
		slog.Warn("Fetching runtime session status failed", "error", err)
		status = nil
	}

	for _, t := range sv.tasks.TimedOut() {
		sv.handleTimeout(ctx, t, status)
	}
	for _, t := range sv.tasks.Stuck(sv.opts.StuckThreshold) {
		sv.handleStuck(ctx, t, status)
	}
	for _, t := range sv.tasks.ByStatus(task.StatusRunning) {
		if status[t.SessionID] == runtime.SessionIdle {
			sv.collectIdle(ctx, t)
		}
	}

	if removed := sv.tasks.Cleanup(cleanupAge); removed > 0 && sv.opts.Verbose {
		slog.Debug("Cleaned up terminal tasks", "removed", removed)
	}
}

// handleTimeout retries the task while budget remains; otherwise it is
// marked timed out, an anti-pattern learning is recorded, and the
// session is scheduled for deletion.
func (sv *Supervisor) handleTimeout(ctx context.Context, t task.Task, status map[string]runtime.SessionState) {
	if t.RetryCount < t.MaxRetries {
		sv.retry(ctx, t)
		return
	}

	sv.tasks.UpdateStatus(t.ID, task.StatusTimeout, "",
		"timed out with no retry budget left")
	sv.emit(stream.Input{
		Type:          stream.EventAgentFailed,
		StreamID:      t.SessionID,
		CorrelationID: t.ParentSessionID,
		Actor:         "supervisor",
		Payload: map[string]any{
			"agent":   t.AgentName,
			"task_id": t.ID,
			"error":   "timeout",
			"reason":  "timeout",
		},
	})
	sv.emit(stream.Input{
		Type:          stream.EventLearningExtracted,
		StreamID:      t.SessionID,
		CorrelationID: t.ParentSessionID,
		Actor:         "supervisor",
		Payload: map[string]any{
			"learning_type": "anti_pattern",
			"content":       "agent " + t.AgentName + " timed out on: " + truncate(t.Prompt, 120),
		},
	})
	if t.LedgerTaskID != "" {
		sv.emit(stream.Input{
			Type:          stream.EventLedgerTaskFailed,
			StreamID:      t.ParentSessionID,
			CorrelationID: t.ParentSessionID,
			Actor:         "supervisor",
			Payload: map[string]any{
				"task_id": t.LedgerTaskID,
				"error":   "timeout",
				"reason":  "timeout",
			},
		})
	}
	sv.deleteWhenIdle(ctx, t.SessionID, status)
}

// retry rebinds the task to a fresh runtime session and re-dispatches
// the original prompt.
func (sv *Supervisor) retry(ctx context.Context, t task.Task) {
	sv.tasks.UpdateStatus(t.ID, task.StatusTimeout, "", "timed out, retrying")
	if !sv.tasks.Retry(t.ID) {
		return
	}
	observability.GetGlobalMetrics().RecordTaskRetry(ctx, t.AgentName)

	sessionID, err := sv.runtime.CreateSession(ctx, t.ParentSessionID,
		"retry: "+t.AgentName)
	if err != nil {
		sv.tasks.UpdateStatus(t.ID, task.StatusFailed, "", "retry session create failed: "+err.Error())
		return
	}
	sv.tasks.UpdateSessionID(t.ID, sessionID)

	if err := sv.runtime.Prompt(ctx, sessionID, t.AgentName, []runtime.Part{runtime.TextPart(t.Prompt)}); err != nil {
		sv.tasks.UpdateStatus(t.ID, task.StatusFailed, "", "retry dispatch failed: "+err.Error())
		return
	}

	sv.emit(stream.Input{
		Type:          stream.EventAgentSpawned,
		StreamID:      sessionID,
		CorrelationID: t.ParentSessionID,
		Actor:         "supervisor",
		Payload: map[string]any{
			"agent":             t.AgentName,
			"parent_session_id": t.ParentSessionID,
			"prompt":            truncate(t.Prompt, 500),
			"prompt_length":     len(t.Prompt),
			"task_id":           t.ID,
			"retry":             t.RetryCount + 1,
		},
	})
	slog.Info("Retried timed-out task",
		"task_id", t.ID, "agent", t.AgentName, "session_id", sessionID)
}

// handleStuck resolves a heartbeat-silent task. An idle runtime session
// means the work finished without a terminal event: collect the result.
// A busy session escalates to a human checkpoint and pauses the epic.
func (sv *Supervisor) handleStuck(ctx context.Context, t task.Task, status map[string]runtime.SessionState) {
	if status[t.SessionID] == runtime.SessionIdle {
		sv.collectIdle(ctx, t)
		return
	}

	sv.tasks.UpdateStatus(t.ID, task.StatusStale, "", "no heartbeat within threshold")
	sv.pauseEpic(t)
	sv.requestIntervention(t)
}

// collectIdle fetches the final assistant message of an idle session and
// completes the task with it.
func (sv *Supervisor) collectIdle(ctx context.Context, t task.Task) {
	text, err := runtime.LastAssistantText(ctx, sv.runtime, t.SessionID)
	if err != nil {
		slog.Warn("Fetching idle session result failed",
			"task_id", t.ID, "session_id", t.SessionID, "error", err)
		sv.tasks.UpdateStatus(t.ID, task.StatusFailed, "", "result fetch failed: "+err.Error())
		return
	}

	sv.tasks.UpdateStatus(t.ID, task.StatusCompleted, text, "")
	sv.emit(stream.Input{
		Type:          stream.EventAgentCompleted,
		StreamID:      t.SessionID,
		CorrelationID: t.ParentSessionID,
		Actor:         "supervisor",
		Payload: map[string]any{
			"agent":   t.AgentName,
			"task_id": t.ID,
			"result":  truncate(text, 500),
		},
	})
	if t.LedgerTaskID != "" {
		sv.emit(stream.Input{
			Type:          stream.EventLedgerTaskCompleted,
			StreamID:      t.ParentSessionID,
			CorrelationID: t.ParentSessionID,
			Actor:         "supervisor",
			Payload: map[string]any{
				"task_id": t.LedgerTaskID,
				"result":  truncate(text, 200),
			},
		})
	}
}

func (sv *Supervisor) pauseEpic(t task.Task) {
	if sv.ledger == nil {
		return
	}
	err := sv.ledger.Update(t.ParentSessionID, func(l *ledger.Ledger) error {
		l.PauseEpic("task '" + t.AgentName + "' went stale; human intervention requested")
		return nil
	})
	if err != nil {
		slog.Warn("Pausing epic failed", "task_id", t.ID, "error", err)
	}
}

func (sv *Supervisor) requestIntervention(t task.Task) {
	if sv.checkpoints != nil {
		_, _, err := sv.checkpoints.RequestWithPayload(t.SessionID,
			"heartbeat_timeout: task '"+t.AgentName+"' is unresponsive",
			[]checkpoint.Option{
				{ID: "wait", Label: "Keep waiting"},
				{ID: "abort", Label: "Abort the task"},
			},
			"supervisor", 0,
			map[string]any{
				"reason":  "heartbeat_timeout",
				"task_id": t.ID,
				"agent":   t.AgentName,
			})
		if err != nil {
			slog.Warn("Requesting stuck-task checkpoint failed", "task_id", t.ID, "error", err)
		}
		return
	}

	sv.emit(stream.Input{
		Type:          stream.EventCheckpointRequested,
		StreamID:      t.SessionID,
		CorrelationID: t.ParentSessionID,
		Actor:         "supervisor",
		Payload: map[string]any{
			"reason":  "heartbeat_timeout",
			"task_id": t.ID,
			"agent":   t.AgentName,
		},
	})
}

// deleteWhenIdle deletes the session only when the runtime reports it as
// non-busy or unknown. Busy sessions are left for a later tick.
func (sv *Supervisor) deleteWhenIdle(ctx context.Context, sessionID string, status map[string]runtime.SessionState) {
	if sessionID == "" {
		return
	}
	if state, known := status[sessionID]; known && state == runtime.SessionBusy {
		slog.Debug("Deferring deletion of busy session", "session_id", sessionID)
		return
	}
	if err := sv.runtime.DeleteSession(ctx, sessionID); err != nil {
		slog.Warn("Deleting session failed", "session_id", sessionID, "error", err)
	}
}

func (sv *Supervisor) emit(input stream.Input) {
	if _, err := sv.stream.Append(input); err != nil {
		slog.Warn("Appending supervision event failed", "type", input.Type, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

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

// Package spawn turns logical delegations into runtime sessions and
// awaits their results.
package spawn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conductor-ai/conductor/pkg/agent"
	"github.com/conductor-ai/conductor/pkg/ledger"
	"github.com/conductor-ai/conductor/pkg/observability"
	"github.com/conductor-ai/conductor/pkg/runtime"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/task"
)

// Mode selects how the spawner returns.
type Mode string

const (
	// ModeSync awaits the session's terminal event.
	ModeSync Mode = "sync"

	// ModeAsync returns a handoff intent immediately after dispatch.
	ModeAsync Mode = "async"
)

// promptPreviewBytes bounds the prompt excerpt recorded on spawn events.
const promptPreviewBytes = 500

// Request describes one delegation.
type Request struct {
	Agent           string
	Prompt          string
	Caller          string
	ParentSessionID string
	Mode            Mode
	Timeout         time.Duration
	Complexity      task.Complexity
	ExecutionStack  []string
	LedgerTaskID    string
}

// Result is the spawn outcome.
//
// HandoffIntent marks an async spawn: the child session id is returned
// before the work completes. ContinuationHint names the session to reuse
// when the worker returned a blocking dialogue state.
type Result struct {
	Success          bool           `json:"success"`
	Agent            string         `json:"agent"`
	SessionID        string         `json:"session_id"`
	TaskID           string         `json:"task_id,omitempty"`
	Result           string         `json:"result,omitempty"`
	DialogueState    *DialogueState `json:"dialogue_state,omitempty"`
	TimedOut         bool           `json:"timed_out,omitempty"`
	HandoffIntent    bool           `json:"handoff_intent,omitempty"`
	ContinuationHint string         `json:"continuation_hint,omitempty"`
	Code             Code           `json:"code,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Spawner creates child sessions, assembles their context, dispatches
// prompts and resolves results.
type Spawner struct {
	runtime       runtime.Client
	stream        *stream.Stream
	agents        *agent.Registry
	tasks         *task.Registry
	ledger        *ledger.Store
	learnings     LearningSource
	injectContext bool
}

// NewSpawner wires a spawner. learnings may be nil when learning
// injection is disabled.
func NewSpawner(rt runtime.Client, s *stream.Stream, agents *agent.Registry, tasks *task.Registry, store *ledger.Store, learnings LearningSource, opts ...SpawnerOption) *Spawner {
	sp := &Spawner{
		runtime:       rt,
		stream:        s,
		agents:        agents,
		tasks:         tasks,
		ledger:        store,
		learnings:     learnings,
		injectContext: true,
	}
	for _, opt := range opts {
		opt(sp)
	}
	return sp
}

// SpawnerOption configures a Spawner.
type SpawnerOption func(*Spawner)

// WithContextPreservation toggles prompt-context injection. When
// disabled, spawned agents receive the raw prompt with no directives,
// learnings, or handoff block.
func WithContextPreservation(enabled bool) SpawnerOption {
	return func(sp *Spawner) { sp.injectContext = enabled }
}

// Spawn runs one delegation. Sync mode blocks until the child session
// reaches a terminal event or the timeout elapses; async mode returns a
// handoff intent carrying the child session id.
func (sp *Spawner) Spawn(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		observability.GetGlobalMetrics().RecordSpawn(ctx, req.Agent, time.Since(start), err)
	}()

	if req.Agent == "" || req.Prompt == "" {
		return failed(req, CodeMissingArgument),
			errf(CodeMissingArgument, nil, "agent and prompt are required")
	}
	if req.Caller == "" {
		return failed(req, CodeNoContext),
			errf(CodeNoContext, nil, "no invoking agent context")
	}
	def, lookupErr := sp.agents.Lookup(req.Agent)
	if lookupErr != nil {
		return failed(req, CodeAgentNotFound),
			errf(CodeAgentNotFound, lookupErr, "agent %s is not registered", req.Agent)
	}
	if err := sp.checkAccess(req); err != nil {
		return failed(req, CodeOf(err)), err
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = def.Timeout
	}
	if timeout == 0 {
		timeout = task.DefaultTimeout
	}
	complexity := req.Complexity
	if complexity == "" && def.Complexity != "" {
		complexity = task.Complexity(def.Complexity)
	}

	prompt := sp.assemblePrompt(req, def)

	sessionID, err := sp.runtime.CreateSession(ctx, req.ParentSessionID,
		fmt.Sprintf("%s: %s", req.Agent, preview(req.Prompt, 60)))
	if err != nil {
		return failed(req, CodeSessionCreateFailed),
			errf(CodeSessionCreateFailed, err, "create session for agent %s", req.Agent)
	}

	taskID := sp.tasks.Register(task.Descriptor{
		SessionID:       sessionID,
		AgentName:       req.Agent,
		Prompt:          prompt,
		Timeout:         timeout,
		Complexity:      complexity,
		ParentSessionID: req.ParentSessionID,
		LedgerTaskID:    req.LedgerTaskID,
	})

	sp.emit(stream.Input{
		Type:          stream.EventAgentSpawned,
		StreamID:      sessionID,
		CorrelationID: req.ParentSessionID,
		Actor:         req.Caller,
		Payload: map[string]any{
			"agent":             req.Agent,
			"parent_session_id": req.ParentSessionID,
			"prompt":            preview(prompt, promptPreviewBytes),
			"prompt_length":     len(prompt),
			"task_id":           taskID,
		},
	})

	if err := sp.runtime.Prompt(ctx, sessionID, req.Agent, []runtime.Part{runtime.TextPart(prompt)}); err != nil {
		sp.tasks.UpdateStatus(taskID, task.StatusRunning, "", "")
		sp.tasks.UpdateStatus(taskID, task.StatusFailed, "", err.Error())
		return failed(req, CodePromptFailed),
			errf(CodePromptFailed, err, "dispatch prompt to session %s", sessionID)
	}
	sp.tasks.UpdateStatus(taskID, task.StatusRunning, "", "")
	sp.markLedgerStarted(req)

	if req.Mode == ModeAsync {
		return Result{
			Success:       true,
			Agent:         req.Agent,
			SessionID:     sessionID,
			TaskID:        taskID,
			HandoffIntent: true,
		}, nil
	}

	return sp.await(ctx, req, sessionID, taskID, timeout)
}

// await resolves a sync spawn: event-driven wait, then result fetch and
// dialogue-state extraction.
func (sp *Spawner) await(ctx context.Context, req Request, sessionID, taskID string, timeout time.Duration) (Result, error) {
	outcome := WaitForCompletion(ctx, sp.stream, sessionID, timeout)

	if outcome.TimedOut {
		sp.tasks.UpdateStatus(taskID, task.StatusTimeout, "",
			fmt.Sprintf("no terminal event after %s", outcome.Elapsed.Round(time.Millisecond)))
		sp.emitTerminal(req, sessionID, taskID, false, "",
			fmt.Sprintf("timed out after %s", outcome.Elapsed.Round(time.Millisecond)))
		return Result{
			Agent:     req.Agent,
			SessionID: sessionID,
			TaskID:    taskID,
			TimedOut:  true,
			Code:      CodeAgentExecutionFailed,
			Error:     fmt.Sprintf("timed out after %s", outcome.Elapsed.Round(time.Millisecond)),
		}, nil
	}

	if outcome.Event != nil && outcome.Event.Type == stream.EventAgentFailed {
		errMsg := outcome.Event.PayloadString("error")
		sp.tasks.UpdateStatus(taskID, task.StatusFailed, "", errMsg)
		return Result{
			Agent:     req.Agent,
			SessionID: sessionID,
			TaskID:    taskID,
			Code:      CodeAgentExecutionFailed,
			Error:     errMsg,
		}, nil
	}

	// Completed, or idle which means the result is ready to fetch.
	text, err := runtime.LastAssistantText(ctx, sp.runtime, sessionID)
	if err != nil {
		slog.Warn("Fetching session result failed", "session_id", sessionID, "error", err)
	}
	if text == "" && outcome.Event != nil {
		text = outcome.Event.PayloadString("result")
	}

	result := Result{
		Success:   true,
		Agent:     req.Agent,
		SessionID: sessionID,
		TaskID:    taskID,
		Result:    text,
	}
	if ds := ExtractDialogueState(text); ds != nil {
		result.DialogueState = ds
		if ds.Status.Blocking() {
			result.ContinuationHint = sessionID
		}
	}

	sp.tasks.UpdateStatus(taskID, task.StatusCompleted, text, "")
	if outcome.Idle || outcome.Event == nil || outcome.Event.Type != stream.EventAgentCompleted {
		sp.emitTerminal(req, sessionID, taskID, true, text, "")
	}
	sp.markLedgerDone(req, text)
	return result, nil
}

// checkAccess enforces agent visibility and loop prevention.
func (sp *Spawner) checkAccess(req Request) error {
	if !sp.agents.CanInvoke(req.Caller, req.Agent) {
		return errf(CodeAccessDenied, nil,
			"agent %s is internal; only %s may invoke it", req.Agent, sp.agents.Coordinator())
	}
	if len(req.ExecutionStack) > 10 {
		return errf(CodeRecursionDetected, nil,
			"execution stack depth %d exceeds limit", len(req.ExecutionStack))
	}
	for _, name := range req.ExecutionStack {
		if name == req.Agent {
			return errf(CodeRecursionDetected, nil,
				"agent %s already on the execution stack", req.Agent)
		}
	}
	return nil
}

// assemblePrompt prepends directives, relevant learnings and handoff
// context to the caller's prompt.
func (sp *Spawner) assemblePrompt(req Request, def agent.Definition) string {
	if !sp.injectContext {
		return req.Prompt
	}

	var l *ledger.Ledger
	if sp.ledger != nil {
		var err error
		l, err = sp.ledger.Load()
		if err != nil {
			slog.Warn("Loading ledger for context assembly failed", "error", err)
		}
	}

	block := AssembleContext(l, sp.learnings, req.Prompt, def.RequiresContext)
	if block == "" {
		return req.Prompt
	}
	return block + "\n---\n\n" + req.Prompt
}

func (sp *Spawner) emitTerminal(req Request, sessionID, taskID string, success bool, result, errMsg string) {
	eventType := stream.EventAgentCompleted
	payload := map[string]any{
		"agent":   req.Agent,
		"task_id": taskID,
		"result":  preview(result, promptPreviewBytes),
	}
	if !success {
		eventType = stream.EventAgentFailed
		payload = map[string]any{
			"agent":   req.Agent,
			"task_id": taskID,
			"error":   errMsg,
		}
	}
	sp.emit(stream.Input{
		Type:          eventType,
		StreamID:      sessionID,
		CorrelationID: req.ParentSessionID,
		Actor:         req.Agent,
		Payload:       payload,
	})
}

func (sp *Spawner) markLedgerStarted(req Request) {
	if req.LedgerTaskID == "" {
		return
	}
	sp.emit(stream.Input{
		Type:          stream.EventLedgerTaskStarted,
		StreamID:      req.ParentSessionID,
		CorrelationID: req.ParentSessionID,
		Actor:         req.Caller,
		Payload:       map[string]any{"task_id": req.LedgerTaskID},
	})
}

func (sp *Spawner) markLedgerDone(req Request, result string) {
	if req.LedgerTaskID == "" {
		return
	}
	sp.emit(stream.Input{
		Type:          stream.EventLedgerTaskCompleted,
		StreamID:      req.ParentSessionID,
		CorrelationID: req.ParentSessionID,
		Actor:         req.Caller,
		Payload: map[string]any{
			"task_id": req.LedgerTaskID,
			"result":  preview(result, 200),
		},
	})
}

func (sp *Spawner) emit(input stream.Input) {
	if _, err := sp.stream.Append(input); err != nil {
		slog.Warn("Appending spawn event failed", "type", input.Type, "error", err)
	}
}

func failed(req Request, code Code) Result {
	return Result{Agent: req.Agent, Code: code}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

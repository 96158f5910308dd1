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

package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/conductor-ai/conductor/pkg/ledger"
	"github.com/conductor-ai/conductor/pkg/runtime"
	"github.com/conductor-ai/conductor/pkg/stream"
)

// SnapshotFile is the coordinator state snapshot, relative to the
// orchestration directory.
const SnapshotFile = "actor-state.json"

// Processor applies coordinator messages with their side effects: each
// message is appended to the stream, reduced into the state, snapshotted
// to disk, and mirrored to the ledger when the transition is
// significant.
type Processor struct {
	stream  *stream.Stream
	ledger  *ledger.Store
	runtime runtime.Client
	dir     string

	mu    sync.Mutex
	state State
}

// NewProcessor creates a processor for the session rooted at dir.
func NewProcessor(s *stream.Stream, store *ledger.Store, rt runtime.Client, dir, sessionID string) *Processor {
	return &Processor{
		stream:  s,
		ledger:  store,
		runtime: rt,
		dir:     dir,
		state:   NewState(sessionID),
	}
}

// State returns a copy of the current state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// Restore replaces the in-memory state, typically from a snapshot or a
// replay during recovery.
func (p *Processor) Restore(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Process appends the message to the stream, reduces it into the state,
// and persists a snapshot. The event write happens before the state
// advances; a message that cannot be recorded is never applied.
func (p *Processor) Process(msg Message) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	event, err := p.stream.Append(inputFor(p.state, msg))
	if err != nil {
		return p.state.clone(), fmt.Errorf("record coordinator message: %w", err)
	}

	msg.Time = event.Time()
	next := Reduce(p.state, msg)
	next.EventOffset = event.Offset
	p.state = next

	if err := p.snapshotLocked(); err != nil {
		slog.Warn("Coordinator snapshot failed", "error", err)
	}
	p.mirrorToLedger(msg, next)
	return next.clone(), nil
}

// ReplayFrom rebuilds state by folding stream events after fromOffset on
// top of initial. Events that do not map to coordinator messages are
// skipped.
func (p *Processor) ReplayFrom(initial State, fromOffset uint64) (State, error) {
	events, err := p.stream.Query(stream.Filter{AfterOffset: fromOffset})
	if err != nil {
		return initial, fmt.Errorf("replay coordinator state: %w", err)
	}

	state := initial
	for _, e := range events {
		msg, ok := MessageForEvent(e)
		if !ok {
			continue
		}
		state = Reduce(state, msg)
		state.EventOffset = e.Offset
	}

	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	return state, nil
}

// LoadSnapshot reads the persisted state snapshot. A missing snapshot
// yields ok=false without error.
func (p *Processor) LoadSnapshot() (State, bool, error) {
	data, err := os.ReadFile(p.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("read coordinator snapshot: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, false, fmt.Errorf("parse coordinator snapshot: %w", err)
	}
	return s, true, nil
}

func (p *Processor) snapshotPath() string {
	return filepath.Join(p.dir, SnapshotFile)
}

// snapshotLocked writes the state atomically via rename, so a crash
// mid-write never leaves a torn snapshot.
func (p *Processor) snapshotLocked() error {
	data, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal coordinator state: %w", err)
	}
	if err := renameio.WriteFile(p.snapshotPath(), data, 0644); err != nil {
		return fmt.Errorf("write coordinator snapshot: %w", err)
	}
	return nil
}

// mirrorToLedger records significant transitions as human-readable
// activity. Failures are logged only; the stream stays the system of
// record.
func (p *Processor) mirrorToLedger(msg Message, next State) {
	if p.ledger == nil {
		return
	}

	var line string
	switch msg.Type {
	case MsgPhaseChange:
		line = fmt.Sprintf("phase → %s", msg.Phase)
	case MsgSubagentComplete:
		line = fmt.Sprintf("sub-agent %s completed (%s)", msg.SessionID, msg.Agent)
	case MsgSubagentFailed:
		line = fmt.Sprintf("sub-agent %s failed: %s", msg.SessionID, msg.Error)
	case MsgUserApproval:
		line = fmt.Sprintf("user approval recorded (%s)", msg.ApprovedBy)
	case MsgDirectionUpdate:
		line = "direction updated"
	default:
		return
	}

	err := p.ledger.Update(next.SessionID, func(l *ledger.Ledger) error {
		if msg.Type == MsgPhaseChange {
			l.Meta.Phase = string(msg.Phase)
		}
		l.AppendActivity(fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), line))
		return nil
	})
	if err != nil {
		slog.Warn("Ledger mirror failed", "error", err)
	}
}

// Abort cancels the session subtree rooted at sessionID: children first,
// depth concurrently, then the root. Used for cascading cancellation.
func (p *Processor) Abort(ctx context.Context, sessionID string) error {
	if p.runtime == nil {
		return nil
	}
	return p.abortTree(ctx, sessionID)
}

func (p *Processor) abortTree(ctx context.Context, sessionID string) error {
	children, err := p.runtime.Children(ctx, sessionID)
	if err != nil {
		slog.Warn("Listing children for abort failed", "session_id", sessionID, "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return p.abortTree(ctx, child)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.runtime.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("abort session %s: %w", sessionID, err)
	}

	_, aerr := p.stream.Append(stream.Input{
		Type:          stream.EventSessionError,
		StreamID:      sessionID,
		CorrelationID: p.State().SessionID,
		Actor:         "supervisor",
		Payload:       map[string]any{"reason": "aborted"},
	})
	if aerr != nil {
		slog.Warn("Recording abort failed", "session_id", sessionID, "error", aerr)
	}
	return nil
}

// inputFor maps a coordinator message onto the event taxonomy. State-only
// messages travel as context.snapshot events carrying the message type in
// the payload, which keeps the taxonomy closed while still allowing
// lossless replay.
func inputFor(s State, msg Message) stream.Input {
	base := stream.Input{
		StreamID:      s.SessionID,
		CorrelationID: s.SessionID,
		Actor:         "coordinator",
	}

	switch msg.Type {
	case MsgSubagentSpawn:
		base.Type = stream.EventAgentSpawned
		base.StreamID = msg.SessionID
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"session_id":   msg.SessionID,
			"agent":        msg.Agent,
		}
	case MsgSubagentComplete:
		base.Type = stream.EventAgentCompleted
		base.StreamID = msg.SessionID
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"session_id":   msg.SessionID,
			"agent":        msg.Agent,
			"result":       msg.Result,
		}
	case MsgSubagentFailed:
		base.Type = stream.EventAgentFailed
		base.StreamID = msg.SessionID
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"session_id":   msg.SessionID,
			"agent":        msg.Agent,
			"error":        msg.Error,
		}
	case MsgAgentYield:
		base.Type = stream.EventHandoffInitiated
		base.StreamID = msg.SessionID
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"session_id":   msg.SessionID,
		}
	case MsgAgentResume:
		base.Type = stream.EventHandoffCompleted
		base.StreamID = msg.SessionID
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"session_id":   msg.SessionID,
		}
	case MsgUserRequest:
		base.Type = stream.EventHumanIntervention
		base.Actor = "user"
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"request":      msg.Request,
		}
	case MsgUserApproval:
		base.Type = stream.EventHumanApproved
		base.Actor = "user"
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"approved_by":  msg.ApprovedBy,
		}
	default:
		base.Type = stream.EventContextSnapshot
		base.Payload = map[string]any{
			"message_type": string(msg.Type),
			"phase":        string(msg.Phase),
			"worker":       msg.Worker,
			"assumed":      msg.Assumed,
			"confidence":   msg.Confidence,
			"goals":        msg.Goals,
			"constraints":  msg.Constraints,
			"decisions":    msg.Decisions,
			"task":         msg.Task,
		}
	}
	return base
}

// MessageForEvent inverts inputFor for replay. Events not produced by the
// coordinator return ok=false.
func MessageForEvent(e *stream.Event) (Message, bool) {
	mt := MessageType(e.PayloadString("message_type"))
	if mt == "" {
		return Message{}, false
	}

	msg := Message{Type: mt, Time: e.Time()}
	switch mt {
	case MsgUserRequest:
		msg.Request = e.PayloadString("request")
	case MsgUserApproval:
		msg.ApprovedBy = e.PayloadString("approved_by")
	case MsgPhaseChange:
		msg.Phase = Phase(e.PayloadString("phase"))
	case MsgAssumptionTrack:
		msg.Worker = e.PayloadString("worker")
		msg.Assumed = e.PayloadString("assumed")
		if c, ok := e.Payload["confidence"].(float64); ok {
			msg.Confidence = c
		}
	case MsgAssumptionVerify:
		msg.Assumed = e.PayloadString("assumed")
	case MsgSubagentSpawn, MsgSubagentComplete, MsgSubagentFailed, MsgAgentYield, MsgAgentResume:
		msg.SessionID = e.PayloadString("session_id")
		msg.Agent = e.PayloadString("agent")
		msg.Result = e.PayloadString("result")
		msg.Error = e.PayloadString("error")
	case MsgDirectionUpdate:
		msg.Goals = e.PayloadString("goals")
		msg.Constraints = e.PayloadString("constraints")
		msg.Decisions = e.PayloadString("decisions")
	case MsgTaskUpdate:
		msg.Task = e.PayloadString("task")
	default:
		return Message{}, false
	}
	return msg, true
}

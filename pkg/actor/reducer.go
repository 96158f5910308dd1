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
	"log/slog"
	"time"
)

// MessageType identifies a coordinator message.
type MessageType string

const (
	MsgUserRequest      MessageType = "user.request"
	MsgUserApproval     MessageType = "user.approval"
	MsgPhaseChange      MessageType = "phase.change"
	MsgAssumptionTrack  MessageType = "assumption.track"
	MsgAssumptionVerify MessageType = "assumption.verify"
	MsgSubagentSpawn    MessageType = "subagent.spawn"
	MsgSubagentComplete MessageType = "subagent.complete"
	MsgSubagentFailed   MessageType = "subagent.failed"
	MsgAgentYield       MessageType = "agent.yield"
	MsgAgentResume      MessageType = "agent.resume"
	MsgDirectionUpdate  MessageType = "direction.update"
	MsgTaskUpdate       MessageType = "task.update"
)

// Message is a single input to the reducer. Only the fields relevant to
// the Type are populated.
type Message struct {
	Type MessageType

	// user.request, task.update
	Request string
	Task    string

	// user.approval
	ApprovedBy string

	// phase.change
	Phase Phase

	// assumption.track / assumption.verify
	Worker     string
	Assumed    string
	Confidence float64

	// subagent.* / agent.yield / agent.resume
	SessionID string
	Agent     string
	Result    string
	Error     string

	// direction.update; empty fields leave the existing value intact
	Goals       string
	Constraints string
	Decisions   string

	// Time stamps the message; the processor sets it from the appended
	// event so replay reproduces identical states.
	Time time.Time
}

// Reduce returns the state after applying msg. It never mutates its
// input. Unknown message types return the input state unchanged.
func Reduce(s State, msg Message) State {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	switch msg.Type {
	case MsgUserRequest:
		out := s.clone()
		if out.Phase == PhaseInit {
			out.Phase = PhasePlanning
		}
		out.Direction.Goals = msg.Request
		out.LastUpdated = msg.Time
		return out

	case MsgUserApproval:
		out := s.clone()
		if out.Phase == PhaseValidating {
			out.Phase = PhaseExecuting
		}
		out.LastUpdated = msg.Time
		return out

	case MsgPhaseChange:
		out := s.clone()
		if msg.Phase == PhaseInit && s.Phase != PhaseInit {
			slog.Warn("Phase regressed to INIT", "from", s.Phase, "session_id", s.SessionID)
		}
		out.Phase = msg.Phase
		out.LastUpdated = msg.Time
		return out

	case MsgAssumptionTrack:
		out := s.clone()
		out.Assumptions = append(out.Assumptions, Assumption{
			Worker:     msg.Worker,
			Assumed:    msg.Assumed,
			Confidence: msg.Confidence,
			Timestamp:  msg.Time,
		})
		out.LastUpdated = msg.Time
		return out

	case MsgAssumptionVerify:
		out := s.clone()
		for i := range out.Assumptions {
			if out.Assumptions[i].Assumed == msg.Assumed && !out.Assumptions[i].Verified {
				out.Assumptions[i].Verified = true
				break
			}
		}
		out.LastUpdated = msg.Time
		return out

	case MsgSubagentSpawn:
		out := s.clone()
		if out.SubAgents == nil {
			out.SubAgents = make(map[string]SubAgent)
		}
		out.SubAgents[msg.SessionID] = SubAgent{
			Status:    "running",
			Agent:     msg.Agent,
			SpawnedAt: msg.Time,
		}
		out.ExecutionStack = append(out.ExecutionStack, msg.Agent)
		out.LastUpdated = msg.Time
		return out

	case MsgSubagentComplete:
		out := s.clone()
		out.updateSubAgent(msg.SessionID, func(sa *SubAgent) {
			sa.Status = "completed"
			sa.Result = msg.Result
			sa.CompletedAt = msg.Time
		})
		out.popStack(out.SubAgents[msg.SessionID].Agent)
		out.LastUpdated = msg.Time
		return out

	case MsgSubagentFailed:
		out := s.clone()
		out.updateSubAgent(msg.SessionID, func(sa *SubAgent) {
			sa.Status = "failed"
			sa.Error = msg.Error
			sa.CompletedAt = msg.Time
		})
		out.popStack(out.SubAgents[msg.SessionID].Agent)
		out.LastUpdated = msg.Time
		return out

	case MsgAgentYield:
		out := s.clone()
		out.updateSubAgent(msg.SessionID, func(sa *SubAgent) {
			sa.Status = "suspended"
		})
		out.LastUpdated = msg.Time
		return out

	case MsgAgentResume:
		out := s.clone()
		out.updateSubAgent(msg.SessionID, func(sa *SubAgent) {
			sa.Status = "running"
		})
		out.LastUpdated = msg.Time
		return out

	case MsgDirectionUpdate:
		out := s.clone()
		if msg.Goals != "" {
			out.Direction.Goals = msg.Goals
		}
		if msg.Constraints != "" {
			out.Direction.Constraints = msg.Constraints
		}
		if msg.Decisions != "" {
			out.Direction.Decisions = msg.Decisions
		}
		out.LastUpdated = msg.Time
		return out

	case MsgTaskUpdate:
		out := s.clone()
		out.CurrentTask = msg.Task
		out.LastUpdated = msg.Time
		return out
	}

	slog.Warn("Unknown coordinator message type", "type", msg.Type)
	return s
}

func (s *State) updateSubAgent(id string, fn func(*SubAgent)) {
	if s.SubAgents == nil {
		return
	}
	sa, ok := s.SubAgents[id]
	if !ok {
		return
	}
	fn(&sa)
	s.SubAgents[id] = sa
}

// popStack removes the newest occurrence of the agent name from the
// execution stack. The stack holds ancestor agent names so the spawner
// can refuse a same-agent respawn.
func (s *State) popStack(agent string) {
	for i := len(s.ExecutionStack) - 1; i >= 0; i-- {
		if s.ExecutionStack[i] == agent {
			s.ExecutionStack = append(s.ExecutionStack[:i], s.ExecutionStack[i+1:]...)
			return
		}
	}
}

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

// Package actor tracks the coordinator's memory: phase, direction,
// assumptions and sub-agents.
//
// State advances through a pure reducer over a typed message set. The
// effectful Processor wraps the reducer: it records each message as an
// event, applies the reduction, persists a snapshot, and mirrors
// significant transitions to the ledger. Because every message is also
// an event, the state can always be reconstructed by replay.
package actor

import (
	"time"
)

// Phase is the coordinator's lifecycle phase.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhasePlanning   Phase = "PLANNING"
	PhaseValidating Phase = "VALIDATING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseCompleted  Phase = "COMPLETED"
	PhaseFailed     Phase = "FAILED"
)

// MaxExecutionStack bounds delegation depth; deeper chains fail with
// recursion detection before spawning.
const MaxExecutionStack = 10

// Assumption is a worker decision awaiting verification.
type Assumption struct {
	Worker     string    `json:"worker"`
	Assumed    string    `json:"assumed"`
	Confidence float64   `json:"confidence"`
	Verified   bool      `json:"verified"`
	Timestamp  time.Time `json:"timestamp"`
}

// LowConfidence is the threshold below which assumptions surface to the
// user immediately.
const LowConfidence = 0.6

// SurfaceThreshold is the unverified-assumption count that triggers
// surfacing.
const SurfaceThreshold = 3

// SubAgent tracks one delegated session.
type SubAgent struct {
	Status      string    `json:"status"`
	Agent       string    `json:"agent"`
	SpawnedAt   time.Time `json:"spawned_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Direction holds the user's standing guidance. Updates replace named
// fields only; unmentioned fields persist.
type Direction struct {
	Goals       string `json:"goals,omitempty"`
	Constraints string `json:"constraints,omitempty"`
	Decisions   string `json:"decisions,omitempty"`
}

// State is the coordinator memory. EventOffset equals the offset of the
// last event that updated the state.
type State struct {
	Phase           Phase               `json:"phase"`
	SessionID       string              `json:"session_id"`
	ParentSessionID string              `json:"parent_session_id,omitempty"`
	RootSessionID   string              `json:"root_session_id,omitempty"`
	ExecutionStack  []string            `json:"execution_stack,omitempty"`
	Direction       Direction           `json:"direction"`
	Assumptions     []Assumption        `json:"assumptions,omitempty"`
	SubAgents       map[string]SubAgent `json:"sub_agents,omitempty"`
	EventOffset     uint64              `json:"event_offset"`
	CurrentTask     string              `json:"current_task,omitempty"`
	LastUpdated     time.Time           `json:"last_updated"`
}

// NewState creates an INIT state for a session.
func NewState(sessionID string) State {
	return State{
		Phase:       PhaseInit,
		SessionID:   sessionID,
		LastUpdated: time.Now(),
	}
}

// UnverifiedAssumptions counts assumptions not yet verified.
func (s State) UnverifiedAssumptions() int {
	n := 0
	for _, a := range s.Assumptions {
		if !a.Verified {
			n++
		}
	}
	return n
}

// ShouldSurfaceAssumptions reports whether accumulated assumptions must
// be surfaced to the user: three or more unverified, or any with
// confidence below LowConfidence.
func (s State) ShouldSurfaceAssumptions() bool {
	if s.UnverifiedAssumptions() >= SurfaceThreshold {
		return true
	}
	for _, a := range s.Assumptions {
		if !a.Verified && a.Confidence < LowConfidence {
			return true
		}
	}
	return false
}

// clone deep-copies the state so the reducer never aliases its input.
func (s State) clone() State {
	out := s
	out.ExecutionStack = append([]string(nil), s.ExecutionStack...)
	out.Assumptions = append([]Assumption(nil), s.Assumptions...)
	if s.SubAgents != nil {
		out.SubAgents = make(map[string]SubAgent, len(s.SubAgents))
		for k, v := range s.SubAgents {
			out.SubAgents[k] = v
		}
	}
	return out
}

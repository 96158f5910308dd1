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
	"fmt"
	"time"
)

// EventType identifies an event in the closed taxonomy.
type EventType string

// Session lifecycle events.
const (
	EventSessionCreated EventType = "session.created"
	EventSessionResumed EventType = "session.resumed"
	EventSessionIdle    EventType = "session.idle"
	EventSessionError   EventType = "session.error"
)

// Agent lifecycle events.
const (
	EventAgentSpawned   EventType = "agent.spawned"
	EventAgentCompleted EventType = "agent.completed"
	EventAgentFailed    EventType = "agent.failed"
)

// Handoff and context events.
const (
	EventHandoffInitiated EventType = "handoff.initiated"
	EventHandoffCompleted EventType = "handoff.completed"
	EventContextSnapshot  EventType = "context.snapshot"
	EventContextRestored  EventType = "context.restored"
)

// Checkpoint and human-in-the-loop events.
const (
	EventCheckpointRequested EventType = "checkpoint.requested"
	EventCheckpointApproved  EventType = "checkpoint.approved"
	EventCheckpointRejected  EventType = "checkpoint.rejected"
	EventHumanIntervention   EventType = "human.intervention"
	EventHumanApproved       EventType = "human.approved"
	EventHumanRejected       EventType = "human.rejected"
)

// Learning and recovery events.
const (
	EventLearningExtracted EventType = "learning.extracted"
	EventErrorRecovered    EventType = "error.recovered"
)

// Ledger projection events. The projector folds exactly this family
// into the projected ledger.
const (
	EventLedgerEpicCreated     EventType = "ledger.epic.created"
	EventLedgerEpicStarted     EventType = "ledger.epic.started"
	EventLedgerEpicCompleted   EventType = "ledger.epic.completed"
	EventLedgerTaskCreated     EventType = "ledger.task.created"
	EventLedgerTaskStarted     EventType = "ledger.task.started"
	EventLedgerTaskCompleted   EventType = "ledger.task.completed"
	EventLedgerTaskFailed      EventType = "ledger.task.failed"
	EventLedgerTaskYielded     EventType = "ledger.task.yielded"
	EventLedgerHandoffCreated  EventType = "ledger.handoff.created"
	EventLedgerHandoffResumed  EventType = "ledger.handoff.resumed"
	EventLedgerLearningExtract EventType = "ledger.learning.extracted"
)

// TypeWildcard subscribes a handler to every event type.
const TypeWildcard EventType = "*"

// CheckpointInfo is the checkpoint record embedded in checkpoint.* events.
// The checkpoint package owns the lifecycle; this is the wire form carried
// by the log so that pending checkpoints can be rebuilt on resume.
type CheckpointInfo struct {
	ID             string             `json:"id"`
	DecisionPoint  string             `json:"decision_point"`
	Options        []CheckpointOption `json:"options,omitempty"`
	RequestedBy    string             `json:"requested_by"`
	RequestedAt    int64              `json:"requested_at"`
	ExpiresAt      int64              `json:"expires_at"`
	ApprovedBy     string             `json:"approved_by,omitempty"`
	ApprovedAt     int64              `json:"approved_at,omitempty"`
	SelectedOption string             `json:"selected_option,omitempty"`
	RejectedReason string             `json:"rejected_reason,omitempty"`
}

// CheckpointOption is a single selectable option on a checkpoint.
type CheckpointOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Event is an immutable record in the durable log.
//
// Offsets are strictly increasing within a log, including across segment
// rotations. Events are never updated in place.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	Timestamp     int64           `json:"timestamp"` // unix millis
	Offset        uint64          `json:"offset"`
	StreamID      string          `json:"stream_id"`
	CorrelationID string          `json:"correlation_id"`
	Actor         string          `json:"actor"`
	ParentEventID string          `json:"parent_event_id,omitempty"`
	Payload       map[string]any  `json:"payload,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Checkpoint    *CheckpointInfo `json:"checkpoint,omitempty"`
}

// Input describes an event to append. The stream assigns ID, Offset and
// Timestamp on append.
type Input struct {
	Type          EventType
	StreamID      string
	CorrelationID string
	Actor         string
	ParentEventID string
	Payload       map[string]any
	Metadata      map[string]any
	Checkpoint    *CheckpointInfo
}

// eventID encodes correlation id, timestamp and offset. Ties between
// events sharing a timestamp break by offset.
func eventID(correlationID string, ts int64, offset uint64) string {
	return fmt.Sprintf("evt_%s_%d_%d", correlationID, ts, offset)
}

// Time returns the event timestamp as time.Time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// PayloadString returns a string payload field, or "" when absent.
func (e *Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}

// Filter selects events during History and Query scans. Zero fields match
// everything.
type Filter struct {
	Type          EventType
	StreamID      string
	CorrelationID string
	AfterOffset   uint64
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e *Event) bool {
	if f.Type != "" && f.Type != TypeWildcard && e.Type != f.Type {
		return false
	}
	if f.StreamID != "" && e.StreamID != f.StreamID {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.AfterOffset > 0 && e.Offset <= f.AfterOffset {
		return false
	}
	return true
}

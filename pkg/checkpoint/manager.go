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

package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-ai/conductor/pkg/observability"
	"github.com/conductor-ai/conductor/pkg/stream"
)

// DefaultTimeout is the checkpoint expiry when the caller passes zero.
const DefaultTimeout = 5 * time.Minute

// Manager owns the pending checkpoint set.
type Manager struct {
	stream         *stream.Stream
	defaultTimeout time.Duration
	snapshots      *snapshotStore
	now            func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	checkpoint *Checkpoint
	timer      *time.Timer
	decision   chan Decision
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultTimeout sets the expiry used when Request gets zero.
func WithDefaultTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.defaultTimeout = d }
}

// WithSnapshots enables JSON snapshots of requested checkpoints under
// dir, bounded to maxFiles by FIFO eviction.
func WithSnapshots(dir string, maxFiles int) ManagerOption {
	return func(m *Manager) { m.snapshots = newSnapshotStore(dir, maxFiles) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a checkpoint manager appending to s.
func NewManager(s *stream.Stream, opts ...ManagerOption) *Manager {
	m := &Manager{
		stream:         s,
		defaultTimeout: DefaultTimeout,
		now:            time.Now,
		pending:        make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request creates a pending checkpoint, emits checkpoint.requested, and
// returns its id plus a channel that receives the decision exactly once.
func (m *Manager) Request(streamID, decisionPoint string, options []Option, requestedBy string, timeout time.Duration) (string, <-chan Decision, error) {
	return m.RequestWithPayload(streamID, decisionPoint, options, requestedBy, timeout, nil)
}

// RequestWithPayload is Request with extra payload fields merged into
// the checkpoint.requested event, e.g. a machine-readable reason.
func (m *Manager) RequestWithPayload(streamID, decisionPoint string, options []Option, requestedBy string, timeout time.Duration, extras map[string]any) (string, <-chan Decision, error) {
	if decisionPoint == "" {
		return "", nil, fmt.Errorf("decision point is required")
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	now := m.now()
	c := &Checkpoint{
		ID:            uuid.New().String(),
		StreamID:      streamID,
		DecisionPoint: decisionPoint,
		Options:       options,
		RequestedBy:   requestedBy,
		RequestedAt:   now,
		ExpiresAt:     now.Add(timeout),
		State:         StatePending,
	}

	payload := map[string]any{"decision_point": decisionPoint}
	for k, v := range extras {
		payload[k] = v
	}

	_, err := m.stream.Append(stream.Input{
		Type:          stream.EventCheckpointRequested,
		StreamID:      streamID,
		CorrelationID: c.ID,
		Actor:         requestedBy,
		Payload:       payload,
		Checkpoint:    c.toInfo(),
	})
	if err != nil {
		return "", nil, err
	}

	entry := m.register(c, timeout)
	if m.snapshots != nil {
		if serr := m.snapshots.write(c); serr != nil {
			slog.Warn("Failed to snapshot checkpoint", "checkpoint_id", c.ID, "error", serr)
		}
	}
	return c.ID, entry.decision, nil
}

func (m *Manager) register(c *Checkpoint, timeout time.Duration) *pendingEntry {
	entry := &pendingEntry{
		checkpoint: c,
		decision:   make(chan Decision, 1),
	}
	entry.timer = time.AfterFunc(timeout, func() { m.expire(c.ID) })

	m.mu.Lock()
	m.pending[c.ID] = entry
	m.mu.Unlock()
	return entry
}

// Approve resolves a pending checkpoint with the selected option.
// Returns false when the checkpoint is unknown or already resolved.
func (m *Manager) Approve(id, selectedOption, approvedBy string) bool {
	entry := m.take(id)
	if entry == nil {
		return false
	}

	c := entry.checkpoint
	c.State = StateApproved
	c.ApprovedBy = approvedBy
	c.ApprovedAt = m.now()
	c.SelectedOption = selectedOption

	m.emit(stream.EventCheckpointApproved, c, approvedBy)
	observability.GetGlobalMetrics().RecordCheckpoint(context.Background(), "approved")
	entry.decision <- Decision{
		CheckpointID:   id,
		Approved:       true,
		SelectedOption: selectedOption,
	}
	return true
}

// Reject resolves a pending checkpoint with a reason. Returns false
// when the checkpoint is unknown or already resolved.
func (m *Manager) Reject(id, reason string) bool {
	entry := m.take(id)
	if entry == nil {
		return false
	}

	c := entry.checkpoint
	c.State = StateRejected
	c.RejectedReason = reason

	m.emit(stream.EventCheckpointRejected, c, c.RequestedBy)
	observability.GetGlobalMetrics().RecordCheckpoint(context.Background(), "rejected")
	entry.decision <- Decision{
		CheckpointID: id,
		Reason:       reason,
	}
	return true
}

// expire resolves a checkpoint whose deadline elapsed.
func (m *Manager) expire(id string) {
	entry := m.take(id)
	if entry == nil {
		return
	}

	c := entry.checkpoint
	c.State = StateTimedOut
	c.RejectedReason = "timeout"

	slog.Warn("Checkpoint timed out", "checkpoint_id", id, "decision_point", c.DecisionPoint)
	m.emit(stream.EventCheckpointRejected, c, "system")
	observability.GetGlobalMetrics().RecordCheckpoint(context.Background(), "timeout")
	entry.decision <- Decision{
		CheckpointID: id,
		Reason:       "timeout",
		TimedOut:     true,
	}
}

// take removes the entry from the pending set, stopping its timer.
// Returns nil when already resolved.
func (m *Manager) take(id string) *pendingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	entry.timer.Stop()
	return entry
}

func (m *Manager) emit(eventType stream.EventType, c *Checkpoint, actor string) {
	_, err := m.stream.Append(stream.Input{
		Type:          eventType,
		StreamID:      c.StreamID,
		CorrelationID: c.ID,
		Actor:         actor,
		Checkpoint:    c.toInfo(),
	})
	if err != nil {
		slog.Warn("Failed to record checkpoint resolution",
			"checkpoint_id", c.ID, "event_type", eventType, "error", err)
	}
}

// Pending returns copies of all pending checkpoints.
func (m *Manager) Pending() []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Checkpoint, 0, len(m.pending))
	for _, entry := range m.pending {
		out = append(out, *entry.checkpoint)
	}
	return out
}

// Rehydrate rebuilds the pending set from replayed events: a
// checkpoint.requested without a subsequent resolution is pending.
// Checkpoints that expired during downtime resolve immediately as
// synthetic rejections with reason "timeout"; the rest re-arm their
// expiry timers. Returns the number of live pending checkpoints.
func (m *Manager) Rehydrate(events []*stream.Event) int {
	requested := make(map[string]*Checkpoint)
	for _, e := range events {
		switch e.Type {
		case stream.EventCheckpointRequested:
			if e.Checkpoint != nil {
				requested[e.Checkpoint.ID] = fromInfo(e.StreamID, e.Checkpoint)
			}
		case stream.EventCheckpointApproved, stream.EventCheckpointRejected:
			if e.Checkpoint != nil {
				delete(requested, e.Checkpoint.ID)
			}
		}
	}

	now := m.now()
	live := 0
	for _, c := range requested {
		if !c.ExpiresAt.After(now) {
			// Expired during the outage.
			c.State = StateTimedOut
			c.RejectedReason = "timeout"
			slog.Info("Checkpoint expired during downtime, emitting synthetic rejection",
				"checkpoint_id", c.ID)
			m.emit(stream.EventCheckpointRejected, c, "system")
			continue
		}
		m.register(c, c.ExpiresAt.Sub(now))
		live++
	}
	return live
}

// Shutdown resolves every pending checkpoint as rejected with reason
// "shutdown". Part of the ordered shutdown protocol.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Reject(id, "shutdown")
	}
}

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

package task

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the authoritative in-memory index of supervised tasks.
// Unknown ids are warnings, never faults.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register creates a pending entry and returns its id. Zero descriptor
// fields are seeded with defaults: max retries 2, timeout 60s, medium
// complexity.
func (r *Registry) Register(desc Descriptor) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Task{
		ID:              uuid.New().String(),
		SessionID:       desc.SessionID,
		AgentName:       desc.AgentName,
		Prompt:          desc.Prompt,
		Status:          StatusPending,
		CreatedAt:       r.now(),
		RetryCount:      0,
		MaxRetries:      desc.MaxRetries,
		Timeout:         desc.Timeout,
		Complexity:      desc.Complexity,
		ParentSessionID: desc.ParentSessionID,
		LedgerTaskID:    desc.LedgerTaskID,
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultTimeout
	}
	if t.Complexity == "" {
		t.Complexity = ComplexityMedium
	}

	r.tasks[t.ID] = t
	return t.ID
}

// Get returns a copy of the task, or false when unknown.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// UpdateStatus applies a forward transition, recording result or error
// on terminal states. Invalid transitions and unknown ids are logged and
// ignored. Returns whether the update applied.
func (r *Registry) UpdateStatus(id string, status Status, result, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		slog.Warn("Status update for unknown task", "task_id", id, "status", status)
		return false
	}
	if !canTransition(t.Status, status) {
		slog.Warn("Rejected task status transition",
			"task_id", id, "from", t.Status, "to", status)
		return false
	}

	now := r.now()
	if status == StatusRunning && t.Status != StatusRunning {
		t.StartedAt = now
	}
	if status.IsTerminal() {
		t.CompletedAt = now
	}
	t.Status = status
	if result != "" {
		t.Result = result
	}
	if errMsg != "" {
		t.Error = errMsg
	}
	return true
}

// Heartbeat records liveness for a running task. No-op for unknown ids.
func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		slog.Warn("Heartbeat for unknown task", "task_id", id)
		return
	}
	t.LastHeartbeat = r.now()
}

// Retry reopens a failed, timed-out or stale task to running, bumping
// the retry counter. Returns false when the task is unknown, not
// retriable, or out of budget.
func (r *Registry) Retry(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		slog.Warn("Retry for unknown task", "task_id", id)
		return false
	}
	if !t.Status.isRetriable() || t.RetryCount >= t.MaxRetries {
		return false
	}

	t.RetryCount++
	t.Status = StatusRunning
	t.StartedAt = r.now()
	t.CompletedAt = time.Time{}
	t.Error = ""
	return true
}

// UpdateSessionID rebinds the task to a new runtime session, resetting
// its start time. Used when a retry spawns a fresh session.
func (r *Registry) UpdateSessionID(id, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		slog.Warn("Session rebind for unknown task", "task_id", id)
		return
	}
	t.SessionID = sessionID
	t.StartedAt = r.now()
}

// ByStatus returns copies of all tasks in the given status.
func (r *Registry) ByStatus(status Status) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Task
	for _, t := range r.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	return out
}

// BySessionID returns the task bound to the given runtime session.
func (r *Registry) BySessionID(sessionID string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tasks {
		if t.SessionID == sessionID {
			return *t, true
		}
	}
	return Task{}, false
}

// TimedOut returns running tasks whose age exceeds their timeout.
func (r *Registry) TimedOut() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var out []Task
	for _, t := range r.tasks {
		if t.Status == StatusRunning && !t.StartedAt.IsZero() &&
			now.Sub(t.StartedAt) > t.Timeout {
			out = append(out, *t)
		}
	}
	return out
}

// Stuck returns running tasks with no heartbeat (or start) within the
// threshold. Timed-out tasks are excluded; TimedOut owns those.
func (r *Registry) Stuck(threshold time.Duration) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var out []Task
	for _, t := range r.tasks {
		if t.Status != StatusRunning || t.StartedAt.IsZero() {
			continue
		}
		if now.Sub(t.StartedAt) > t.Timeout {
			continue
		}
		last := t.StartedAt
		if t.LastHeartbeat.After(last) {
			last = t.LastHeartbeat
		}
		if now.Sub(last) > threshold {
			out = append(out, *t)
		}
	}
	return out
}

// Retriable returns failed or timed-out tasks with retry budget left.
func (r *Registry) Retriable() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Task
	for _, t := range r.tasks {
		if (t.Status == StatusFailed || t.Status == StatusTimeout) &&
			t.RetryCount < t.MaxRetries {
			out = append(out, *t)
		}
	}
	return out
}

// Summary counts tasks per status.
func (r *Registry) Summary() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Status]int)
	for _, t := range r.tasks {
		out[t.Status]++
	}
	return out
}

// Cleanup removes terminal tasks older than maxAge and returns how many
// were removed.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, t := range r.tasks {
		if t.Status.IsTerminal() && !t.CompletedAt.IsZero() &&
			now.Sub(t.CompletedAt) > maxAge {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Hydrate inserts recovered tasks, typically pending or running entries
// reconstructed from the ledger after a crash. Session ids stay empty
// until the coordinator re-spawns them. Existing ids are not replaced.
func (r *Registry) Hydrate(tasks []Task) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for i := range tasks {
		t := tasks[i]
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if _, exists := r.tasks[t.ID]; exists {
			continue
		}
		if t.MaxRetries == 0 {
			t.MaxRetries = DefaultMaxRetries
		}
		if t.Timeout == 0 {
			t.Timeout = DefaultTimeout
		}
		if t.Complexity == "" {
			t.Complexity = ComplexityMedium
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = r.now()
		}
		copied := t
		r.tasks[t.ID] = &copied
		added++
	}
	return added
}

// Reset drops every entry. Part of the shutdown protocol.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = make(map[string]*Task)
}

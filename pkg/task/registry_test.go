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
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSeedsDefaults(t *testing.T) {
	r := NewRegistry()
	id := r.Register(Descriptor{AgentName: "reviewer", Prompt: "Review file X"})

	task, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, DefaultMaxRetries, task.MaxRetries)
	assert.Equal(t, DefaultTimeout, task.Timeout)
	assert.Equal(t, ComplexityMedium, task.Complexity)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []Status
		valid bool
	}{
		{"pending to running to completed", []Status{StatusRunning, StatusCompleted}, true},
		{"pending to running to failed", []Status{StatusRunning, StatusFailed}, true},
		{"running to stale", []Status{StatusRunning, StatusStale}, true},
		{"running to suspended to running", []Status{StatusRunning, StatusSuspended, StatusRunning}, true},
		{"stale to completed", []Status{StatusRunning, StatusStale, StatusCompleted}, true},
		{"pending straight to completed", []Status{StatusCompleted}, false},
		{"completed cannot reopen", []Status{StatusRunning, StatusCompleted, StatusRunning}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			id := r.Register(Descriptor{AgentName: "worker", Prompt: "p"})

			ok := true
			for _, status := range tt.path {
				ok = r.UpdateStatus(id, status, "", "")
				if !ok {
					break
				}
			}
			assert.Equal(t, tt.valid, ok)
		})
	}
}

func TestUnknownIDsAreWarningsNotFaults(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.UpdateStatus("nope", StatusRunning, "", ""))
	assert.False(t, r.Retry("nope"))
	r.Heartbeat("nope")
	r.UpdateSessionID("nope", "ses_9")

	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRetryBudget(t *testing.T) {
	r := NewRegistry()
	id := r.Register(Descriptor{AgentName: "worker", Prompt: "p", MaxRetries: 2})
	require.True(t, r.UpdateStatus(id, StatusRunning, "", ""))
	require.True(t, r.UpdateStatus(id, StatusFailed, "", "boom"))

	assert.True(t, r.Retry(id))
	task, _ := r.Get(id)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, StatusRunning, task.Status)

	require.True(t, r.UpdateStatus(id, StatusTimeout, "", ""))
	assert.True(t, r.Retry(id))

	require.True(t, r.UpdateStatus(id, StatusFailed, "", ""))
	assert.False(t, r.Retry(id), "budget exhausted")

	task, _ = r.Get(id)
	assert.Equal(t, 2, task.RetryCount)
}

func TestTimedOutAndStuckQueries(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	timedOut := r.Register(Descriptor{AgentName: "slow", Prompt: "p", Timeout: 50 * time.Millisecond})
	require.True(t, r.UpdateStatus(timedOut, StatusRunning, "", ""))

	stuck := r.Register(Descriptor{AgentName: "silent", Prompt: "p", Timeout: time.Hour})
	require.True(t, r.UpdateStatus(stuck, StatusRunning, "", ""))

	healthy := r.Register(Descriptor{AgentName: "fine", Prompt: "p", Timeout: time.Hour})
	require.True(t, r.UpdateStatus(healthy, StatusRunning, "", ""))

	now = now.Add(2 * time.Minute)
	r.Heartbeat(healthy)

	timedOutList := r.TimedOut()
	require.Len(t, timedOutList, 1)
	assert.Equal(t, timedOut, timedOutList[0].ID)

	stuckList := r.Stuck(time.Minute)
	require.Len(t, stuckList, 1)
	assert.Equal(t, stuck, stuckList[0].ID, "timed-out tasks are excluded from stuck")
}

func TestUpdateSessionIDResetsStart(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	id := r.Register(Descriptor{AgentName: "worker", Prompt: "p"})
	require.True(t, r.UpdateStatus(id, StatusRunning, "", ""))

	now = now.Add(time.Minute)
	r.UpdateSessionID(id, "ses_new")

	task, _ := r.Get(id)
	assert.Equal(t, "ses_new", task.SessionID)
	assert.Equal(t, now, task.StartedAt)
}

func TestCleanupRemovesOldTerminalTasks(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.SetClock(func() time.Time { return now })

	done := r.Register(Descriptor{AgentName: "a", Prompt: "p"})
	require.True(t, r.UpdateStatus(done, StatusRunning, "", ""))
	require.True(t, r.UpdateStatus(done, StatusCompleted, "ok", ""))

	active := r.Register(Descriptor{AgentName: "b", Prompt: "p"})
	require.True(t, r.UpdateStatus(active, StatusRunning, "", ""))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, r.Cleanup(time.Hour))

	_, ok := r.Get(done)
	assert.False(t, ok)
	_, ok = r.Get(active)
	assert.True(t, ok)
}

func TestHydrateLeavesExistingEntries(t *testing.T) {
	r := NewRegistry()
	id := r.Register(Descriptor{AgentName: "live", Prompt: "p"})

	added := r.Hydrate([]Task{
		{ID: id, AgentName: "clobber", Status: StatusPending},
		{AgentName: "recovered", Status: StatusPending, LedgerTaskID: "lt_1"},
	})
	assert.Equal(t, 1, added)

	existing, _ := r.Get(id)
	assert.Equal(t, "live", existing.AgentName)

	pending := r.ByStatus(StatusPending)
	require.Len(t, pending, 2)
}

func TestRetryCountNeverExceedsBudgetProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("retry_count <= max_retries under arbitrary fail/retry sequences", prop.ForAll(
		func(attempts []bool, maxRetries int) bool {
			r := NewRegistry()
			id := r.Register(Descriptor{
				AgentName:  "worker",
				Prompt:     "p",
				MaxRetries: maxRetries,
			})
			r.UpdateStatus(id, StatusRunning, "", "")

			for _, fail := range attempts {
				if fail {
					r.UpdateStatus(id, StatusFailed, "", "boom")
				} else {
					r.UpdateStatus(id, StatusTimeout, "", "")
				}
				r.Retry(id)

				task, ok := r.Get(id)
				if !ok || task.RetryCount > task.MaxRetries {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

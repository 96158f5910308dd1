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

// Package task provides the in-memory registry of supervised tasks.
//
// A task tracks one delegated unit of work executing in a runtime
// session. The registry is the authoritative index the supervisor drives
// its timeout, stuck and retry decisions from. Status transitions move
// only forward, except that failed, timeout and stale tasks may reopen
// to running on retry while retry budget remains.
package task

import (
	"time"
)

// Status is the supervision state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusStale     Status = "stale"
	StatusSuspended Status = "suspended"
)

// IsTerminal reports whether no further forward transition exists.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// isRetriable reports whether the status may reopen to running.
func (s Status) isRetriable() bool {
	switch s {
	case StatusFailed, StatusTimeout, StatusStale:
		return true
	}
	return false
}

// Complexity drives the supervisor's adaptive tick interval and the
// default timeout seeding.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Defaults seeded by Register when a descriptor leaves them zero.
const (
	DefaultMaxRetries = 2
	DefaultTimeout    = 60 * time.Second
)

// Task is a mutable registry entry. The registry owns all mutation;
// callers receive copies.
type Task struct {
	ID              string
	SessionID       string
	AgentName       string
	Prompt          string
	Status          Status
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	RetryCount      int
	MaxRetries      int
	Timeout         time.Duration
	Complexity      Complexity
	LastHeartbeat   time.Time
	ParentSessionID string
	LedgerTaskID    string
	Result          string
	Error           string
}

// Descriptor describes a task to register.
type Descriptor struct {
	AgentName       string
	Prompt          string
	SessionID       string
	ParentSessionID string
	LedgerTaskID    string
	MaxRetries      int
	Timeout         time.Duration
	Complexity      Complexity
}

// canTransition encodes the forward-only rule. Retry reopening is
// handled separately because it must bump the retry counter.
func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusTimeout
	case StatusRunning:
		switch to {
		case StatusCompleted, StatusFailed, StatusTimeout, StatusStale, StatusSuspended:
			return true
		}
		return false
	case StatusSuspended:
		return to == StatusRunning || to == StatusFailed || to == StatusTimeout
	case StatusStale:
		return to == StatusCompleted || to == StatusFailed || to == StatusTimeout
	default:
		// Terminal states only reopen through Retry.
		return false
	}
}

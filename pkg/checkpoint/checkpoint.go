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

// Package checkpoint implements human-in-the-loop decision points.
//
// A checkpoint asks a human to pick among options before work continues.
// The pending set lives in memory and is the source of truth during
// recovery: it is rehydrated from checkpoint.* events, and checkpoints
// that expired while the process was down resolve as synthetic
// rejections with reason "timeout".
package checkpoint

import (
	"time"

	"github.com/conductor-ai/conductor/pkg/stream"
)

// State is a checkpoint lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateTimedOut State = "timed_out"
)

// Option is one selectable choice on a checkpoint.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Checkpoint is a pending or resolved human decision.
type Checkpoint struct {
	ID             string    `json:"id"`
	StreamID       string    `json:"stream_id"`
	DecisionPoint  string    `json:"decision_point"`
	Options        []Option  `json:"options,omitempty"`
	RequestedBy    string    `json:"requested_by"`
	RequestedAt    time.Time `json:"requested_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	State          State     `json:"state"`
	ApprovedBy     string    `json:"approved_by,omitempty"`
	ApprovedAt     time.Time `json:"approved_at,omitempty"`
	SelectedOption string    `json:"selected_option,omitempty"`
	RejectedReason string    `json:"rejected_reason,omitempty"`
}

// Decision is delivered exactly once to the requester's channel.
type Decision struct {
	CheckpointID   string
	Approved       bool
	SelectedOption string
	Reason         string
	TimedOut       bool
}

// toInfo converts to the wire form embedded in stream events.
func (c *Checkpoint) toInfo() *stream.CheckpointInfo {
	info := &stream.CheckpointInfo{
		ID:             c.ID,
		DecisionPoint:  c.DecisionPoint,
		RequestedBy:    c.RequestedBy,
		RequestedAt:    c.RequestedAt.UnixMilli(),
		ExpiresAt:      c.ExpiresAt.UnixMilli(),
		ApprovedBy:     c.ApprovedBy,
		SelectedOption: c.SelectedOption,
		RejectedReason: c.RejectedReason,
	}
	if !c.ApprovedAt.IsZero() {
		info.ApprovedAt = c.ApprovedAt.UnixMilli()
	}
	for _, opt := range c.Options {
		info.Options = append(info.Options, stream.CheckpointOption{
			ID:          opt.ID,
			Label:       opt.Label,
			Description: opt.Description,
		})
	}
	return info
}

// fromInfo rebuilds a checkpoint from its wire form.
func fromInfo(streamID string, info *stream.CheckpointInfo) *Checkpoint {
	c := &Checkpoint{
		ID:             info.ID,
		StreamID:       streamID,
		DecisionPoint:  info.DecisionPoint,
		RequestedBy:    info.RequestedBy,
		RequestedAt:    time.UnixMilli(info.RequestedAt),
		ExpiresAt:      time.UnixMilli(info.ExpiresAt),
		State:          StatePending,
		ApprovedBy:     info.ApprovedBy,
		SelectedOption: info.SelectedOption,
		RejectedReason: info.RejectedReason,
	}
	if info.ApprovedAt != 0 {
		c.ApprovedAt = time.UnixMilli(info.ApprovedAt)
	}
	for _, opt := range info.Options {
		c.Options = append(c.Options, Option{
			ID:          opt.ID,
			Label:       opt.Label,
			Description: opt.Description,
		})
	}
	return c
}

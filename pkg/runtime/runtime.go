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

// Package runtime defines the narrow surface of the external
// conversational runtime that hosts agent sessions.
//
// The orchestrator never executes agents itself; it creates sessions,
// dispatches prompts, polls session status, fetches messages and deletes
// sessions through this interface. The HTTP client normalizes the
// runtime quirk where session.prompt fails with "Unexpected EOF" on an
// otherwise successful dispatch.
package runtime

import (
	"context"
	"strings"
)

// SessionState is the runtime-reported state of a session.
type SessionState string

const (
	SessionIdle SessionState = "idle"
	SessionBusy SessionState = "busy"
)

// Part is one segment of a prompt.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// Message is a runtime session message.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Client is the runtime API consumed by the orchestrator core.
type Client interface {
	// CreateSession creates a session, optionally parented, and returns
	// its id.
	CreateSession(ctx context.Context, parentID, title string) (string, error)

	// Prompt dispatches a prompt to a session and blocks until the
	// runtime accepts it.
	Prompt(ctx context.Context, sessionID, agent string, parts []Part) error

	// PromptAsync dispatches without waiting for acceptance.
	PromptAsync(ctx context.Context, sessionID, agent string, parts []Part) error

	// SessionStatus returns the state of every known session.
	SessionStatus(ctx context.Context) (map[string]SessionState, error)

	// Messages returns a session's message history in order.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// Children returns the ids of a session's child sessions.
	Children(ctx context.Context, sessionID string) ([]string, error)

	// DeleteSession removes a session. Callers must not delete a busy
	// session.
	DeleteSession(ctx context.Context, sessionID string) error
}

// LastAssistantText fetches the text of the most recent assistant
// message in the session, or "" when none exists.
func LastAssistantText(ctx context.Context, c Client, sessionID string) (string, error) {
	messages, err := c.Messages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			return messages[i].Text, nil
		}
	}
	return "", nil
}

// IsUnexpectedEOF reports whether the error is the runtime's spurious
// prompt failure that must be treated as success.
func IsUnexpectedEOF(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unexpected eof")
}

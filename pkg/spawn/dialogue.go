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

package spawn

import (
	"encoding/json"
	"strings"
)

// DialogueStatus classifies a worker's conversational state.
type DialogueStatus string

const (
	DialogueNeedsInput        DialogueStatus = "needs_input"
	DialogueNeedsApproval     DialogueStatus = "needs_approval"
	DialogueNeedsVerification DialogueStatus = "needs_verification"
	DialogueApproved          DialogueStatus = "approved"
	DialogueRejected          DialogueStatus = "rejected"
	DialogueCompleted         DialogueStatus = "completed"
)

// Blocking reports whether the status requires a user turn before the
// session can continue.
func (s DialogueStatus) Blocking() bool {
	switch s {
	case DialogueNeedsInput, DialogueNeedsApproval, DialogueNeedsVerification:
		return true
	}
	return false
}

// DialogueState is a worker's structured request for a user turn,
// embedded in its final message.
type DialogueState struct {
	Status               DialogueStatus `json:"status"`
	Turn                 int            `json:"turn,omitempty"`
	MessageToUser        string         `json:"message_to_user,omitempty"`
	PendingQuestions     []string       `json:"pending_questions,omitempty"`
	AccumulatedDirection string         `json:"accumulated_direction,omitempty"`
}

// ExtractDialogueState pulls a dialogue state out of assistant text. It
// tries three carriers in order and returns the first hit:
//
//  1. the whole text is a JSON object (its dialogue_state field, or the
//     object itself when its status is blocking)
//  2. any fenced code block whose content satisfies rule 1
//  3. a "dialogue_state" key followed by a balanced brace object
//
// A non-blocking status without an explicit dialogue_state field never
// yields a state.
func ExtractDialogueState(text string) *DialogueState {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if ds := parseCandidate(text); ds != nil {
		return ds
	}
	for _, block := range fencedBlocks(text) {
		if ds := parseCandidate(block); ds != nil {
			return ds
		}
	}
	if obj := embeddedObject(text, `"dialogue_state"`); obj != "" {
		var ds DialogueState
		if err := json.Unmarshal([]byte(obj), &ds); err == nil && ds.Status != "" {
			return &ds
		}
	}
	return nil
}

// parseCandidate applies the direct-parse rule to one JSON candidate.
func parseCandidate(text string) *DialogueState {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil
	}

	var envelope struct {
		Status        json.RawMessage `json:"status"`
		DialogueState json.RawMessage `json:"dialogue_state"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return nil
	}

	if len(envelope.DialogueState) > 0 {
		var ds DialogueState
		if err := json.Unmarshal(envelope.DialogueState, &ds); err == nil && ds.Status != "" {
			return &ds
		}
		return nil
	}

	var ds DialogueState
	if err := json.Unmarshal([]byte(text), &ds); err != nil {
		return nil
	}
	if ds.Status.Blocking() {
		return &ds
	}
	return nil
}

// fencedBlocks returns the contents of all ``` fenced blocks, with any
// language tag stripped.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return blocks
		}
		rest = rest[start+3:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		block := rest[:end]
		rest = rest[end+3:]

		// Drop the info string on the opening fence line.
		if nl := strings.Index(block, "\n"); nl >= 0 && !strings.Contains(block[:nl], "{") {
			block = block[nl+1:]
		}
		blocks = append(blocks, strings.TrimSpace(block))
	}
}

// embeddedObject finds key in text and returns the balanced brace object
// that follows it, or "" when none exists.
func embeddedObject(text, key string) string {
	idx := strings.Index(text, key)
	if idx < 0 {
		return ""
	}
	open := strings.Index(text[idx+len(key):], "{")
	if open < 0 {
		return ""
	}
	start := idx + len(key) + open

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

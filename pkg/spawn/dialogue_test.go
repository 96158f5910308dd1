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
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDialogueState(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *DialogueState
	}{
		{
			name: "explicit dialogue_state field",
			text: `{"dialogue_state":{"status":"needs_input","turn":1}}`,
			want: &DialogueState{Status: DialogueNeedsInput, Turn: 1},
		},
		{
			name: "whole object with blocking status",
			text: `{"status":"needs_approval","message_to_user":"ok to delete?"}`,
			want: &DialogueState{Status: DialogueNeedsApproval, MessageToUser: "ok to delete?"},
		},
		{
			name: "whole object with non-blocking status is not a dialogue",
			text: `{"status":"completed","result":"done"}`,
			want: nil,
		},
		{
			name: "fenced json block",
			text: "All set, see below.\n```json\n{\"status\":\"needs_approval\"}\n```\n",
			want: &DialogueState{Status: DialogueNeedsApproval},
		},
		{
			name: "fenced block without language tag",
			text: "```\n{\"dialogue_state\":{\"status\":\"needs_input\",\"pending_questions\":[\"which branch?\"]}}\n```",
			want: &DialogueState{Status: DialogueNeedsInput, PendingQuestions: []string{"which branch?"}},
		},
		{
			name: "embedded in prose",
			text: `I checked the output and I'm not certain. "dialogue_state": {"status":"needs_verification","turn":2} is where I stand.`,
			want: &DialogueState{Status: DialogueNeedsVerification, Turn: 2},
		},
		{
			name: "embedded object with braces inside strings",
			text: `Report: "dialogue_state": {"status":"needs_input","message_to_user":"the config {a: {b}} looks off"} end.`,
			want: &DialogueState{Status: DialogueNeedsInput, MessageToUser: "the config {a: {b}} looks off"},
		},
		{
			name: "plain prose",
			text: "Refactoring complete. All tests pass.",
			want: nil,
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
		{
			name: "malformed json",
			text: `{"dialogue_state": {"status": needs_input}}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractDialogueState(tt.text)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialogueStatusBlocking(t *testing.T) {
	assert.True(t, DialogueNeedsInput.Blocking())
	assert.True(t, DialogueNeedsApproval.Blocking())
	assert.True(t, DialogueNeedsVerification.Blocking())
	assert.False(t, DialogueApproved.Blocking())
	assert.False(t, DialogueRejected.Blocking())
	assert.False(t, DialogueCompleted.Blocking())
}

func TestExtractDialogueStatePreferenceOrder(t *testing.T) {
	// A direct parse wins over a fenced block in the same text.
	text := `{"dialogue_state":{"status":"needs_input","turn":1},"notes":"see ` + "```" + `{\"status\":\"needs_approval\"}` + "```" + `"}`
	got := ExtractDialogueState(text)
	require.NotNil(t, got)
	assert.Equal(t, DialogueNeedsInput, got.Status)
}

func TestDialogueStateSurvivesAnyCarrierProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	statuses := []DialogueStatus{DialogueNeedsInput, DialogueNeedsApproval, DialogueNeedsVerification}

	properties.Property("a blocking state round-trips through every carrier", prop.ForAll(
		func(statusIdx, carrier, turn int, message string) bool {
			ds := DialogueState{
				Status:        statuses[statusIdx],
				Turn:          turn,
				MessageToUser: message,
			}
			inner, err := json.Marshal(ds)
			if err != nil {
				return false
			}
			envelope := fmt.Sprintf(`{"dialogue_state":%s}`, inner)

			var text string
			switch carrier {
			case 0:
				text = envelope
			case 1:
				text = "Work paused.\n```json\n" + envelope + "\n```\n"
			case 2:
				text = `Here is where things stand. "dialogue_state": ` + string(inner) + ` and that is all.`
			}

			got := ExtractDialogueState(text)
			return got != nil &&
				got.Status == ds.Status &&
				got.Turn == ds.Turn &&
				got.MessageToUser == ds.MessageToUser
		},
		gen.IntRange(0, 2),
		gen.IntRange(0, 2),
		gen.IntRange(0, 20),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

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

package learning

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/pkg/stream"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		event    *stream.Event
		wantType string
		wantOK   bool
	}{
		{
			name: "completion with success cue is a decision",
			event: &stream.Event{
				Type:     stream.EventAgentCompleted,
				StreamID: "ses_1",
				Payload:  map[string]any{"agent": "coder", "result": "chose sqlite over postgres"},
			},
			wantType: TypeDecision,
			wantOK:   true,
		},
		{
			name: "completion without cues yields nothing",
			event: &stream.Event{
				Type:    stream.EventAgentCompleted,
				Payload: map[string]any{"agent": "coder", "result": "see attached diff"},
			},
			wantOK: false,
		},
		{
			name: "session error is a correction",
			event: &stream.Event{
				Type:    stream.EventSessionError,
				Payload: map[string]any{"error": "wrong working directory"},
			},
			wantType: TypeCorrection,
			wantOK:   true,
		},
		{
			name: "failure with timeout cue is an anti-pattern",
			event: &stream.Event{
				Type:    stream.EventAgentFailed,
				Payload: map[string]any{"agent": "slowpoke", "error": "timeout after 10m"},
			},
			wantType: TypeAntiPattern,
			wantOK:   true,
		},
		{
			name: "failure without failure cues yields nothing",
			event: &stream.Event{
				Type:    stream.EventAgentFailed,
				Payload: map[string]any{"agent": "coder", "error": "compile error"},
			},
			wantOK: false,
		},
		{
			name: "approved checkpoint is a preference",
			event: &stream.Event{
				Type:       stream.EventCheckpointApproved,
				Checkpoint: &stream.CheckpointInfo{ID: "cp_1", SelectedOption: "blue-green deploy"},
			},
			wantType: TypePreference,
			wantOK:   true,
		},
		{
			name: "correction cue on any event type",
			event: &stream.Event{
				Type:    stream.EventContextSnapshot,
				Payload: map[string]any{"note": "don't use the staging bucket for prod data"},
			},
			wantType: TypeCorrection,
			wantOK:   true,
		},
		{
			name: "uninteresting event",
			event: &stream.Event{
				Type:    stream.EventSessionCreated,
				Payload: map[string]any{"title": "hello"},
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, ok := Classify(tt.event)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantType, l.Type)
				assert.GreaterOrEqual(t, l.Confidence, DefaultMinConfidence)
			}
		})
	}
}

func TestExtractCapsAndFilters(t *testing.T) {
	var events []*stream.Event
	for i := 0; i < 15; i++ {
		events = append(events, &stream.Event{
			Type:    stream.EventSessionError,
			Payload: map[string]any{"error": fmt.Sprintf("mistake %d", i)},
		})
	}

	got := Extract(events, 0, 0)
	assert.Len(t, got, DefaultMaxLearnings)

	// A threshold above every rule's confidence filters everything.
	none := Extract(events, 0.99, 0)
	assert.Empty(t, none)
}

func TestExtractorPersistsAndReemits(t *testing.T) {
	dir := t.TempDir()
	s, err := stream.New(filepath.Join(dir, "stream.jsonl"))
	require.NoError(t, err)
	defer s.Close()

	store, err := OpenStore(filepath.Join(dir, "learnings.db"))
	require.NoError(t, err)
	defer store.Close()

	x := NewExtractor(s, store)
	x.Start()
	defer x.Flush()

	_, err = s.Append(stream.Input{
		Type:     stream.EventAgentCompleted,
		StreamID: "ses_1",
		Payload:  map[string]any{"agent": "coder", "result": "decided to batch the writes"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := store.Count()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		events := s.History(0, stream.Filter{Type: stream.EventLedgerLearningExtract})
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	reemitted := s.History(0, stream.Filter{Type: stream.EventLedgerLearningExtract})
	assert.Equal(t, TypeDecision, reemitted[0].PayloadString("learning_type"))
	assert.NotEmpty(t, reemitted[0].ParentEventID, "learning links back to its source event")
}

func TestExtractorIgnoresOwnOutput(t *testing.T) {
	dir := t.TempDir()
	s, err := stream.New(filepath.Join(dir, "stream.jsonl"))
	require.NoError(t, err)
	defer s.Close()

	x := NewExtractor(s, nil)
	x.Start()
	defer x.Flush()

	// A ledger event whose payload contains a correction cue must not
	// feed back into the extractor.
	_, err = s.Append(stream.Input{
		Type:    stream.EventLedgerLearningExtract,
		Payload: map[string]any{"content": "don't use global state"},
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	events := s.History(0, stream.Filter{Type: stream.EventLedgerLearningExtract})
	assert.Len(t, events, 1, "no feedback loop")
}

func TestSQLStoreSaveSearchAndDedupe(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "learnings.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(Learning{Type: TypeDecision, Content: "batch database writes", Confidence: 0.7}))
	require.NoError(t, store.Save(Learning{Type: TypeDecision, Content: "batch database writes", Confidence: 0.7}))
	require.NoError(t, store.Save(Learning{Type: TypeAntiPattern, Content: "polling the database in a tight loop", Confidence: 0.75}))
	require.NoError(t, store.Save(Learning{Type: TypePreference, Content: "user prefers tabular output", Confidence: 0.8}))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "duplicate content ignored")

	hits, err := store.Search([]string{"database"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "polling the database in a tight loop", hits[0], "highest confidence first")

	hits, err = store.Search([]string{"database"}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	none, err := store.Search(nil, 5)
	require.NoError(t, err)
	assert.Nil(t, none)

	byType, err := store.ByType(TypeDecision, 10)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "batch database writes", byType[0].Content)
}

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

// Package learning turns session events into typed learnings and stores
// them for injection into future prompts.
package learning

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/conductor-ai/conductor/pkg/stream"
)

// Learning types.
const (
	TypeDecision    = "decision"
	TypeCorrection  = "correction"
	TypeAntiPattern = "anti_pattern"
	TypePreference  = "preference"
)

// Extraction defaults.
const (
	DefaultMinConfidence = 0.6
	DefaultMaxLearnings  = 10
)

// Learning is one extracted insight.
type Learning struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	SessionID  string  `json:"session_id,omitempty"`
}

var (
	correctionCues = []string{"instead", "don't use", "should be"}
	failureCues    = []string{"timeout", "crash", "disconnect"}
	successCues    = []string{"success", "completed", "done", "chose", "decided", "selected"}
)

// Classify maps one event to at most one learning. Events outside the
// rule set return ok=false.
func Classify(e *stream.Event) (Learning, bool) {
	switch e.Type {
	case stream.EventAgentCompleted:
		result := e.PayloadString("result")
		if containsAny(result, successCues) {
			return Learning{
				Type:       TypeDecision,
				Content:    summarize(e.PayloadString("agent"), result),
				Confidence: 0.7,
				SessionID:  e.StreamID,
			}, true
		}

	case stream.EventSessionError:
		return Learning{
			Type:       TypeCorrection,
			Content:    summarize("session error", e.PayloadString("error")),
			Confidence: 0.65,
			SessionID:  e.StreamID,
		}, true

	case stream.EventAgentFailed:
		errText := e.PayloadString("error")
		if containsAny(errText, failureCues) {
			return Learning{
				Type:       TypeAntiPattern,
				Content:    summarize(e.PayloadString("agent")+" failed", errText),
				Confidence: 0.75,
				SessionID:  e.StreamID,
			}, true
		}

	case stream.EventCheckpointApproved:
		selected := e.PayloadString("selected_option")
		if selected == "" && e.Checkpoint != nil {
			selected = e.Checkpoint.SelectedOption
		}
		if selected != "" {
			return Learning{
				Type:       TypePreference,
				Content:    "user preferred option '" + selected + "'",
				Confidence: 0.8,
				SessionID:  e.StreamID,
			}, true
		}
	}

	// Any payload mentioning a correction cue is a correction regardless
	// of event type.
	for _, v := range e.Payload {
		if s, ok := v.(string); ok && containsAny(s, correctionCues) {
			return Learning{
				Type:       TypeCorrection,
				Content:    summarize("correction", s),
				Confidence: 0.65,
				SessionID:  e.StreamID,
			}, true
		}
	}
	return Learning{}, false
}

// Extract runs the batch classifier over an event sequence, dropping
// learnings below minConfidence and truncating at maxLearnings. Zero
// arguments select the defaults.
func Extract(events []*stream.Event, minConfidence float64, maxLearnings int) []Learning {
	if minConfidence == 0 {
		minConfidence = DefaultMinConfidence
	}
	if maxLearnings == 0 {
		maxLearnings = DefaultMaxLearnings
	}

	var out []Learning
	for _, e := range events {
		l, ok := Classify(e)
		if !ok || l.Confidence < minConfidence {
			continue
		}
		out = append(out, l)
		if len(out) == maxLearnings {
			break
		}
	}
	return out
}

// Extractor is the real-time mode: it subscribes to the stream,
// classifies live events, persists accepted learnings and re-emits them
// as ledger.learning.extracted events for the projector.
type Extractor struct {
	stream        *stream.Stream
	store         *SQLStore
	minConfidence float64

	mu          sync.Mutex
	unsubscribe stream.Unsubscribe
}

// NewExtractor creates a real-time extractor. store may be nil; learnings
// then reach the ledger but not the keyword memory.
func NewExtractor(s *stream.Stream, store *SQLStore) *Extractor {
	return &Extractor{
		stream:        s,
		store:         store,
		minConfidence: DefaultMinConfidence,
	}
}

// Start subscribes the extractor to the stream.
func (x *Extractor) Start() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.unsubscribe != nil {
		return
	}
	x.unsubscribe = x.stream.Subscribe(stream.TypeWildcard, x.handle)
}

func (x *Extractor) handle(e *stream.Event) {
	// Never classify our own output.
	if strings.HasPrefix(string(e.Type), "ledger.") || e.Type == stream.EventLearningExtracted {
		return
	}

	l, ok := Classify(e)
	if !ok || l.Confidence < x.minConfidence {
		return
	}

	if x.store != nil {
		if err := x.store.Save(l); err != nil {
			slog.Warn("Persisting learning failed", "error", err)
		}
	}

	_, err := x.stream.Append(stream.Input{
		Type:          stream.EventLedgerLearningExtract,
		StreamID:      e.StreamID,
		CorrelationID: e.CorrelationID,
		Actor:         "learning-extractor",
		ParentEventID: e.ID,
		Payload: map[string]any{
			"learning_type": l.Type,
			"content":       l.Content,
			"confidence":    l.Confidence,
		},
	})
	if err != nil {
		slog.Warn("Emitting learning event failed", "error", err)
	}
}

// Flush is a synchronization point for the shutdown protocol. The
// extractor writes synchronously, so there is nothing buffered; Flush
// only detaches the subscription.
func (x *Extractor) Flush() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.unsubscribe != nil {
		x.unsubscribe()
		x.unsubscribe = nil
	}
}

func containsAny(s string, cues []string) bool {
	s = strings.ToLower(s)
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}

func summarize(prefix, text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 160 {
		text = text[:160]
	}
	if prefix == "" {
		return text
	}
	return prefix + ": " + text
}

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

package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory runtime for tests. Sessions are created busy;
// tests drive state with SetState and AddAssistantMessage.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	counter  int

	// CreateErr, when set, fails the next CreateSession call.
	CreateErr error

	// PromptErr, when set, is returned by Prompt/PromptAsync.
	PromptErr error

	// OnPrompt, when set, observes every dispatched prompt.
	OnPrompt func(sessionID, agent string, parts []Part)
}

type fakeSession struct {
	parentID string
	title    string
	state    SessionState
	messages []Message
	prompts  []string
	deleted  bool
}

// NewFake creates an empty fake runtime.
func NewFake() *Fake {
	return &Fake{sessions: make(map[string]*fakeSession)}
}

// CreateSession creates a busy session with a generated id.
func (f *Fake) CreateSession(_ context.Context, parentID, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		err := f.CreateErr
		f.CreateErr = nil
		return "", err
	}

	f.counter++
	id := fmt.Sprintf("ses_%03d", f.counter)
	f.sessions[id] = &fakeSession{parentID: parentID, title: title, state: SessionBusy}
	return id, nil
}

// Prompt records the prompt text and invokes OnPrompt.
func (f *Fake) Prompt(_ context.Context, sessionID, agent string, parts []Part) error {
	return f.prompt(sessionID, agent, parts)
}

// PromptAsync behaves like Prompt in the fake.
func (f *Fake) PromptAsync(_ context.Context, sessionID, agent string, parts []Part) error {
	return f.prompt(sessionID, agent, parts)
}

func (f *Fake) prompt(sessionID, agent string, parts []Part) error {
	f.mu.Lock()
	if f.PromptErr != nil {
		err := f.PromptErr
		f.mu.Unlock()
		return err
	}
	s, ok := f.sessions[sessionID]
	if !ok || s.deleted {
		f.mu.Unlock()
		return fmt.Errorf("unknown session %s", sessionID)
	}
	var text string
	for _, p := range parts {
		text += p.Text
	}
	s.prompts = append(s.prompts, text)
	onPrompt := f.OnPrompt
	f.mu.Unlock()

	if onPrompt != nil {
		onPrompt(sessionID, agent, parts)
	}
	return nil
}

// SessionStatus reports states of all live sessions.
func (f *Fake) SessionStatus(_ context.Context) (map[string]SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]SessionState)
	for id, s := range f.sessions {
		if !s.deleted {
			out[id] = s.state
		}
	}
	return out, nil
}

// Messages returns the session's messages.
func (f *Fake) Messages(_ context.Context, sessionID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	return append([]Message(nil), s.messages...), nil
}

// Children returns sessions parented to the given id.
func (f *Fake) Children(_ context.Context, sessionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for id, s := range f.sessions {
		if s.parentID == sessionID && !s.deleted {
			out = append(out, id)
		}
	}
	return out, nil
}

// DeleteSession marks the session deleted.
func (f *Fake) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	s.deleted = true
	return nil
}

// SetState drives a session's reported state.
func (f *Fake) SetState(sessionID string, state SessionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.state = state
	}
}

// AddAssistantMessage appends an assistant message to the session.
func (f *Fake) AddAssistantMessage(sessionID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.messages = append(s.messages, Message{
			ID:        fmt.Sprintf("msg_%d", len(s.messages)+1),
			Role:      "assistant",
			Text:      text,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// Prompts returns the prompt texts dispatched to the session.
func (f *Fake) Prompts(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		return append([]string(nil), s.prompts...)
	}
	return nil
}

// Deleted reports whether the session was deleted.
func (f *Fake) Deleted(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	return ok && s.deleted
}

var _ Client = (*Fake)(nil)

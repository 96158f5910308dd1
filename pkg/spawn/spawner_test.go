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
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/pkg/agent"
	"github.com/conductor-ai/conductor/pkg/ledger"
	"github.com/conductor-ai/conductor/pkg/runtime"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/task"
)

type spawnFixture struct {
	fake    *runtime.Fake
	stream  *stream.Stream
	agents  *agent.Registry
	tasks   *task.Registry
	store   *ledger.Store
	spawner *Spawner
}

func newSpawnFixture(t *testing.T) *spawnFixture {
	t.Helper()
	dir := t.TempDir()

	s, err := stream.New(filepath.Join(dir, "stream.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	agents := agent.NewRegistry("coordinator")
	require.NoError(t, agents.Register(agent.Definition{Name: "coordinator", Public: true}))
	require.NoError(t, agents.Register(agent.Definition{Name: "reviewer", Public: true}))
	require.NoError(t, agents.Register(agent.Definition{Name: "archivist"})) // internal

	fake := runtime.NewFake()
	tasks := task.NewRegistry()
	store := ledger.NewStore(filepath.Join(dir, "ledger.md"))

	return &spawnFixture{
		fake:    fake,
		stream:  s,
		agents:  agents,
		tasks:   tasks,
		store:   store,
		spawner: NewSpawner(fake, s, agents, tasks, store, nil),
	}
}

// completeOnPrompt makes the fake runtime answer every prompt with text
// and signal completion on the stream.
func (f *spawnFixture) completeOnPrompt(text string) {
	f.fake.OnPrompt = func(sessionID, agentName string, parts []runtime.Part) {
		f.fake.AddAssistantMessage(sessionID, text)
		_, _ = f.stream.Append(stream.Input{
			Type:     stream.EventAgentCompleted,
			StreamID: sessionID,
			Actor:    agentName,
			Payload:  map[string]any{"agent": agentName},
		})
	}
}

func TestSyncSpawnReturnsResult(t *testing.T) {
	f := newSpawnFixture(t)
	f.completeOnPrompt("Looks good")

	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:           "reviewer",
		Prompt:          "Review the changes in pkg/stream",
		Caller:          "coordinator",
		ParentSessionID: "ses_parent",
		Mode:            ModeSync,
		Timeout:         2 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Looks good", result.Result)
	assert.Equal(t, "reviewer", result.Agent)
	assert.NotEmpty(t, result.SessionID)
	assert.Nil(t, result.DialogueState)
	assert.Empty(t, result.ContinuationHint)

	tracked, ok := f.tasks.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, tracked.Status)

	spawned := f.stream.History(0, stream.Filter{Type: stream.EventAgentSpawned})
	require.Len(t, spawned, 1)
	assert.Equal(t, "reviewer", spawned[0].PayloadString("agent"))
	assert.Equal(t, result.TaskID, spawned[0].PayloadString("task_id"))
}

func TestAsyncSpawnReturnsHandoffIntent(t *testing.T) {
	f := newSpawnFixture(t)

	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:  "reviewer",
		Prompt: "Long-running review",
		Caller: "coordinator",
		Mode:   ModeAsync,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.HandoffIntent)
	assert.NotEmpty(t, result.SessionID)
	assert.Empty(t, result.Result)

	tracked, ok := f.tasks.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, task.StatusRunning, tracked.Status)
}

func TestSpawnRequiresAgentAndPrompt(t *testing.T) {
	f := newSpawnFixture(t)

	_, err := f.spawner.Spawn(context.Background(), Request{Prompt: "no agent"})
	assert.Equal(t, CodeMissingArgument, CodeOf(err))

	_, err = f.spawner.Spawn(context.Background(), Request{Agent: "reviewer"})
	assert.Equal(t, CodeMissingArgument, CodeOf(err))
}

func TestSpawnWithoutCallerIsNoContext(t *testing.T) {
	f := newSpawnFixture(t)

	_, err := f.spawner.Spawn(context.Background(), Request{
		Agent:  "reviewer",
		Prompt: "review pkg/task",
	})
	assert.Equal(t, CodeNoContext, CodeOf(err))
}

func TestSpawnUnknownAgentWithoutPassthrough(t *testing.T) {
	f := newSpawnFixture(t)

	strict := agent.NewRegistry("coordinator", agent.WithNativePassthrough(false))
	require.NoError(t, strict.Register(agent.Definition{Name: "reviewer", Public: true}))
	f.spawner = NewSpawner(f.fake, f.stream, strict, f.tasks, f.store, nil)

	_, err := f.spawner.Spawn(context.Background(), Request{
		Agent:  "mystery",
		Prompt: "do something",
		Caller: "coordinator",
	})
	assert.Equal(t, CodeAgentNotFound, CodeOf(err))

	// Registered agents still spawn.
	f.completeOnPrompt("done")
	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:   "reviewer",
		Prompt:  "review pkg/task",
		Caller:  "coordinator",
		Mode:    ModeSync,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestInternalAgentRequiresCoordinator(t *testing.T) {
	f := newSpawnFixture(t)

	_, err := f.spawner.Spawn(context.Background(), Request{
		Agent:  "archivist",
		Prompt: "archive this",
		Caller: "reviewer",
	})
	assert.Equal(t, CodeAccessDenied, CodeOf(err))

	f.completeOnPrompt("archived")
	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:   "archivist",
		Prompt:  "archive this",
		Caller:  "coordinator",
		Mode:    ModeSync,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRecursionDetection(t *testing.T) {
	f := newSpawnFixture(t)

	_, err := f.spawner.Spawn(context.Background(), Request{
		Agent:          "reviewer",
		Prompt:         "review again",
		Caller:         "coordinator",
		ExecutionStack: []string{"coordinator", "reviewer"},
	})
	assert.Equal(t, CodeRecursionDetected, CodeOf(err))

	deep := make([]string, 11)
	for i := range deep {
		deep[i] = "agent"
	}
	_, err = f.spawner.Spawn(context.Background(), Request{
		Agent:          "reviewer",
		Prompt:         "too deep",
		Caller:         "coordinator",
		ExecutionStack: deep,
	})
	assert.Equal(t, CodeRecursionDetected, CodeOf(err))
}

func TestPromptFailureMarksTaskFailed(t *testing.T) {
	f := newSpawnFixture(t)
	f.fake.PromptErr = assert.AnError

	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:  "reviewer",
		Prompt: "doomed",
		Caller: "coordinator",
	})
	assert.Equal(t, CodePromptFailed, CodeOf(err))
	assert.False(t, result.Success)

	failed := f.tasks.ByStatus(task.StatusFailed)
	require.Len(t, failed, 1)
}

func TestSpawnTimesOutWithoutTerminalEvent(t *testing.T) {
	f := newSpawnFixture(t)
	// No OnPrompt hook: the session never completes.

	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:   "reviewer",
		Prompt:  "never answers",
		Caller:  "coordinator",
		Mode:    ModeSync,
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.False(t, result.Success)

	tracked, ok := f.tasks.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, task.StatusTimeout, tracked.Status)

	failedEvents := f.stream.History(0, stream.Filter{Type: stream.EventAgentFailed})
	require.Len(t, failedEvents, 1)
}

func TestBlockingDialogueSetsContinuationHint(t *testing.T) {
	f := newSpawnFixture(t)
	f.completeOnPrompt(`{"dialogue_state":{"status":"needs_input","turn":1,"message_to_user":"which env?"}}`)

	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:   "reviewer",
		Prompt:  "deploy the service",
		Caller:  "coordinator",
		Mode:    ModeSync,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	require.NotNil(t, result.DialogueState)
	assert.Equal(t, DialogueNeedsInput, result.DialogueState.Status)
	assert.Equal(t, result.SessionID, result.ContinuationHint)
}

func TestSpawnPrependsAssembledContext(t *testing.T) {
	f := newSpawnFixture(t)
	require.NoError(t, f.store.Update("ses_parent", func(l *ledger.Ledger) error {
		l.AddDirective("always run the linter", "user")
		return nil
	}))
	f.completeOnPrompt("done")

	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:   "reviewer",
		Prompt:  "review pkg/task",
		Caller:  "coordinator",
		Mode:    ModeSync,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	prompts := f.fake.Prompts(result.SessionID)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "## Directives")
	assert.Contains(t, prompts[0], "always run the linter")
	assert.Contains(t, prompts[0], "review pkg/task")
}

func TestSpawnSkipsContextWhenPreservationDisabled(t *testing.T) {
	f := newSpawnFixture(t)
	f.spawner = NewSpawner(f.fake, f.stream, f.agents, f.tasks, f.store, nil,
		WithContextPreservation(false))

	require.NoError(t, f.store.Update("ses_parent", func(l *ledger.Ledger) error {
		l.AddDirective("always run the linter", "user")
		return nil
	}))
	f.completeOnPrompt("done")

	result, err := f.spawner.Spawn(context.Background(), Request{
		Agent:   "reviewer",
		Prompt:  "review pkg/task",
		Caller:  "coordinator",
		Mode:    ModeSync,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	prompts := f.fake.Prompts(result.SessionID)
	require.Len(t, prompts, 1)
	assert.Equal(t, "review pkg/task", prompts[0], "raw prompt, no injected context")
}

func TestLedgerTaskLifecycleEvents(t *testing.T) {
	f := newSpawnFixture(t)
	f.completeOnPrompt("shipped")

	_, err := f.spawner.Spawn(context.Background(), Request{
		Agent:           "reviewer",
		Prompt:          "ship it",
		Caller:          "coordinator",
		ParentSessionID: "ses_parent",
		Mode:            ModeSync,
		Timeout:         2 * time.Second,
		LedgerTaskID:    "lt_1",
	})
	require.NoError(t, err)

	started := f.stream.History(0, stream.Filter{Type: stream.EventLedgerTaskStarted})
	require.Len(t, started, 1)
	assert.Equal(t, "lt_1", started[0].PayloadString("task_id"))

	completed := f.stream.History(0, stream.Filter{Type: stream.EventLedgerTaskCompleted})
	require.Len(t, completed, 1)
	assert.Equal(t, "lt_1", completed[0].PayloadString("task_id"))
}

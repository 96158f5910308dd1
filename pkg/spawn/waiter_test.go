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

	"github.com/conductor-ai/conductor/pkg/stream"
)

func newWaiterStream(t *testing.T) *stream.Stream {
	t.Helper()
	s, err := stream.New(filepath.Join(t.TempDir(), "stream.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWaitSeesEventAlreadyInHistory(t *testing.T) {
	s := newWaiterStream(t)

	_, err := s.Append(stream.Input{Type: stream.EventAgentCompleted, StreamID: "ses_1"})
	require.NoError(t, err)

	outcome := WaitForCompletion(context.Background(), s, "ses_1", time.Second)
	require.False(t, outcome.TimedOut)
	require.NotNil(t, outcome.Event)
	assert.Equal(t, stream.EventAgentCompleted, outcome.Event.Type)
	assert.False(t, outcome.Idle)
}

func TestWaitSeesLateEvent(t *testing.T) {
	s := newWaiterStream(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = s.Append(stream.Input{Type: stream.EventAgentFailed, StreamID: "ses_1",
			Payload: map[string]any{"error": "boom"}})
	}()

	outcome := WaitForCompletion(context.Background(), s, "ses_1", 2*time.Second)
	require.False(t, outcome.TimedOut)
	require.NotNil(t, outcome.Event)
	assert.Equal(t, stream.EventAgentFailed, outcome.Event.Type)
}

func TestWaitIgnoresOtherSessions(t *testing.T) {
	s := newWaiterStream(t)

	_, err := s.Append(stream.Input{Type: stream.EventAgentCompleted, StreamID: "ses_other"})
	require.NoError(t, err)

	outcome := WaitForCompletion(context.Background(), s, "ses_1", 100*time.Millisecond)
	assert.True(t, outcome.TimedOut)
	assert.GreaterOrEqual(t, outcome.Elapsed, 100*time.Millisecond)
}

func TestWaitIdleMeansFetchResult(t *testing.T) {
	s := newWaiterStream(t)

	_, err := s.Append(stream.Input{Type: stream.EventSessionIdle, StreamID: "ses_1"})
	require.NoError(t, err)

	outcome := WaitForCompletion(context.Background(), s, "ses_1", time.Second)
	require.False(t, outcome.TimedOut)
	assert.True(t, outcome.Idle)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	s := newWaiterStream(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	outcome := WaitForCompletion(ctx, s, "ses_1", time.Minute)
	assert.True(t, outcome.TimedOut)
	assert.Less(t, outcome.Elapsed, time.Minute)
}

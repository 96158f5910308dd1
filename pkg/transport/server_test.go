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

package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/pkg/checkpoint"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/task"
)

type serverFixture struct {
	server      *Server
	tasks       *task.Registry
	checkpoints *checkpoint.Manager
	stream      *stream.Stream
	ts          *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	s, err := stream.New(filepath.Join(t.TempDir(), "stream.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tasks := task.NewRegistry()
	checkpoints := checkpoint.NewManager(s)
	server := New(tasks, checkpoints, s, nil, nil, "test")

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &serverFixture{
		server:      server,
		tasks:       tasks,
		checkpoints: checkpoints,
		stream:      s,
		ts:          ts,
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)

	var body map[string]string
	code := getJSON(t, f.ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestStatusReportsTasksAndOffsets(t *testing.T) {
	f := newServerFixture(t)

	id := f.tasks.Register(task.Descriptor{AgentName: "coder", Prompt: "p"})
	require.True(t, f.tasks.UpdateStatus(id, task.StatusRunning, "", ""))
	_, err := f.stream.Append(stream.Input{Type: stream.EventAgentSpawned, StreamID: "ses_1"})
	require.NoError(t, err)

	var body map[string]any
	code := getJSON(t, f.ts.URL+"/status", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["last_offset"])

	tasksSummary, ok := body["tasks"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, tasksSummary["running"])
	assert.EqualValues(t, 0, body["pending_checkpoints"])
}

func TestEventsFilteredBySessionAndType(t *testing.T) {
	f := newServerFixture(t)

	for _, in := range []stream.Input{
		{Type: stream.EventAgentSpawned, StreamID: "ses_a"},
		{Type: stream.EventAgentCompleted, StreamID: "ses_a"},
		{Type: stream.EventAgentCompleted, StreamID: "ses_b"},
	} {
		_, err := f.stream.Append(in)
		require.NoError(t, err)
	}

	var events []json.RawMessage
	code := getJSON(t, f.ts.URL+"/events?session_id=ses_a&type=agent.completed", &events)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, events, 1)
}

func TestCheckpointApprovalFlow(t *testing.T) {
	f := newServerFixture(t)

	id, decision, err := f.checkpoints.Request("ses_1", "deploy?",
		[]checkpoint.Option{{ID: "go", Label: "Deploy"}}, "coordinator", time.Minute)
	require.NoError(t, err)

	var listed []checkpoint.Checkpoint
	code := getJSON(t, f.ts.URL+"/checkpoints", &listed)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)

	var approved map[string]any
	code = postJSON(t, f.ts.URL+"/checkpoints/"+id+"/approve",
		`{"selected_option":"go","approved_by":"alice"}`, &approved)
	assert.Equal(t, http.StatusOK, code)

	d := <-decision
	assert.True(t, d.Approved)
	assert.Equal(t, "go", d.SelectedOption)

	// Approving again conflicts.
	var conflict map[string]any
	code = postJSON(t, f.ts.URL+"/checkpoints/"+id+"/approve",
		`{"selected_option":"go"}`, &conflict)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCheckpointRejectDefaultsReason(t *testing.T) {
	f := newServerFixture(t)

	id, decision, err := f.checkpoints.Request("ses_1", "risky?", nil, "coordinator", time.Minute)
	require.NoError(t, err)

	var rejected map[string]any
	code := postJSON(t, f.ts.URL+"/checkpoints/"+id+"/reject", `{}`, &rejected)
	assert.Equal(t, http.StatusOK, code)

	d := <-decision
	assert.Equal(t, "rejected via api", d.Reason)
}

func TestCheckpointRoutesDisabledWithoutManager(t *testing.T) {
	s, err := stream.New(filepath.Join(t.TempDir(), "stream.jsonl"))
	require.NoError(t, err)
	defer s.Close()

	server := New(task.NewRegistry(), nil, s, nil, nil, "test")
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	var body map[string]string
	code := getJSON(t, ts.URL+"/checkpoints", &body)
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestMetricsRouteAbsentWhenNil(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionPostsAndReturnsID(t *testing.T) {
	var got createSessionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ses_42"})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL)
	id, err := c.CreateSession(context.Background(), "ses_parent", "review task")
	require.NoError(t, err)
	assert.Equal(t, "ses_42", id)
	assert.Equal(t, "ses_parent", got.ParentID)
	assert.Equal(t, "review task", got.Title)
}

func TestPromptNormalizesUnexpectedEOF(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unexpected EOF", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL)
	err := c.Prompt(context.Background(), "ses_1", "coder", []Part{TextPart("go")})
	assert.NoError(t, err, "spurious EOF counts as accepted")

	err = c.PromptAsync(context.Background(), "ses_1", "coder", []Part{TextPart("go")})
	assert.NoError(t, err)
}

func TestPromptSurfacesRealErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL)
	err := c.Prompt(context.Background(), "ses_missing", "coder", []Part{TextPart("go")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "session not found")
}

func TestSessionStatusUnwrapsEntries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]map[string]string{
			"ses_1": {"type": "idle"},
			"ses_2": {"type": "busy"},
		})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL)
	status, err := c.SessionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionIdle, status["ses_1"])
	assert.Equal(t, SessionBusy, status["ses_2"])
}

func TestMessagesAndChildrenEscapeSessionIDs(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL)
	_, err := c.Messages(context.Background(), "ses/odd")
	require.NoError(t, err)
	_, err = c.Children(context.Background(), "ses/odd")
	require.NoError(t, err)

	require.Len(t, paths, 2)
	assert.Equal(t, "/session/ses%2Fodd/message", paths[0])
	assert.Equal(t, "/session/ses%2Fodd/children", paths[1])
}

func TestDeleteSession(t *testing.T) {
	var method, path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL)
	require.NoError(t, c.DeleteSession(context.Background(), "ses_1"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/session/ses_1", path)
}

func TestIsUnexpectedEOF(t *testing.T) {
	assert.False(t, IsUnexpectedEOF(nil))
	assert.False(t, IsUnexpectedEOF(errors.New("connection refused")))
	assert.True(t, IsUnexpectedEOF(errors.New("Unexpected EOF")))
	assert.True(t, IsUnexpectedEOF(errors.New("runtime POST /session/x/prompt: status 500: unexpected eof")))
}

func TestLastAssistantText(t *testing.T) {
	f := NewFake()
	id, err := f.CreateSession(context.Background(), "", "t")
	require.NoError(t, err)

	text, err := LastAssistantText(context.Background(), f, id)
	require.NoError(t, err)
	assert.Empty(t, text)

	f.AddAssistantMessage(id, "first")
	f.AddAssistantMessage(id, "second")

	text, err = LastAssistantText(context.Background(), f, id)
	require.NoError(t, err)
	assert.Equal(t, "second", text)
}

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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks to a runtime server over its REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = client }
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.client.Timeout = timeout }
}

// NewHTTPClient creates a runtime client for the given base URL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createSessionRequest struct {
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

// CreateSession creates a session, optionally parented.
func (c *HTTPClient) CreateSession(ctx context.Context, parentID, title string) (string, error) {
	var resp createSessionResponse
	err := c.do(ctx, http.MethodPost, "/session", createSessionRequest{
		ParentID: parentID,
		Title:    title,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

type promptRequest struct {
	Agent string `json:"agent"`
	Parts []Part `json:"parts"`
}

// Prompt dispatches a prompt and waits for the runtime to accept it.
// The runtime's "Unexpected EOF" quirk is normalized to success here so
// no caller has to special-case it.
func (c *HTTPClient) Prompt(ctx context.Context, sessionID, agent string, parts []Part) error {
	err := c.do(ctx, http.MethodPost,
		"/session/"+url.PathEscape(sessionID)+"/prompt",
		promptRequest{Agent: agent, Parts: parts}, nil)
	if IsUnexpectedEOF(err) {
		return nil
	}
	return err
}

// PromptAsync dispatches without waiting for acceptance.
func (c *HTTPClient) PromptAsync(ctx context.Context, sessionID, agent string, parts []Part) error {
	err := c.do(ctx, http.MethodPost,
		"/session/"+url.PathEscape(sessionID)+"/prompt_async",
		promptRequest{Agent: agent, Parts: parts}, nil)
	if IsUnexpectedEOF(err) {
		return nil
	}
	return err
}

type sessionStatusEntry struct {
	Type SessionState `json:"type"`
}

// SessionStatus returns the state of every known session.
func (c *HTTPClient) SessionStatus(ctx context.Context) (map[string]SessionState, error) {
	var raw map[string]sessionStatusEntry
	if err := c.do(ctx, http.MethodGet, "/session/status", nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]SessionState, len(raw))
	for id, entry := range raw {
		out[id] = entry.Type
	}
	return out, nil
}

// Messages returns a session's messages in order.
func (c *HTTPClient) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := c.do(ctx, http.MethodGet,
		"/session/"+url.PathEscape(sessionID)+"/message", nil, &out)
	return out, err
}

// Children returns the ids of a session's child sessions.
func (c *HTTPClient) Children(ctx context.Context, sessionID string) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet,
		"/session/"+url.PathEscape(sessionID)+"/children", nil, &out)
	return out, err
}

// DeleteSession removes a session.
func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete,
		"/session/"+url.PathEscape(sessionID), nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("runtime %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

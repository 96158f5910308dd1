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

// Package transport exposes the orchestrator's control surface over
// HTTP: health, status, recent events, checkpoint approval and metrics.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conductor-ai/conductor/pkg/actor"
	"github.com/conductor-ai/conductor/pkg/checkpoint"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/task"
)

// Server serves the control API.
type Server struct {
	tasks       *task.Registry
	checkpoints *checkpoint.Manager
	stream      *stream.Stream
	processor   *actor.Processor
	metrics     http.Handler
	version     string

	http *http.Server
}

// New wires a server. checkpoints, processor and metrics may be nil;
// their routes then report the feature as disabled.
func New(tasks *task.Registry, checkpoints *checkpoint.Manager, s *stream.Stream, processor *actor.Processor, metrics http.Handler, version string) *Server {
	return &Server{
		tasks:       tasks,
		checkpoints: checkpoints,
		stream:      s,
		processor:   processor,
		metrics:     metrics,
		version:     version,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)
	r.Route("/checkpoints", func(r chi.Router) {
		r.Get("/", s.handleListCheckpoints)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// ListenAndServe starts the HTTP server and blocks until it exits.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("Control API listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary := make(map[string]int)
	for status, n := range s.tasks.Summary() {
		summary[string(status)] = n
	}

	out := map[string]any{
		"version":     s.version,
		"tasks":       summary,
		"last_offset": s.stream.LastOffset(),
	}
	if s.processor != nil {
		state := s.processor.State()
		out["phase"] = state.Phase
		out["session_id"] = state.SessionID
		out["sub_agents"] = len(state.SubAgents)
		out["unverified_assumptions"] = state.UnverifiedAssumptions()
	}
	if s.checkpoints != nil {
		out["pending_checkpoints"] = len(s.checkpoints.Pending())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	filter := stream.Filter{
		StreamID: r.URL.Query().Get("session_id"),
		Type:     stream.EventType(r.URL.Query().Get("type")),
	}
	writeJSON(w, http.StatusOK, s.stream.History(limit, filter))
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusNotImplemented, "human-in-loop is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.checkpoints.Pending())
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusNotImplemented, "human-in-loop is disabled")
		return
	}

	var body struct {
		SelectedOption string `json:"selected_option"`
		ApprovedBy     string `json:"approved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ApprovedBy == "" {
		body.ApprovedBy = "api"
	}

	id := chi.URLParam(r, "id")
	if !s.checkpoints.Approve(id, body.SelectedOption, body.ApprovedBy) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("checkpoint %s is unknown or already resolved", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": true, "id": id})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusNotImplemented, "human-in-loop is disabled")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Reason == "" {
		body.Reason = "rejected via api"
	}

	id := chi.URLParam(r, "id")
	if !s.checkpoints.Reject(id, body.Reason) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("checkpoint %s is unknown or already resolved", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rejected": true, "id": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

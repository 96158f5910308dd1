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

// Package orchestrator assembles the orchestration services into one
// process-scoped application context with explicit startup and ordered
// shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/conductor-ai/conductor/pkg/actor"
	"github.com/conductor-ai/conductor/pkg/agent"
	"github.com/conductor-ai/conductor/pkg/checkpoint"
	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/learning"
	"github.com/conductor-ai/conductor/pkg/ledger"
	"github.com/conductor-ai/conductor/pkg/observability"
	"github.com/conductor-ai/conductor/pkg/recovery"
	"github.com/conductor-ai/conductor/pkg/runtime"
	"github.com/conductor-ai/conductor/pkg/spawn"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/supervisor"
	"github.com/conductor-ai/conductor/pkg/task"
)

// Orchestrator owns every orchestration service for one process.
type Orchestrator struct {
	Config      *config.Config
	Stream      *stream.Stream
	Tasks       *task.Registry
	Agents      *agent.Registry
	Runtime     runtime.Client
	Ledger      *ledger.Store
	Checkpoints *checkpoint.Manager
	Projector   *ledger.Projector
	Extractor   *learning.Extractor
	Learnings   *learning.SQLStore
	Spawner     *spawn.Spawner
	Supervisor  *supervisor.Supervisor
	Processor   *actor.Processor
	Metrics     *observability.OrchestratorMetrics

	sessionID string
}

// Option overrides wiring, primarily for tests.
type Option func(*Orchestrator)

// WithRuntime substitutes the runtime client.
func WithRuntime(rt runtime.Client) Option {
	return func(o *Orchestrator) { o.Runtime = rt }
}

// WithSessionID pins the root session id instead of generating one.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.sessionID = id }
}

// New builds the full service graph from cfg. Nothing starts running
// until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{Config: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.New().String()
	}

	var err error
	o.Stream, err = stream.New(cfg.StreamPath,
		stream.WithMaxSegmentSize(cfg.MaxStreamBytes()))
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	o.Tasks = task.NewRegistry()
	o.Agents = agent.NewRegistry(cfg.Coordinator,
		agent.WithNativePassthrough(cfg.NativeAgents()))
	for _, def := range cfg.Agents {
		if err := o.Agents.Register(def); err != nil {
			return nil, fmt.Errorf("register agent: %w", err)
		}
	}

	if o.Runtime == nil {
		o.Runtime = runtime.NewHTTPClient(cfg.RuntimeURL)
	}

	o.Ledger = ledger.NewStore(cfg.LedgerPath)
	o.Projector = ledger.NewProjector(o.Ledger, o.Stream, o.sessionID)

	if cfg.HumanInLoop() {
		o.Checkpoints = checkpoint.NewManager(o.Stream,
			checkpoint.WithDefaultTimeout(cfg.CheckpointTimeout()),
			checkpoint.WithSnapshots(cfg.CheckpointPath, cfg.MaxCheckpoints))
	}

	if cfg.LearningDBPath != "" {
		o.Learnings, err = learning.OpenStore(cfg.LearningDBPath)
		if err != nil {
			return nil, fmt.Errorf("open learning store: %w", err)
		}
	}
	o.Extractor = learning.NewExtractor(o.Stream, o.Learnings)

	var source spawn.LearningSource
	if o.Learnings != nil {
		source = o.Learnings
	}
	o.Spawner = spawn.NewSpawner(o.Runtime, o.Stream, o.Agents, o.Tasks, o.Ledger, source,
		spawn.WithContextPreservation(cfg.ContextPreservation()))

	o.Supervisor = supervisor.New(o.Tasks, o.Runtime, o.Stream, o.Ledger, o.Checkpoints,
		supervisor.Options{
			BaseInterval:   cfg.BaseInterval(),
			MaxInterval:    cfg.MaxInterval(),
			StuckThreshold: cfg.StuckThreshold(),
			Verbose:        cfg.Verbose,
		})

	o.Processor = actor.NewProcessor(o.Stream, o.Ledger, o.Runtime, cfg.ActorStateDir, o.sessionID)

	o.Metrics, err = observability.InitMetrics(ctx, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	observability.SetGlobalMetrics(o.Metrics)

	return o, nil
}

// SessionID returns the root session id for this process.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Start recovers persisted state and launches the background services.
func (o *Orchestrator) Start(ctx context.Context) (*recovery.Report, error) {
	recoverer := recovery.New(o.Stream, o.Ledger, o.Tasks, o.Checkpoints)
	report, err := recoverer.Run()
	if err != nil {
		return nil, err
	}
	if report.SessionID != "" {
		o.sessionID = report.SessionID
	}

	// Prefer the snapshot; replay only the events past its offset.
	if state, ok, err := o.Processor.LoadSnapshot(); err != nil {
		slog.Warn("Coordinator snapshot unreadable, replaying from scratch", "error", err)
	} else if ok {
		if _, err := o.Processor.ReplayFrom(state, state.EventOffset); err != nil {
			slog.Warn("Coordinator replay failed", "error", err)
		}
	} else if report.EventsReplayed > 0 {
		if _, err := o.Processor.ReplayFrom(actor.NewState(o.sessionID), 0); err != nil {
			slog.Warn("Coordinator replay failed", "error", err)
		}
	}

	o.Projector.Start()
	o.Extractor.Start()
	o.Supervisor.Start(ctx)

	slog.Info("Orchestrator started",
		"session_id", o.sessionID,
		"events_replayed", report.EventsReplayed,
		"tasks_hydrated", report.TasksHydrated,
		"checkpoints_pending", report.CheckpointsPending)
	return report, nil
}

// Shutdown stops everything in the required order: supervisor ticker,
// task registry, pending checkpoints, learning extractor, projector,
// stream, memory store.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.Supervisor.Stop()
	o.Tasks.Reset()
	if o.Checkpoints != nil {
		o.Checkpoints.Shutdown()
	}
	o.Extractor.Flush()
	o.Projector.Stop()

	var firstErr error
	if err := o.Stream.Close(); err != nil {
		firstErr = fmt.Errorf("close stream: %w", err)
	}
	if o.Learnings != nil {
		if err := o.Learnings.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close learning store: %w", err)
		}
	}

	slog.Info("Orchestrator stopped")
	return firstErr
}

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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/config/provider"
	"github.com/conductor-ai/conductor/pkg/orchestrator"
	"github.com/conductor-ai/conductor/pkg/transport"
)

// ServeCmd starts the orchestrator and its control API.
type ServeCmd struct {
	Host string `help:"Control API host." default:""`
	Port int    `help:"Control API port." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cli.Config != "" {
		if err := watchConfig(ctx, cli.Config); err != nil {
			slog.Warn("Config watching unavailable", "path", cli.Config, "error", err)
		}
	}

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := orch.Start(ctx); err != nil {
		return err
	}

	var metricsHandler http.Handler
	if h := orch.Metrics.Handler(); h != nil {
		metricsHandler = h
	}
	server := transport.New(orch.Tasks, orch.Checkpoints, orch.Stream,
		orch.Processor, metricsHandler, versionString())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(
			fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("Control API failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Control API shutdown failed", "error", err)
	}
	return orch.Shutdown(shutdownCtx)
}

func versionString() string {
	return "dev"
}

// watchConfig revalidates the config file on every edit. Operational
// settings require a restart to take effect; the watch surfaces broken
// edits immediately instead of at the next restart.
func watchConfig(ctx context.Context, path string) error {
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return err
	}
	changes, err := p.Watch(ctx)
	if err != nil {
		p.Close()
		return err
	}

	go func() {
		defer p.Close()
		for range changes {
			data, err := p.Load(ctx)
			if err != nil {
				slog.Warn("Config changed but could not be read", "path", path, "error", err)
				continue
			}
			if _, err := config.Parse(data); err != nil {
				slog.Warn("Config changed and no longer validates", "path", path, "error", err)
				continue
			}
			slog.Info("Config changed and validates, restart to apply", "path", path)
		}
	}()
	return nil
}

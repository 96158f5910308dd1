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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/conductor-ai/conductor/pkg/checkpoint"
	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/ledger"
	"github.com/conductor-ai/conductor/pkg/recovery"
	"github.com/conductor-ai/conductor/pkg/stream"
	"github.com/conductor-ai/conductor/pkg/task"
)

// ResumeCmd replays the event log offline and prints what a restart
// would recover, without starting any background services.
type ResumeCmd struct {
	JSON bool `help:"Emit the report as JSON."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	s, err := stream.New(cfg.StreamPath,
		stream.WithMaxSegmentSize(cfg.MaxStreamBytes()))
	if err != nil {
		return err
	}
	defer s.Close()

	tasks := task.NewRegistry()
	store := ledger.NewStore(cfg.LedgerPath)
	checkpoints := checkpoint.NewManager(s,
		checkpoint.WithDefaultTimeout(cfg.CheckpointTimeout()))

	report, err := recovery.New(s, store, tasks, checkpoints).Run()
	if err != nil {
		return err
	}

	if c.JSON {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	fmt.Printf("Events replayed:     %d\n", report.EventsReplayed)
	fmt.Printf("Last offset:         %d\n", report.LastOffset)
	fmt.Printf("Ledger rebuilt:      %v\n", report.LedgerRebuilt)
	fmt.Printf("Tasks hydrated:      %d\n", report.TasksHydrated)
	fmt.Printf("Pending checkpoints: %d\n", report.CheckpointsPending)
	if report.SessionID != "" {
		fmt.Printf("Session:             %s\n", report.SessionID)
	}
	return nil
}

// StatusCmd queries a running orchestrator's control API.
type StatusCmd struct {
	Addr string `help:"Control API address." default:"http://127.0.0.1:8417"`
}

func (c *StatusCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Addr+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("orchestrator unreachable at %s: %w", c.Addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

// ValidateCmd checks a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("validate requires --config")
	}
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s is valid\n", cli.Config)
	fmt.Printf("  stream:      %s\n", cfg.StreamPath)
	fmt.Printf("  ledger:      %s\n", cfg.LedgerPath)
	fmt.Printf("  coordinator: %s\n", cfg.Coordinator)
	fmt.Printf("  agents:      %d\n", len(cfg.Agents))
	return nil
}

// SchemaCmd generates a JSON Schema for the configuration file format.
type SchemaCmd struct {
	Compact bool `short:"C" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://conductor-ai.dev/schemas/config.json"
	schema.Title = "Conductor Configuration Schema"
	schema.Description = "Configuration schema for the conductor orchestration core"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(schema)
}

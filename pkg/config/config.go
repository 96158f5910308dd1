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

// Package config defines orchestrator configuration: file layout,
// supervision intervals, checkpoint policy and agent definitions.
//
// Config files are YAML with ${VAR} and ${VAR:-default} environment
// expansion applied before decoding.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/conductor-ai/conductor/pkg/agent"
	"github.com/conductor-ai/conductor/pkg/config/provider"
	"github.com/conductor-ai/conductor/pkg/observability"
)

// Path defaults, relative to the project root.
const (
	DefaultStreamPath     = ".opencode/orchestration_stream.jsonl"
	DefaultCheckpointPath = ".opencode/checkpoints"
	DefaultLedgerPath     = ".opencode/LEDGER.md"
	DefaultActorStateDir  = ".opencode"
	DefaultLearningDBPath = ".opencode/learnings.db"
)

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// Config is the full orchestrator configuration.
type Config struct {
	StreamPath     string `yaml:"stream_path" mapstructure:"stream_path"`
	CheckpointPath string `yaml:"checkpoint_path" mapstructure:"checkpoint_path"`
	LedgerPath     string `yaml:"ledger_path" mapstructure:"ledger_path"`
	ActorStateDir  string `yaml:"actor_state_dir" mapstructure:"actor_state_dir"`
	LearningDBPath string `yaml:"learning_db_path" mapstructure:"learning_db_path"`

	MaxStreamSizeMB     int  `yaml:"max_stream_size_mb" mapstructure:"max_stream_size_mb"`
	MaxCheckpoints      int  `yaml:"max_checkpoints" mapstructure:"max_checkpoints"`
	CheckpointTimeoutMS int  `yaml:"checkpoint_timeout_ms" mapstructure:"checkpoint_timeout_ms"`
	BaseIntervalMS      int  `yaml:"base_interval_ms" mapstructure:"base_interval_ms"`
	MaxIntervalMS       int  `yaml:"max_interval_ms" mapstructure:"max_interval_ms"`
	StuckThresholdMS    int  `yaml:"stuck_threshold_ms" mapstructure:"stuck_threshold_ms"`
	Verbose             bool `yaml:"verbose" mapstructure:"verbose"`

	EnableContextPreservation *bool `yaml:"enable_context_preservation" mapstructure:"enable_context_preservation"`
	EnableHumanInLoop         *bool `yaml:"enable_human_in_loop" mapstructure:"enable_human_in_loop"`
	AllowNativeAgents         *bool `yaml:"allow_native_agents" mapstructure:"allow_native_agents"`

	RuntimeURL  string             `yaml:"runtime_url" mapstructure:"runtime_url"`
	Coordinator string             `yaml:"coordinator" mapstructure:"coordinator"`
	Agents      []agent.Definition `yaml:"agents" mapstructure:"agents"`

	Server  ServerConfig                `yaml:"server" mapstructure:"server"`
	Logger  LoggerConfig                `yaml:"logger" mapstructure:"logger"`
	Metrics observability.MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// Default returns a config with every recognized option at its default.
func Default() *Config {
	yes := true
	return &Config{
		StreamPath:                DefaultStreamPath,
		CheckpointPath:            DefaultCheckpointPath,
		LedgerPath:                DefaultLedgerPath,
		ActorStateDir:             DefaultActorStateDir,
		LearningDBPath:            DefaultLearningDBPath,
		MaxStreamSizeMB:           10,
		MaxCheckpoints:            20,
		CheckpointTimeoutMS:       300_000,
		BaseIntervalMS:            30_000,
		MaxIntervalMS:             120_000,
		StuckThresholdMS:          30_000,
		EnableContextPreservation: &yes,
		EnableHumanInLoop:         &yes,
		AllowNativeAgents:         &yes,
		RuntimeURL:                "http://127.0.0.1:4096",
		Coordinator:               "coordinator",
		Logger:                    LoggerConfig{Level: "info", Format: "simple"},
		Server:                    ServerConfig{Host: "127.0.0.1", Port: 8417},
	}
}

// Load reads, expands and decodes config from a provider, layered over
// the defaults.
func Load(ctx context.Context, p provider.Provider) (*Config, error) {
	data, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	expandTree(raw)

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects incoherent settings.
func (c *Config) Validate() error {
	if c.StreamPath == "" {
		return fmt.Errorf("stream_path cannot be empty")
	}
	if c.MaxStreamSizeMB <= 0 {
		return fmt.Errorf("max_stream_size_mb must be positive")
	}
	if c.MaxCheckpoints <= 0 {
		return fmt.Errorf("max_checkpoints must be positive")
	}
	if c.BaseIntervalMS <= 0 || c.MaxIntervalMS <= 0 {
		return fmt.Errorf("supervision intervals must be positive")
	}
	if c.BaseIntervalMS > c.MaxIntervalMS {
		return fmt.Errorf("base_interval_ms (%d) exceeds max_interval_ms (%d)",
			c.BaseIntervalMS, c.MaxIntervalMS)
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent definitions require a name")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("duplicate agent definition: %s", a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// Duration accessors.

func (c *Config) CheckpointTimeout() time.Duration {
	return time.Duration(c.CheckpointTimeoutMS) * time.Millisecond
}

func (c *Config) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalMS) * time.Millisecond
}

func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMS) * time.Millisecond
}

func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMS) * time.Millisecond
}

func (c *Config) MaxStreamBytes() int64 {
	return int64(c.MaxStreamSizeMB) * 1024 * 1024
}

// ContextPreservation reports whether handoff context injection is on.
func (c *Config) ContextPreservation() bool {
	return c.EnableContextPreservation == nil || *c.EnableContextPreservation
}

// HumanInLoop reports whether checkpoints are enabled.
func (c *Config) HumanInLoop() bool {
	return c.EnableHumanInLoop == nil || *c.EnableHumanInLoop
}

// NativeAgents reports whether unregistered agent names pass through to
// the runtime. When off, spawning an unknown agent is AGENT_NOT_FOUND.
func (c *Config) NativeAgents() bool {
	return c.AllowNativeAgents == nil || *c.AllowNativeAgents
}

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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/pkg/agent"
)

func agentDef(name string) agent.Definition {
	return agent.Definition{Name: name}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.BaseInterval())
	assert.Equal(t, 120*time.Second, cfg.MaxInterval())
	assert.Equal(t, 30*time.Second, cfg.StuckThreshold())
	assert.Equal(t, 5*time.Minute, cfg.CheckpointTimeout())
	assert.Equal(t, int64(10*1024*1024), cfg.MaxStreamBytes())
	assert.True(t, cfg.ContextPreservation())
	assert.True(t, cfg.HumanInLoop())
	assert.Equal(t, "coordinator", cfg.Coordinator)
}

func TestParseLayersOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
stream_path: /var/lib/conductor/stream.jsonl
base_interval_ms: 10000
coordinator: orchestrator
agents:
  - name: reviewer
    public: true
    timeout: 5m
  - name: archivist
    requires_context: true
server:
  port: 9000
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/conductor/stream.jsonl", cfg.StreamPath)
	assert.Equal(t, 10*time.Second, cfg.BaseInterval())
	assert.Equal(t, "orchestrator", cfg.Coordinator)
	assert.Equal(t, DefaultLedgerPath, cfg.LedgerPath, "unset fields keep defaults")
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	require.Len(t, cfg.Agents, 2)
	assert.True(t, cfg.Agents[0].Public)
	assert.Equal(t, 5*time.Minute, cfg.Agents[0].Timeout)
	assert.True(t, cfg.Agents[1].RequiresContext)
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("CONDUCTOR_STREAM", "/tmp/expanded.jsonl")

	cfg, err := Parse([]byte(`
stream_path: ${CONDUCTOR_STREAM}
ledger_path: ${CONDUCTOR_LEDGER:-/tmp/fallback.md}
runtime_url: ${CONDUCTOR_RUNTIME:-http://localhost:4096}
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/expanded.jsonl", cfg.StreamPath)
	assert.Equal(t, "/tmp/fallback.md", cfg.LedgerPath, "unset var takes the default")
	assert.Equal(t, "http://localhost:4096", cfg.RuntimeURL)
}

func TestParseExpandsInsideAgentList(t *testing.T) {
	t.Setenv("REVIEW_AGENT", "strict-reviewer")

	cfg, err := Parse([]byte(`
agents:
  - name: ${REVIEW_AGENT}
`))
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "strict-reviewer", cfg.Agents[0].Name)
}

func TestParseDisablesHumanInLoop(t *testing.T) {
	cfg, err := Parse([]byte(`enable_human_in_loop: false`))
	require.NoError(t, err)
	assert.False(t, cfg.HumanInLoop())
	assert.True(t, cfg.ContextPreservation(), "independent toggles")
}

func TestParseDisablesNativeAgents(t *testing.T) {
	cfg, err := Parse([]byte(`allow_native_agents: false`))
	require.NoError(t, err)
	assert.False(t, cfg.NativeAgents())
	assert.True(t, Default().NativeAgents(), "pass-through is the default")
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte(`stream_path: [unclosed`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty stream path", func(c *Config) { c.StreamPath = "" }},
		{"non-positive stream size", func(c *Config) { c.MaxStreamSizeMB = 0 }},
		{"non-positive checkpoint cap", func(c *Config) { c.MaxCheckpoints = -1 }},
		{"zero intervals", func(c *Config) { c.BaseIntervalMS = 0 }},
		{"base above max", func(c *Config) { c.BaseIntervalMS = 200_000 }},
		{"unnamed agent", func(c *Config) {
			c.Agents = append(c.Agents, agentDef(""))
		}},
		{"duplicate agents", func(c *Config) {
			c.Agents = append(c.Agents, agentDef("twin"), agentDef("twin"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandEnvVarsForms(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_VALUE", "resolved")

	assert.Equal(t, "resolved", expandEnvVars("${CONDUCTOR_TEST_VALUE}"))
	assert.Equal(t, "resolved", expandEnvVars("$CONDUCTOR_TEST_VALUE"))
	assert.Equal(t, "resolved", expandEnvVars("${CONDUCTOR_TEST_VALUE:-other}"))
	assert.Equal(t, "fallback", expandEnvVars("${CONDUCTOR_TEST_UNSET:-fallback}"))
	assert.Equal(t, "", expandEnvVars("${CONDUCTOR_TEST_UNSET}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}

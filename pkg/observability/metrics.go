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

// Package observability exposes orchestration metrics through an
// OpenTelemetry meter backed by a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig enables the metrics pipeline.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// InitMetrics builds the meter and instrument set. Disabled config
// returns an inert recorder.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*OrchestratorMetrics, error) {
	if !cfg.Enabled {
		return &OrchestratorMetrics{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	meter := meterProvider.Meter("conductor")

	m := &OrchestratorMetrics{registry: registry}

	if m.spawnDuration, err = meter.Float64Histogram(
		"conductor_spawn_duration_seconds",
		metric.WithDescription("Sub-agent spawn duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create spawn duration histogram: %w", err)
	}
	if m.spawnsTotal, err = meter.Int64Counter(
		"conductor_spawns_total",
		metric.WithDescription("Total sub-agent spawns"),
	); err != nil {
		return nil, fmt.Errorf("failed to create spawns counter: %w", err)
	}
	if m.spawnErrorsTotal, err = meter.Int64Counter(
		"conductor_spawn_errors_total",
		metric.WithDescription("Total failed spawns"),
	); err != nil {
		return nil, fmt.Errorf("failed to create spawn errors counter: %w", err)
	}
	if m.eventsTotal, err = meter.Int64Counter(
		"conductor_events_appended_total",
		metric.WithDescription("Total events appended to the stream"),
	); err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}
	if m.supervisorTicks, err = meter.Int64Counter(
		"conductor_supervisor_ticks_total",
		metric.WithDescription("Total supervisor ticks"),
	); err != nil {
		return nil, fmt.Errorf("failed to create supervisor ticks counter: %w", err)
	}
	if m.taskRetriesTotal, err = meter.Int64Counter(
		"conductor_task_retries_total",
		metric.WithDescription("Total task retries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task retries counter: %w", err)
	}
	if m.checkpointsTotal, err = meter.Int64Counter(
		"conductor_checkpoints_total",
		metric.WithDescription("Total checkpoint requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints counter: %w", err)
	}
	if m.ledgerWritesTotal, err = meter.Int64Counter(
		"conductor_ledger_writes_total",
		metric.WithDescription("Total ledger projection writes"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ledger writes counter: %w", err)
	}

	return m, nil
}

// Handler returns the Prometheus scrape handler, or nil when metrics are
// disabled.
func (m *OrchestratorMetrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

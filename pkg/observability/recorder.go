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

package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics is the recording surface the orchestrator components use. All
// implementations must be safe for nil receivers so call sites never
// guard.
type Metrics interface {
	RecordSpawn(ctx context.Context, agent string, duration time.Duration, err error)
	RecordEvent(ctx context.Context, eventType string)
	RecordSupervisorTick(ctx context.Context)
	RecordTaskRetry(ctx context.Context, agent string)
	RecordCheckpoint(ctx context.Context, resolution string)
	RecordLedgerWrite(ctx context.Context)
}

// OrchestratorMetrics records to OpenTelemetry instruments exported via
// Prometheus. The zero value is an inert recorder.
type OrchestratorMetrics struct {
	registry *prometheus.Registry

	spawnDuration     metric.Float64Histogram
	spawnsTotal       metric.Int64Counter
	spawnErrorsTotal  metric.Int64Counter
	eventsTotal       metric.Int64Counter
	supervisorTicks   metric.Int64Counter
	taskRetriesTotal  metric.Int64Counter
	checkpointsTotal  metric.Int64Counter
	ledgerWritesTotal metric.Int64Counter
}

func (m *OrchestratorMetrics) RecordSpawn(ctx context.Context, agent string, duration time.Duration, err error) {
	if m == nil || m.spawnDuration == nil || m.spawnsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("agent", agent),
	}
	m.spawnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.spawnsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.spawnErrorsTotal != nil {
		m.spawnErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *OrchestratorMetrics) RecordEvent(ctx context.Context, eventType string) {
	if m == nil || m.eventsTotal == nil {
		return
	}
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *OrchestratorMetrics) RecordSupervisorTick(ctx context.Context) {
	if m == nil || m.supervisorTicks == nil {
		return
	}
	m.supervisorTicks.Add(ctx, 1)
}

func (m *OrchestratorMetrics) RecordTaskRetry(ctx context.Context, agent string) {
	if m == nil || m.taskRetriesTotal == nil {
		return
	}
	m.taskRetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

func (m *OrchestratorMetrics) RecordCheckpoint(ctx context.Context, resolution string) {
	if m == nil || m.checkpointsTotal == nil {
		return
	}
	m.checkpointsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("resolution", resolution)))
}

func (m *OrchestratorMetrics) RecordLedgerWrite(ctx context.Context) {
	if m == nil || m.ledgerWritesTotal == nil {
		return
	}
	m.ledgerWritesTotal.Add(ctx, 1)
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed recorder, or a no-op when none
// was set.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return NoopMetrics{}
	}
	return globalMetrics
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records queue-depth, step-duration, and retry/failure
// counts. It is backed by the OpenTelemetry metrics SDK exporting through
// a Prometheus collector, so paigeant_* series show up on the same
// /metrics endpoint a Prometheus scraper already expects.
type MetricsCollector struct {
	mp       *sdkmetric.MeterProvider
	exporter *prometheus.Exporter

	workflowsTotal  metric.Int64Counter
	stepsTotal      metric.Int64Counter
	retriesTotal    metric.Int64Counter
	workflowLatency metric.Float64Histogram
	stepLatency     metric.Float64Histogram

	queueDepthMu sync.RWMutex
	queueDepth   map[string]int64
}

// NewMetricsCollector builds a MetricsCollector with its own Prometheus
// exporter and meter provider. Callers expose Handler() on whatever HTTP
// server they already run.
func NewMetricsCollector() (*MetricsCollector, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := mp.Meter("paigeant")

	mc := &MetricsCollector{
		mp:         mp,
		exporter:   exporter,
		queueDepth: make(map[string]int64),
	}

	mc.workflowsTotal, err = meter.Int64Counter(
		"paigeant_workflows_total",
		metric.WithDescription("Total number of workflows dispatched, by terminal status"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return nil, err
	}

	mc.stepsTotal, err = meter.Int64Counter(
		"paigeant_steps_total",
		metric.WithDescription("Total number of activity steps executed, by agent and status"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	mc.retriesTotal, err = meter.Int64Counter(
		"paigeant_step_retries_total",
		metric.WithDescription("Total number of step retries issued after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	mc.workflowLatency, err = meter.Float64Histogram(
		"paigeant_workflow_duration_seconds",
		metric.WithDescription("End-to-end workflow duration from dispatch to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.stepLatency, err = meter.Float64Histogram(
		"paigeant_step_duration_seconds",
		metric.WithDescription("Activity execution duration per step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"paigeant_queue_depth",
		metric.WithDescription("Number of unacked messages per transport topic"),
		metric.WithUnit("{message}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			mc.queueDepthMu.RLock()
			defer mc.queueDepthMu.RUnlock()
			for topic, depth := range mc.queueDepth {
				observer.Observe(depth, metric.WithAttributes(attribute.String("topic", topic)))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordStepComplete records one activity invocation's outcome and
// duration, tagged by agent name and status (completed/failed).
func (mc *MetricsCollector) RecordStepComplete(ctx context.Context, agentName, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("agent_name", agentName),
		attribute.String("status", status),
	)
	mc.stepsTotal.Add(ctx, 1, attrs)
	mc.stepLatency.Record(ctx, duration.Seconds(), attrs)
}

// RecordRetry records a transient step failure that will be retried.
func (mc *MetricsCollector) RecordRetry(ctx context.Context, agentName string) {
	mc.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_name", agentName)))
}

// RecordWorkflowComplete records a workflow reaching a terminal status
// (completed/failed) and its end-to-end duration.
func (mc *MetricsCollector) RecordWorkflowComplete(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	mc.workflowsTotal.Add(ctx, 1, attrs)
	mc.workflowLatency.Record(ctx, duration.Seconds(), attrs)
}

// SetQueueDepth records the current unacked-message depth for one
// transport topic, as last observed by a dispatcher or worker poll.
func (mc *MetricsCollector) SetQueueDepth(topic string, depth int64) {
	mc.queueDepthMu.Lock()
	defer mc.queueDepthMu.Unlock()
	mc.queueDepth[topic] = depth
}

// Handler exposes the Prometheus scrape endpoint for the metrics this
// collector has registered.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown releases the underlying meter provider.
func (mc *MetricsCollector) Shutdown(ctx context.Context) error {
	return mc.mp.Shutdown(ctx)
}

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

// Package metrics exposes Prometheus gauges/counters for fleet and queue
// observability: subscribed runner count, dispatch counts per runner, step
// completion outcomes, and outbound event-channel depth.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the coordinator's Prometheus collectors. The zero value is
// not usable; construct with New.
type Metrics struct {
	registry *prometheus.Registry

	RunnersSubscribed  prometheus.Gauge
	StepsDispatched    *prometheus.CounterVec
	StepsCompleted     *prometheus.CounterVec
	OutboundDropped    *prometheus.CounterVec
	OutboundQueueDepth *prometheus.GaugeVec
	SchedulerPicks     *prometheus.CounterVec
}

// New returns a Metrics registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunnersSubscribed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "astrorun",
			Subsystem: "coordinator",
			Name:      "runners_subscribed",
			Help:      "Number of runners currently subscribed to the coordinator.",
		}),
		StepsDispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "astrorun",
			Subsystem: "coordinator",
			Name:      "steps_dispatched_total",
			Help:      "Steps dispatched to a runner, labeled by runner id.",
		}, []string{"runner_id"}),
		StepsCompleted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "astrorun",
			Subsystem: "coordinator",
			Name:      "steps_completed_total",
			Help:      "Steps completed, labeled by terminal result kind.",
		}, []string{"result"}),
		OutboundDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "astrorun",
			Subsystem: "coordinator",
			Name:      "outbound_events_dropped_total",
			Help:      "Outbound events dropped due to a full per-runner channel or rate limit.",
		}, []string{"runner_id"}),
		OutboundQueueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "astrorun",
			Subsystem: "coordinator",
			Name:      "outbound_queue_depth",
			Help:      "Current depth of a runner's outbound event channel.",
		}, []string{"runner_id"}),
		SchedulerPicks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "astrorun",
			Subsystem: "scheduler",
			Name:      "picks_total",
			Help:      "Runner selections made by the scheduler, labeled by runner id and step class (docker/host).",
		}, []string{"runner_id", "class"}),
	}
	return m
}

// Handler returns the HTTP handler serving this registry's metrics page.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

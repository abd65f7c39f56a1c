// Copyright 2026 The Toolgate Authors
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

package enforce

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks pipeline outcomes on a private registry so embedding
// applications never collide with the default registry.
type Metrics struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	evalDuration *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec
	execFailures prometheus.Counter
}

// NewMetrics creates a metrics set on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_decisions_total",
				Help: "Tool call decisions by outcome and terminating layer.",
			},
			[]string{"decision", "layer"},
		),
		evalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_pipeline_duration_seconds",
				Help:    "End-to-end pipeline duration per tool call.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"decision"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_rate_limited_total",
				Help: "Tool calls rejected by the rate limiter, by scope key.",
			},
			[]string{"scope_key"},
		),
		execFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgate_execution_failures_total",
				Help: "Tool callables that returned an error after authorization.",
			},
		),
	}

	m.registry.MustRegister(m.decisions, m.evalDuration, m.rateLimited, m.execFailures)
	return m
}

// Handler returns an HTTP handler exposing this metrics set in
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeDecision(decision, layer string, seconds float64) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, layer).Inc()
	m.evalDuration.WithLabelValues(decision).Observe(seconds)
}

func (m *Metrics) observeRateLimited(scopeKey string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scopeKey).Inc()
}

func (m *Metrics) observeExecFailure() {
	if m == nil {
		return
	}
	m.execFailures.Inc()
}

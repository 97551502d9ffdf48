// Copyright 2025 VeilGate
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

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================
// Prometheus Metrics
// ============================================================

var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilgate_requests_total",
			Help: "Total HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veilgate_request_duration_seconds",
			Help:    "HTTP request duration by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	promPolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilgate_policy_decisions_total",
			Help: "Per-fragment policy decisions by kind",
		},
		[]string{"decision"},
	)
	promRedactionsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veilgate_redactions_applied_total",
			Help: "Fragments whose text was changed by redaction",
		},
	)
	promInsufficientEvidence = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veilgate_insufficient_evidence_total",
			Help: "Queries answered with the insufficient-evidence watermark",
		},
	)
	promBackPressureRejects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veilgate_backpressure_rejects_total",
			Help: "Requests rejected because the in-flight limit was reached",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promPolicyDecisions)
	prometheus.MustRegister(promRedactionsApplied)
	prometheus.MustRegister(promInsufficientEvidence)
	prometheus.MustRegister(promBackPressureRejects)
}

// Copyright 2025 Agentic World, LLC (Sherin Thomas)
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

package omnisweep

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. Construct with an
// explicit registerer; a nil Metrics on the pipeline disables recording.
type Metrics struct {
	TasksTotal    *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
	ItemsAccepted *prometheus.CounterVec
	ItemsRejected *prometheus.CounterVec
	RetriesTotal  *prometheus.CounterVec
	CredsInvalid  *prometheus.CounterVec
}

// NewMetrics creates and registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisweep",
			Name:      "tasks_total",
			Help:      "Collection tasks by terminal state.",
		}, []string{"source", "state"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnisweep",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of collection tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"source"}),
		ItemsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisweep",
			Name:      "items_accepted_total",
			Help:      "Items that matched criteria and were persisted.",
		}, []string{"source"}),
		ItemsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisweep",
			Name:      "items_rejected_total",
			Help:      "Items dropped, by reason (unmatched, duplicate, malformed).",
		}, []string{"source", "reason"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisweep",
			Name:      "retries_total",
			Help:      "Retry attempts, by trigger.",
		}, []string{"source", "reason"}),
		CredsInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisweep",
			Name:      "credentials_invalidated_total",
			Help:      "Credentials marked invalid during collection.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.TasksTotal, m.TaskDuration, m.ItemsAccepted,
		m.ItemsRejected, m.RetriesTotal, m.CredsInvalid)
	return m
}

func (m *Metrics) taskFinished(source string, state TaskState, seconds float64) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(source, string(state)).Inc()
	m.TaskDuration.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) itemAccepted(source string) {
	if m == nil {
		return
	}
	m.ItemsAccepted.WithLabelValues(source).Inc()
}

func (m *Metrics) itemRejected(source, reason string) {
	if m == nil {
		return
	}
	m.ItemsRejected.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) retried(source, reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) credentialInvalidated(source string) {
	if m == nil {
		return
	}
	m.CredsInvalid.WithLabelValues(source).Inc()
}

// Copyright 2024 The kubegems.io Authors
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

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ticketflow"

type metrics struct {
	nodeExecutions *prometheus.CounterVec
	operations     *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "node_executions_total",
			Help:      "activity executions by component and resulting state",
		}, []string{"component", "state"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "operations_total",
			Help:      "control operations by result",
		}, []string{"operation", "result"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "node_duration_seconds",
			Help:      "activity execution duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"component"}),
	}
	if reg != nil {
		reg.MustRegister(m.nodeExecutions, m.operations, m.nodeDuration)
	}
	return m
}

func (m *metrics) operation(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

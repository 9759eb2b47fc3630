// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runnable

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for a container.  A nil
// *Metrics records nothing.
type Metrics struct {
	launches *prometheus.CounterVec
	exits    *prometheus.CounterVec
	restarts *prometheus.CounterVec
	reports  *prometheus.CounterVec
	clipped  *prometheus.CounterVec
	live     *prometheus.GaugeVec
	pending  prometheus.Gauge
	backoff  prometheus.Histogram
}

// NewMetrics registers the container collectors with reg.  The container
// name becomes a constant label.
func NewMetrics(reg prometheus.Registerer, container string) *Metrics {
	f := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"container": container}, reg))
	return &Metrics{
		launches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "runnable_launches_total",
			Help: "Service incarnations launched.",
		}, []string{"service", "strategy"}),
		exits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "runnable_exits_total",
			Help: "Service incarnations that exited, by outcome.",
		}, []string{"service", "status"}),
		restarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "runnable_restarts_total",
			Help: "Relaunches, by reason.",
		}, []string{"service", "reason"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "runnable_errors_total",
			Help: "Errors raised by service bodies.",
		}, []string{"service"}),
		clipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "runnable_clipped_total",
			Help: "Launch batches clipped to the service limit.",
		}, []string{"service"}),
		live: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runnable_instances",
			Help: "Live service instances.",
		}, []string{"service"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "runnable_backoff_pending",
			Help: "Instances waiting out a backoff delay.",
		}),
		backoff: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "runnable_backoff_seconds",
			Help:    "Scheduled backoff delays.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (m *Metrics) launched(inst *Instance) {
	if m == nil {
		return
	}
	kind := "unknown"
	if ref := inst.Reference(); ref != nil {
		kind = string(ref.Kind())
	}
	m.launches.WithLabelValues(inst.Name(), kind).Inc()
	m.live.WithLabelValues(inst.Name()).Inc()
}

func (m *Metrics) exited(inst *Instance, s *Status) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(inst.Name(), s.String()).Inc()
	m.live.WithLabelValues(inst.Name()).Dec()
}

func (m *Metrics) restarted(inst *Instance, reason string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(inst.Name(), reason).Inc()
}

func (m *Metrics) reported(inst *Instance) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(inst.Name()).Inc()
}

func (m *Metrics) clip(name string) {
	if m == nil {
		return
	}
	m.clipped.WithLabelValues(name).Inc()
}

func (m *Metrics) scheduled(d time.Duration, pending int) {
	if m == nil {
		return
	}
	m.backoff.Observe(d.Seconds())
	m.pending.Set(float64(pending))
}

func (m *Metrics) setPending(pending int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
}

// Package statshttp is the read-only stats HTTP surface spec.md §6 leaves
// in scope: a Prometheus registry exposing counters/gauges for message
// dispatch, stage lifecycle, session lifecycle, pool usage, and mesh
// delivery, served over plain net/http the same way the teacher's servers
// bind a net/http.Server to a single address.
package statshttp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge this surface exposes. A zero Metrics is
// not usable; construct with New.
type Metrics struct {
	DispatchedMessages *prometheus.CounterVec
	ActiveStages        prometheus.Gauge
	ActiveSessions       prometheus.Gauge
	PoolRents           *prometheus.CounterVec
	PoolReturns         *prometheus.CounterVec
	MeshSendFailures    *prometheus.CounterVec
}

// New registers and returns the metric set on reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// tests free of cross-test registration collisions.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DispatchedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playhouse",
			Name:      "dispatched_messages_total",
			Help:      "Messages dispatched to stages or API handlers, by server role.",
		}, []string{"role"}),
		ActiveStages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "playhouse",
			Name:      "active_stages",
			Help:      "Stages currently resident in the stage pool.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "playhouse",
			Name:      "active_sessions",
			Help:      "Client sessions currently connected to this Play server.",
		}),
		PoolRents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playhouse",
			Name:      "payload_pool_rents_total",
			Help:      "Payload buffers rented from the size-class pool, by size class.",
		}, []string{"class"}),
		PoolReturns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playhouse",
			Name:      "payload_pool_returns_total",
			Help:      "Payload buffers returned to the size-class pool, by size class.",
		}, []string{"class"}),
		MeshSendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playhouse",
			Name:      "mesh_send_failures_total",
			Help:      "Failed sends over the inter-server mesh, by peer server id.",
		}, []string{"peer"}),
	}
}

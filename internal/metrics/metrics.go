// Package metrics holds the router's Prometheus collectors. They live on a
// dedicated registry so tests and multiple instances do not collide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "router"

type Metrics struct {
	Registry *prometheus.Registry

	Incoming     prometheus.Counter
	Outgoing     *prometheus.CounterVec
	SendAttempts *prometheus.CounterVec
	Resubmitted  *prometheus.CounterVec
	Batches      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Incoming: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_incoming_total",
			Help:      "Inbound messages accepted by the router.",
		}),
		Outgoing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_outgoing_total",
			Help:      "Outbound messages created, by initial status.",
		}, []string{"status"}),
		SendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Gateway send attempts, by result.",
		}, []string{"result"}),
		Resubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_resubmitted_total",
			Help:      "Messages resubmitted by the retry sweep, by kind.",
		}, []string{"kind"}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Mass text batches created.",
		}),
	}

	reg.MustRegister(
		m.Incoming,
		m.Outgoing,
		m.SendAttempts,
		m.Resubmitted,
		m.Batches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

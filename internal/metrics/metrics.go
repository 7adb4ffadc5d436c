// Package metrics exports the bot's Prometheus metrics. Collectors are
// registered on the default registry and served by the status API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "echocall",
		Subsystem: "calls",
		Name:      "started_total",
		Help:      "Calls answered after a valid invite.",
	})

	CallsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "echocall",
		Subsystem: "calls",
		Name:      "completed_total",
		Help:      "Calls that ran the scripted interaction to the end.",
	})

	CallsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "echocall",
		Subsystem: "calls",
		Name:      "failed_total",
		Help:      "Calls torn down by an engine failure.",
	})

	InvitesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "echocall",
		Subsystem: "calls",
		Name:      "invites_rejected_total",
		Help:      "Invites not answered, by reason.",
	}, []string{"reason"})

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "echocall",
		Subsystem: "calls",
		Name:      "active",
		Help:      "Currently registered call sessions.",
	})
)

// Package metrics exposes Prometheus instruments for the ledger client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trackchain_mutations_total",
	Help: "Ledger mutations attempted, by operation and outcome",
}, []string{"op", "outcome"})

var RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trackchain_refreshes_total",
	Help: "Owned-product view refreshes, by trigger",
}, []string{"trigger"})

var NotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "trackchain_notifications_total",
	Help: "Chain notifications received over the subscription stream",
})

var ViewProducts = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "trackchain_view_products",
	Help: "Products currently held in the owned-product view",
})

// ObserveMutation records one mutation attempt under the given operation name.
func ObserveMutation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	MutationsTotal.WithLabelValues(op, outcome).Inc()
}

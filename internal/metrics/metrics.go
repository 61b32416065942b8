// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pos"

var (
	SalesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_processed_total",
		Help:      "Sale submissions by outcome (committed, duplicate, invalid, stock_race, failed).",
	}, []string{"result"})

	SaleRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sale_rollbacks_total",
		Help:      "Rollbacks by the state the sale was in when it failed.",
	}, []string{"state"})

	SalesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_deleted_total",
		Help:      "Sales voided.",
	})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_expired_total",
		Help:      "Serialized units returned to available by the expiry sweep.",
	})

	RegisterDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "register_discrepancies_total",
		Help:      "Cash registers closed with a non-zero discrepancy.",
	})

	OpenRegisters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cash_registers_open",
		Help:      "Cash registers opened minus closed since start.",
	})
)

// Package metrics provides Prometheus metrics for the acquisition daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters

	// OrdersAcceptedTotal counts order descriptors accepted at intake.
	OrdersAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acquisition_orders_accepted_total",
		Help: "Total number of order descriptors accepted at intake.",
	})

	// OrdersRejectedTotal counts order descriptors rejected at intake, by reason.
	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquisition_orders_rejected_total",
		Help: "Total number of order descriptors rejected at intake, by reason.",
	}, []string{"reason"})

	// CycleTotal counts completed capture cycles by outcome (ok/empty/error).
	CycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquisition_cycle_total",
		Help: "Total number of completed capture cycles, by outcome.",
	}, []string{"outcome"})

	// SegmentsRecordedTotal counts recorded segments, including placeholders.
	SegmentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquisition_segments_recorded_total",
		Help: "Total number of recorded segments, by kind (valid/placeholder).",
	}, []string{"kind"})

	// OutageSecondsTotal accumulates capture time lost to connectivity outages.
	OutageSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acquisition_outage_seconds_total",
		Help: "Capture seconds lost to camera connectivity outages.",
	})

	// DeliveryAttemptsTotal counts trigger call attempts by result.
	DeliveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acquisition_delivery_attempts_total",
		Help: "Total number of downstream trigger attempts, by result.",
	}, []string{"result"})

	// Gauges

	// ActiveWorkers tracks the current size of the active-worker registry.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acquisition_active_workers",
		Help: "Current number of active order workers.",
	})
)

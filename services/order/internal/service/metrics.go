package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	placementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_placements_total",
			Help: "Order placement attempts by final placement status and failure kind",
		},
		[]string{"outcome", "kind"},
	)

	placementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_placement_duration_seconds",
			Help:    "Wall time of order placement attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	compensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_placement_compensations_total",
			Help: "Stock credits issued to reverse placement decrements, by result",
		},
		[]string{"result"},
	)
)

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeErrors tracks backend failures by backend and operation
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"backend", "operation"}, // "get", "set", "delete", "list"
	)

	// selfHealed tracks corrupt entries removed on read
	selfHealed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_store_self_healed_total",
			Help: "Total number of corrupt cache entries deleted on read",
		},
		[]string{"backend"},
	)
)

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// compressionRatio tracks compressed/original size of candidate bodies
	compressionRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "respcache_compression_ratio",
			Help:    "Compressed to original size ratio of bodies considered for compression",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1, 1.25},
		},
	)
)

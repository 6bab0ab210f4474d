package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckpointWrites tracks checkpoint writes by kind
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractooor_checkpoint_writes_total",
			Help: "Total number of checkpoint writes",
		},
		[]string{"kind"}, // "run", "cursor"
	)

	// CheckpointMisses tracks loads that found no checkpoint
	CheckpointMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contractooor_checkpoint_misses_total",
			Help: "Total number of checkpoint lookups without a stored checkpoint",
		},
	)

	// CheckpointErrors tracks checkpoint operation errors
	CheckpointErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contractooor_checkpoint_errors_total",
			Help: "Total number of checkpoint operation errors",
		},
		[]string{"operation"}, // "load", "save", "delete"
	)
)

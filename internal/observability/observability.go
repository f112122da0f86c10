package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailsync_chunks_claimed_total",
		Help: "The total number of chunk claims acquired",
	})

	ChunksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailsync_chunks_completed_total",
		Help: "The total number of chunk completions by result",
	}, []string{"result"}) // result: completed, partial, retried, failed

	ChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailsync_chunk_duration_seconds",
		Help:    "Duration of chunk processing.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	SweptChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailsync_swept_chunks_total",
		Help: "The total number of abandoned chunks handled by the sweeper",
	}, []string{"outcome"}) // outcome: requeued, failed

	TriggerDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailsync_trigger_deliveries_total",
		Help: "The total number of wake trigger deliveries by outcome",
	}, []string{"outcome"}) // outcome: delivered, rejected, error
)

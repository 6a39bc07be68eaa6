// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "chunks_written_total",
			Help:      "Chunks placed in upload namespaces",
		},
		[]string{"writer"}, // single, batch
	)

	bytesStaged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "bytes_staged_total",
			Help:      "Bytes placed in upload namespaces",
		},
	)

	writesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "writes_rejected_total",
			Help:      "Write calls that failed, by error code",
		},
		[]string{"code"},
	)

	mergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "merges_total",
			Help:      "Merge attempts by layout and status",
		},
		[]string{"layout", "status"},
	)

	mergeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "merge_duration_seconds",
			Help:      "Time spent concatenating chunks into the merged output",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"layout"},
	)

	mergedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "merged_bytes_total",
			Help:      "Bytes written to merged outputs",
		},
	)

	writeThrottleSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "write_throttle_seconds_total",
			Help:      "Time chunk writes spent waiting on write_rate_limit",
		},
	)

	cleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "staging",
			Name:      "cleanup_failures_total",
			Help:      "Namespace cleanups that left entries behind",
		},
	)
)

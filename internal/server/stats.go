// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// statsInterval é o intervalo do log periódico de métricas.
const statsInterval = 15 * time.Second

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nupload",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route template, method and status",
		},
		[]string{"route", "method", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nupload",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"route"},
	)
)

// statusRecorder guarda o status escrito pelo handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// countingBody soma os bytes lidos do corpo em counter.
type countingBody struct {
	io.ReadCloser
	counter *atomic.Int64
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.counter.Add(int64(n))
	return n, err
}

// instrument conta requisições ativas e bytes recebidos e registra métricas por rota.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ActiveRequests.Add(1)
		defer h.ActiveRequests.Add(-1)

		if r.Body != nil {
			r.Body = &countingBody{ReadCloser: r.Body, counter: &h.TrafficIn}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		h.logger.Debug("request served",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"elapsed", elapsed.Round(time.Millisecond),
		)
	})
}

// StartStatsReporter loga a cada 15 segundos: requisições ativas, bytes recebidos
// e bytes gravados em staging no intervalo. Retorna quando ctx é cancelado.
func (h *Handler) StartStatsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Swap-and-reset: lê o acumulado e zera
			trafficIn := h.TrafficIn.Swap(0)
			diskWrite := h.DiskWrite.Swap(0)
			secs := statsInterval.Seconds()

			h.logger.Info("server stats",
				"activeRequests", h.ActiveRequests.Load(),
				"traffic_in_MBps", fmt.Sprintf("%.2f", float64(trafficIn)/secs/(1024*1024)),
				"disk_write_MBps", fmt.Sprintf("%.2f", float64(diskWrite)/secs/(1024*1024)),
				"traffic_in", humanize.IBytes(uint64(trafficIn)),
				"disk_write", humanize.IBytes(uint64(diskWrite)),
			)
		}
	}
}

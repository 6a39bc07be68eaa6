// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startTime registra quando o processo iniciou (para cálculo de uptime).
var startTime = time.Now()

// Version é preenchida via ldflags no build (-X ...Version=x.y.z).
var Version = "dev"

// defaultEventsLimit é usado quando ?limit= não é informado.
const defaultEventsLimit = 100

// DiskReporter fornece o estado do disco do staging root.
// Implementado por monitor.SystemMonitor.
type DiskReporter interface {
	DiskStatus() *DiskStatus
}

// NewRouter cria o http.Handler das rotas administrativas protegidas pela ACL.
// disk pode ser nil.
func NewRouter(events EventLog, disk DiskReporter, acl *ACL) http.Handler {
	r := mux.NewRouter()
	Register(r, events, disk, acl)
	return r
}

// Register adiciona as rotas administrativas a um router existente.
// Com acl não nil, cada rota passa por ACL.Guard.
func Register(r *mux.Router, events EventLog, disk DiskReporter, acl *ACL) {
	routes := []struct {
		path    string
		handler http.Handler
	}{
		{"/api/v1/health", makeHealthHandler(disk)},
		{"/api/v1/events", makeEventsHandler(events)},
		{"/metrics", promhttp.Handler()},
	}
	for _, rt := range routes {
		h := rt.handler
		if acl != nil {
			h = acl.Guard(rt.path, h)
		}
		r.Handle(rt.path, h).Methods(http.MethodGet)
	}
}

// makeHealthHandler retorna status do processo, uptime, versão e disco.
// Com pouco espaço livre o status passa a "degraded", ainda com 200.
func makeHealthHandler(disk DiskReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).Truncate(time.Second).String(),
			Version: Version,
			Go:      runtime.Version(),
		}
		if disk != nil {
			resp.Disk = disk.DiskStatus()
			if resp.Disk != nil && resp.Disk.LowSpace {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// makeEventsHandler serve os eventos recentes, opcionalmente filtrados por upload_id.
func makeEventsHandler(events EventLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultEventsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"success": false,
					"message": "limit must be a non-negative integer",
				})
				return
			}
			limit = n
		}

		list := []EventEntry{}
		if events != nil {
			if id := r.URL.Query().Get("upload_id"); id != "" {
				// filtra sobre o ring inteiro e só então aplica o limite
				list = FilterUpload(events.Recent(0), id)
				if limit > 0 && len(list) > limit {
					list = list[len(list)-limit:]
				}
			} else {
				list = events.Recent(limit)
			}
		}

		writeJSON(w, http.StatusOK, EventsResponse{Events: list, Count: len(list)})
	}
}

// writeJSON serializa v como JSON e envia com status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

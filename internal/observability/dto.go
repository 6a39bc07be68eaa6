// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

// Tipos de evento registrados ao longo da vida de um upload.
const (
	EventSessionOpened = "session_opened"
	EventChunkSaved    = "chunk_saved"
	EventBatchSaved    = "batch_saved"
	EventMerged        = "merged"
	EventMergeFailed   = "merge_failed"
	EventCleanupFailed = "cleanup_failed"
	EventAborted       = "aborted"
	EventExpired       = "expired"
	EventPublished     = "published"
	EventPublishFailed = "publish_failed"
)

// EventEntry representa um evento de upload no ring buffer.
type EventEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"` // info | warn | error
	Type      string `json:"type"`
	UploadID  string `json:"upload_id,omitempty"`
	Message   string `json:"message"`
}

// HealthResponse é retornado por GET /api/v1/health.
type HealthResponse struct {
	Status  string      `json:"status"` // ok | degraded
	Uptime  string      `json:"uptime"`
	Version string      `json:"version"`
	Go      string      `json:"go"`
	Disk    *DiskStatus `json:"disk,omitempty"`
}

// DiskStatus resume a ocupação do filesystem do staging root.
type DiskStatus struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total_bytes"`
	Free        uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
	FreeHuman   string  `json:"free"`
	LowSpace    bool    `json:"low_space"`
}

// EventsResponse é retornado por GET /api/v1/events.
type EventsResponse struct {
	Events []EventEntry `json:"events"`
	Count  int          `json:"count"`
}

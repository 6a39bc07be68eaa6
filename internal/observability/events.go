// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"sync"
	"time"
)

// EventLog é o que o transporte e o janitor usam para registrar e consultar eventos.
// Implementado por EventRing (só memória) e EventStore (memória + JSONL).
type EventLog interface {
	PushEvent(level, eventType, uploadID, message string)
	Recent(limit int) []EventEntry
}

// EventRing é um ring buffer thread-safe para eventos de upload.
// Armazena os últimos N eventos, descartando os mais antigos quando cheio.
type EventRing struct {
	mu  sync.RWMutex
	buf []EventEntry
	pos int // próxima posição de escrita
	cap int
	len int
}

// NewEventRing cria um ring buffer com capacidade fixa.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &EventRing{
		buf: make([]EventEntry, capacity),
		cap: capacity,
	}
}

// Push adiciona um evento e devolve a entrada com timestamp preenchido.
func (r *EventRing) Push(e EventEntry) EventEntry {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	r.mu.Lock()
	r.buf[r.pos] = e
	r.pos = (r.pos + 1) % r.cap
	if r.len < r.cap {
		r.len++
	}
	r.mu.Unlock()
	return e
}

// Recent retorna os últimos N eventos em ordem cronológica (mais antigo primeiro).
// Se limit <= 0 ou > len, retorna todos os eventos disponíveis.
func (r *EventRing) Recent(limit int) []EventEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.len
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return []EventEntry{}
	}

	result := make([]EventEntry, n)
	// O mais recente está em pos-1
	start := (r.pos - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		result[i] = r.buf[(start+i)%r.cap]
	}
	return result
}

// Len retorna o número de eventos armazenados.
func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len
}

// PushEvent cria e insere um evento.
func (r *EventRing) PushEvent(level, eventType, uploadID, message string) {
	r.Push(EventEntry{
		Level:    level,
		Type:     eventType,
		UploadID: uploadID,
		Message:  message,
	})
}

// FilterUpload devolve apenas os eventos de uploadID, preservando a ordem.
func FilterUpload(events []EventEntry, uploadID string) []EventEntry {
	out := make([]EventEntry, 0, len(events))
	for _, e := range events {
		if e.UploadID == uploadID {
			out = append(out, e)
		}
	}
	return out
}

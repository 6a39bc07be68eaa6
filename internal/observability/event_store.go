// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// EventStore combina um EventRing com persistência em arquivo JSONL.
// Cada Push faz append de uma linha; no startup as últimas linhas repopulam o ring.
//
// Rotação: quando o arquivo passa de maxLines, é reescrito com as últimas maxLines/2.
type EventStore struct {
	ring      *EventRing
	file      *os.File
	mu        sync.Mutex // protege writes e rotação
	maxLines  int
	lineCount int
	path      string
	logger    *slog.Logger
}

// NewEventStore abre (ou cria) o arquivo JSONL e carrega as últimas ringCap entradas.
func NewEventStore(path string, ringCap, maxLines int, logger *slog.Logger) (*EventStore, error) {
	if maxLines <= 0 {
		maxLines = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating events directory: %w", err)
	}

	ring := NewEventRing(ringCap)

	entries, lineCount, err := loadJSONL(path)
	if err != nil {
		return nil, fmt.Errorf("loading events file: %w", err)
	}

	start := 0
	if len(entries) > ring.cap {
		start = len(entries) - ring.cap
	}
	for _, e := range entries[start:] {
		ring.Push(e)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening events file for append: %w", err)
	}

	return &EventStore{
		ring:      ring,
		file:      f,
		maxLines:  maxLines,
		lineCount: lineCount,
		path:      path,
		logger:    logger.With("component", "events"),
	}, nil
}

// loadJSONL lê o arquivo e retorna as entradas válidas. Linhas malformadas são ignoradas.
func loadJSONL(path string) ([]EventEntry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	var entries []EventEntry
	lineCount := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineCount++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e EventEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}

	return entries, lineCount, scanner.Err()
}

// Push adiciona o evento ao ring e o persiste no arquivo.
// Falhas de escrita são logadas; o evento continua disponível em memória.
func (s *EventStore) Push(e EventEntry) {
	filled := s.ring.Push(e)

	data, err := json.Marshal(filled)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		s.logger.Warn("persisting event", "error", err)
		return
	}

	s.lineCount++
	if s.lineCount > s.maxLines {
		s.rotate()
	}
}

// PushEvent cria e insere um evento.
func (s *EventStore) PushEvent(level, eventType, uploadID, message string) {
	s.Push(EventEntry{
		Level:    level,
		Type:     eventType,
		UploadID: uploadID,
		Message:  message,
	})
}

// Recent retorna os últimos N eventos em ordem cronológica.
func (s *EventStore) Recent(limit int) []EventEntry {
	return s.ring.Recent(limit)
}

// Len retorna o número de eventos em memória.
func (s *EventStore) Len() int {
	return s.ring.Len()
}

// Close fecha o arquivo JSONL.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// rotate mantém as últimas maxLines/2 linhas. Chamada com s.mu travado.
// O arquivo novo é escrito ao lado e renomeado por cima do atual.
func (s *EventStore) rotate() {
	keep := s.maxLines / 2

	entries, _, err := loadJSONL(s.path)
	if err != nil || len(entries) <= keep {
		return
	}
	entries = entries[len(entries)-keep:]

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		s.logger.Warn("rotating events file", "error", err)
		return
	}

	w := bufio.NewWriter(f)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		s.logger.Warn("rotating events file", "error", err)
		return
	}
	f.Close()

	s.file.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.logger.Warn("rotating events file", "error", err)
	}

	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.logger.Error("reopening events file", "error", err)
		s.file = nil
		return
	}
	s.lineCount = len(entries)
}

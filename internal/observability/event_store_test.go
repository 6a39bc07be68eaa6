// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestEventStore_PushAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	store, err := NewEventStore(path, 100, 10000, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.PushEvent("info", EventSessionOpened, "up-1", "session opened")
	store.PushEvent("error", EventMergeFailed, "up-1", "no chunk directory found for upload up-1")

	events := store.Recent(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventSessionOpened {
		t.Errorf("expected first event %q, got %q", EventSessionOpened, events[0].Type)
	}
	if events[1].Level != "error" {
		t.Errorf("expected second event level error, got %q", events[1].Level)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty file")
	}
}

func TestEventStore_PersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	store1, err := NewEventStore(path, 100, 10000, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	store1.PushEvent("info", EventChunkSaved, "up-1", "event-a")
	store1.PushEvent("info", EventChunkSaved, "up-1", "event-b")
	store1.PushEvent("info", EventMerged, "up-2", "event-c")
	store1.Close()

	store2, err := NewEventStore(path, 100, 10000, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	events := store2.Recent(0)
	if len(events) != 3 {
		t.Fatalf("expected 3 persisted events, got %d", len(events))
	}
	for i, want := range []string{"event-a", "event-b", "event-c"} {
		if events[i].Message != want {
			t.Errorf("event %d: expected %q, got %q", i, want, events[i].Message)
		}
	}
	if events[2].UploadID != "up-2" {
		t.Errorf("expected upload id to survive restart, got %q", events[2].UploadID)
	}

	store2.PushEvent("info", EventAborted, "up-1", "event-d")
	if n := len(store2.Recent(0)); n != 4 {
		t.Fatalf("expected 4 events after append, got %d", n)
	}
}

func TestEventStore_RingCapOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	store1, err := NewEventStore(path, 100, 10000, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		store1.PushEvent("info", EventChunkSaved, "up", "msg")
	}
	store1.Close()

	store2, err := NewEventStore(path, 5, 10000, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	if store2.Len() != 5 {
		t.Errorf("expected ring to keep 5 entries, got %d", store2.Len())
	}
}

func TestEventStore_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	// maxLines = 10, rotação mantém as últimas 5
	store, err := NewEventStore(path, 100, 10, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 15; i++ {
		store.PushEvent("info", EventChunkSaved, "", "msg")
	}
	store.Close()

	store2, err := NewEventStore(path, 100, 10, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	if store2.lineCount > 10 {
		t.Errorf("expected lineCount <= 10 after rotation, got %d", store2.lineCount)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected rotation temp file to be gone, stat err=%v", err)
	}
}

func TestEventStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	os.WriteFile(path, []byte{}, 0644)

	store, err := NewEventStore(path, 100, 10000, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if n := len(store.Recent(0)); n != 0 {
		t.Errorf("expected empty events, got %d", n)
	}
}

func TestEventStore_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	content := `{"timestamp":"2025-01-01T00:00:00Z","level":"info","type":"merged","upload_id":"a","message":"ok"}
this is not json
{"timestamp":"2025-01-01T00:01:00Z","level":"warn","type":"cleanup_failed","upload_id":"a","message":"also ok"}
`
	os.WriteFile(path, []byte(content), 0644)

	store, err := NewEventStore(path, 100, 10000, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	events := store.Recent(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 valid events (skipping corrupt line), got %d", len(events))
	}
	if events[0].Message != "ok" || events[1].Message != "also ok" {
		t.Errorf("unexpected messages: %q, %q", events[0].Message, events[1].Message)
	}
}

func TestEventStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "dir", "events.jsonl")

	store, err := NewEventStore(path, 10, 100, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.PushEvent("info", EventExpired, "old", "expired")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected events file to exist: %v", err)
	}
}

func TestEventStore_PushAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	store, err := NewEventStore(path, 10, 100, discardLogger)
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	// Não deve entrar em pânico; o evento ainda fica em memória
	store.PushEvent("info", EventAborted, "x", "late")
	if store.Len() != 1 {
		t.Errorf("expected event kept in memory, got len %d", store.Len())
	}
}

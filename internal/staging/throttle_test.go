// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// tempLeftovers lista arquivos temporários de gravação deixados no namespace.
func tempLeftovers(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestThrottleChunk_DisabledReturnsDestination(t *testing.T) {
	for _, limit := range []int64{0, -1} {
		var buf bytes.Buffer
		if w := throttleChunk(context.Background(), &buf, "u", limit); w != &buf {
			t.Fatalf("limit %d: expected destination writer, got %T", limit, w)
		}
	}
}

func TestWriteChunk_RespectsWriteRateLimit(t *testing.T) {
	limit := int64(64 * 1024)
	svc := newTestService(t, Options{WriteBytesPerSec: limit})

	// 64KB de burst + 64KB a 64KB/s = ~1s
	data := bytes.Repeat([]byte("r"), 128*1024)
	start := time.Now()
	res, err := svc.WriteChunk(context.Background(), ChunkWrite{
		UploadID: "slow",
		Index:    0,
		Source:   BytesSource(data),
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	if elapsed < 700*time.Millisecond {
		t.Errorf("chunk written too fast: %v for %d bytes at %d B/s", elapsed, len(data), limit)
	}
	if elapsed > 5*time.Second {
		t.Errorf("chunk written too slow: %v", elapsed)
	}
	if res.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), res.Size)
	}
	if got := readTestFile(t, svc.Fs(), res.Path); got != string(data) {
		t.Error("staged chunk content differs from source")
	}
}

func TestWriteChunk_CancelWhileThrottled(t *testing.T) {
	svc := newTestService(t, Options{WriteBytesPerSec: 1024})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := svc.WriteChunk(ctx, ChunkWrite{
		UploadID: "cancel",
		Index:    3,
		Source:   BytesSource(make([]byte, 64*1024)),
	})
	if CodeOf(err) != CodeChunkPersistenceFailed || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ChunkPersistenceFailed wrapping context.Canceled, got %v", err)
	}

	dir := filepath.Join(testRoot, "cancel")
	if ok, _ := afero.Exists(svc.Fs(), filepath.Join(dir, "chunk_3")); ok {
		t.Error("cancelled chunk must not appear under its final name")
	}
	if left := tempLeftovers(t, svc.Fs(), dir); len(left) > 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestWriteBatch_SpooledSourcesSkipRateLimit(t *testing.T) {
	svc := newTestService(t, Options{WriteBytesPerSec: 1})
	fs := svc.Fs()

	// arquivos já em spool são renomeados, não copiados
	spool := svc.Resolver().IncomingPath()
	writeTestFile(t, fs, filepath.Join(spool, "part-a"), "first ")
	writeTestFile(t, fs, filepath.Join(spool, "part-b"), "second")

	start := time.Now()
	res, err := svc.WriteBatch(context.Background(), BatchWrite{
		UploadID:   "spooled",
		StartIndex: intPtr(0),
		Sources: []ChunkSource{
			FileSource{Path: filepath.Join(spool, "part-a"), Size: 6},
			FileSource{Path: filepath.Join(spool, "part-b"), Size: 6},
		},
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("spooled sources should not wait on the limiter, took %v", elapsed)
	}
	if res.TotalChunksSaved != 2 {
		t.Errorf("expected 2 chunks saved, got %d", res.TotalChunksSaved)
	}
}

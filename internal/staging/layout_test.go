// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestDetectLayout(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  Layout
	}{
		{"flat", []string{"chunks_0", "chunks_1"}, LayoutFlatChunks},
		{"empty", nil, LayoutFlatChunks},
		{"subdir", []string{"chunks/chunks_0"}, LayoutChunksSubdir},
		{"parts", []string{"part_0/chunk_0", "part_1/chunk_0"}, LayoutLegacyParts},
		{"subdir wins over parts", []string{"chunks/chunks_0", "part_0/chunk_0"}, LayoutChunksSubdir},
		{"file named chunks is not a subdir", []string{"chunks", "chunks_0"}, LayoutFlatChunks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			dir := filepath.Join(testRoot, "u")
			fs.MkdirAll(dir, 0755)
			for _, f := range tt.files {
				writeTestFile(t, fs, filepath.Join(dir, f), "x")
			}

			got, err := DetectLayout(fs, dir)
			if err != nil {
				t.Fatalf("DetectLayout: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDetectLayout_MissingDir(t *testing.T) {
	if _, err := DetectLayout(afero.NewMemMapFs(), "/nope"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   int
		ok     bool
	}{
		{"chunks_10", "chunks_", 10, true},
		{"chunk_0", "chunk_", 0, true},
		{"chunks_abc", "chunks_", 0, false},
		{"chunks_", "chunks_", 0, false},
		{"chunks_-1", "chunks_", 0, false},
		{".chunk_1-123.tmp", "chunk_", 0, false},
		{"chunk_1", "chunks_", 0, false},
		{"chunk_+3", "chunk_", 0, false},
		{"chunk_ 3", "chunk_", 0, false},
		{"chunk_007", "chunk_", 7, true},
		{"part_+1", "part_", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseIndex(tt.name, tt.prefix)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseIndex(%q, %q) = %d, %v; want %d, %v", tt.name, tt.prefix, got, ok, tt.want, tt.ok)
		}
	}
}

func chunkIndices(chunks []stagedChunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = c.index
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCollectChunks_NumericOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, "u")
	for _, n := range []string{"chunks_0", "chunks_2", "chunks_10", "chunks_1", "junk", "chunks_x"} {
		writeTestFile(t, fs, filepath.Join(dir, n), n)
	}

	chunks, err := collectChunks(fs, dir, LayoutFlatChunks)
	if err != nil {
		t.Fatalf("collectChunks: %v", err)
	}
	if got := chunkIndices(chunks); !equalInts(got, []int{0, 1, 2, 10}) {
		t.Errorf("expected [0 1 2 10], got %v", got)
	}
}

func TestCollectChunks_FlatAcceptsBothPrefixes(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, "u")
	writeTestFile(t, fs, filepath.Join(dir, "chunks_0"), "a")
	writeTestFile(t, fs, filepath.Join(dir, "chunk_1"), "b")
	writeTestFile(t, fs, filepath.Join(dir, "chunks_2"), "c")

	chunks, err := collectChunks(fs, dir, LayoutFlatChunks)
	if err != nil {
		t.Fatalf("collectChunks: %v", err)
	}
	if got := chunkIndices(chunks); !equalInts(got, []int{0, 1, 2}) {
		t.Errorf("expected [0 1 2], got %v", got)
	}
}

func TestCollectChunks_LegacyPartsOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, "u")
	writeTestFile(t, fs, filepath.Join(dir, "part_10", "chunk_0"), "e")
	writeTestFile(t, fs, filepath.Join(dir, "part_2", "chunk_1"), "d")
	writeTestFile(t, fs, filepath.Join(dir, "part_2", "chunk_0"), "c")
	writeTestFile(t, fs, filepath.Join(dir, "part_0", "chunk_10"), "b")
	writeTestFile(t, fs, filepath.Join(dir, "part_0", "chunk_2"), "a")

	chunks, err := collectChunks(fs, dir, LayoutLegacyParts)
	if err != nil {
		t.Fatalf("collectChunks: %v", err)
	}

	var order string
	for _, c := range chunks {
		order += readTestFile(t, fs, c.path)
	}
	if order != "abcde" {
		t.Errorf("expected part-then-chunk order abcde, got %s", order)
	}
}

func TestCollectChunks_LegacyPartsSameIndexOrderedByName(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, "u")
	writeTestFile(t, fs, filepath.Join(dir, "part_1", "chunk_0"), "c")
	writeTestFile(t, fs, filepath.Join(dir, "part_01", "chunk_0"), "b")
	writeTestFile(t, fs, filepath.Join(dir, "part_0", "chunk_0"), "a")
	writeTestFile(t, fs, filepath.Join(dir, "part_+2", "chunk_0"), "ignored")

	for i := 0; i < 5; i++ {
		chunks, err := collectChunks(fs, dir, LayoutLegacyParts)
		if err != nil {
			t.Fatalf("collectChunks: %v", err)
		}
		var order string
		for _, c := range chunks {
			order += readTestFile(t, fs, c.path)
		}
		if order != "abc" {
			t.Fatalf("expected part_0, part_01, part_1 order abc, got %s", order)
		}
	}
}

func TestCollectChunks_FlatIgnoresSignedSuffix(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, "u")
	writeTestFile(t, fs, filepath.Join(dir, "chunk_0"), "a")
	writeTestFile(t, fs, filepath.Join(dir, "chunk_+1"), "stray")
	writeTestFile(t, fs, filepath.Join(dir, "chunk_1"), "b")

	chunks, err := collectChunks(fs, dir, LayoutFlatChunks)
	if err != nil {
		t.Fatalf("collectChunks: %v", err)
	}
	if got := chunkIndices(chunks); !equalInts(got, []int{0, 1}) {
		t.Errorf("expected [0 1], got %v", got)
	}
	if len(chunks) == 2 && filepath.Base(chunks[1].path) != "chunk_1" {
		t.Errorf("expected chunk_1 second, got %s", chunks[1].path)
	}
}

func TestCollectChunks_SubdirIgnoresOtherPrefixes(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, "u")
	writeTestFile(t, fs, filepath.Join(dir, "chunks", "chunks_1"), "b")
	writeTestFile(t, fs, filepath.Join(dir, "chunks", "chunks_0"), "a")
	writeTestFile(t, fs, filepath.Join(dir, "chunks", "chunk_2"), "ignored")

	chunks, err := collectChunks(fs, dir, LayoutChunksSubdir)
	if err != nil {
		t.Fatalf("collectChunks: %v", err)
	}
	if got := chunkIndices(chunks); !equalInts(got, []int{0, 1}) {
		t.Errorf("expected [0 1], got %v", got)
	}
}

func TestLayout_String(t *testing.T) {
	if LayoutFlatChunks.String() != "flat-chunks" ||
		LayoutChunksSubdir.String() != "chunks-subdir" ||
		LayoutLegacyParts.String() != "legacy-parts" {
		t.Error("unexpected layout names")
	}
}

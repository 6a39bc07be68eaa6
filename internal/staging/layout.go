// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	singleChunkPrefix = "chunk_"  // escrito por WriteChunk e dentro de part_*
	batchChunkPrefix  = "chunks_" // escrito por WriteBatch e dentro de chunks/
	chunksSubdirName  = "chunks"
	legacyPartPrefix  = "part_"
)

// Layout classifica a estrutura de um diretório de namespace no momento do merge.
type Layout int

const (
	// LayoutFlatChunks: chunks_<n> (e chunk_<n> do writer single) diretamente no namespace.
	LayoutFlatChunks Layout = iota
	// LayoutChunksSubdir: chunks/chunks_<n>.
	LayoutChunksSubdir
	// LayoutLegacyParts: part_<p>/chunk_<n>.
	LayoutLegacyParts
)

func (l Layout) String() string {
	switch l {
	case LayoutChunksSubdir:
		return "chunks-subdir"
	case LayoutLegacyParts:
		return "legacy-parts"
	default:
		return "flat-chunks"
	}
}

// DetectLayout lista as entradas imediatas de dir (sem recursão) e classifica o layout.
// Precedência: diretório "chunks", depois qualquer diretório "part_*", senão flat.
func DetectLayout(fs afero.Fs, dir string) (Layout, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return LayoutFlatChunks, fmt.Errorf("listing %s: %w", dir, err)
	}

	hasParts := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == chunksSubdirName {
			return LayoutChunksSubdir, nil
		}
		if strings.HasPrefix(e.Name(), legacyPartPrefix) {
			hasParts = true
		}
	}

	if hasParts {
		return LayoutLegacyParts, nil
	}
	return LayoutFlatChunks, nil
}

// stagedChunk é um arquivo de chunk localizado durante o merge.
type stagedChunk struct {
	path  string
	part  int // sempre 0 fora do layout legacy
	index int
	size  int64
}

// parseIndex extrai o inteiro após prefix. O sufixo precisa ser só dígitos: nomes com
// sinal, espaços ou outros caracteres (temporários, lixo) retornam ok=false e são ignorados.
func parseIndex(name, prefix string) (int, bool) {
	suffix, found := strings.CutPrefix(name, prefix)
	if !found || suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// listChunkFiles retorna os arquivos regulares de dir com algum dos prefixos dados,
// ordenados numericamente pelo índice (empate resolvido pelo nome).
func listChunkFiles(fs afero.Fs, dir string, part int, prefixes ...string) ([]stagedChunk, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var chunks []stagedChunk
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := indexForPrefixes(e.Name(), prefixes)
		if !ok {
			continue
		}
		chunks = append(chunks, stagedChunk{
			path:  filepath.Join(dir, e.Name()),
			part:  part,
			index: idx,
			size:  e.Size(),
		})
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].index != chunks[j].index {
			return chunks[i].index < chunks[j].index
		}
		return chunks[i].path < chunks[j].path
	})
	return chunks, nil
}

func indexForPrefixes(name string, prefixes []string) (int, bool) {
	for _, prefix := range prefixes {
		if idx, ok := parseIndex(name, prefix); ok {
			return idx, true
		}
	}
	return 0, false
}

// collectChunks monta a lista ordenada de arquivos a concatenar para o layout dado.
func collectChunks(fs afero.Fs, namespace string, layout Layout) ([]stagedChunk, error) {
	switch layout {
	case LayoutChunksSubdir:
		return listChunkFiles(fs, filepath.Join(namespace, chunksSubdirName), 0, batchChunkPrefix)

	case LayoutLegacyParts:
		entries, err := afero.ReadDir(fs, namespace)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", namespace, err)
		}

		type partDir struct {
			name  string
			index int
		}
		var parts []partDir
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if idx, ok := parseIndex(e.Name(), legacyPartPrefix); ok {
				parts = append(parts, partDir{name: e.Name(), index: idx})
			}
		}
		sort.Slice(parts, func(i, j int) bool {
			if parts[i].index != parts[j].index {
				return parts[i].index < parts[j].index
			}
			return parts[i].name < parts[j].name
		})

		// Ordem global: part primeiro, chunk depois
		var all []stagedChunk
		for _, p := range parts {
			chunks, err := listChunkFiles(fs, filepath.Join(namespace, p.name), p.index, singleChunkPrefix)
			if err != nil {
				return nil, err
			}
			all = append(all, chunks...)
		}
		return all, nil

	default:
		// Flat aceita os dois writers: chunks_<n> (batch) e chunk_<n> (single)
		return listChunkFiles(fs, namespace, 0, batchChunkPrefix, singleChunkPrefix)
	}
}

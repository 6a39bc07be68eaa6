// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

// ChunkWrite descreve a gravação de um único chunk.
type ChunkWrite struct {
	UploadID         string
	Index            int
	TotalChunks      int // informativo, nunca verificado
	DeclaredFilename string
	Source           ChunkSource
}

// ChunkWriteResult ecoa os metadados do chunk gravado.
type ChunkWriteResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	ChunkIndex       int    `json:"chunk_index"`
	TotalChunks      int    `json:"total_chunks"`
	DeclaredFilename string `json:"name_file"`
	UploadID         string `json:"upload_id"`
	Size             int64  `json:"size"`
	Path             string `json:"-"`
}

// WriteChunk grava um chunk em {namespace}/chunk_{Index}, substituindo qualquer arquivo anterior.
// Não há rollback: em caso de falha o caller pode repetir o mesmo índice.
func (s *Service) WriteChunk(ctx context.Context, w ChunkWrite) (*ChunkWriteResult, error) {
	res, err := s.writeChunk(ctx, w)
	if err != nil {
		writesRejected.WithLabelValues(CodeOf(err).String()).Inc()
		s.logger.Error("saving chunk", "uploadID", w.UploadID, "chunk", w.Index, "error", err)
		return nil, err
	}
	return res, nil
}

func (s *Service) writeChunk(ctx context.Context, w ChunkWrite) (*ChunkWriteResult, error) {
	dir, err := s.resolver.Resolve(w.UploadID)
	if err != nil {
		return nil, err
	}
	if w.Index < 0 {
		return nil, newError(CodeInvalidIndex, w.UploadID,
			fmt.Sprintf("chunk_index must be >= 0 for upload %s, got %d", w.UploadID, w.Index), nil)
	}
	if w.Source == nil {
		return nil, newError(CodeChunkPersistenceFailed, w.UploadID,
			fmt.Sprintf("no data for chunk %d of upload %s", w.Index, w.UploadID), nil)
	}
	if err := s.requireOpenSession(w.UploadID); err != nil {
		return nil, err
	}
	if err := s.checkSpace(w.UploadID); err != nil {
		return nil, err
	}

	logger, closeLog := s.uploadLogger(w.UploadID)
	defer closeLog()

	logger.Debug("saving chunk",
		"file", w.DeclaredFilename,
		"chunk", w.Index,
		"totalChunks", w.TotalChunks,
		"declaredSize", w.Source.declaredSize(),
	)

	if err := s.resolver.Ensure(dir); err != nil {
		return nil, newError(CodeChunkPersistenceFailed, w.UploadID,
			fmt.Sprintf("could not create namespace for upload %s", w.UploadID), err)
	}

	dst := filepath.Join(dir, singleChunkPrefix+strconv.Itoa(w.Index))
	n, err := s.placer.place(ctx, w.UploadID, w.Source, dst)
	if err != nil {
		return nil, newError(CodeChunkPersistenceFailed, w.UploadID,
			fmt.Sprintf("could not save chunk %d of upload %s", w.Index, w.UploadID), err)
	}

	chunksWritten.WithLabelValues("single").Inc()
	bytesStaged.Add(float64(n))

	msg := fmt.Sprintf("saved chunk %d/%d of file %s", w.Index+1, w.TotalChunks, w.DeclaredFilename)
	logger.Info(msg, "bytes", n)

	return &ChunkWriteResult{
		Success:          true,
		Message:          msg,
		ChunkIndex:       w.Index,
		TotalChunks:      w.TotalChunks,
		DeclaredFilename: w.DeclaredFilename,
		UploadID:         w.UploadID,
		Size:             n,
		Path:             dst,
	}, nil
}

// BatchWrite descreve a gravação de vários chunks de uma parte em uma única chamada.
type BatchWrite struct {
	UploadID         string
	StartIndex       *int // obrigatório; nil ou negativo é rejeitado
	PartIndex        int
	TotalParts       int
	DeclaredFilename string
	Sources          []ChunkSource
}

// SavedChunk descreve um chunk gravado por WriteBatch.
type SavedChunk struct {
	Index int    `json:"chunkIndex"`
	Size  int64  `json:"size"`
	Path  string `json:"path"`
}

// BatchWriteResult ecoa os metadados da parte e lista os chunks gravados.
type BatchWriteResult struct {
	Success          bool         `json:"success"`
	Message          string       `json:"message"`
	PartIndex        int          `json:"part_index"`
	TotalParts       int          `json:"total_parts"`
	DeclaredFilename string       `json:"name_file"`
	UploadID         string       `json:"upload_id"`
	Chunks           []SavedChunk `json:"chunks"`
	TotalChunksSaved int          `json:"total_chunks_saved"`
}

// WriteBatch grava Sources[i] em {namespace}/chunks_{StartIndex+i}.
// Uma fonte com falha aborta o restante do lote; chunks já gravados permanecem em disco.
func (s *Service) WriteBatch(ctx context.Context, b BatchWrite) (*BatchWriteResult, error) {
	res, err := s.writeBatch(ctx, b)
	if err != nil {
		writesRejected.WithLabelValues(CodeOf(err).String()).Inc()
		s.logger.Error("saving chunk batch", "uploadID", b.UploadID, "part", b.PartIndex, "error", err)
		return nil, err
	}
	return res, nil
}

func (s *Service) writeBatch(ctx context.Context, b BatchWrite) (*BatchWriteResult, error) {
	dir, err := s.resolver.Resolve(b.UploadID)
	if err != nil {
		return nil, err
	}
	if b.StartIndex == nil {
		return nil, newError(CodeInvalidStartIndex, b.UploadID,
			fmt.Sprintf("chunk_start_index is required for upload %s", b.UploadID), nil)
	}
	start := *b.StartIndex
	if start < 0 {
		return nil, newError(CodeInvalidStartIndex, b.UploadID,
			fmt.Sprintf("chunk_start_index must be >= 0 for upload %s, got %d", b.UploadID, start), nil)
	}
	if len(b.Sources) == 0 {
		return nil, newError(CodeEmptyBatch, b.UploadID,
			fmt.Sprintf("no chunks in batch for upload %s", b.UploadID), nil)
	}
	if err := s.requireOpenSession(b.UploadID); err != nil {
		return nil, err
	}
	if err := s.checkSpace(b.UploadID); err != nil {
		return nil, err
	}

	logger, closeLog := s.uploadLogger(b.UploadID)
	defer closeLog()

	logger.Info("saving chunk batch",
		"file", b.DeclaredFilename,
		"part", b.PartIndex+1,
		"totalParts", b.TotalParts,
		"chunks", len(b.Sources),
		"startIndex", start,
	)

	if err := s.resolver.Ensure(dir); err != nil {
		return nil, newError(CodeChunkPersistenceFailed, b.UploadID,
			fmt.Sprintf("could not create namespace for upload %s", b.UploadID), err)
	}

	saved := make([]SavedChunk, 0, len(b.Sources))
	for i, src := range b.Sources {
		idx := start + i
		if src == nil {
			return nil, newError(CodeChunkPersistenceFailed, b.UploadID,
				fmt.Sprintf("no data for chunk %d of upload %s (%d of batch already saved)", idx, b.UploadID, len(saved)), nil)
		}

		dst := filepath.Join(dir, batchChunkPrefix+strconv.Itoa(idx))
		n, err := s.placer.place(ctx, b.UploadID, src, dst)
		if err != nil {
			return nil, newError(CodeChunkPersistenceFailed, b.UploadID,
				fmt.Sprintf("could not save chunk %d of upload %s (%d of batch already saved)", idx, b.UploadID, len(saved)), err)
		}

		chunksWritten.WithLabelValues("batch").Inc()
		bytesStaged.Add(float64(n))
		logger.Debug("chunk saved", "chunk", idx, "part", b.PartIndex+1, "bytes", n)

		saved = append(saved, SavedChunk{Index: idx, Size: n, Path: dst})
	}

	msg := fmt.Sprintf("saved %d chunks of part %d/%d for upload %s", len(saved), b.PartIndex+1, b.TotalParts, b.UploadID)
	logger.Info(msg)

	return &BatchWriteResult{
		Success:          true,
		Message:          msg,
		PartIndex:        b.PartIndex,
		TotalParts:       b.TotalParts,
		DeclaredFilename: b.DeclaredFilename,
		UploadID:         b.UploadID,
		Chunks:           saved,
		TotalChunksSaved: len(saved),
	}, nil
}

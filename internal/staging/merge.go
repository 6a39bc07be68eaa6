// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/nishisan-dev/n-upload/internal/logging"
)

// mergeBufferSize é o tamanho do buffer de escrita do arquivo de saída.
const mergeBufferSize = 256 * 1024

// MergeRequest solicita a montagem de um upload.
type MergeRequest struct {
	UploadID string
	// ExpectedChunks > 0 exige que exatamente essa quantidade de chunks esteja em staging.
	// Zero usa o valor declarado na sessão, se houver.
	ExpectedChunks int
}

// MergeResult descreve a saída montada.
type MergeResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	UploadID   string `json:"upload_id"`
	FilePath   string `json:"filePath"`
	Layout     string `json:"layout"`
	ChunkCount int    `json:"chunk_count"`
	Bytes      int64  `json:"bytes"`
	// CleanupErr é preenchido quando o merge teve sucesso mas o namespace não pôde ser removido.
	CleanupErr error `json:"-"`
}

// Merge concatena os chunks do upload em ordem numérica em {root}/merged_{uploadID} e,
// somente após a saída estar renomeada no lugar, remove o namespace.
// Qualquer falha de leitura/escrita devolve CodeMergeFailed e mantém o namespace intacto.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	start := time.Now()
	res, layout, err := s.merge(ctx, req)
	if err != nil {
		mergesTotal.WithLabelValues(layout, CodeOf(err).String()).Inc()
		s.logger.Error("merge failed", "uploadID", req.UploadID, "error", err)
		return nil, err
	}
	mergesTotal.WithLabelValues(layout, "ok").Inc()
	mergeDuration.WithLabelValues(layout).Observe(time.Since(start).Seconds())
	mergedBytes.Add(float64(res.Bytes))
	return res, nil
}

func (s *Service) merge(ctx context.Context, req MergeRequest) (*MergeResult, string, error) {
	const noLayout = "none"

	dir, err := s.resolver.Resolve(req.UploadID)
	if err != nil {
		return nil, noLayout, err
	}
	if err := s.requireOpenSession(req.UploadID); err != nil {
		return nil, noLayout, err
	}

	exists, err := s.resolver.Exists(dir)
	if err != nil {
		return nil, noLayout, newError(CodeMergeFailed, req.UploadID,
			fmt.Sprintf("could not inspect chunk directory of upload %s", req.UploadID), err)
	}
	if !exists {
		return nil, noLayout, newError(CodeUploadNotFound, req.UploadID,
			fmt.Sprintf("no chunk directory found for upload %s", req.UploadID), nil)
	}

	logger, closeLog := s.uploadLogger(req.UploadID)
	defer closeLog()

	layout, err := DetectLayout(s.fs, dir)
	if err != nil {
		return nil, noLayout, newError(CodeMergeFailed, req.UploadID,
			fmt.Sprintf("could not detect layout of upload %s", req.UploadID), err)
	}
	logger = logger.With("layout", layout.String())

	chunks, err := collectChunks(s.fs, dir, layout)
	if err != nil {
		return nil, layout.String(), newError(CodeMergeFailed, req.UploadID,
			fmt.Sprintf("could not list chunks of upload %s", req.UploadID), err)
	}
	if len(chunks) == 0 {
		return nil, layout.String(), newError(CodeNoChunksFound, req.UploadID, noChunksMessage(layout, req.UploadID), nil)
	}

	expected, err := s.expectedChunks(req)
	if err != nil {
		return nil, layout.String(), err
	}
	if expected > 0 && expected != len(chunks) {
		return nil, layout.String(), newError(CodeChunkCountMismatch, req.UploadID,
			fmt.Sprintf("upload %s expects %d chunks but %d are staged", req.UploadID, expected, len(chunks)), nil)
	}

	logger.Info("merging upload", "chunks", len(chunks))

	out := s.resolver.MergedPath(req.UploadID)
	written, err := s.writeMerged(ctx, logger, req.UploadID, chunks, out)
	if err != nil {
		return nil, layout.String(), newError(CodeMergeFailed, req.UploadID,
			fmt.Sprintf("could not merge chunks of upload %s", req.UploadID), err)
	}

	res := &MergeResult{
		Success:    true,
		Message:    fmt.Sprintf("merged %d chunks of upload %s", len(chunks), req.UploadID),
		UploadID:   req.UploadID,
		FilePath:   out,
		Layout:     layout.String(),
		ChunkCount: len(chunks),
		Bytes:      written,
	}

	// Saída confirmada em disco: só agora o namespace pode sair
	if err := s.cleaner.Clean(dir); err != nil {
		cleanupFailures.Inc()
		res.CleanupErr = err
		logger.Warn("merged output kept, namespace cleanup incomplete", "error", err)
	}

	s.markSession(req.UploadID, SessionMerged, out)
	logger.Info("upload merged", "file", out, "bytes", written)

	closeLog()
	logging.RemoveUploadLog(s.uploadLogDir, req.UploadID)
	return res, layout.String(), nil
}

// expectedChunks devolve a contagem exigida pelo request ou, na falta dela, pela sessão.
func (s *Service) expectedChunks(req MergeRequest) (int, error) {
	if req.ExpectedChunks < 0 {
		return 0, newError(CodeInvalidIndex, req.UploadID,
			fmt.Sprintf("expected_chunks must be >= 0 for upload %s, got %d", req.UploadID, req.ExpectedChunks), nil)
	}
	if req.ExpectedChunks > 0 {
		return req.ExpectedChunks, nil
	}
	sess, err := s.lookupSession(req.UploadID)
	if err != nil || sess == nil {
		return 0, nil
	}
	return sess.ExpectedChunks, nil
}

// writeMerged grava a concatenação em um arquivo parcial e o renomeia para out
// depois de flush, sync e close. Em erro o parcial é removido.
func (s *Service) writeMerged(ctx context.Context, logger *slog.Logger, uploadID string, chunks []stagedChunk, out string) (int64, error) {
	partial := s.resolver.partialPath(uploadID)

	f, err := s.fs.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", partial, err)
	}

	written, err := appendChunks(ctx, logger, s.fs, bufio.NewWriterSize(f, mergeBufferSize), chunks)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing %s: %w", partial, closeErr)
	}
	if err != nil {
		s.fs.Remove(partial)
		return 0, err
	}

	if err := s.fs.Rename(partial, out); err != nil {
		s.fs.Remove(partial)
		return 0, fmt.Errorf("renaming %s to %s: %w", partial, out, err)
	}
	return written, nil
}

// appendChunks copia cada chunk, na ordem dada, para w e faz flush no final.
func appendChunks(ctx context.Context, logger *slog.Logger, fs afero.Fs, w *bufio.Writer, chunks []stagedChunk) (int64, error) {
	var total int64
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		in, err := fs.Open(c.path)
		if err != nil {
			return total, fmt.Errorf("opening chunk %s: %w", c.path, err)
		}
		n, err := io.Copy(w, in)
		in.Close()
		if err != nil {
			return total, fmt.Errorf("appending chunk %s: %w", c.path, err)
		}
		total += n

		logger.Debug("chunk appended", "part", c.part, "chunk", c.index, "bytes", n)
	}

	if err := w.Flush(); err != nil {
		return total, fmt.Errorf("flushing merged output: %w", err)
	}
	return total, nil
}

func noChunksMessage(layout Layout, uploadID string) string {
	switch layout {
	case LayoutChunksSubdir:
		return fmt.Sprintf("no chunks_ files found in chunks directory of upload %s", uploadID)
	case LayoutLegacyParts:
		return fmt.Sprintf("no chunk_ files found in part directories of upload %s", uploadID)
	default:
		return fmt.Sprintf("no chunk files found for upload %s", uploadID)
	}
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler é um slog.Handler que despacha cada registro para dois handlers.
// Usado por NewUploadLogger para gravar ao mesmo tempo no handler global e no
// arquivo de log do upload.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Verifica Enabled() de cada handler individualmente antes de despachar.
	// Isso garante que registros DEBUG não são enviados ao handler primário
	// quando este aceita apenas INFO (ou superior).
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// Falha no arquivo do upload não bloqueia o log global.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewUploadLogger cria um logger que grava no logger base e, em paralelo, em um
// arquivo dedicado ao upload:
//
//	{uploadLogDir}/{uploadID}.log
//
// O arquivo é aberto em append: writes e merge de um mesmo upload acumulam no mesmo
// arquivo ao longo de várias requisições. O Closer retornado deve ser chamado ao fim
// de cada operação.
//
// Com uploadLogDir vazio, devolve o logger base e um Closer no-op.
func NewUploadLogger(baseLogger *slog.Logger, uploadLogDir, uploadID string) (*slog.Logger, io.Closer, string, error) {
	if uploadLogDir == "" {
		return baseLogger, nopCloser{}, "", nil
	}

	if err := os.MkdirAll(uploadLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating upload log directory %s: %w", uploadLogDir, err)
	}

	logPath := UploadLogPath(uploadLogDir, uploadID)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening upload log file %s: %w", logPath, err)
	}

	// Sempre JSON em DEBUG: o arquivo é o histórico completo do upload.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// UploadLogPath devolve o caminho do arquivo de log de um upload.
func UploadLogPath(uploadLogDir, uploadID string) string {
	return filepath.Join(uploadLogDir, uploadID+".log")
}

// RemoveUploadLog remove o log de um upload concluído ou descartado.
// No-op se uploadLogDir for vazio ou o arquivo não existir.
func RemoveUploadLog(uploadLogDir, uploadID string) {
	if uploadLogDir == "" {
		return
	}
	os.Remove(UploadLogPath(uploadLogDir, uploadID))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

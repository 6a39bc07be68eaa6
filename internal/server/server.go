// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implementa o transporte HTTP do nupload-server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/spf13/afero"

	"github.com/nishisan-dev/n-upload/internal/config"
	"github.com/nishisan-dev/n-upload/internal/pki"
)

// Run inicia o servidor e bloqueia até o context ser cancelado.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	return RunWithListener(ctx, ln, cfg, logger)
}

// RunWithListener inicia o servidor com um listener já existente (para testes).
// Com tls.server_cert configurado, o listener é servido com TLS.
func RunWithListener(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, logger *slog.Logger) error {
	return serve(ctx, ln, cfg, afero.NewOsFs(), logger)
}

func serve(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, fs afero.Fs, logger *slog.Logger) error {
	defer ln.Close()

	comps, err := buildComponents(ctx, cfg, fs, logger)
	if err != nil {
		return err
	}
	comps.start()

	srv := &http.Server{
		Handler:      comps.handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	if cfg.TLS.Enabled() {
		tlsCfg, err := pki.NewServerTLSConfig(cfg.TLS.ServerCert, cfg.TLS.ServerKey, cfg.TLS.ClientCA)
		if err != nil {
			comps.close(context.Background())
			return fmt.Errorf("configuring TLS: %w", err)
		}
		srv.TLSConfig = tlsCfg
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go comps.handler.StartStatsReporter(statsCtx)

	errCh := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			errCh <- srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- srv.Serve(ln)
	}()

	logger.Info("server listening",
		"address", ln.Addr().String(),
		"tls", cfg.TLS.Enabled(),
		"mtls", cfg.TLS.ClientCA != "",
		"stagingRoot", cfg.Staging.Root,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serving http: %w", err)
		}
	}

	// Requisições em andamento têm até shutdown_timeout para terminar
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
	comps.close(shutdownCtx)

	if serveErr == nil {
		logger.Info("server shutdown complete")
	}
	return serveErr
}

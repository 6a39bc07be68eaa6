// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/nishisan-dev/n-upload/internal/config"
	"github.com/nishisan-dev/n-upload/internal/janitor"
	"github.com/nishisan-dev/n-upload/internal/monitor"
	"github.com/nishisan-dev/n-upload/internal/observability"
	"github.com/nishisan-dev/n-upload/internal/publish"
	"github.com/nishisan-dev/n-upload/internal/registry"
	"github.com/nishisan-dev/n-upload/internal/staging"
)

// components são as dependências de longa duração montadas a partir da configuração.
type components struct {
	store      *registry.BoltStore
	monitor    *monitor.SystemMonitor
	eventStore *observability.EventStore // nil quando events_file está vazio
	events     observability.EventLog
	svc        *staging.Service
	janitor    *janitor.Janitor // nil quando desabilitado
	publisher  publish.Publisher
	handler    *Handler
	logger     *slog.Logger
}

// buildComponents abre o registro de sessões, o log de eventos e o monitor de disco,
// e monta o staging, o janitor e o publisher. Em erro, fecha o que já foi aberto.
func buildComponents(ctx context.Context, cfg *config.ServerConfig, fs afero.Fs, logger *slog.Logger) (*components, error) {
	c := &components{logger: logger}
	if err := c.build(ctx, cfg, fs); err != nil {
		c.close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *components) build(ctx context.Context, cfg *config.ServerConfig, fs afero.Fs) error {
	logger := c.logger
	var err error

	c.store, err = registry.Open(cfg.Sessions.DBPath)
	if err != nil {
		return fmt.Errorf("opening session registry: %w", err)
	}

	if cfg.Admin.EventsFile != "" {
		c.eventStore, err = observability.NewEventStore(cfg.Admin.EventsFile, cfg.Admin.EventsRing, cfg.Admin.EventsMaxLines, logger)
		if err != nil {
			return fmt.Errorf("opening events file: %w", err)
		}
		c.events = c.eventStore
	} else {
		c.events = observability.NewEventRing(cfg.Admin.EventsRing)
	}

	c.monitor = monitor.NewSystemMonitor(cfg.Staging.Root, monitor.FreeSpace{
		Bytes:   cfg.Staging.MinFreeBytes,
		Percent: cfg.Staging.MinFreePercent,
	}, logger)

	c.svc, err = staging.NewService(staging.Options{
		Root:             cfg.Staging.Root,
		Fs:               fs,
		WriteBytesPerSec: cfg.Staging.WriteRateLimitRaw,
		RequireSession:   cfg.Staging.RequireSession,
		Sessions:         c.store,
		Space:            c.monitor,
		UploadLogDir:     cfg.Staging.UploadLogDir,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if cfg.Publish.S3.Enabled {
		c.publisher, err = publish.NewS3Publisher(ctx, cfg.Publish.S3, fs, logger)
		if err != nil {
			return fmt.Errorf("configuring s3 publisher: %w", err)
		}
	}

	if cfg.Janitor.Enabled {
		c.janitor, err = janitor.New(cfg.Janitor.Schedule, cfg.Janitor.MaxAge, c.svc, c.store, c.events, logger)
		if err != nil {
			return err
		}
	}

	c.handler = NewHandler(Deps{
		Staging:       c.svc,
		Events:        c.events,
		Publisher:     c.publisher,
		Disk:          c.monitor,
		ACL:           observability.NewACL(cfg.Admin.ParsedCIDRs),
		MaxChunkSize:  cfg.Staging.MaxChunkSizeRaw,
		MaxBatchFiles: cfg.Staging.MaxBatchFiles,
		Logger:        logger,
	})
	return nil
}

// start inicia as rotinas de fundo.
func (c *components) start() {
	c.monitor.Start()
	if c.janitor != nil {
		c.janitor.Start()
	}
}

// close para as rotinas de fundo e fecha os arquivos abertos.
func (c *components) close(ctx context.Context) {
	if c.janitor != nil {
		c.janitor.Stop(ctx)
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.eventStore != nil {
		if err := c.eventStore.Close(); err != nil {
			c.logger.Warn("closing events file", "error", err)
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("closing session registry", "error", err)
		}
	}
}

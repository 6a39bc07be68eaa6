// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package janitor expira periodicamente namespaces abandonados no staging root.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/n-upload/internal/observability"
	"github.com/nishisan-dev/n-upload/internal/staging"
)

// ErrSweepRunning é devolvido por Sweep quando outra varredura está em andamento.
var ErrSweepRunning = errors.New("janitor: sweep already running")

// Stager é o subconjunto de staging.Service usado pela varredura.
type Stager interface {
	Namespaces() ([]staging.NamespaceInfo, error)
	Expire(ctx context.Context, uploadID string) error
	PurgeArtifacts(cutoff time.Time) (int, error)
}

// Pruner remove registros de sessão encerrados (registry.BoltStore).
type Pruner interface {
	Prune(cutoff time.Time) (int, error)
}

// Report resume uma varredura.
type Report struct {
	Expired         []string
	ArtifactsPurged int
	SessionsPruned  int
}

// Janitor agenda varreduras via cron expression.
type Janitor struct {
	cron    *cron.Cron
	logger  *slog.Logger
	stager  Stager
	pruner  Pruner                 // opcional
	events  observability.EventLog // opcional
	maxAge  time.Duration
	now     func() time.Time
	mu      sync.Mutex // garante apenas uma varredura por vez
	running bool
}

// New cria um Janitor com a expressão cron fornecida. pruner e events podem ser nil.
func New(schedule string, maxAge time.Duration, stager Stager, pruner Pruner, events observability.EventLog, logger *slog.Logger) (*Janitor, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("janitor: max_age must be positive, got %s", maxAge)
	}
	j := &Janitor{
		logger: logger.With("component", "janitor"),
		stager: stager,
		pruner: pruner,
		events: events,
		maxAge: maxAge,
		now:    time.Now,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, j.execute); err != nil {
		return nil, fmt.Errorf("janitor: invalid schedule %q: %w", schedule, err)
	}

	j.cron = c
	return j, nil
}

// Start inicia o agendamento.
func (j *Janitor) Start() {
	j.logger.Info("janitor started", "maxAge", j.maxAge)
	j.cron.Start()
}

// Stop para o agendamento e aguarda a varredura em andamento, até ctx expirar.
func (j *Janitor) Stop(ctx context.Context) {
	j.logger.Info("janitor stopping")
	stopCtx := j.cron.Stop()

	select {
	case <-stopCtx.Done():
		j.logger.Info("janitor stopped gracefully")
	case <-ctx.Done():
		j.logger.Warn("janitor stop timed out")
	}
}

func (j *Janitor) execute() {
	if _, err := j.Sweep(context.Background()); err != nil {
		if errors.Is(err, ErrSweepRunning) {
			j.logger.Warn("sweep already running, skipping scheduled execution")
			return
		}
		j.logger.Error("sweep finished with errors", "error", err)
	}
}

// Sweep expira namespaces mais antigos que maxAge, remove artefatos parados
// (parciais de merge, spool de multipart) e poda sessões encerradas.
// Erros individuais não interrompem a varredura; são agregados no retorno.
func (j *Janitor) Sweep(ctx context.Context) (*Report, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil, ErrSweepRunning
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	cutoff := j.now().Add(-j.maxAge)
	report := &Report{}
	var errs []error

	namespaces, err := j.stager.Namespaces()
	if err != nil {
		return report, fmt.Errorf("listing namespaces: %w", err)
	}

	for _, ns := range namespaces {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if ns.ModTime.After(cutoff) {
			continue
		}
		if err := j.stager.Expire(ctx, ns.UploadID); err != nil {
			errs = append(errs, fmt.Errorf("expiring %s: %w", ns.UploadID, err))
			j.push("error", observability.EventCleanupFailed, ns.UploadID, err.Error())
			continue
		}
		report.Expired = append(report.Expired, ns.UploadID)
		j.push("info", observability.EventExpired, ns.UploadID,
			fmt.Sprintf("expired upload %s idle since %s", ns.UploadID, ns.ModTime.UTC().Format(time.RFC3339)))
	}

	purged, err := j.stager.PurgeArtifacts(cutoff)
	report.ArtifactsPurged = purged
	if err != nil {
		errs = append(errs, fmt.Errorf("purging artifacts: %w", err))
	}

	if j.pruner != nil {
		pruned, err := j.pruner.Prune(cutoff)
		report.SessionsPruned = pruned
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning sessions: %w", err))
		}
	}

	j.logger.Info("sweep finished",
		"expired", len(report.Expired),
		"artifactsPurged", report.ArtifactsPurged,
		"sessionsPruned", report.SessionsPruned,
	)
	return report, errors.Join(errs...)
}

func (j *Janitor) push(level, eventType, uploadID, msg string) {
	if j.events != nil {
		j.events.PushEvent(level, eventType, uploadID, msg)
	}
}

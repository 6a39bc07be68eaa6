// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package staging implementa o staging de uploads em chunks: isolamento por upload ID,
// gravação de chunks individuais e em lote, detecção de layout, merge ordenado e limpeza.
//
// Toda a coordenação entre chamadas acontece pelo filesystem: não há estado
// compartilhado em memória entre writes de um mesmo upload.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/nishisan-dev/n-upload/internal/logging"
)

// SpaceChecker informa se ainda há espaço suficiente no staging root para aceitar writes.
type SpaceChecker interface {
	CheckSpace() error
}

// Options configura um Service.
type Options struct {
	Root             string
	Fs               afero.Fs     // default: afero.NewOsFs()
	WriteBytesPerSec int64        // <= 0 desativa o throttle
	RequireSession   bool         // writes/merges exigem sessão aberta via Open
	Sessions         SessionStore // nil desativa sessões explícitas
	Space            SpaceChecker // nil desativa a checagem de espaço
	UploadLogDir     string       // vazio desativa logs dedicados por upload
	Logger           *slog.Logger
}

// Service expõe as operações de staging de um staging root.
type Service struct {
	fs           afero.Fs
	resolver     *Resolver
	placer       *placer
	cleaner      *Cleaner
	sessions     SessionStore
	space        SpaceChecker
	requireSess  bool
	uploadLogDir string
	logger       *slog.Logger
	now          func() time.Time
}

// NewService cria um Service e garante que o staging root exista.
func NewService(opts Options) (*Service, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("staging root is required")
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "staging")

	resolver := NewResolver(fs, opts.Root)
	if err := resolver.Ensure(resolver.Root()); err != nil {
		return nil, fmt.Errorf("creating staging root: %w", err)
	}

	return &Service{
		fs:           fs,
		resolver:     resolver,
		placer:       &placer{fs: fs, bytesPerSec: opts.WriteBytesPerSec},
		cleaner:      NewCleaner(fs, logger),
		sessions:     opts.Sessions,
		space:        opts.Space,
		requireSess:  opts.RequireSession,
		uploadLogDir: opts.UploadLogDir,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Resolver expõe o resolver de namespaces (usado pelo transporte para o spool).
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Fs retorna o filesystem usado pelo Service.
func (s *Service) Fs() afero.Fs {
	return s.fs
}

// OpenRequest abre explicitamente uma sessão de upload.
type OpenRequest struct {
	UploadID         string // vazio gera um UUID
	DeclaredFilename string
	ExpectedChunks   int // 0 = desconhecido
}

// Open registra uma sessão de upload e cria o namespace. Devolve o handle da sessão.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uploadID := req.UploadID
	if uploadID == "" {
		uploadID = uuid.NewString()
	}
	if req.ExpectedChunks < 0 {
		return nil, newError(CodeInvalidIndex, uploadID,
			fmt.Sprintf("expected_chunks must be >= 0 for upload %s, got %d", uploadID, req.ExpectedChunks), nil)
	}

	dir, err := s.resolver.Resolve(uploadID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := Session{
		UploadID:         uploadID,
		DeclaredFilename: req.DeclaredFilename,
		ExpectedChunks:   req.ExpectedChunks,
		Status:           SessionOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if s.sessions != nil {
		if err := s.sessions.Create(sess); err != nil {
			if errors.Is(err, ErrSessionExists) {
				return nil, newError(CodeSessionExists, uploadID,
					fmt.Sprintf("session for upload %s already exists", uploadID), nil)
			}
			return nil, fmt.Errorf("registering session %s: %w", uploadID, err)
		}
	}

	if err := s.resolver.Ensure(dir); err != nil {
		return nil, newError(CodeChunkPersistenceFailed, uploadID,
			fmt.Sprintf("could not create namespace for upload %s", uploadID), err)
	}

	s.logger.Info("upload session opened",
		"uploadID", uploadID,
		"file", req.DeclaredFilename,
		"expectedChunks", req.ExpectedChunks,
	)
	return &sess, nil
}

// lookupSession devolve a sessão registrada ou nil quando não há store ou registro.
func (s *Service) lookupSession(uploadID string) (*Session, error) {
	if s.sessions == nil {
		return nil, nil
	}
	sess, err := s.sessions.Get(uploadID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading session %s: %w", uploadID, err)
	}
	return sess, nil
}

// requireOpenSession aplica RequireSession: o upload precisa ter sessão aberta.
func (s *Service) requireOpenSession(uploadID string) error {
	if !s.requireSess || s.sessions == nil {
		return nil
	}
	sess, err := s.lookupSession(uploadID)
	if err != nil {
		return newError(CodeUploadNotFound, uploadID,
			fmt.Sprintf("could not load session for upload %s", uploadID), err)
	}
	if sess == nil {
		return newError(CodeUploadNotFound, uploadID,
			fmt.Sprintf("no open session for upload %s", uploadID), nil)
	}
	if sess.Status != SessionOpen {
		return newError(CodeUploadNotFound, uploadID,
			fmt.Sprintf("session for upload %s is %s", uploadID, sess.Status), nil)
	}
	return nil
}

// markSession atualiza o status da sessão, se existir. Falhas são apenas logadas.
func (s *Service) markSession(uploadID string, status SessionStatus, mergedPath string) {
	if s.sessions == nil {
		return
	}
	err := s.sessions.Update(uploadID, func(sess *Session) error {
		sess.Status = status
		if mergedPath != "" {
			sess.MergedPath = mergedPath
		}
		sess.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		s.logger.Warn("updating session status", "uploadID", uploadID, "status", status, "error", err)
	}
}

// uploadLogger devolve o logger do upload (fan-out para o arquivo dedicado, se configurado)
// e a função que o fecha. Falha ao abrir o arquivo cai para o logger do serviço.
// O fechamento pode ser chamado mais de uma vez; só o primeiro fecha o arquivo.
func (s *Service) uploadLogger(uploadID string) (*slog.Logger, func() error) {
	logger, closer, _, err := logging.NewUploadLogger(s.logger, s.uploadLogDir, uploadID)
	if err != nil {
		s.logger.Warn("opening upload log", "uploadID", uploadID, "error", err)
		return s.logger.With("uploadID", uploadID), func() error { return nil }
	}
	return logger.With("uploadID", uploadID), sync.OnceValue(closer.Close)
}

func (s *Service) checkSpace(uploadID string) error {
	if s.space == nil {
		return nil
	}
	if err := s.space.CheckSpace(); err != nil {
		return newError(CodeInsufficientSpace, uploadID,
			fmt.Sprintf("staging disk is low on space, rejecting chunks for upload %s", uploadID), err)
	}
	return nil
}

// Abort descarta o namespace de um upload e marca a sessão como abortada.
func (s *Service) Abort(ctx context.Context, uploadID string) error {
	return s.discard(ctx, uploadID, SessionAborted)
}

// Expire descarta o namespace de um upload abandonado (usado pelo janitor).
func (s *Service) Expire(ctx context.Context, uploadID string) error {
	return s.discard(ctx, uploadID, SessionExpired)
}

func (s *Service) discard(ctx context.Context, uploadID string, status SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.resolver.Resolve(uploadID)
	if err != nil {
		return err
	}

	exists, err := s.resolver.Exists(dir)
	if err != nil {
		return newError(CodeCleanupFailed, uploadID, fmt.Sprintf("could not inspect upload %s", uploadID), err)
	}
	sess, _ := s.lookupSession(uploadID)
	if !exists && sess == nil {
		return newError(CodeUploadNotFound, uploadID,
			fmt.Sprintf("no chunk directory found for upload %s", uploadID), nil)
	}

	if exists {
		if err := s.cleaner.Clean(dir); err != nil {
			cleanupFailures.Inc()
			return err
		}
	}
	s.markSession(uploadID, status, "")
	logging.RemoveUploadLog(s.uploadLogDir, uploadID)

	s.logger.Info("upload discarded", "uploadID", uploadID, "status", status)
	return nil
}

// UploadStatus descreve o estado atual de um upload em staging.
type UploadStatus struct {
	UploadID   string   `json:"upload_id"`
	Exists     bool     `json:"exists"`
	Layout     string   `json:"layout,omitempty"`
	ChunkCount int      `json:"chunk_count"`
	Chunks     []int    `json:"chunks,omitempty"` // índices na ordem do merge
	Bytes      int64    `json:"bytes"`
	Session    *Session `json:"session,omitempty"`
}

// Inspect devolve o layout e os chunks atualmente em staging para o upload.
func (s *Service) Inspect(ctx context.Context, uploadID string) (*UploadStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.resolver.Resolve(uploadID)
	if err != nil {
		return nil, err
	}

	sess, err := s.lookupSession(uploadID)
	if err != nil {
		return nil, err
	}

	exists, err := s.resolver.Exists(dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		if sess == nil {
			return nil, newError(CodeUploadNotFound, uploadID,
				fmt.Sprintf("no chunk directory found for upload %s", uploadID), nil)
		}
		return &UploadStatus{UploadID: uploadID, Session: sess}, nil
	}

	layout, err := DetectLayout(s.fs, dir)
	if err != nil {
		return nil, err
	}
	chunks, err := collectChunks(s.fs, dir, layout)
	if err != nil {
		return nil, err
	}

	st := &UploadStatus{
		UploadID:   uploadID,
		Exists:     true,
		Layout:     layout.String(),
		ChunkCount: len(chunks),
		Chunks:     make([]int, 0, len(chunks)),
		Session:    sess,
	}
	for _, c := range chunks {
		st.Chunks = append(st.Chunks, c.index)
		st.Bytes += c.size
	}
	return st, nil
}

// NamespaceInfo descreve um diretório de namespace presente no staging root.
type NamespaceInfo struct {
	UploadID string
	Path     string
	ModTime  time.Time
}

// Namespaces lista os namespaces do staging root. Entradas ocultas e saídas merged_* são ignoradas.
func (s *Service) Namespaces() ([]NamespaceInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.resolver.Root())
	if err != nil {
		return nil, fmt.Errorf("listing staging root: %w", err)
	}

	var out []NamespaceInfo
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, mergedPrefix) {
			continue
		}
		out = append(out, NamespaceInfo{
			UploadID: name,
			Path:     filepath.Join(s.resolver.Root(), name),
			ModTime:  e.ModTime(),
		})
	}
	return out, nil
}

// PurgeArtifacts remove saídas parciais de merge e arquivos de spool anteriores a cutoff.
// Devolve quantos arquivos foram removidos.
func (s *Service) PurgeArtifacts(cutoff time.Time) (int, error) {
	removed := 0
	var errs []error

	entries, err := afero.ReadDir(s.fs, s.resolver.Root())
	if err != nil {
		return 0, fmt.Errorf("listing staging root: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "."+mergedPrefix) || !strings.HasSuffix(name, partialSuffix) {
			continue
		}
		if e.ModTime().After(cutoff) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.resolver.Root(), name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	incoming := s.resolver.IncomingPath()
	spooled, err := afero.ReadDir(s.fs, incoming)
	if err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("listing %s: %w", incoming, err))
	}
	for _, e := range spooled {
		if e.IsDir() || e.ModTime().After(cutoff) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(incoming, e.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

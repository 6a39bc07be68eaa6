// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

const testRoot = "/staging"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Root == "" {
		opts.Root = testRoot
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewMemMapFs()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func writeTestFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readTestFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func intPtr(v int) *int { return &v }

var errInjected = errors.New("injected failure")

// failingFs injeta falhas de escrita em arquivos cujo nome contém failOn.
type failingFs struct {
	afero.Fs
	failOn string
}

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || !strings.Contains(filepath.Base(name), f.failOn) {
		return file, err
	}
	return &failingWriteFile{File: file}, nil
}

func (f *failingFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

type failingWriteFile struct {
	afero.File
}

func (f *failingWriteFile) Write(p []byte) (int, error) {
	return 0, errInjected
}

func (f *failingWriteFile) ReadFrom(r io.Reader) (int64, error) {
	return 0, errInjected
}

// removeFailingFs recusa remover caminhos que contêm failOn.
type removeFailingFs struct {
	afero.Fs
	failOn string
}

func (f *removeFailingFs) Remove(name string) error {
	if strings.Contains(name, f.failOn) {
		return errInjected
	}
	return f.Fs.Remove(name)
}

// memSessionStore é um SessionStore em memória para testes.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]Session)}
}

func (m *memSessionStore) Create(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.UploadID]; ok {
		return ErrSessionExists
	}
	m.sessions[s.UploadID] = s
	return nil
}

func (m *memSessionStore) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *memSessionStore) Update(id string, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if err := fn(&s); err != nil {
		return err
	}
	m.sessions[id] = s
	return nil
}

func (m *memSessionStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessionStore) List() ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

type fixedSpace struct{ err error }

func (f fixedSpace) CheckSpace() error { return f.err }

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Cleaner remove diretórios de namespace de forma recursiva e best-effort.
type Cleaner struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewCleaner cria um Cleaner.
func NewCleaner(fs afero.Fs, logger *slog.Logger) *Cleaner {
	return &Cleaner{fs: fs, logger: logger}
}

// Clean remove dir e todo o seu conteúdo, profundidade primeiro: subdiretórios são
// esvaziados antes de serem removidos, arquivos são removidos diretamente.
// Continua após falhas individuais e devolve todas elas agregadas em CodeCleanupFailed.
// Diretório inexistente não é erro.
func (c *Cleaner) Clean(dir string) error {
	var errs []error
	c.clean(dir, &errs)

	if len(errs) > 0 {
		err := newError(CodeCleanupFailed, filepath.Base(dir),
			fmt.Sprintf("cleanup of %s incomplete", dir), errors.Join(errs...))
		c.logger.Error("namespace cleanup failed", "dir", dir, "failures", len(errs), "error", err)
		return err
	}

	c.logger.Debug("namespace removed", "dir", dir)
	return nil
}

func (c *Cleaner) clean(dir string, errs *[]error) {
	entries, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		if !os.IsNotExist(err) {
			*errs = append(*errs, fmt.Errorf("listing %s: %w", dir, err))
		}
		return
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			c.clean(path, errs)
			continue
		}
		if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			*errs = append(*errs, fmt.Errorf("removing file %s: %w", path, err))
			continue
		}
		c.logger.Debug("file removed", "path", path)
	}

	if err := c.fs.Remove(dir); err != nil && !os.IsNotExist(err) {
		*errs = append(*errs, fmt.Errorf("removing directory %s: %w", dir, err))
	}
}

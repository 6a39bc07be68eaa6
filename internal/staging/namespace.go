// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	// mergedPrefix nomeia o arquivo final montado: {root}/merged_{uploadID}.
	mergedPrefix = "merged_"

	// partialSuffix marca a saída de um merge em andamento: {root}/.merged_{uploadID}.partial.
	partialSuffix = ".partial"

	// IncomingDir é o subdiretório da raiz usado pelo transporte para spool de uploads.
	IncomingDir = ".incoming"

	dirPerm  = 0755
	filePerm = 0644
)

// Resolver deriva o diretório de namespace de cada upload a partir do staging root.
type Resolver struct {
	fs   afero.Fs
	root string
}

// NewResolver cria um Resolver para o staging root informado.
func NewResolver(fs afero.Fs, root string) *Resolver {
	return &Resolver{fs: fs, root: filepath.Clean(root)}
}

// Root retorna o staging root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve deriva {root}/{uploadID}. Não toca no disco.
func (r *Resolver) Resolve(uploadID string) (string, error) {
	if uploadID == "" {
		return "", newError(CodeMissingIdentifier, "", "upload_id is required", nil)
	}
	if err := validatePathComponent(uploadID); err != nil {
		return "", newError(CodeInvalidIdentifier, uploadID,
			fmt.Sprintf("invalid upload_id %q", uploadID), err)
	}

	dir := filepath.Join(r.root, uploadID)
	if err := validatePathInBaseDir(r.root, dir); err != nil {
		return "", newError(CodeInvalidIdentifier, uploadID,
			fmt.Sprintf("invalid upload_id %q", uploadID), err)
	}
	return dir, nil
}

// Ensure cria o diretório (e pais) se não existir. Diretório já existente não é erro,
// inclusive quando outro caller o cria concorrentemente.
func (r *Resolver) Ensure(dir string) error {
	if err := r.fs.MkdirAll(dir, dirPerm); err != nil {
		// MkdirAll pode perder a corrida para outro caller; confirma o estado final.
		if info, statErr := r.fs.Stat(dir); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("creating namespace directory %s: %w", dir, err)
	}
	return nil
}

// Exists informa se o namespace existe e é um diretório.
func (r *Resolver) Exists(dir string) (bool, error) {
	info, err := r.fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat namespace directory %s: %w", dir, err)
	}
	return info.IsDir(), nil
}

// MergedPath retorna o caminho do arquivo final: {root}/merged_{uploadID}.
func (r *Resolver) MergedPath(uploadID string) string {
	return filepath.Join(r.root, mergedPrefix+uploadID)
}

// partialPath retorna o caminho da saída em andamento de um merge.
func (r *Resolver) partialPath(uploadID string) string {
	return filepath.Join(r.root, "."+mergedPrefix+uploadID+partialSuffix)
}

// IncomingPath retorna o diretório de spool do transporte.
func (r *Resolver) IncomingPath() string {
	return filepath.Join(r.root, IncomingDir)
}

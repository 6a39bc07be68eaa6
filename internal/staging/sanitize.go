// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxPathComponentLength é o comprimento máximo permitido para um upload ID.
const maxPathComponentLength = 255

// validatePathComponent valida que o upload ID é seguro para uso como componente
// de caminho dentro do staging root. Previne path traversal.
func validatePathComponent(name string) error {
	if len(name) > maxPathComponentLength {
		return fmt.Errorf("exceeds max length %d", maxPathComponentLength)
	}

	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("contains path separator")
	}

	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("contains null byte")
	}

	if name == "." || name == ".." || strings.HasPrefix(name, "..") {
		return fmt.Errorf("contains path traversal")
	}

	// Nomes com ponto inicial são reservados (.incoming, .merged_*.partial)
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("starts with dot")
	}

	// merged_* é o nome dos arquivos de saída na raiz
	if strings.HasPrefix(name, mergedPrefix) {
		return fmt.Errorf("uses reserved prefix %q", mergedPrefix)
	}

	return nil
}

// validatePathInBaseDir verifica que o caminho resolvido permanece dentro de baseDir.
func validatePathInBaseDir(baseDir, resolvedPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving base dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil {
		return fmt.Errorf("path escapes base directory: %w", err)
	}

	if rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %q escapes base directory %q", resolvedPath, baseDir)
	}

	return nil
}

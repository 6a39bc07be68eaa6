// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ChunkSource é um blob já recebido pela camada de transporte.
// O conjunto é fechado: FileSource (movido por rename) e ReaderSource (copiado).
type ChunkSource interface {
	open(fs afero.Fs) (io.ReadCloser, error)
	declaredSize() int64
}

// FileSource é um arquivo já gravado no mesmo filesystem do staging (spool do transporte).
// É movido para o destino por rename; se o rename falhar (ex.: outro device), é copiado
// e o original removido.
type FileSource struct {
	Path string
	Size int64 // informativo; -1 ou 0 quando desconhecido
}

func (s FileSource) open(fs afero.Fs) (io.ReadCloser, error) {
	return fs.Open(s.Path)
}

func (s FileSource) declaredSize() int64 { return s.Size }

// ReaderSource é um stream ou buffer com o conteúdo do chunk.
type ReaderSource struct {
	R    io.Reader
	Size int64 // informativo; -1 quando desconhecido
}

func (s ReaderSource) open(afero.Fs) (io.ReadCloser, error) {
	if s.R == nil {
		return nil, errors.New("nil reader")
	}
	return io.NopCloser(s.R), nil
}

func (s ReaderSource) declaredSize() int64 { return s.Size }

// BytesSource cria um ReaderSource a partir de um buffer em memória.
func BytesSource(b []byte) ReaderSource {
	return ReaderSource{R: bytes.NewReader(b), Size: int64(len(b))}
}

// placer grava fontes de chunk em caminhos finais do namespace.
// A escrita passa por um arquivo temporário oculto no mesmo diretório e termina
// com rename, de modo que o nome final nunca aponta para um chunk incompleto.
type placer struct {
	fs          afero.Fs
	bytesPerSec int64
}

// place persiste src em dst, substituindo qualquer arquivo anterior. Retorna o tamanho final.
func (p *placer) place(ctx context.Context, uploadID string, src ChunkSource, dst string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if fsrc, ok := src.(FileSource); ok {
		if err := p.fs.Rename(fsrc.Path, dst); err == nil {
			info, err := p.fs.Stat(dst)
			if err != nil {
				return 0, fmt.Errorf("stat moved chunk %s: %w", dst, err)
			}
			return info.Size(), nil
		} else if _, statErr := p.fs.Stat(fsrc.Path); statErr != nil {
			// Fonte sumiu: nada para copiar
			return 0, fmt.Errorf("moving %s to %s: %w", fsrc.Path, dst, err)
		}
		// Rename falhou mas a fonte existe: cai para cópia
	}

	n, err := p.copyInto(ctx, uploadID, src, dst)
	if err != nil {
		return 0, err
	}

	if fsrc, ok := src.(FileSource); ok {
		if err := p.fs.Remove(fsrc.Path); err != nil && !os.IsNotExist(err) {
			return n, fmt.Errorf("removing spooled source %s: %w", fsrc.Path, err)
		}
	}
	return n, nil
}

func (p *placer) copyInto(ctx context.Context, uploadID string, src ChunkSource, dst string) (int64, error) {
	r, err := src.open(p.fs)
	if err != nil {
		return 0, fmt.Errorf("opening chunk source: %w", err)
	}
	defer r.Close()

	dir, name := filepath.Split(dst)
	tmp, err := afero.TempFile(p.fs, dir, "."+name+"-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for %s: %w", dst, err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(throttleChunk(ctx, tmp, uploadID, p.bytesPerSec), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		p.fs.Remove(tmpPath)
		return 0, fmt.Errorf("writing chunk %s: %w", dst, err)
	}

	if err := p.fs.Rename(tmpPath, dst); err != nil {
		p.fs.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp to %s: %w", dst, err)
	}
	return n, nil
}

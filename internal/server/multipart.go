// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/nishisan-dev/n-upload/internal/staging"
)

// maxFieldSize limita cada campo de texto do formulário.
const maxFieldSize = 64 * 1024

// spooledForm é um formulário multipart já lido: campos de texto em memória e
// arquivos gravados no diretório de spool do staging root.
type spooledForm struct {
	fields    map[string]string
	files     []staging.FileSource
	filenames []string // nome original de cada arquivo, na mesma ordem
	fs        afero.Fs
}

// readSpooledForm lê o corpo multipart em streaming. Partes do campo fileField vão para
// {root}/.incoming, limitadas a maxChunk bytes cada; no máximo maxFiles partes.
// Em erro os arquivos já gravados são removidos.
func readSpooledForm(r *http.Request, fs afero.Fs, incoming, fileField string, maxFiles int, maxChunk int64) (*spooledForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("expected multipart/form-data body: %v", err)
	}

	form := &spooledForm{fields: map[string]string{}, fs: fs}
	fail := func(err error) (*spooledForm, error) {
		form.cleanup()
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(badRequestOrLimit(err, "reading multipart body"))
		}

		name := part.FormName()
		switch {
		case name == fileField:
			if len(form.files) >= maxFiles {
				part.Close()
				return fail(badRequest("too many %q parts, at most %d per request", fileField, maxFiles))
			}
			src, err := spoolPart(fs, incoming, part, maxChunk)
			part.Close()
			if err != nil {
				return fail(err)
			}
			form.files = append(form.files, src)
			form.filenames = append(form.filenames, part.FileName())

		case part.FileName() == "" && name != "":
			data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
			part.Close()
			if err != nil {
				return fail(badRequestOrLimit(err, "reading form field "+name))
			}
			if len(data) > maxFieldSize {
				return fail(badRequest("form field %q is too large", name))
			}
			form.fields[name] = strings.TrimSpace(string(data))

		default:
			// arquivos em campos desconhecidos são descartados
			io.Copy(io.Discard, part)
			part.Close()
		}
	}
	return form, nil
}

// spoolPart grava uma parte em um arquivo temporário do spool.
func spoolPart(fs afero.Fs, incoming string, part io.Reader, maxChunk int64) (staging.FileSource, error) {
	if err := fs.MkdirAll(incoming, 0755); err != nil {
		return staging.FileSource{}, fmt.Errorf("creating spool directory: %w", err)
	}
	f, err := afero.TempFile(fs, incoming, "part-*")
	if err != nil {
		return staging.FileSource{}, fmt.Errorf("creating spool file: %w", err)
	}

	n, err := io.Copy(f, newLimitedReader(part, maxChunk))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fs.Remove(f.Name())
		return staging.FileSource{}, badRequestOrLimit(err, "spooling chunk")
	}
	return staging.FileSource{Path: f.Name(), Size: n}, nil
}

// badRequestOrLimit preserva erros de tamanho (413) e trata o resto como corpo inválido.
func badRequestOrLimit(err error, what string) error {
	var maxErr *http.MaxBytesError
	if errors.Is(err, errChunkTooLarge) || errors.As(err, &maxErr) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return badRequest("%s: %v", what, err)
}

// cleanup remove arquivos de spool que o staging não consumiu.
func (f *spooledForm) cleanup() {
	for _, src := range f.files {
		f.fs.Remove(src.Path)
	}
}

// sources devolve os arquivos como fontes de chunk.
func (f *spooledForm) sources() []staging.ChunkSource {
	out := make([]staging.ChunkSource, len(f.files))
	for i, src := range f.files {
		out[i] = src
	}
	return out
}

// intField lê um campo inteiro. ok=false quando o campo está ausente ou vazio.
func (f *spooledForm) intField(name string) (v int, ok bool, err error) {
	raw, present := f.fields[name]
	if !present || raw == "" {
		return 0, false, nil
	}
	v, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, badRequest("%s must be an integer, got %q", name, raw)
	}
	return v, true, nil
}

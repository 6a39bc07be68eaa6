// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// decodeBody devolve um reader com o conteúdo decodificado conforme Content-Encoding.
// O chunk é sempre gravado descomprimido.
func decodeBody(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip", "x-gzip":
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, badRequest("invalid gzip body: %v", err)
		}
		return gz, nil
	case "zstd":
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, badRequest("invalid zstd body: %v", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, &requestError{
			status:  http.StatusUnsupportedMediaType,
			code:    "UnsupportedEncoding",
			message: fmt.Sprintf("unsupported Content-Encoding %q", encoding),
		}
	}
}

// limitedReader falha com errChunkTooLarge ao passar de n bytes,
// em vez de truncar silenciosamente como io.LimitReader.
type limitedReader struct {
	r io.Reader
	n int64 // bytes restantes
}

func newLimitedReader(r io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return r
	}
	return &limitedReader{r: r, n: limit}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n < 0 {
		return 0, errChunkTooLarge
	}
	// lê um byte além do limite para distinguir "exato" de "excedeu"
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	if l.n < 0 {
		return n, errChunkTooLarge
	}
	return n, err
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// chunkWriteBurst é o máximo de bytes de um chunk gravado sem esperar o limiter.
// Igual ao buffer de escrita do merge.
const chunkWriteBurst = mergeBufferSize

// chunkThrottle limita a gravação de um chunk no namespace do upload a
// write_rate_limit bytes/s. Cada gravação tem o próprio limiter.
type chunkThrottle struct {
	ctx      context.Context
	dst      io.Writer
	limiter  *rate.Limiter
	uploadID string
}

// throttleChunk envolve dst quando bytesPerSec > 0; caso contrário devolve dst.
func throttleChunk(ctx context.Context, dst io.Writer, uploadID string, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return dst
	}
	burst := chunkWriteBurst
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return &chunkThrottle{
		ctx:      ctx,
		dst:      dst,
		limiter:  rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		uploadID: uploadID,
	}
}

// Write grava p em fatias de no máximo um burst, esperando tokens antes de cada uma.
// Cancelar o ctx do request interrompe a espera.
func (t *chunkThrottle) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), t.limiter.Burst())

		start := time.Now()
		if err := t.limiter.WaitN(t.ctx, n); err != nil {
			return written, fmt.Errorf("waiting write budget for upload %s: %w", t.uploadID, err)
		}
		writeThrottleSeconds.Add(time.Since(start).Seconds())

		m, err := t.dst.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[m:]
	}
	return written, nil
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nishisan-dev/n-upload/internal/staging"
)

// errChunkTooLarge é devolvido pelos readers limitados quando um chunk passa de max_chunk_size.
var errChunkTooLarge = errors.New("chunk exceeds max_chunk_size")

// requestError é uma falha detectada pelo transporte antes de chegar ao staging.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(format string, args ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, code: "BadRequest", message: fmt.Sprintf(format, args...)}
}

// errorResponse é o corpo de toda resposta de erro.
type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor mapeia o código do staging para o status HTTP.
func statusFor(code staging.ErrorCode) int {
	switch code {
	case staging.CodeMissingIdentifier,
		staging.CodeInvalidIdentifier,
		staging.CodeInvalidIndex,
		staging.CodeInvalidStartIndex,
		staging.CodeEmptyBatch:
		return http.StatusBadRequest
	case staging.CodeUploadNotFound:
		return http.StatusNotFound
	case staging.CodeChunkCountMismatch, staging.CodeSessionExists:
		return http.StatusConflict
	case staging.CodeNoChunksFound:
		return http.StatusUnprocessableEntity
	case staging.CodeInsufficientSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// classify devolve status, código e mensagem de err para a resposta.
func classify(err error) (int, string, string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status, reqErr.code, reqErr.message
	}

	var maxErr *http.MaxBytesError
	if errors.Is(err, errChunkTooLarge) || errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, "PayloadTooLarge", err.Error()
	}

	code := staging.CodeOf(err)
	if code == staging.CodeNone {
		return http.StatusInternalServerError, "InternalError", err.Error()
	}
	return statusFor(code), code.String(), err.Error()
}

func writeError(w http.ResponseWriter, err error) int {
	status, code, msg := classify(err)
	writeJSON(w, status, errorResponse{Success: false, Code: code, Message: msg})
	return status
}

// writeJSON serializa v como JSON e envia com status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

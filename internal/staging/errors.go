// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import "errors"

// ErrorCode classifica as falhas do staging para que a camada de transporte
// possa mapeá-las para respostas de protocolo.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeMissingIdentifier
	CodeInvalidIdentifier
	CodeInvalidIndex
	CodeInvalidStartIndex
	CodeEmptyBatch
	CodeChunkPersistenceFailed
	CodeUploadNotFound
	CodeNoChunksFound
	CodeChunkCountMismatch
	CodeMergeFailed
	CodeCleanupFailed
	CodeInsufficientSpace
	CodeSessionExists
)

var codeNames = map[ErrorCode]string{
	CodeNone:                   "None",
	CodeMissingIdentifier:      "MissingIdentifier",
	CodeInvalidIdentifier:      "InvalidIdentifier",
	CodeInvalidIndex:           "InvalidIndex",
	CodeInvalidStartIndex:      "InvalidStartIndex",
	CodeEmptyBatch:             "EmptyBatch",
	CodeChunkPersistenceFailed: "ChunkPersistenceFailed",
	CodeUploadNotFound:         "UploadNotFound",
	CodeNoChunksFound:          "NoChunksFound",
	CodeChunkCountMismatch:     "ChunkCountMismatch",
	CodeMergeFailed:            "MergeFailed",
	CodeCleanupFailed:          "CleanupFailed",
	CodeInsufficientSpace:      "InsufficientSpace",
	CodeSessionExists:          "SessionExists",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "Unknown"
}

// Error é o erro tipado devolvido por todas as operações do staging.
// Message sempre nomeia o upload e a condição; Err guarda a causa de I/O, se houver.
type Error struct {
	Code     ErrorCode
	UploadID string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is compara apenas o código, permitindo errors.Is(err, ErrUploadNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.UploadID == "" && t.Message == ""
}

// Sentinelas para uso com errors.Is.
var (
	ErrMissingIdentifier      = &Error{Code: CodeMissingIdentifier}
	ErrInvalidIdentifier      = &Error{Code: CodeInvalidIdentifier}
	ErrInvalidIndex           = &Error{Code: CodeInvalidIndex}
	ErrInvalidStartIndex      = &Error{Code: CodeInvalidStartIndex}
	ErrEmptyBatch             = &Error{Code: CodeEmptyBatch}
	ErrChunkPersistenceFailed = &Error{Code: CodeChunkPersistenceFailed}
	ErrUploadNotFound         = &Error{Code: CodeUploadNotFound}
	ErrNoChunksFound          = &Error{Code: CodeNoChunksFound}
	ErrChunkCountMismatch     = &Error{Code: CodeChunkCountMismatch}
	ErrMergeFailed            = &Error{Code: CodeMergeFailed}
	ErrCleanupFailed          = &Error{Code: CodeCleanupFailed}
	ErrInsufficientSpace      = &Error{Code: CodeInsufficientSpace}
	ErrSessionExists          = &Error{Code: CodeSessionExists}
)

func newError(code ErrorCode, uploadID, message string, cause error) *Error {
	return &Error{Code: code, UploadID: uploadID, Message: message, Err: cause}
}

// CodeOf extrai o ErrorCode de err, ou CodeNone se err não for um *Error.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeNone
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package staging

import (
	"errors"
	"time"
)

// SessionStatus representa o estado de uma sessão de upload aberta explicitamente.
type SessionStatus string

const (
	SessionOpen    SessionStatus = "open"
	SessionMerged  SessionStatus = "merged"
	SessionAborted SessionStatus = "aborted"
	SessionExpired SessionStatus = "expired"
)

// Session é o registro persistido de um upload aberto via Service.Open.
// A existência do namespace em disco continua sendo a fonte de verdade dos chunks;
// a sessão guarda apenas o que o cliente declarou.
type Session struct {
	UploadID         string        `json:"upload_id"`
	DeclaredFilename string        `json:"name_file,omitempty"`
	ExpectedChunks   int           `json:"expected_chunks,omitempty"`
	Status           SessionStatus `json:"status"`
	MergedPath       string        `json:"merged_path,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ErrSessionNotFound é devolvido por SessionStore quando o upload ID não está registrado.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persiste sessões de upload. Implementações devem ser seguras para uso concorrente.
type SessionStore interface {
	// Create registra uma sessão nova; devolve ErrSessionExists se o ID já existir.
	Create(s Session) error
	// Get devolve ErrSessionNotFound se o ID não existir.
	Get(uploadID string) (*Session, error)
	// Update aplica fn à sessão existente e persiste o resultado.
	Update(uploadID string, fn func(*Session) error) error
	Delete(uploadID string) error
	List() ([]Session, error)
}

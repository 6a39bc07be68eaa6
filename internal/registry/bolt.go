// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package registry persiste sessões de upload em um arquivo BoltDB.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nishisan-dev/n-upload/internal/staging"
)

var sessionsBucket = []byte("sessions")

// BoltStore implementa staging.SessionStore sobre BoltDB. Cada sessão é um valor JSON
// indexado pelo upload ID.
type BoltStore struct {
	db *bolt.DB
}

var _ staging.SessionStore = (*BoltStore)(nil)

// Open abre (ou cria) o banco em path e garante o bucket de sessões.
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating session db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Create grava uma sessão nova; devolve staging.ErrSessionExists se o ID já existir.
func (bs *BoltStore) Create(s staging.Session) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(s.UploadID)) != nil {
			return staging.ErrSessionExists
		}
		return put(b, s)
	})
}

// Get devolve staging.ErrSessionNotFound se o ID não existir.
func (bs *BoltStore) Get(uploadID string) (*staging.Session, error) {
	var s staging.Session
	err := bs.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(uploadID))
		if data == nil {
			return staging.ErrSessionNotFound
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update lê a sessão, aplica fn e grava o resultado na mesma transação.
func (bs *BoltStore) Update(uploadID string, fn func(*staging.Session) error) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		data := b.Get([]byte(uploadID))
		if data == nil {
			return staging.ErrSessionNotFound
		}

		var s staging.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding session %s: %w", uploadID, err)
		}
		if err := fn(&s); err != nil {
			return err
		}
		// O ID é a chave; fn não pode movê-lo
		s.UploadID = uploadID
		return put(b, s)
	})
}

// Delete remove a sessão. ID inexistente não é erro.
func (bs *BoltStore) Delete(uploadID string) error {
	return bs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(uploadID))
	})
}

// List devolve todas as sessões ordenadas por criação.
func (bs *BoltStore) List() ([]staging.Session, error) {
	var out []staging.Session
	err := bs.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var s staging.Session
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decoding session %s: %w", k, err)
			}
			out = append(out, s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Prune remove sessões finalizadas (não abertas) com UpdatedAt anterior a cutoff.
// Devolve quantas foram removidas.
func (bs *BoltStore) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var s staging.Session
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decoding session %s: %w", k, err)
			}
			if s.Status != staging.SessionOpen && s.UpdatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Close fecha o banco.
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

func put(b *bolt.Bucket, s staging.Session) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.UploadID, err)
	}
	return b.Put([]byte(s.UploadID), encoded)
}

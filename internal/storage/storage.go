// Package storage persists the authenticated user record and bearer token
// between runs. Both live under fixed keys in an embedded sqlite database.
// Absent or malformed values are reported as "logged out", never as errors.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"devmatch-client/internal/models"
)

const (
	userKey  = "auth_user"
	tokenKey = "auth_token"
)

// Store is the sqlx-backed client state store.
type Store struct {
	db *sqlx.DB
}

// Open initializes the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect state db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS client_state (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// SaveUser overwrites the persisted account record.
func (s *Store) SaveUser(ctx context.Context, user models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.set(ctx, userKey, string(data))
}

// LoadUser returns the persisted account record, or nil when it is absent.
// A malformed stored record is discarded and treated as absent.
func (s *Store) LoadUser(ctx context.Context) (*models.User, error) {
	raw, ok, err := s.get(ctx, userKey)
	if err != nil || !ok {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		log.Printf("storage: discarding malformed user record: %v", err)
		_ = s.delete(ctx, userKey)
		return nil, nil
	}
	return &user, nil
}

// DeleteUser removes the persisted account record.
func (s *Store) DeleteUser(ctx context.Context) error {
	return s.delete(ctx, userKey)
}

// SaveToken overwrites the persisted bearer token.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	return s.set(ctx, tokenKey, token)
}

// LoadToken returns the persisted bearer token, empty when absent.
func (s *Store) LoadToken(ctx context.Context) (string, error) {
	raw, _, err := s.get(ctx, tokenKey)
	return raw, err
}

// DeleteToken removes the persisted bearer token.
func (s *Store) DeleteToken(ctx context.Context) error {
	return s.delete(ctx, tokenKey)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO client_state (key, value) VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM client_state WHERE key=$1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE key=$1`, key)
	return err
}

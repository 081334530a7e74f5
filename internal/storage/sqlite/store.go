// Package sqlite implements storage.Store on SQLite using the pure-Go
// modernc.org/sqlite driver. It is registered as storage kind "sqlite" and
// backs the end-to-end tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"epcloader/internal/domain"
	"epcloader/internal/storage"

	_ "modernc.org/sqlite"
)

const createTableSQL = `CREATE TABLE epc (
	lmk_key          TEXT PRIMARY KEY,
	lodgement_date   DATE,
	transaction_type TEXT,
	total_floor_area FLOAT,
	address          TEXT,
	postcode         TEXT
)`

const insertSQL = `INSERT INTO epc
	(lmk_key, lodgement_date, transaction_type, total_floor_area, address, postcode)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (lmk_key) DO NOTHING`

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens the database at dsn (a file path or a "file:" URI).
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the epc table; an existing table is not an error.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

// Upsert inserts rec unless its key is already stored.
func (s *Store) Upsert(ctx context.Context, rec domain.Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, insertSQL, rec.Values()...)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n == 1, nil
}

// Close closes the database handle.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Database
		}
		return Open(ctx, dsn)
	})
}

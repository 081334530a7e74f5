// Package postgres implements storage.Store on a single pgx connection and
// registers it as storage kind "postgres" (the default backend).
//
// Every statement runs in autocommit mode; there are no multi-record
// transactions. Duplicate keys are resolved server-side with
// ON CONFLICT DO NOTHING so the first stored record for a key always wins.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"epcloader/internal/domain"
	"epcloader/internal/storage"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const createTableSQL = `CREATE TABLE epc (
	lmk_key          VARCHAR(255) PRIMARY KEY,
	lodgement_date   DATE,
	transaction_type VARCHAR(255),
	total_floor_area FLOAT,
	address          VARCHAR(255),
	postcode         VARCHAR(255)
)`

const insertSQL = `INSERT INTO epc
	(lmk_key, lodgement_date, transaction_type, total_floor_area, address, postcode)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (lmk_key) DO NOTHING`

// pgConnLike is the subset of *pgx.Conn the store uses; tests substitute a fake.
type pgConnLike interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// connect is a test hook that points to pgx.Connect by default.
var connect = func(ctx context.Context, dsn string) (pgConnLike, error) {
	return pgx.Connect(ctx, dsn)
}

// Store is a Postgres-backed storage.Store.
type Store struct {
	conn pgConnLike
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	c, err := connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{conn: c}, nil
}

// EnsureSchema creates the epc table. duplicate_table (42P07) means a
// previous run already created it.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, createTableSQL); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateTable {
			return nil
		}
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// Upsert inserts rec unless its key is already stored.
func (s *Store) Upsert(ctx context.Context, rec domain.Record) (bool, error) {
	tag, err := s.conn.Exec(ctx, insertSQL, rec.Values()...)
	if err != nil {
		return false, fmt.Errorf("postgres: insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Close closes the connection.
func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// BuildDSN assembles a postgres:// URL from discrete settings. Credentials
// are escaped, so passwords may contain reserved characters.
func BuildDSN(cfg storage.Config) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Host,
		Path:   "/" + cfg.Database,
	}
	if cfg.Port > 0 {
		u.Host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	return u.String()
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		dsn := cfg.DSN
		if dsn == "" {
			dsn = BuildDSN(cfg)
		}
		return Open(ctx, dsn)
	})
}

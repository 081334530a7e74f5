// Package mssql implements storage.Store on Microsoft SQL Server through
// database/sql and the go-mssqldb "sqlserver" driver. It is registered as
// storage kind "mssql".
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"epcloader/internal/domain"
	"epcloader/internal/storage"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// SQL Server error numbers the store interprets.
const (
	errObjectExists    = 2714 // There is already an object named ... in the database.
	errDuplicateKey    = 2627 // Violation of PRIMARY KEY constraint.
	errDuplicateUnique = 2601 // Cannot insert duplicate key row with unique index.
)

const createTableSQL = `CREATE TABLE epc (
	lmk_key          NVARCHAR(255) NOT NULL PRIMARY KEY,
	lodgement_date   DATE,
	transaction_type NVARCHAR(255),
	total_floor_area FLOAT,
	address          NVARCHAR(255),
	postcode         NVARCHAR(255)
)`

// The NOT EXISTS guard skips known keys; a concurrent writer racing past it
// surfaces as 2627 and is treated the same way.
const insertSQL = `INSERT INTO epc
	(lmk_key, lodgement_date, transaction_type, total_floor_area, address, postcode)
	SELECT @p1, @p2, @p3, @p4, @p5, @p6
	WHERE NOT EXISTS (SELECT 1 FROM epc WHERE lmk_key = @p1)`

// sqlDBCore is the subset of *sql.DB the store uses.
type sqlDBCore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// openDB is a test hook that points to sql.Open("sqlserver", ...) by default.
var openDB = func(dsn string) (sqlDBCore, error) {
	return sql.Open("sqlserver", dsn)
}

// Store is a SQL Server-backed storage.Store.
type Store struct {
	db sqlDBCore
}

var _ storage.Store = (*Store)(nil)

// Open validates dsn, opens a pool and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql: dsn: %w", err)
	}
	db, err := openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the epc table; error 2714 means it already exists.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		if errorNumber(err) == errObjectExists {
			return nil
		}
		return fmt.Errorf("mssql: create table: %w", err)
	}
	return nil
}

// Upsert inserts rec unless its key is already stored.
func (s *Store) Upsert(ctx context.Context, rec domain.Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, insertSQL, rec.Values()...)
	if err != nil {
		switch errorNumber(err) {
		case errDuplicateKey, errDuplicateUnique:
			return false, nil
		}
		return false, fmt.Errorf("mssql: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mssql: rows affected: %w", err)
	}
	return n == 1, nil
}

// Close closes the connection pool.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// errorNumber returns the SQL Server error number carried by err, or 0.
func errorNumber(err error) int32 {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number
	}
	return 0
}

// BuildDSN assembles a sqlserver:// URL from discrete settings.
func BuildDSN(cfg storage.Config) string {
	u := url.URL{Scheme: "sqlserver", Host: cfg.Host}
	if cfg.Port > 0 {
		u.Host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	if cfg.Database != "" {
		u.RawQuery = url.Values{"database": {cfg.Database}}.Encode()
	}
	return u.String()
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		dsn := cfg.DSN
		if dsn == "" {
			dsn = BuildDSN(cfg)
		}
		return Open(ctx, dsn)
	})
}

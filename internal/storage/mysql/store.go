// Package mysql implements storage.Store on MySQL/MariaDB through
// database/sql and go-sql-driver/mysql. It is registered as storage kind
// "mysql".
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"

	"epcloader/internal/domain"
	"epcloader/internal/storage"

	"github.com/go-sql-driver/mysql"
)

const errTableExists = 1050 // ER_TABLE_EXISTS_ERROR

const createTableSQL = `CREATE TABLE epc (
	lmk_key          VARCHAR(255) NOT NULL PRIMARY KEY,
	lodgement_date   DATE,
	transaction_type VARCHAR(255),
	total_floor_area FLOAT,
	address          VARCHAR(255),
	postcode         VARCHAR(255)
)`

// The no-op assignment leaves an existing row untouched and reports 0 rows
// affected, unlike INSERT IGNORE which would also hide conversion errors.
const insertSQL = `INSERT INTO epc
	(lmk_key, lodgement_date, transaction_type, total_floor_area, address, postcode)
	VALUES (?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE lmk_key = lmk_key`

// sqlDBCore is the subset of *sql.DB the store uses.
type sqlDBCore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// openDB is a test hook that points to sql.Open("mysql", ...) by default.
var openDB = func(dsn string) (sqlDBCore, error) {
	return sql.Open("mysql", dsn)
}

// Store is a MySQL-backed storage.Store.
type Store struct {
	db sqlDBCore
}

var _ storage.Store = (*Store)(nil)

// Open validates dsn, opens a pool and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if _, err := mysql.ParseDSN(dsn); err != nil {
		return nil, fmt.Errorf("mysql: dsn: %w", err)
	}
	db, err := openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the epc table; error 1050 means it already exists.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errTableExists {
			return nil
		}
		return fmt.Errorf("mysql: create table: %w", err)
	}
	return nil
}

// Upsert inserts rec unless its key is already stored.
func (s *Store) Upsert(ctx context.Context, rec domain.Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, insertSQL, rec.Values()...)
	if err != nil {
		return false, fmt.Errorf("mysql: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mysql: rows affected: %w", err)
	}
	return n == 1, nil
}

// Close closes the connection pool.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// BuildDSN assembles a go-sql-driver DSN from discrete settings.
func BuildDSN(cfg storage.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host
	if cfg.Port > 0 {
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	mc.DBName = cfg.Database
	return mc.FormatDSN()
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		dsn := cfg.DSN
		if dsn == "" {
			dsn = BuildDSN(cfg)
		}
		return Open(ctx, dsn)
	})
}

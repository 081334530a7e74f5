// Package storage is the store gateway of the loader: a backend-agnostic
// Store contract, a registry of backend factories keyed by kind, and a
// retrying Connect used by the coordinator.
//
// Backends (postgres, mssql, mysql, sqlite) register themselves from init;
// a binary enables them by blank-importing epcloader/internal/storage/all.
package storage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"epcloader/internal/domain"

	"github.com/avast/retry-go"
)

// Store persists certificate records.
//
// Implementations are used by a single goroutine at a time: the coordinator
// calls EnsureSchema before the workers start and Close after they stop, and
// only the persister calls Upsert in between.
type Store interface {
	// EnsureSchema creates the records table. An existing table is success.
	EnsureSchema(ctx context.Context) error
	// Upsert inserts rec unless a row with the same key exists. It reports
	// whether a new row was written; an existing row is never modified.
	Upsert(ctx context.Context, rec domain.Record) (bool, error)
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Config carries the connection settings for every backend. Backends use
// DSN when set and otherwise build one from the discrete fields.
type Config struct {
	Kind     string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. It is typically
// called from backend packages' init functions.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Store with the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// RetryConfig bounds Connect. Attempts is the total number of tries.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// Connect opens a Store, retrying with a fixed delay until it succeeds or
// rc.Attempts tries have failed. The last connection error is returned on
// exhaustion; ctx cancellation aborts the wait between tries.
func Connect(ctx context.Context, cfg Config, rc RetryConfig) (Store, error) {
	attempts := rc.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var st Store
	err := retry.Do(
		func() error {
			s, err := New(ctx, cfg)
			if err != nil {
				return err
			}
			st = s
			return nil
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(rc.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("storage: connect attempt %d/%d kind=%s failed: %v", n+1, attempts, cfg.Kind, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s after %d attempts: %w", cfg.Kind, attempts, err)
	}
	log.Printf("storage: connected kind=%s", cfg.Kind)
	return st, nil
}

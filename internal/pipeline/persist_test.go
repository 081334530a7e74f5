package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"epcloader/internal/domain"
	"epcloader/internal/queue"
)

// memStore is an in-memory store keyed by LMKKey; first write wins.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]domain.Record
	calls   int
	failOn  int // 1-based Upsert call that fails; 0 = never
	failErr error

	schemaErr error
	closed    bool
}

func newMemStore() *memStore { return &memStore{rows: map[string]domain.Record{}} }

func (m *memStore) EnsureSchema(context.Context) error { return m.schemaErr }

func (m *memStore) Upsert(_ context.Context, rec domain.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn > 0 && m.calls == m.failOn {
		return false, m.failErr
	}
	if _, ok := m.rows[rec.LMKKey]; ok {
		return false, nil
	}
	m.rows[rec.LMKKey] = rec
	return true, nil
}

func (m *memStore) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) snapshot() (rows map[string]domain.Record, calls int, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows = make(map[string]domain.Record, len(m.rows))
	for k, v := range m.rows {
		rows[k] = v
	}
	return rows, m.calls, m.closed
}

func TestPersister_CountsInsertsAndDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.New[domain.Record](8)
	st := newMemStore()
	p := NewPersister(q, st)
	go p.Run(ctx)

	for _, k := range []string{"A", "B", "A", "C", "B"} {
		if err := q.Put(ctx, domain.Record{LMKKey: k}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := q.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if p.Attempted() != 5 || p.Inserted() != 3 || p.Duplicates() != 2 {
		t.Fatalf("attempted=%d inserted=%d duplicates=%d; want 5/3/2", p.Attempted(), p.Inserted(), p.Duplicates())
	}
}

func TestPersister_FailureIsReturnedAndAcknowledged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("constraint violated")
	q := queue.New[domain.Record](4)
	st := newMemStore()
	st.failOn, st.failErr = 2, boom
	p := NewPersister(q, st)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for _, k := range []string{"A", "B"} {
		if err := q.Put(ctx, domain.Record{LMKKey: k}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("Run err=%v; want wrapped %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return the upsert failure")
	}
	// The failed record was still acknowledged, so Join cannot hang.
	jctx, jcancel := context.WithTimeout(ctx, 2*time.Second)
	defer jcancel()
	if err := q.Join(jctx); err != nil {
		t.Fatalf("Join after failure: %v", err)
	}
}

func TestPersister_ReturnsNilOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPersister(queue.New[domain.Record](1), newMemStore())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run after cancel = %v; want nil", err)
	}
}

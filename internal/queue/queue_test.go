package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestJoin_EmptyQueueReturnsImmediately(t *testing.T) {
	q := New[int](4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Join(ctx); err != nil {
		t.Fatalf("Join on empty queue: %v", err)
	}
}

func TestPutGetDone_Accounting(t *testing.T) {
	ctx := context.Background()
	q := New[string](2)

	if err := q.Put(ctx, "a"); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := q.Put(ctx, "b"); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("Len=%d; want 2", got)
	}
	if got := q.Outstanding(); got != 2 {
		t.Fatalf("Outstanding=%d; want 2", got)
	}

	v, ok := q.Get(ctx)
	if !ok || v != "a" {
		t.Fatalf("Get=(%q,%v); want (a,true)", v, ok)
	}
	// Handed out but not Done: buffer shrinks, outstanding does not.
	if q.Len() != 1 || q.Outstanding() != 2 {
		t.Fatalf("after Get: Len=%d Outstanding=%d; want 1, 2", q.Len(), q.Outstanding())
	}
	q.Done()

	if _, ok := q.Get(ctx); !ok {
		t.Fatalf("second Get failed")
	}
	q.Done()

	if got := q.Outstanding(); got != 0 {
		t.Fatalf("Outstanding=%d; want 0", got)
	}
	if err := q.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestJoin_WaitsForDoneNotForEmptyBuffer(t *testing.T) {
	ctx := context.Background()
	q := New[int](1)
	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := q.Get(ctx); !ok {
		t.Fatalf("Get failed")
	}
	if q.Len() != 0 {
		t.Fatalf("buffer should be empty")
	}

	joined := make(chan error, 1)
	go func() { joined <- q.Join(ctx) }()

	select {
	case err := <-joined:
		t.Fatalf("Join returned early (err=%v) while an item was in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	q.Done()
	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Join did not return after Done")
	}
}

func TestJoin_RearmsAfterDrain(t *testing.T) {
	ctx := context.Background()
	q := New[int](4)

	for round := 0; round < 3; round++ {
		if err := q.Put(ctx, round); err != nil {
			t.Fatalf("round %d Put: %v", round, err)
		}
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		err := q.Join(short)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("round %d: Join err=%v; want deadline exceeded while outstanding", round, err)
		}
		q.Get(ctx)
		q.Done()
		if err := q.Join(ctx); err != nil {
			t.Fatalf("round %d Join: %v", round, err)
		}
	}
}

func TestPut_BlocksWhenFullAndHonoursContext(t *testing.T) {
	q := New[int](1)
	if err := q.Put(context.Background(), 1); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Put on full queue err=%v; want deadline exceeded", err)
	}
	// The rejected item must not be counted.
	if got := q.Outstanding(); got != 1 {
		t.Fatalf("Outstanding=%d; want 1", got)
	}
}

func TestGet_ReturnsFalseOnCancel(t *testing.T) {
	q := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Get(ctx); ok {
		t.Fatalf("Get on cancelled ctx returned ok=true")
	}
}

func TestDone_PanicsWhenUnbalanced(t *testing.T) {
	q := New[int](1)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	q.Done()
}

func TestConcurrentProducersConsumers_DrainExactlyOnce(t *testing.T) {
	const (
		producers = 4
		perProd   = 500
		consumers = 8
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New[int](16)
	var mu sync.Mutex
	seen := 0

	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, ok := q.Get(ctx)
				if !ok {
					return
				}
				mu.Lock()
				seen++
				mu.Unlock()
				q.Done()
			}
		}()
	}

	var pw sync.WaitGroup
	for p := 0; p < producers; p++ {
		pw.Add(1)
		go func(p int) {
			defer pw.Done()
			for i := 0; i < perProd; i++ {
				if err := q.Put(ctx, p*perProd+i); err != nil {
					t.Errorf("Put: %v", err)
					return
				}
			}
		}(p)
	}
	pw.Wait()

	if err := q.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}
	cancel()
	wg.Wait()

	if seen != producers*perProd {
		t.Fatalf("consumed %d items; want %d", seen, producers*perProd)
	}
}

package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"epcloader/internal/domain"
	"epcloader/internal/storage"
	"epcloader/internal/storage/sqlite"
)

func fullRow(key, addr string) domain.RawRow {
	return domain.RawRow{
		"LMK_KEY":          key,
		"LODGEMENT_DATE":   "2021-03-04",
		"TRANSACTION_TYPE": "marketed sale",
		"TOTAL_FLOOR_AREA": "72.5",
		"ADDRESS":          addr,
		"POSTCODE":         "SW1A 1AA",
		"CURRENT_ENERGY":   "C",
	}
}

// sliceSource emits rows in order, honouring maxRecords.
func sliceSource(rows []domain.RawRow, called *atomic.Bool) SourceFunc {
	return func(ctx context.Context, _ string, maxRecords int, emit func(context.Context, domain.RawRow) error) (int, error) {
		if called != nil {
			called.Store(true)
		}
		n := 0
		for _, r := range rows {
			if maxRecords > 0 && n >= maxRecords {
				break
			}
			if err := emit(ctx, r); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	}
}

func connectTo(st storage.Store) ConnectFunc {
	return func(context.Context) (storage.Store, error) { return st, nil }
}

func runWithTimeout(t *testing.T, c *Coordinator) (Stats, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := c.Run(ctx, "certificates.zip")
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run hung until test timeout")
	}
	return stats, err
}

func TestRun_DrainCompleteness(t *testing.T) {
	const n = 300
	rows := make([]domain.RawRow, 0, n)
	for i := 0; i < n; i++ {
		r := fullRow(fmt.Sprintf("K%03d", i), "addr")
		if i%3 == 0 {
			delete(r, "POSTCODE")
		}
		rows = append(rows, r)
	}

	st := newMemStore()
	var drops atomic.Int64
	c := New(Config{Workers: 16, QueueSize: 8, PollInterval: 5 * time.Millisecond}, Deps{
		Connect:    connectTo(st),
		ReadSource: sliceSource(rows, nil),
		OnDrop:     func(domain.RawRow) { drops.Add(1) },
	})

	stats, err := runWithTimeout(t, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Read != n {
		t.Fatalf("Read=%d; want %d", stats.Read, n)
	}
	if got := stats.Attempted + stats.Dropped; got != n {
		t.Fatalf("attempted(%d)+dropped(%d)=%d; want %d", stats.Attempted, stats.Dropped, got, n)
	}
	if stats.Dropped != n/3 || drops.Load() != n/3 {
		t.Fatalf("dropped=%d onDrop=%d; want %d", stats.Dropped, drops.Load(), n/3)
	}
	if stats.Transformed != stats.Attempted {
		t.Fatalf("transformed=%d attempted=%d; want equal", stats.Transformed, stats.Attempted)
	}
	rowsStored, calls, closed := st.snapshot()
	if int64(calls) != stats.Attempted || int64(len(rowsStored)) != stats.Inserted {
		t.Fatalf("store calls=%d rows=%d; stats=%+v", calls, len(rowsStored), stats)
	}
	if !closed {
		t.Fatalf("store not closed")
	}
	if c.State() != StateShutdown {
		t.Fatalf("State=%s; want shutdown", c.State())
	}
}

func TestRun_ZeroInputCompletes(t *testing.T) {
	st := newMemStore()
	c := New(Config{Workers: 4}, Deps{Connect: connectTo(st), ReadSource: sliceSource(nil, nil)})

	stats, err := runWithTimeout(t, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Read != 0 || stats.Attempted != 0 || stats.Dropped != 0 {
		t.Fatalf("stats=%+v; want zeros", stats)
	}
	if _, _, closed := st.snapshot(); !closed {
		t.Fatalf("store not closed")
	}
}

func TestRun_MaxRecordsPassedToSource(t *testing.T) {
	rows := []domain.RawRow{fullRow("A", "a"), fullRow("B", "b"), fullRow("C", "c"), fullRow("D", "d")}
	st := newMemStore()
	c := New(Config{Workers: 2, MaxRecords: 2}, Deps{Connect: connectTo(st), ReadSource: sliceSource(rows, nil)})

	stats, err := runWithTimeout(t, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Read != 2 || stats.Inserted != 2 {
		t.Fatalf("stats=%+v; want 2 read and inserted", stats)
	}
}

func TestRun_PersistenceErrorAborts(t *testing.T) {
	rows := make([]domain.RawRow, 0, 500)
	for i := 0; i < 500; i++ {
		rows = append(rows, fullRow(fmt.Sprintf("K%d", i), "x"))
	}
	boom := errors.New("value too long for type character varying(255)")
	st := newMemStore()
	st.failOn, st.failErr = 5, boom

	c := New(Config{Workers: 4, QueueSize: 2}, Deps{Connect: connectTo(st), ReadSource: sliceSource(rows, nil)})
	_, err := runWithTimeout(t, c)
	if !errors.Is(err, boom) {
		t.Fatalf("Run err=%v; want persistence error", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned the cancellation, not the cause: %v", err)
	}
	if _, _, closed := st.snapshot(); !closed {
		t.Fatalf("store not closed after abort")
	}
}

func TestRun_ConnectFailureStartsNothing(t *testing.T) {
	var readCalled atomic.Bool
	down := errors.New("connection refused")
	c := New(Config{}, Deps{
		Connect:    func(context.Context) (storage.Store, error) { return nil, down },
		ReadSource: sliceSource([]domain.RawRow{fullRow("A", "a")}, &readCalled),
	})

	_, err := runWithTimeout(t, c)
	if !errors.Is(err, down) {
		t.Fatalf("Run err=%v; want %v", err, down)
	}
	if readCalled.Load() {
		t.Fatalf("source was read despite connect failure")
	}
	if c.State() != StateConnecting {
		t.Fatalf("State=%s; want connecting", c.State())
	}
}

func TestRun_SchemaFailureIsFatal(t *testing.T) {
	var readCalled atomic.Bool
	st := newMemStore()
	st.schemaErr = errors.New("permission denied for schema public")
	c := New(Config{}, Deps{Connect: connectTo(st), ReadSource: sliceSource(nil, &readCalled)})

	_, err := runWithTimeout(t, c)
	if !errors.Is(err, st.schemaErr) {
		t.Fatalf("Run err=%v; want schema error", err)
	}
	if readCalled.Load() {
		t.Fatalf("source was read despite schema failure")
	}
	if _, _, closed := st.snapshot(); !closed {
		t.Fatalf("store not closed after schema failure")
	}
}

func TestRun_SourceErrorIsFatal(t *testing.T) {
	missing := errors.New("open certificates.zip: no such file or directory")
	st := newMemStore()
	c := New(Config{}, Deps{
		Connect: connectTo(st),
		ReadSource: func(context.Context, string, int, func(context.Context, domain.RawRow) error) (int, error) {
			return 0, missing
		},
	})

	_, err := runWithTimeout(t, c)
	if !errors.Is(err, missing) {
		t.Fatalf("Run err=%v; want source error", err)
	}
}

func TestRun_DuplicateKeyKeepsFirstRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epc.db")
	st, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}

	rows := []domain.RawRow{fullRow("DUP", "first address"), fullRow("DUP", "second address"), fullRow("OTHER", "x")}
	// One worker keeps input order all the way to the single persister.
	c := New(Config{Workers: 1}, Deps{Connect: connectTo(st), ReadSource: sliceSource(rows, nil)})

	stats, err := runWithTimeout(t, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Attempted != 3 || stats.Inserted != 2 || stats.Duplicates != 1 {
		t.Fatalf("stats=%+v; want 3 attempted, 2 inserted, 1 duplicate", stats)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var addr string
	if err := db.QueryRow(`SELECT address FROM epc WHERE lmk_key = ?`, "DUP").Scan(&addr); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if addr != "first address" {
		t.Fatalf("address=%q; want the first row's", addr)
	}
}

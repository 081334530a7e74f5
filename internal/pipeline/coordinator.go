// Package pipeline runs one certificate import: a fan-out transform pool and
// a single persister joined by two drain-tracked queues, driven through a
// fixed lifecycle by the Coordinator.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"epcloader/internal/domain"
	"epcloader/internal/metrics"
	"epcloader/internal/queue"
	"epcloader/internal/storage"
	"epcloader/internal/transformer"

	"golang.org/x/sync/errgroup"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultWorkers      = 100
	DefaultQueueSize    = 4096
	DefaultPollInterval = time.Second
)

// Config carries the run settings; it replaces any process-wide knobs.
type Config struct {
	Workers      int
	QueueSize    int
	ProcessDelay time.Duration
	PollInterval time.Duration
	MaxRecords   int // 0 = unlimited
}

// ConnectFunc acquires a store, including any retrying.
type ConnectFunc func(ctx context.Context) (storage.Store, error)

// SourceFunc streams up to maxRecords rows (0 = all) from path into emit and
// returns how many it emitted.
type SourceFunc func(ctx context.Context, path string, maxRecords int, emit func(context.Context, domain.RawRow) error) (int, error)

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Connect    ConnectFunc
	ReadSource SourceFunc
	// OnDrop, if set, sees every row the transformer rejected.
	OnDrop func(domain.RawRow)
	// Metrics defaults to a no-op recorder.
	Metrics *metrics.Recorder
}

// Stats summarises a completed run.
type Stats struct {
	Read        int
	Transformed int64
	Dropped     int64
	Attempted   int64
	Inserted    int64
	Duplicates  int64
	Duration    time.Duration
}

// Coordinator drives a single run. It is not reusable.
type Coordinator struct {
	cfg   Config
	deps  Deps
	state atomic.Int32
}

// New returns a Coordinator in StateInit.
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	return &Coordinator{cfg: cfg, deps: deps}
}

// State reports the current lifecycle phase.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	log.Printf("coordinator: state=%s", s)
}

// step runs fn as a named, timed step.
func (c *Coordinator) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.deps.Metrics.RecordStep(name, err, time.Since(start))
	return err
}

// Run imports archivePath. It returns only after every row read has been
// transformed or dropped and every record has been handed to the store, or
// on the first fatal error: connect exhaustion, schema failure, a source
// read error or a failed upsert. Rows still queued on abort are abandoned.
func (c *Coordinator) Run(ctx context.Context, archivePath string) (Stats, error) {
	start := time.Now()
	var stats Stats

	c.setState(StateConnecting)
	var store storage.Store
	err := c.step("connect", func() error {
		s, err := c.deps.Connect(ctx)
		store = s
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("connect: %w", err)
	}

	closeStore := func() error {
		return store.Close(context.WithoutCancel(ctx))
	}

	c.setState(StateSchemaReady)
	if err := c.step("schema", func() error { return store.EnsureSchema(ctx) }); err != nil {
		_ = closeStore()
		return stats, fmt.Errorf("ensure schema: %w", err)
	}

	intake := queue.New[domain.RawRow](c.cfg.QueueSize)
	output := queue.New[domain.Record](c.cfg.QueueSize)
	pool := NewPool(intake, output, transformer.ParseRow, PoolOptions[domain.RawRow]{
		Workers: c.cfg.Workers,
		Delay:   c.cfg.ProcessDelay,
		OnDrop:  c.deps.OnDrop,
	})
	persister := NewPersister(output, store)

	// Workers live until stop; a persister failure cancels gctx, which
	// unblocks the reader's Put and the drain's Join.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return persister.Run(gctx) })
	g.Go(func() error { return pool.Run(gctx) })
	log.Printf("coordinator: started workers=%d persister=1 queue_size=%d", pool.Workers(), c.cfg.QueueSize)

	c.setState(StateEnqueuing)
	err = c.step("enqueue", func() error {
		n, err := c.deps.ReadSource(gctx, archivePath, c.cfg.MaxRecords, intake.Put)
		stats.Read = n
		return err
	})
	if err != nil {
		err = fmt.Errorf("read source: %w", err)
	} else {
		c.setState(StateDraining)
		err = c.step("drain", func() error { return c.drain(gctx, intake, output) })
	}

	stop()
	werr := g.Wait()
	c.setState(StateShutdown)
	cerr := closeStore()

	stats.Transformed = pool.Transformed()
	stats.Dropped = pool.Dropped()
	stats.Attempted = persister.Attempted()
	stats.Inserted = persister.Inserted()
	stats.Duplicates = persister.Duplicates()
	stats.Duration = time.Since(start)

	// The worker failure is the cause; err is then only the cancellation it
	// triggered.
	if werr != nil {
		return stats, werr
	}
	if err != nil {
		return stats, err
	}
	if cerr != nil {
		return stats, fmt.Errorf("close store: %w", cerr)
	}

	log.Printf("processed %d records", stats.Read)
	log.Printf("coordinator: summary read=%d transformed=%d dropped=%d upserted=%d inserted=%d duplicates=%d duration=%s",
		stats.Read, stats.Transformed, stats.Dropped, stats.Attempted, stats.Inserted, stats.Duplicates,
		stats.Duration.Truncate(time.Millisecond))
	c.recordRows(stats)
	return stats, nil
}

// drain blocks until every row and then every record has been acknowledged.
// Workers acknowledge a row only after forwarding its record, so once the
// intake queue is joined the output queue already counts all records.
func (c *Coordinator) drain(ctx context.Context, intake *queue.Queue[domain.RawRow], output *queue.Queue[domain.Record]) error {
	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchQueues(mctx, c.cfg.PollInterval, intake, output, c.deps.Metrics)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := intake.Join(ctx); err != nil {
		return fmt.Errorf("join intake: %w", err)
	}
	if err := output.Join(ctx); err != nil {
		return fmt.Errorf("join output: %w", err)
	}
	return nil
}

func (c *Coordinator) recordRows(s Stats) {
	m := c.deps.Metrics
	m.RecordRows("read", int64(s.Read))
	m.RecordRows("transformed", s.Transformed)
	m.RecordRows("dropped", s.Dropped)
	m.RecordRows("upserted", s.Attempted)
	m.RecordRows("inserted", s.Inserted)
	m.RecordRows("duplicates", s.Duplicates)
}

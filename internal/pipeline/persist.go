package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"epcloader/internal/domain"
	"epcloader/internal/queue"
)

// Upserter is the write side of a store.
type Upserter interface {
	Upsert(ctx context.Context, rec domain.Record) (bool, error)
}

// Persister is the single writer: one loop drains the record queue into the
// store, so the store connection is never shared between goroutines.
type Persister struct {
	in    *queue.Queue[domain.Record]
	store Upserter

	attempted  atomic.Int64
	inserted   atomic.Int64
	duplicates atomic.Int64
}

// NewPersister builds a persister reading from in.
func NewPersister(in *queue.Queue[domain.Record], store Upserter) *Persister {
	return &Persister{in: in, store: store}
}

// Run writes records until ctx is canceled (nil) or an upsert fails; the
// failure is returned and ends the loop.
func (p *Persister) Run(ctx context.Context) error {
	for {
		rec, ok := p.in.Get(ctx)
		if !ok {
			return nil
		}
		if err := p.persist(ctx, rec); err != nil {
			return err
		}
	}
}

func (p *Persister) persist(ctx context.Context, rec domain.Record) error {
	// Acknowledge even on failure so Join on the queue cannot hang.
	defer p.in.Done()

	p.attempted.Add(1)
	inserted, err := p.store.Upsert(ctx, rec)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.LMKKey, err)
	}
	if inserted {
		p.inserted.Add(1)
	} else {
		p.duplicates.Add(1)
	}
	return nil
}

// Attempted counts upserts issued, successful or not.
func (p *Persister) Attempted() int64 { return p.attempted.Load() }

// Inserted counts upserts that wrote a new row.
func (p *Persister) Inserted() int64 { return p.inserted.Load() }

// Duplicates counts upserts skipped because the key was already stored.
func (p *Persister) Duplicates() int64 { return p.duplicates.Load() }

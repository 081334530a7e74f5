package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"epcloader/internal/queue"

	"golang.org/x/sync/errgroup"
)

// PoolOptions tunes a Pool.
type PoolOptions[In any] struct {
	// Workers is the number of concurrent workers (minimum 1).
	Workers int
	// Delay is slept after each successful transform, before the result is
	// forwarded. It models the cost of a downstream call per item.
	Delay time.Duration
	// OnDrop, if set, receives every input the transform rejected.
	OnDrop func(In)
}

// Pool is a fixed-size fan-out stage: N workers take items from in, apply a
// pure transform and put accepted results on out. Every item taken from in is
// acknowledged with in.Done, accepted or not, and only after its result has
// been handed to out, so in.Join implies every result is already counted by
// out.
type Pool[In, Out any] struct {
	in        *queue.Queue[In]
	out       *queue.Queue[Out]
	transform func(In) (Out, bool)
	workers   int
	delay     time.Duration
	onDrop    func(In)

	transformed atomic.Int64
	dropped     atomic.Int64
}

// NewPool builds a pool; call Run to start it.
func NewPool[In, Out any](in *queue.Queue[In], out *queue.Queue[Out], transform func(In) (Out, bool), opts PoolOptions[In]) *Pool[In, Out] {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pool[In, Out]{
		in:        in,
		out:       out,
		transform: transform,
		workers:   workers,
		delay:     opts.Delay,
		onDrop:    opts.OnDrop,
	}
}

// Run starts the workers and blocks until ctx is canceled and all of them
// have returned. Workers idle on the input queue without polling.
func (p *Pool[In, Out]) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool[In, Out]) work(ctx context.Context) {
	for {
		v, ok := p.in.Get(ctx)
		if !ok {
			return
		}
		p.handle(ctx, v)
	}
}

func (p *Pool[In, Out]) handle(ctx context.Context, v In) {
	defer p.in.Done()

	res, ok := p.transform(v)
	if !ok {
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop(v)
		}
		return
	}

	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	if err := p.out.Put(ctx, res); err != nil {
		// Canceled: the run is being torn down and the item is abandoned.
		return
	}
	p.transformed.Add(1)
}

// Workers reports the configured worker count.
func (p *Pool[In, Out]) Workers() int { return p.workers }

// Transformed counts results forwarded to the output queue.
func (p *Pool[In, Out]) Transformed() int64 { return p.transformed.Load() }

// Dropped counts inputs the transform rejected.
func (p *Pool[In, Out]) Dropped() int64 { return p.dropped.Load() }

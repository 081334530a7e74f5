package pipeline

import (
	"context"
	"log"
	"time"

	"epcloader/internal/metrics"
)

// lener is satisfied by every queue.Queue instantiation.
type lener interface{ Len() int }

// watchQueues logs the buffered size of both queues every interval until both
// are empty or ctx ends. It is progress output only; completion is decided by
// the queues' Join.
func watchQueues(ctx context.Context, interval time.Duration, intake, output lener, rec *metrics.Recorder) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		in, out := intake.Len(), output.Len()
		rec.RecordQueueDepth("intake", in)
		rec.RecordQueueDepth("output", out)
		if in == 0 && out == 0 {
			return
		}
		log.Printf("input queue: %d | database queue: %d", in, out)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

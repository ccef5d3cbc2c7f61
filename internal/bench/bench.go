// Package bench is demo/benchmark scaffolding around the core allocator.
// It runs N independent *elheap.Heap instances concurrently with
// golang.org/x/sync/errgroup instead of a hand-rolled sync.WaitGroup,
// never sharing a single Heap across goroutines: the allocator itself is
// not safe for concurrent use, so concurrency here lives strictly between
// Heap instances, never inside one.
package bench

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/elheap/elheap/pkg/elheap"
)

// Workload runs against a single, privately-owned Heap.
type Workload func(h *elheap.Heap) error

// RunConcurrent spins up n independent heaps, each driven by workload in
// its own goroutine, and reports the first error encountered (if any). On
// return every heap it created has been torn down via Cleanup.
func RunConcurrent(ctx context.Context, n int, opts []elheap.Option, workload Workload) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			h, err := elheap.New(nil, opts...)
			if err != nil {
				return err
			}
			defer h.Cleanup() //nolint:errcheck

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			return workload(h)
		})
	}

	return g.Wait()
}

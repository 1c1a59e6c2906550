// Package audit runs one full fleet audit pass: inventory fan-out,
// mixed delete/probe dispatch, reservation reconciliation and the grouped
// summary.
package audit

import (
	"context"
	"sync"
)

// Map fans items out over a fixed-width worker pool and returns one result
// per item. The result slice is positionally aligned with the input, which
// lets callers re-split heterogeneous batches by index afterwards. Items
// must be independent; there is no ordering guarantee during execution.
func Map[T, R any](ctx context.Context, width int, items []T, fn func(context.Context, T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if width <= 0 {
		width = 1
	}
	if width > len(items) {
		width = len(items)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range width {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = fn(ctx, items[i])
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

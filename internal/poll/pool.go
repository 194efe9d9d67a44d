// Package poll keeps the agent list fresh: a bounded fan-out pool, the
// selection policy deciding which threads to poll, and the per-thread poll
// protocol.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
)

// ForEach applies poll to every id with at most maxConcurrent invocations in
// flight. Ids are claimed in slice order; completion order is unconstrained.
// It returns once every id has been processed. maxConcurrent is clamped to
// at least 1 and an empty id list returns immediately.
//
// The pool does not recover from failures inside poll; callers are expected
// to normalize per-id errors themselves so one id can never abort the batch.
func ForEach(ctx context.Context, agentIDs []string, maxConcurrent int, poll func(ctx context.Context, id string)) {
	if len(agentIDs) == 0 {
		return
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	workers := maxConcurrent
	if len(agentIDs) < workers {
		workers = len(agentIDs)
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(agentIDs) {
					return
				}
				poll(ctx, agentIDs[idx])
			}
		}()
	}
	wg.Wait()
}

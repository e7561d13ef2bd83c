package pipeline

import (
	"context"
	"sync"
)

// runSequential iterates the snapshot in priority order. Blocking handlers
// are awaited before the next slot starts; non-blocking handlers start in
// declared order and run concurrently, but the dispatch does not resolve
// until every started handler has settled. A failing blocking handler stops
// the remainder unless it was registered with ContinueOnError.
func (d *Dispatcher) runSequential(ctx context.Context, regs []*Registration, pc *Controller) ([]HandlerOutcome, error) {
	outcomes := make([]HandlerOutcome, len(regs))

	var started sync.WaitGroup
	var firstErr error

	for i, reg := range regs {
		if pc.Terminated() {
			outcomes[i] = skippedOutcome(reg, SkipCauseTerminate)
			continue
		}
		if aborted, _ := pc.Aborted(); aborted {
			outcomes[i] = skippedOutcome(reg, SkipCauseAbort)
			continue
		}
		if firstErr != nil {
			outcomes[i] = skippedOutcome(reg, SkipCauseError)
			continue
		}
		if target, ok := pc.JumpTarget(); ok && reg.Priority < target {
			outcomes[i] = skippedOutcome(reg, SkipCauseJump)
			continue
		}

		pc.setIndex(i)
		payload := pc.Payload()

		if reg.Blocking {
			outcome := d.invoke(ctx, reg, payload, pc)
			outcomes[i] = outcome
			if outcome.Err != nil && !reg.ContinueOnError {
				firstErr = outcome.Err
			}
			continue
		}

		started.Add(1)
		go func(i int, reg *Registration, payload interface{}) {
			defer started.Done()
			outcomes[i] = d.invoke(ctx, reg, payload, pc)
		}(i, reg, payload)
	}

	// Callers always observe a consistent final state: every started
	// non-blocking handler has settled before the dispatch resolves.
	started.Wait()

	if firstErr == nil {
		for i, reg := range regs {
			if outcomes[i].Err != nil && !reg.ContinueOnError {
				firstErr = outcomes[i].Err
				break
			}
		}
	}

	return outcomes, firstErr
}

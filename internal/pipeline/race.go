package pipeline

import (
	"context"
)

// runRace starts every eligible handler in one batch and settles with the
// first outcome, success or error. Losing handlers keep running; their
// outcomes are drained in the background and dropped.
func (d *Dispatcher) runRace(ctx context.Context, regs []*Registration, pc *Controller) ([]HandlerOutcome, error) {
	if len(regs) == 0 {
		return nil, nil
	}

	payload := pc.Payload()

	results := make(chan indexedOutcome, len(regs))
	startedCount := 0
	for i, reg := range regs {
		if aborted, _ := pc.Aborted(); aborted {
			break
		}
		if pc.Terminated() {
			break
		}
		startedCount++
		go func(i int, reg *Registration) {
			results <- indexedOutcome{index: i, outcome: d.invoke(ctx, reg, payload, pc)}
		}(i, reg)
	}

	if startedCount == 0 {
		return nil, nil
	}

	winner := <-results
	if remaining := startedCount - 1; remaining > 0 {
		go d.drainStragglers(results, remaining, pc.Action())
	}

	if winner.outcome.Err != nil && !regs[winner.index].ContinueOnError {
		return []HandlerOutcome{winner.outcome}, winner.outcome.Err
	}
	return []HandlerOutcome{winner.outcome}, nil
}

package pipeline

import (
	"context"
	"errors"
)

type indexedOutcome struct {
	index   int
	outcome HandlerOutcome
}

// runParallel starts every eligible handler in one batch; priority affects
// only the ordering of outcomes in the result, never scheduling. Under the
// fail-fast policy the first observed failure settles the dispatch
// immediately: still-running handlers finish in the background and their
// outcomes are dropped. Under the aggregate policy the whole batch is
// awaited and every failure is joined into one error.
func (d *Dispatcher) runParallel(ctx context.Context, regs []*Registration, pc *Controller, policy ErrorPolicy) ([]HandlerOutcome, error) {
	if len(regs) == 0 {
		return nil, nil
	}

	// One payload snapshot for the whole batch; sibling modifications are
	// not visible mid-flight.
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

	outcomes := make([]HandlerOutcome, len(regs))
	for i := startedCount; i < len(regs); i++ {
		cause := SkipCauseAbort
		if pc.Terminated() {
			cause = SkipCauseTerminate
		}
		outcomes[i] = skippedOutcome(regs[i], cause)
	}

	if policy == ErrorPolicyAggregate {
		var errs []error
		for n := 0; n < startedCount; n++ {
			res := <-results
			outcomes[res.index] = res.outcome
			if res.outcome.Err != nil && !regs[res.index].ContinueOnError {
				errs = append(errs, res.outcome.Err)
			}
		}
		return outcomes, errors.Join(errs...)
	}

	// Fail-fast: settle on the first failure, drain stragglers in the
	// background.
	for n := 0; n < startedCount; n++ {
		res := <-results
		if res.outcome.Err != nil && !regs[res.index].ContinueOnError {
			failed := res.outcome
			remaining := startedCount - n - 1
			if remaining > 0 {
				go d.drainStragglers(results, remaining, pc.Action())
			}
			return []HandlerOutcome{failed}, failed.Err
		}
		outcomes[res.index] = res.outcome
	}

	return outcomes, nil
}

// drainStragglers collects outcomes of handlers that were still running when
// their dispatch already settled, so their goroutines finish cleanly. The
// outcomes are logged and dropped.
func (d *Dispatcher) drainStragglers(results <-chan indexedOutcome, remaining int, action string) {
	for n := 0; n < remaining; n++ {
		res := <-results
		d.logger.Debug(context.Background(), "straggler handler settled after dispatch",
			"action", action,
			"handler", res.outcome.HandlerID,
			"late_error", res.outcome.Err)
	}
}

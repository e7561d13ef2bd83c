package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/actionpipe/actionpipe/internal/guard"
	"github.com/actionpipe/actionpipe/internal/logging"
	"github.com/actionpipe/actionpipe/internal/pipeline"
)

// StatusSkipped marks a dispatch the guard suppressed without running the
// pipeline. All other report statuses reuse the dispatcher's names.
const StatusSkipped = "skipped"

// Report is the outcome of one script execution.
type Report struct {
	Script     string
	Dispatches []DispatchReport
	Duration   time.Duration
}

// DispatchReport records one issued dispatch.
type DispatchReport struct {
	Action   string
	Payload  interface{}
	Status   string
	Err      error
	Result   *pipeline.Result
	Duration time.Duration
}

// Failed reports how many dispatches ended in an error.
func (r *Report) Failed() int {
	n := 0
	for _, d := range r.Dispatches {
		if d.Err != nil {
			n++
		}
	}
	return n
}

// Runner binds scripts to a dispatcher and executes their dispatch
// sequences.
type Runner struct {
	dispatcher *pipeline.Dispatcher
	guard      *guard.Guard
	logger     logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger logging.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger.WithComponent("script")
		}
	}
}

// NewRunner creates a runner. The guard may be nil, in which case dispatches
// go straight to the dispatcher.
func NewRunner(dispatcher *pipeline.Dispatcher, g *guard.Guard, opts ...RunnerOption) *Runner {
	r := &Runner{
		dispatcher: dispatcher,
		guard:      g,
		logger:     logging.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind registers the script's handlers and installs its guard policies.
func (r *Runner) Bind(s *Script) error {
	for i, spec := range s.Handlers {
		opts := handlerOptions(spec)
		if _, err := r.dispatcher.Register(spec.Action, buildHandler(spec), opts...); err != nil {
			return fmt.Errorf("handlers[%d] (%s): %w", i, spec.Action, err)
		}
	}

	for i, spec := range s.Guards {
		if r.guard == nil {
			return fmt.Errorf("guards[%d] (%s): script declares guards but no guard is attached", i, spec.Action)
		}
		var err error
		switch spec.Policy {
		case "throttle":
			policy := guard.ThrottleLeading
			if spec.ThrottlePolicy != "" {
				policy, err = guard.ParseThrottlePolicy(spec.ThrottlePolicy)
				if err == nil {
					err = r.guard.Throttle(spec.Action, spec.Window, policy)
				}
			} else {
				err = r.guard.Throttle(spec.Action, spec.Window, policy)
			}
		default:
			err = r.guard.Debounce(spec.Action, spec.Window)
		}
		if err != nil {
			return fmt.Errorf("guards[%d] (%s): %w", i, spec.Action, err)
		}
	}

	r.logger.Debug(context.Background(), "script bound",
		"script", s.Name,
		"handlers", len(s.Handlers),
		"guards", len(s.Guards),
	)
	return nil
}

// Execute runs the script's dispatch sequence and flushes any guard windows
// still pending at the end, so the report covers every issued dispatch.
func (r *Runner) Execute(ctx context.Context, s *Script) (*Report, error) {
	start := time.Now()
	report := &Report{Script: s.Name}

	defaultOpts, err := stepOptions(s.Defaults.Mode, s.Defaults.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	for _, step := range s.Dispatches {
		opts := defaultOpts
		if step.Mode != "" || step.ErrorPolicy != "" {
			opts, err = stepOptions(step.Mode, step.ErrorPolicy)
			if err != nil {
				return nil, err
			}
		}
		report.Dispatches = append(report.Dispatches, r.executeStep(ctx, step, opts)...)
	}

	if r.guard != nil {
		for _, action := range r.guard.Guarded() {
			r.guard.Flush(action)
		}
	}

	report.Duration = time.Since(start)
	r.logger.Info(ctx, "script complete",
		"script", s.Name,
		"dispatches", len(report.Dispatches),
		"failed", report.Failed(),
		"duration", report.Duration,
	)
	return report, nil
}

// Run binds the script and executes it.
func (r *Runner) Run(ctx context.Context, s *Script) (*Report, error) {
	if err := r.Bind(s); err != nil {
		return nil, err
	}
	return r.Execute(ctx, s)
}

func (r *Runner) executeStep(ctx context.Context, step DispatchSpec, opts []pipeline.DispatchOption) []DispatchReport {
	times := step.Times()
	reports := make([]DispatchReport, times)

	if step.Concurrent {
		var wg sync.WaitGroup
		for i := 0; i < times; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if step.Interval > 0 {
					time.Sleep(time.Duration(i) * step.Interval)
				}
				reports[i] = r.dispatchOnce(ctx, step, opts)
			}(i)
		}
		wg.Wait()
		return reports
	}

	for i := 0; i < times; i++ {
		if i > 0 && step.Interval > 0 {
			wait := time.NewTimer(step.Interval)
			select {
			case <-wait.C:
			case <-ctx.Done():
				wait.Stop()
			}
		}
		reports[i] = r.dispatchOnce(ctx, step, opts)
	}
	return reports
}

func (r *Runner) dispatchOnce(ctx context.Context, step DispatchSpec, opts []pipeline.DispatchOption) DispatchReport {
	start := time.Now()

	var res *pipeline.Result
	var err error
	if r.guard != nil {
		res, err = r.guard.Dispatch(ctx, step.Action, step.Payload, opts...)
	} else {
		res, err = r.dispatcher.Dispatch(ctx, step.Action, step.Payload, opts...)
	}

	report := DispatchReport{
		Action:   step.Action,
		Payload:  step.Payload,
		Status:   StatusOf(res, err),
		Err:      err,
		Result:   res,
		Duration: time.Since(start),
	}

	if err != nil {
		r.logger.Error(ctx, err, "dispatch failed", "action", step.Action)
	} else {
		r.logger.Debug(ctx, "dispatch done", "action", step.Action, "status", report.Status)
	}
	return report
}

// StatusOf classifies a dispatch outcome into a report status name.
func StatusOf(res *pipeline.Result, err error) string {
	switch {
	case err != nil:
		return string(pipeline.StatusError)
	case res == nil:
		return string(pipeline.StatusError)
	case res.GuardSkipped():
		return StatusSkipped
	case res.Terminated:
		return string(pipeline.StatusTerminated)
	case res.Aborted:
		return string(pipeline.StatusAborted)
	default:
		return string(pipeline.StatusSuccess)
	}
}

func stepOptions(mode, errorPolicy string) ([]pipeline.DispatchOption, error) {
	var opts []pipeline.DispatchOption
	if mode != "" {
		m, err := pipeline.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithMode(m))
	}
	if errorPolicy != "" {
		p, err := pipeline.ParseErrorPolicy(errorPolicy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithPolicy(p))
	}
	return opts, nil
}

func handlerOptions(spec HandlerSpec) []pipeline.HandlerOption {
	opts := []pipeline.HandlerOption{pipeline.WithPriority(spec.Priority)}
	if spec.ID != "" {
		opts = append(opts, pipeline.WithID(spec.ID))
	}
	if !spec.IsBlocking() {
		opts = append(opts, pipeline.NonBlocking())
	}
	if spec.Once {
		opts = append(opts, pipeline.Once())
	}
	if spec.ContinueOnError {
		opts = append(opts, pipeline.ContinueOnError())
	}
	if spec.Timeout > 0 {
		opts = append(opts, pipeline.WithTimeout(spec.Timeout))
	}
	if spec.Condition != nil {
		opts = append(opts, pipeline.WithCondition(conditionFunc(*spec.Condition)))
	}
	return opts
}

func conditionFunc(cond ConditionSpec) func(payload interface{}) bool {
	return func(payload interface{}) bool {
		text := payloadText(payload)
		if cond.Equals != "" && text != cond.Equals {
			return false
		}
		if cond.Contains != "" && !strings.Contains(text, cond.Contains) {
			return false
		}
		return true
	}
}

// buildHandler turns a handler declaration into an executable probe.
func buildHandler(spec HandlerSpec) pipeline.HandlerFunc {
	switch spec.Behavior {
	case BehaviorDelay:
		return func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
			wait := time.NewTimer(spec.Delay)
			select {
			case <-wait.C:
			case <-ctx.Done():
				wait.Stop()
				return nil, ctx.Err()
			}
			return resultValue(spec, payload), nil
		}
	case BehaviorFail:
		message := spec.Message
		if message == "" {
			message = "scripted failure"
		}
		return func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
			return nil, errors.New(message)
		}
	case BehaviorTransform:
		return func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
			pc.ModifyPayload(func(current interface{}) interface{} {
				return spec.Prefix + payloadText(current)
			})
			return pc.Payload(), nil
		}
	case BehaviorAbort:
		return func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
			pc.Abort(spec.Message)
			return nil, nil
		}
	case BehaviorTerminate:
		return func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
			pc.Terminate()
			return resultValue(spec, payload), nil
		}
	case BehaviorJump:
		return func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
			pc.JumpToPriority(spec.Target)
			return resultValue(spec, payload), nil
		}
	default:
		return func(ctx context.Context, payload interface{}, pc *pipeline.Controller) (interface{}, error) {
			return resultValue(spec, payload), nil
		}
	}
}

// resultValue picks what a probe returns: an explicit value, a message, or
// the payload itself.
func resultValue(spec HandlerSpec, payload interface{}) interface{} {
	if spec.Value != nil {
		return spec.Value
	}
	if spec.Message != "" {
		return spec.Message
	}
	return payload
}

func payloadText(payload interface{}) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", payload)
}

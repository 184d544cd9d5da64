package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// CommandSink dispatches a single device command and reports how long
// it took. Satisfied by *device.MQTTSink.
type CommandSink interface {
	Send(ctx context.Context, deviceID, command string, settings map[string]any) (time.Duration, error)
}

// Logger is the minimal logging interface the automation package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything; used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DispatchFailure records one device that could not be commanded.
type DispatchFailure struct {
	DeviceID string `json:"device_id"`
	Reason   string `json:"reason"`
}

// BatchResult is the outcome of executing one action over its targets.
type BatchResult struct {
	// Successful lists devices that acknowledged the dispatch.
	Successful []string `json:"successful"`

	// Failed lists devices that could not be commanded, with reasons.
	Failed []DispatchFailure `json:"failed"`

	// DurationMS is the wall-clock time of the whole batch, including
	// delays and sequencing intervals.
	DurationMS int64 `json:"duration_ms"`
}

// Success reports whether the batch reached at least one device.
// Partial failure is still success; total failure is not.
func (r BatchResult) Success() bool {
	return len(r.Successful) > 0
}

// Devices returns every device the batch touched, successful or not.
func (r BatchResult) Devices() []string {
	out := append([]string(nil), r.Successful...)
	for _, f := range r.Failed {
		out = append(out, f.DeviceID)
	}
	return out
}

// ExecutorConfig tunes dispatch pacing defaults.
type ExecutorConfig struct {
	// DefaultInterval is the wait between sequential dispatches when a
	// policy does not set its own.
	DefaultInterval time.Duration

	// MaxParallel bounds concurrent dispatches when a policy does not
	// set its own parallelism.
	MaxParallel int
}

// Executor runs actions against device scopes.
//
// One failing device never aborts the batch: every target is attempted
// and failures are collected per device.
type Executor struct {
	sink   CommandSink
	cfg    ExecutorConfig
	logger Logger
}

// NewExecutor creates an executor. logger may be nil.
func NewExecutor(sink CommandSink, cfg ExecutorConfig, logger Logger) *Executor {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 8
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{sink: sink, cfg: cfg, logger: logger}
}

// Execute runs one action over a scope under a dispatch policy.
//
// Target selection:
//   - all: every device in scope
//   - specific: the action's device list; devices outside the scope
//     fail individually without aborting the rest
//   - random: a random distinct subset of the scope, clamped to the
//     scope size
//
// The action's DelaySeconds is honoured before the first dispatch and
// aborts cleanly on context cancellation.
func (ex *Executor) Execute(ctx context.Context, action Action, scope []string, policy DispatchPolicy) BatchResult {
	start := time.Now()

	targets, preFailed := ex.selectTargets(action, scope)
	result := BatchResult{Failed: preFailed}

	if len(targets) == 0 {
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	if action.DelaySeconds > 0 {
		if err := sleepCtx(ctx, time.Duration(action.DelaySeconds)*time.Second); err != nil {
			for _, id := range targets {
				result.Failed = append(result.Failed, DispatchFailure{DeviceID: id, Reason: err.Error()})
			}
			result.DurationMS = time.Since(start).Milliseconds()
			return result
		}
	}

	if policy.RandomOrder {
		targets = lo.Shuffle(append([]string(nil), targets...))
	}

	if policy.Sequential {
		ex.runSequential(ctx, action, targets, policy, &result)
	} else {
		ex.runParallel(ctx, action, targets, policy, &result)
	}

	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

// selectTargets resolves the action's addressing mode against a scope.
func (ex *Executor) selectTargets(action Action, scope []string) ([]string, []DispatchFailure) {
	switch action.Target {
	case TargetAll:
		return scope, nil

	case TargetSpecific:
		inScope := make(map[string]bool, len(scope))
		for _, id := range scope {
			inScope[id] = true
		}
		var targets []string
		var failed []DispatchFailure
		for _, id := range lo.Uniq(action.DeviceIDs) {
			if inScope[id] {
				targets = append(targets, id)
			} else {
				failed = append(failed, DispatchFailure{DeviceID: id, Reason: "device not in scope"})
			}
		}
		return targets, failed

	case TargetRandom:
		count := action.RandomCount
		if count > len(scope) {
			count = len(scope)
		}
		if count < 1 {
			return nil, nil
		}
		// lo.Samples draws without replacement, so targets are distinct.
		return lo.Samples(scope, count), nil

	default:
		return nil, []DispatchFailure{{DeviceID: "", Reason: fmt.Sprintf("unknown target %q", action.Target)}}
	}
}

// runSequential dispatches one device at a time with an interval
// between dispatches. The interval is not applied after the last one.
func (ex *Executor) runSequential(ctx context.Context, action Action, targets []string, policy DispatchPolicy, result *BatchResult) {
	interval := time.Duration(policy.IntervalMS) * time.Millisecond
	if policy.IntervalMS <= 0 {
		interval = ex.cfg.DefaultInterval
	}

	for i, id := range targets {
		if i > 0 && interval > 0 {
			if err := sleepCtx(ctx, interval); err != nil {
				for _, rest := range targets[i:] {
					result.Failed = append(result.Failed, DispatchFailure{DeviceID: rest, Reason: err.Error()})
				}
				return
			}
		}
		ex.dispatch(ctx, action, id, result, nil)
	}
}

// runParallel dispatches concurrently with bounded parallelism.
func (ex *Executor) runParallel(ctx context.Context, action Action, targets []string, policy DispatchPolicy, result *BatchResult) {
	parallel := policy.Parallelism
	if parallel < 1 {
		parallel = ex.cfg.MaxParallel
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for _, id := range targets {
		id := id
		g.Go(func() error {
			ex.dispatch(gctx, action, id, result, &mu)
			// Failures are collected per device, never propagated:
			// one bad device must not cancel its siblings.
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors
}

// dispatch sends one command and records the outcome. mu guards result
// when dispatching concurrently; nil means single-threaded.
func (ex *Executor) dispatch(ctx context.Context, action Action, deviceID string, result *BatchResult, mu *sync.Mutex) {
	_, err := ex.sink.Send(ctx, deviceID, action.Command, action.Settings)

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}

	if err != nil {
		ex.logger.Warn("device dispatch failed",
			"device_id", deviceID,
			"command", action.Command,
			"error", err,
		)
		result.Failed = append(result.Failed, DispatchFailure{DeviceID: deviceID, Reason: err.Error()})
		return
	}

	result.Successful = append(result.Successful, deviceID)
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andyjessop/workerkit/logging"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Handler is the body of a workflow. It drives the run through the Context's
// step primitives and returns the run's final output.
type Handler func(ctx *Context) (any, error)

// StepFunc is a unit of work executed inside a durable step boundary.
type StepFunc func(ctx context.Context) (any, error)

// StepOptions tunes a single step declaration.
type StepOptions struct {
	// Retry overrides the engine's default retry policy when MaxAttempts > 0.
	Retry RetryPolicy
}

// StepError reports a step that exhausted its retries. The run fails with the
// step's terminal cause; earlier checkpoints are preserved for diagnostics.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow: step %q failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Context carries one run's identity, input and checkpoint access into a
// workflow handler. A Context is only valid for the duration of the handler
// invocation that received it.
type Context struct {
	ctx    context.Context
	runID  string
	input  json.RawMessage
	store  CheckpointStore
	logger logging.Logger
	retry  RetryPolicy
}

// Context returns the underlying context for cancellation propagation.
func (c *Context) Context() context.Context { return c.ctx }

// RunID returns the run's identifier.
func (c *Context) RunID() string { return c.runID }

// Input decodes the run's input payload into out.
func (c *Context) Input(out any) error {
	if len(c.input) == 0 {
		return nil
	}
	return json.Unmarshal(c.input, out)
}

// Do executes fn inside a durable step boundary named name. If a checkpoint
// for the step exists the recorded result is returned without re-running fn;
// otherwise fn is attempted under the retry policy and its result is
// checkpointed on success.
func (c *Context) Do(name string, fn StepFunc) (json.RawMessage, error) {
	return c.DoWith(name, StepOptions{}, fn)
}

// DoWith is Do with per-step options.
func (c *Context) DoWith(name string, opts StepOptions, fn StepFunc) (json.RawMessage, error) {
	if cp, err := c.store.GetCheckpoint(c.ctx, c.runID, name); err == nil {
		c.logger.Debug("workflow.step.replayed", "run_id", c.runID, "step", name)
		return cp.Data, nil
	} else if !errors.Is(err, ErrCheckpointNotFound) {
		return nil, fmt.Errorf("workflow: read checkpoint for step %q: %w", name, err)
	}

	result, err := c.attempt(name, opts, fn)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode result of step %q: %w", name, err)
	}
	if err := c.checkpoint(name, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Sleep suspends the run for d before the next step executes. The wake
// deadline is checkpointed, so a resumed run does not restart the timer: a
// deadline already in the past is a no-op. The suspension parks the goroutine
// on a timer; no OS thread is held.
func (c *Context) Sleep(name string, d time.Duration) error {
	var wake time.Time

	if cp, err := c.store.GetCheckpoint(c.ctx, c.runID, name); err == nil {
		if err := json.Unmarshal(cp.Data, &wake); err != nil {
			return fmt.Errorf("workflow: decode sleep checkpoint %q: %w", name, err)
		}
	} else if errors.Is(err, ErrCheckpointNotFound) {
		wake = time.Now().Add(d)
		data, err := json.Marshal(wake)
		if err != nil {
			return err
		}
		if err := c.checkpoint(name, data); err != nil {
			return err
		}
	} else {
		return fmt.Errorf("workflow: read checkpoint for sleep %q: %w", name, err)
	}

	remaining := time.Until(wake)
	if remaining <= 0 {
		return nil
	}

	c.logger.Debug("workflow.sleep", "run_id", c.runID, "step", name, "duration", remaining)

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoAll fans out into len(fns) concurrent sub-calls and fans back in,
// collecting all results before proceeding. The checkpoint records the joined
// result as a single entry in input order regardless of completion order, so
// a retry replays the whole fan-out atomically. Sub-call failures are joined
// and retried together under the step's retry policy.
func (c *Context) DoAll(name string, fns ...StepFunc) ([]json.RawMessage, error) {
	return c.DoAllWith(name, StepOptions{}, fns...)
}

// DoAllWith is DoAll with per-step options.
func (c *Context) DoAllWith(name string, opts StepOptions, fns ...StepFunc) ([]json.RawMessage, error) {
	if cp, err := c.store.GetCheckpoint(c.ctx, c.runID, name); err == nil {
		c.logger.Debug("workflow.step.replayed", "run_id", c.runID, "step", name)
		var joined []json.RawMessage
		if err := json.Unmarshal(cp.Data, &joined); err != nil {
			return nil, fmt.Errorf("workflow: decode fan-out checkpoint %q: %w", name, err)
		}
		return joined, nil
	} else if !errors.Is(err, ErrCheckpointNotFound) {
		return nil, fmt.Errorf("workflow: read checkpoint for step %q: %w", name, err)
	}

	result, err := c.attempt(name, opts, func(ctx context.Context) (any, error) {
		return c.fanOut(ctx, fns)
	})
	if err != nil {
		return nil, err
	}

	joined := result.([]json.RawMessage)
	data, err := json.Marshal(joined)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode result of step %q: %w", name, err)
	}
	if err := c.checkpoint(name, data); err != nil {
		return nil, err
	}
	return joined, nil
}

// fanOut runs the sub-calls concurrently and joins results in input order.
func (c *Context) fanOut(ctx context.Context, fns []StepFunc) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(fns))
	errs := make([]error, len(fns))

	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range fns {
		g.Go(func() error {
			res, err := fn(gctx)
			if err != nil {
				errs[i] = fmt.Errorf("sub-call %d: %w", i, err)
				return errs[i]
			}
			data, err := json.Marshal(res)
			if err != nil {
				errs[i] = fmt.Errorf("sub-call %d: encode result: %w", i, err)
				return errs[i]
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, multierr.Combine(errs...)
	}
	return results, nil
}

// attempt runs fn under the step's retry policy, sleeping the backoff delay
// between attempts. Context cancellation aborts without further retries.
func (c *Context) attempt(name string, opts StepOptions, fn StepFunc) (any, error) {
	policy := c.retry
	if opts.Retry.MaxAttempts > 0 {
		policy = opts.Retry
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = DefaultRetryPolicy.Backoff
	}

	var lastErr error
	for n := 0; n < policy.MaxAttempts; n++ {
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := fn(c.ctx)
		if err == nil {
			c.logger.Info(
				"workflow.step.completed",
				"run_id", c.runID,
				"step", name,
				"attempt", n+1,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return result, nil
		}
		lastErr = err
		c.logger.Warn(
			"workflow.step.attempt_failed",
			"run_id", c.runID,
			"step", name,
			"attempt", n+1,
			"error", err.Error(),
		)

		if n+1 >= policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(policy.Backoff.Delay(n))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, c.ctx.Err()
		case <-timer.C:
		}
	}

	return nil, &StepError{Step: name, Attempts: policy.MaxAttempts, Err: lastErr}
}

// checkpoint records a completed step result.
func (c *Context) checkpoint(name string, data json.RawMessage) error {
	cp := &Checkpoint{
		RunID:     c.runID,
		Step:      name,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := c.store.SaveCheckpoint(c.ctx, cp); err != nil {
		return fmt.Errorf("workflow: checkpoint step %q: %w", name, err)
	}
	return nil
}

// Do is a typed convenience wrapper around Context.Do: the step function
// returns T and the (possibly replayed) result is decoded back into T.
func Do[T any](c *Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := c.Do(name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if len(data) == 0 {
		return zero, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("workflow: decode result of step %q: %w", name, err)
	}
	return out, nil
}

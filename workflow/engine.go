package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/andyjessop/workerkit/logging"
	"github.com/google/uuid"
)

// Options configures an Engine.
type Options struct {
	// Store persists runs and checkpoints. Defaults to an in-memory store.
	Store CheckpointStore

	// Logger receives structured run and step logs.
	Logger logging.Logger

	// DefaultRetry applies to steps that declare no policy of their own.
	DefaultRetry RetryPolicy
}

// Engine registers workflow handlers by binding name and manages runs:
// creation, background execution, resumption after a restart and status
// queries. All state lives in the CheckpointStore, so an engine built over a
// persistent store can resume runs created by a previous process.
type Engine struct {
	store  CheckpointStore
	logger logging.Logger
	retry  RetryPolicy

	mu       sync.RWMutex
	handlers map[string]Handler
	active   map[string]*Run
}

// NewEngine constructs an engine with optional overrides.
func NewEngine(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Store:        NewMemoryStore(),
		Logger:       logging.NoOpLogger{},
		DefaultRetry: DefaultRetryPolicy,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Engine{
		store:    opts.Store,
		logger:   opts.Logger,
		retry:    opts.DefaultRetry,
		handlers: make(map[string]Handler),
		active:   make(map[string]*Run),
	}
}

// Register binds a handler to a workflow name.
func (e *Engine) Register(name string, h Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.handlers[name]; exists {
		return fmt.Errorf("workflow: handler %q already registered", name)
	}
	e.handlers[name] = h
	return nil
}

// Run is a live handle on an executing (or finished) workflow run.
type Run struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	output json.RawMessage
	err    error
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes (or ctx is cancelled) and returns the
// run's output or terminal error.
func (r *Run) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output, r.err
}

func (r *Run) finish(output json.RawMessage, err error) {
	r.mu.Lock()
	r.output = output
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// Create starts a new run of the named workflow with the given input
// payload. An empty id is assigned a fresh UUID. The run executes in the
// background; use Wait, Done or Status to observe it.
func (e *Engine) Create(ctx context.Context, workflow, id string, input any) (*Run, error) {
	e.mu.RLock()
	h, ok := e.handlers[workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow: no handler registered for %q", workflow)
	}

	if id == "" {
		id = uuid.NewString()
	}

	var raw json.RawMessage
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("workflow: encode input: %w", err)
		}
		raw = data
	}

	now := time.Now()
	state := &RunState{
		ID:       id,
		Workflow: workflow,
		Input:    raw,
		Status:   StatusRunning,
		Created:  now,
		Updated:  now,
	}
	if err := e.store.CreateRun(ctx, state); err != nil {
		return nil, fmt.Errorf("workflow: persist run: %w", err)
	}

	return e.launch(workflow, h, state), nil
}

// Resume re-drives an unfinished run after a restart. Completed steps replay
// from their checkpoints; only uncompleted work executes again. Resuming a
// finished run returns a handle that is already terminal.
func (e *Engine) Resume(ctx context.Context, id string) (*Run, error) {
	e.mu.RLock()
	if run, ok := e.active[id]; ok {
		e.mu.RUnlock()
		return run, nil
	}
	e.mu.RUnlock()

	state, err := e.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	if state.Status != StatusRunning {
		run := &Run{id: id, done: make(chan struct{})}
		var terminal error
		if state.Status == StatusErrored {
			terminal = fmt.Errorf("workflow: run %s errored: %s", id, state.Error)
		}
		run.finish(state.Output, terminal)
		return run, nil
	}

	e.mu.RLock()
	h, ok := e.handlers[state.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow: no handler registered for %q", state.Workflow)
	}

	return e.launch(state.Workflow, h, state), nil
}

// Status returns the persisted state of a run.
func (e *Engine) Status(ctx context.Context, id string) (*RunState, error) {
	return e.store.GetRun(ctx, id)
}

// launch executes the handler in a background goroutine, recording the
// terminal outcome in the store. Registration in the active map is the
// commit point: when two callers race to drive the same run id, exactly one
// launches a goroutine and the other joins its handle.
func (e *Engine) launch(workflow string, h Handler, state *RunState) *Run {
	run := &Run{id: state.ID, done: make(chan struct{})}

	e.mu.Lock()
	if existing, ok := e.active[state.ID]; ok {
		e.mu.Unlock()
		return existing
	}
	e.active[state.ID] = run
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.active, state.ID)
			e.mu.Unlock()
		}()

		// The run's lifetime is decoupled from the creating request: an
		// aborted caller stops observing but never undoes checkpointed steps.
		ctx := context.Background()

		wfCtx := &Context{
			ctx:    ctx,
			runID:  state.ID,
			input:  state.Input,
			store:  e.store,
			logger: e.logger,
			retry:  e.retry,
		}

		start := time.Now()
		e.logger.Info("workflow.run.started", "workflow", workflow, "run_id", state.ID)

		output, err := h(wfCtx)

		state.Updated = time.Now()
		if err != nil {
			state.Status = StatusErrored
			state.Error = err.Error()
			if uerr := e.store.UpdateRun(ctx, state); uerr != nil {
				e.logger.Error("workflow.run.persist_failed", "run_id", state.ID, "error", uerr.Error())
			}
			e.logger.Error(
				"workflow.run.errored",
				"workflow", workflow,
				"run_id", state.ID,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err.Error(),
			)
			run.finish(nil, err)
			return
		}

		raw, merr := json.Marshal(output)
		if merr != nil {
			merr = fmt.Errorf("workflow: encode output: %w", merr)
			state.Status = StatusErrored
			state.Error = merr.Error()
			if uerr := e.store.UpdateRun(ctx, state); uerr != nil {
				e.logger.Error("workflow.run.persist_failed", "run_id", state.ID, "error", uerr.Error())
			}
			run.finish(nil, merr)
			return
		}

		state.Status = StatusComplete
		state.Output = raw
		if uerr := e.store.UpdateRun(ctx, state); uerr != nil {
			e.logger.Error("workflow.run.persist_failed", "run_id", state.ID, "error", uerr.Error())
		}
		e.logger.Info(
			"workflow.run.completed",
			"workflow", workflow,
			"run_id", state.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		run.finish(raw, nil)
	}()

	return run
}

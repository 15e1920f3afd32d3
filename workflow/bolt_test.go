package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ CheckpointStore = (*BoltStore)(nil)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrRunNotFound)

	now := time.Now()
	run := &RunState{
		ID:       "run-1",
		Workflow: "orders",
		Input:    json.RawMessage(`{"order_id":"o-1"}`),
		Status:   StatusRunning,
		Created:  now,
		Updated:  now,
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(got.Input))

	got.Status = StatusComplete
	got.Output = json.RawMessage(`"shipped"`)
	require.NoError(t, s.UpdateRun(ctx, got))

	final, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, final.Status)
	assert.JSONEq(t, `"shipped"`, string(final.Output))
}

func TestBoltStore_UpdateUnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateRun(context.Background(), &RunState{ID: "nope"})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestBoltStore_Checkpoints(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetCheckpoint(ctx, "run-1", "step-1")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	for _, step := range []string{"reserve", "charge", "ship"} {
		require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{
			RunID: "run-1",
			Step:  step,
			Data:  json.RawMessage(`"` + step + `"`),
		}))
	}

	cp, err := s.GetCheckpoint(ctx, "run-1", "charge")
	require.NoError(t, err)
	assert.JSONEq(t, `"charge"`, string(cp.Data))

	// Completion order is preserved across the log.
	cps, err := s.ListCheckpoints(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, "reserve", cps[0].Step)
	assert.Equal(t, "charge", cps[1].Step)
	assert.Equal(t, "ship", cps[2].Step)
	assert.Equal(t, 0, cps[0].Seq)
	assert.Equal(t, 2, cps[2].Seq)
}

func TestBoltStore_CheckpointsIsolatedPerRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{RunID: "run-1", Step: "a"}))

	_, err := s.GetCheckpoint(ctx, "run-2", "a")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestBoltStore_ResumeAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.db")

	var step1Runs atomic.Int32
	var failSecond atomic.Bool
	failSecond.Store(true)

	handler := func(c *Context) (any, error) {
		if _, err := c.Do("step-1", func(ctx context.Context) (any, error) {
			step1Runs.Add(1)
			return "one", nil
		}); err != nil {
			return nil, err
		}
		return c.DoWith("step-2", StepOptions{Retry: RetryPolicy{MaxAttempts: 1, Backoff: ConstantBackoff{}}},
			func(ctx context.Context) (any, error) {
				if failSecond.Load() {
					return nil, errors.New("outage")
				}
				return "two", nil
			})
	}

	// First process: step-1 checkpoints, step-2 fails.
	store1, err := OpenBoltStore(path)
	require.NoError(t, err)
	e1 := NewEngine(fastRetry, func(o *Options) { o.Store = store1 })
	require.NoError(t, e1.Register("pipeline", handler))

	run, err := e1.Create(ctx, "pipeline", "run-1", nil)
	require.NoError(t, err)
	_, err = run.Wait(ctx)
	require.Error(t, err)

	// Simulated crash recovery: the run is left resumable on disk.
	state, err := store1.GetRun(ctx, "run-1")
	require.NoError(t, err)
	state.Status = StatusRunning
	require.NoError(t, store1.UpdateRun(ctx, state))
	require.NoError(t, store1.Close())

	// Second process over the same file.
	failSecond.Store(false)
	store2, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store2.Close()

	e2 := NewEngine(fastRetry, func(o *Options) { o.Store = store2 })
	require.NoError(t, e2.Register("pipeline", handler))

	resumed, err := e2.Resume(ctx, "run-1")
	require.NoError(t, err)
	output, err := resumed.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"two"`, string(output))

	// The checkpointed step never re-executed.
	assert.Equal(t, int32(1), step1Runs.Load())
}

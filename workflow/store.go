package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Status enumerates the lifecycle states of a workflow run.
type Status string

const (
	// StatusRunning marks a run whose handler is executing (or resumable).
	StatusRunning Status = "running"
	// StatusComplete marks a run that finished successfully.
	StatusComplete Status = "complete"
	// StatusErrored marks a run that failed terminally.
	StatusErrored Status = "errored"
)

// ErrRunNotFound is returned when no run exists for an identifier.
var ErrRunNotFound = errors.New("workflow: run not found")

// ErrCheckpointNotFound is returned when a step has no recorded result.
var ErrCheckpointNotFound = errors.New("workflow: checkpoint not found")

// RunState is the persisted record of one workflow run: its identity, input
// payload and terminal outcome. The ordered checkpoint log lives alongside it
// in the store.
type RunState struct {
	ID       string          `json:"id"`
	Workflow string          `json:"workflow"`
	Input    json.RawMessage `json:"input,omitempty"`
	Status   Status          `json:"status"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Created  time.Time       `json:"created"`
	Updated  time.Time       `json:"updated"`
}

// Checkpoint stores the serialized result of a completed step, enabling
// crash recovery by replaying recorded results instead of re-running steps.
type Checkpoint struct {
	RunID     string          `json:"run_id"`
	Step      string          `json:"step"`
	Data      json.RawMessage `json:"data,omitempty"`
	Seq       int             `json:"seq"` // Completion order within the run
	CreatedAt time.Time       `json:"created_at"`
}

// CheckpointStore persists runs and their step checkpoints.
type CheckpointStore interface {
	CreateRun(ctx context.Context, run *RunState) error
	GetRun(ctx context.Context, id string) (*RunState, error)
	UpdateRun(ctx context.Context, run *RunState) error

	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoint(ctx context.Context, runID, step string) (*Checkpoint, error)

	// ListCheckpoints returns a run's checkpoints in completion order.
	ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error)
}

// MemoryStore is a volatile CheckpointStore implementation storing runs in
// process-local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]*RunState
	checkpoints map[string][]*Checkpoint // runID -> ordered log
}

// NewMemoryStore constructs an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*RunState),
		checkpoints: make(map[string][]*Checkpoint),
	}
}

// CreateRun stores a new run record.
func (s *MemoryStore) CreateRun(ctx context.Context, run *RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// GetRun returns a copy of the run record.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

// UpdateRun overwrites the run record.
func (s *MemoryStore) UpdateRun(ctx context.Context, run *RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// SaveCheckpoint appends a step result to the run's checkpoint log.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	c.Seq = len(s.checkpoints[cp.RunID])
	s.checkpoints[cp.RunID] = append(s.checkpoints[cp.RunID], &c)
	return nil
}

// GetCheckpoint returns the recorded result for (runID, step), if any.
func (s *MemoryStore) GetCheckpoint(ctx context.Context, runID, step string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.checkpoints[runID] {
		if cp.Step == step {
			c := *cp
			return &c, nil
		}
	}
	return nil, ErrCheckpointNotFound
}

// ListCheckpoints returns the run's checkpoints in completion order.
func (s *MemoryStore) ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.checkpoints[runID]
	out := make([]*Checkpoint, len(log))
	for i, cp := range log {
		c := *cp
		out[i] = &c
	}
	return out, nil
}

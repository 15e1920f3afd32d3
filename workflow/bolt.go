package workflow

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var (
	runsBucket        = []byte("runs")
	checkpointsBucket = []byte("checkpoints")
)

// BoltStore is a CheckpointStore backed by a BoltDB file, so runs survive
// process restarts. Run records live in one bucket; each run's checkpoint
// log lives in a nested bucket keyed by completion sequence.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the BoltDB file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, os.FileMode(0o600), nil)
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// NewBoltStore wraps an already opened database.
func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// CreateRun stores a new run record.
func (s *BoltStore) CreateRun(ctx context.Context, run *RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(runsBucket)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), raw)
	})
}

// GetRun returns the run record.
func (s *BoltStore) GetRun(ctx context.Context, id string) (*RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var run RunState
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if b == nil {
			return ErrRunNotFound
		}
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrRunNotFound
		}
		return json.Unmarshal(raw, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRun overwrites the run record.
func (s *BoltStore) UpdateRun(ctx context.Context, run *RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if b == nil || b.Get([]byte(run.ID)) == nil {
			return ErrRunNotFound
		}
		raw, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), raw)
	})
}

// SaveCheckpoint appends a step result to the run's checkpoint log.
func (s *BoltStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		parent, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		if err != nil {
			return err
		}
		b, err := parent.CreateBucketIfNotExists([]byte(cp.RunID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		c := *cp
		c.Seq = int(seq) - 1
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		raw, err := json.Marshal(&c)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), raw)
	})
}

// GetCheckpoint returns the recorded result for (runID, step), if any.
func (s *BoltStore) GetCheckpoint(ctx context.Context, runID, step string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var found *Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := checkpointBucket(tx, runID)
		if b == nil {
			return ErrCheckpointNotFound
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cp Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			if cp.Step == step {
				found = &cp
				return nil
			}
		}
		return ErrCheckpointNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListCheckpoints returns the run's checkpoints in completion order.
func (s *BoltStore) ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := checkpointBucket(tx, runID)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cp Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkpointBucket returns the nested bucket holding a run's checkpoint log.
func checkpointBucket(tx *bbolt.Tx, runID string) *bbolt.Bucket {
	parent := tx.Bucket(checkpointsBucket)
	if parent == nil {
		return nil
	}
	return parent.Bucket([]byte(runID))
}

// seqKey encodes a bucket sequence number as a sortable big-endian key.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

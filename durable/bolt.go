package durable

import (
	"bytes"
	"context"
	"os"

	"go.etcd.io/bbolt"
)

// bucketParent is an interface for things that contain buckets.
type bucketParent interface {
	CreateBucketIfNotExists([]byte) (*bbolt.Bucket, error)
	Bucket([]byte) *bbolt.Bucket
	DeleteBucket([]byte) error
}

var (
	_ bucketParent = (*bbolt.Tx)(nil)
	_ bucketParent = (*bbolt.Bucket)(nil)
)

// createBucket creates nested buckets with names given by the elements of path.
func createBucket(p bucketParent, path ...[]byte) (b *bbolt.Bucket, err error) {
	for _, n := range path {
		b, err = p.CreateBucketIfNotExists(n)
		if err != nil {
			return nil, err
		}
		p = b
	}
	return b, nil
}

// getBucket gets nested buckets with names given by the elements of path.
func getBucket(p bucketParent, path ...[]byte) (b *bbolt.Bucket, ok bool) {
	for _, n := range path {
		b = p.Bucket(n)
		if b == nil {
			return nil, false
		}
		p = b
	}
	return b, true
}

// BoltProvider is a Provider implementation backed by a BoltDB file. Each
// (namespace, id) scope maps to a nested bucket, so wiping an object is a
// single bucket deletion and scopes are fully isolated.
type BoltProvider struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the BoltDB file at path.
func OpenBolt(path string) (*BoltProvider, error) {
	db, err := bbolt.Open(path, os.FileMode(0o600), nil)
	if err != nil {
		return nil, err
	}
	return &BoltProvider{db: db}, nil
}

// NewBoltProvider wraps an already opened database.
func NewBoltProvider(db *bbolt.DB) *BoltProvider {
	return &BoltProvider{db: db}
}

// Open returns the storage scope for (namespace, id).
func (p *BoltProvider) Open(namespace, id string) (Storage, error) {
	return &boltStorage{
		db:   p.db,
		path: [][]byte{[]byte(namespace), []byte(id)},
	}, nil
}

// Wipe removes the bucket holding a scope's state.
func (p *BoltProvider) Wipe(namespace, id string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(namespace))
		if parent == nil {
			return nil
		}
		if parent.Bucket([]byte(id)) == nil {
			return nil
		}
		return parent.DeleteBucket([]byte(id))
	})
}

// Close closes the underlying database.
func (p *BoltProvider) Close() error { return p.db.Close() }

// boltStorage implements Storage over one nested bucket. BoltDB's update
// transactions provide the atomicity Txn requires.
type boltStorage struct {
	db   *bbolt.DB
	path [][]byte
}

func (s *boltStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, ok := getBucket(tx, s.path...)
		if !ok {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *boltStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := createBucket(tx, s.path...)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (s *boltStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, ok := getBucket(tx, s.path...)
		if !ok {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *boltStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, ok := getBucket(tx, s.path...)
		if !ok {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *boltStorage) Txn(ctx context.Context, fn func(tx Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := createBucket(tx, s.path...)
		if err != nil {
			return err
		}
		return fn(&boltTxn{bucket: b})
	})
}

// boltTxn exposes the Txn surface over an open update transaction's bucket.
type boltTxn struct {
	bucket *bbolt.Bucket
}

func (t *boltTxn) Get(key string) ([]byte, error) {
	v := t.bucket.Get([]byte(key))
	if v == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTxn) Put(key string, value []byte) error {
	return t.bucket.Put([]byte(key), value)
}

func (t *boltTxn) Delete(key string) error {
	return t.bucket.Delete([]byte(key))
}

package durable

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a storage key does not exist.
var ErrNotFound = errors.New("durable: key not found")

// Txn is the mutation surface available inside a transaction. Reads observe
// writes made earlier in the same transaction.
type Txn interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Storage is the scoped key/value interface an object instance owns. All
// operations apply to the scope of a single object identifier.
//
// Txn groups multiple mutations atomically: either every write commits or
// none does, and no concurrent reader observes a partial write. Storage
// errors are fatal to the in-flight operation.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// List returns the keys with the given prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Txn executes fn inside a transaction. Returning an error rolls back
	// every mutation made by fn.
	Txn(ctx context.Context, fn func(tx Txn) error) error
}

// Provider opens storage scopes per (namespace, object ID) pair and disposes
// of them. Implementations must isolate scopes from each other.
type Provider interface {
	Open(namespace, id string) (Storage, error)

	// Wipe removes all stored state for a scope.
	Wipe(namespace, id string) error

	Close() error
}

// MemoryProvider is a volatile Provider implementation storing scopes in
// process-local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers.
type MemoryProvider struct {
	mu     sync.Mutex
	scopes map[string]*memoryStorage
}

// NewMemoryProvider constructs an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{scopes: make(map[string]*memoryStorage)}
}

// Open returns the storage scope for (namespace, id), creating it lazily.
func (p *MemoryProvider) Open(namespace, id string) (Storage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := namespace + "\x00" + id
	if s, ok := p.scopes[key]; ok {
		return s, nil
	}
	s := &memoryStorage{data: make(map[string][]byte)}
	p.scopes[key] = s
	return s, nil
}

// Wipe discards all state stored for a scope.
func (p *MemoryProvider) Wipe(namespace, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.scopes, namespace+"\x00"+id)
	return nil
}

// Close implements Provider. In-memory scopes need no teardown.
func (p *MemoryProvider) Close() error { return nil }

// memoryStorage implements Storage over a mutex-guarded map. Transactions
// stage writes in an overlay committed under the lock so readers never
// observe a partial transaction.
type memoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (s *memoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *memoryStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

func (s *memoryStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memoryStorage) Txn(ctx context.Context, fn func(tx Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTxn{
		base:    s.data,
		staged:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit while still holding the write lock so no reader observes a
	// partial transaction.
	for k := range tx.deleted {
		delete(s.data, k)
	}
	for k, v := range tx.staged {
		s.data[k] = v
	}
	return nil
}

// memoryTxn stages mutations in an overlay on top of the committed map.
type memoryTxn struct {
	base    map[string][]byte
	staged  map[string][]byte
	deleted map[string]bool
}

func (t *memoryTxn) Get(key string) ([]byte, error) {
	if t.deleted[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.staged[key]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	v, ok := t.base[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *memoryTxn) Put(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	t.staged[key] = v
	delete(t.deleted, key)
	return nil
}

func (t *memoryTxn) Delete(key string) error {
	delete(t.staged, key)
	t.deleted[key] = true
	return nil
}

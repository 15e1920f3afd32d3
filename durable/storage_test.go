package durable

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var (
	_ Provider = (*MemoryProvider)(nil)
	_ Storage  = (*memoryStorage)(nil)
)

func TestMemoryStorage_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	s, err := p.Open("COUNTER", "a")
	require.NoError(t, err)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte("v1")))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_List(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	s, err := p.Open("COUNTER", "a")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "user:2", []byte("b")))
	require.NoError(t, s.Put(ctx, "user:1", []byte("a")))
	require.NoError(t, s.Put(ctx, "other", []byte("c")))

	keys, err := s.List(ctx, "user:")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)
}

func TestMemoryStorage_TxnCommit(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	s, err := p.Open("COUNTER", "a")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a", []byte("old")))

	err = s.Txn(ctx, func(tx Txn) error {
		// Reads observe earlier writes in the same transaction.
		require.NoError(t, tx.Put("a", []byte("new")))
		v, err := tx.Get("a")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), v)

		require.NoError(t, tx.Put("b", []byte("added")))
		return tx.Delete("a")
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("added"), v)
}

func TestMemoryStorage_TxnRollback(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	s, err := p.Open("COUNTER", "a")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a", []byte("before")))

	boom := errors.New("boom")
	err = s.Txn(ctx, func(tx Txn) error {
		require.NoError(t, tx.Put("a", []byte("partial")))
		require.NoError(t, tx.Put("b", []byte("partial")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// No mutation from the failed transaction is visible.
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), v)
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryProvider_ScopeIsolation(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	a, err := p.Open("COUNTER", "a")
	require.NoError(t, err)
	b, err := p.Open("COUNTER", "b")
	require.NoError(t, err)

	require.NoError(t, a.Put(ctx, "k", []byte("a-value")))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryProvider_Wipe(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	s, err := p.Open("COUNTER", "a")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	require.NoError(t, p.Wipe("COUNTER", "a"))

	// Re-opening the scope yields a fresh empty store.
	s2, err := p.Open("COUNTER", "a")
	require.NoError(t, err)
	_, err = s2.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_DefensiveCopies(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	s, err := p.Open("COUNTER", "a")
	require.NoError(t, err)

	in := []byte("original")
	require.NoError(t, s.Put(ctx, "k", in))
	in[0] = 'X'

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), v)

	v[0] = 'Y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

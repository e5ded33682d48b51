package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutIsWriteOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "1/a.json", []byte("primeiro")))
	assert.ErrorIs(t, m.Put(ctx, "1/a.json", []byte("segundo")), ErrKeyExists)

	data, err := m.Get(ctx, "1/a.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("primeiro"), data)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListLexicalByPrefix(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"2/x.json", "1/2026-02-01_b.json", "1/2026-01-01_a.json"} {
		require.NoError(t, m.Put(ctx, key, []byte("{}")))
	}

	keys, err := m.List(ctx, "1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"1/2026-01-01_a.json", "1/2026-02-01_b.json"}, keys)
}

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
)

func TestPebbleStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	ps, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer ps.Close()

	_, _, err = ps.Load(ctx, "missing")
	assert.ErrorIs(t, err, editor.ErrNotFound)

	v, err := ps.Save(ctx, "doc", []byte("snap1"), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = ps.Save(ctx, "doc", []byte("snap2"), "hello world")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	snapshot, version, err := ps.Load(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("snap2"), snapshot)
	assert.Equal(t, int64(2), version)

	text, err := ps.Text(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = ps.Text(ctx, "missing")
	assert.ErrorIs(t, err, editor.ErrNotFound)
}

func TestPebbleStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ps, err := OpenPebble(dir)
	require.NoError(t, err)
	_, err = ps.Save(ctx, "doc", []byte("snap"), "text")
	require.NoError(t, err)
	require.NoError(t, ps.Close())

	ps, err = OpenPebble(dir)
	require.NoError(t, err)
	defer ps.Close()
	snapshot, version, err := ps.Load(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("snap"), snapshot)
	assert.Equal(t, int64(1), version)
}

func TestPebbleKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	ps, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer ps.Close()

	_, err = ps.Save(ctx, "a", []byte("doc-a"), "a")
	require.NoError(t, err)
	_, err = ps.Save(ctx, "ab", []byte("doc-ab"), "ab")
	require.NoError(t, err)

	snapshot, _, err := ps.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("doc-a"), snapshot)
}

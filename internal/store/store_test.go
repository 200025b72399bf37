package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndReadSessionRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch, err := s.OpenBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.WriteSession("sess-1", []byte(`{"state":"init"}`)))
	require.NoError(t, batch.Commit())

	data, err := s.ReadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"init"}`, string(data))
}

func TestReadSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadSession(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRollbackDiscardsWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch, err := s.OpenBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.WriteSession("sess-2", []byte("data")))
	require.NoError(t, batch.Rollback())

	_, err = s.ReadSession(ctx, "sess-2")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWriteSessionUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b1, err := s.OpenBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, b1.WriteSession("sess-3", []byte("v1")))
	require.NoError(t, b1.Commit())

	b2, err := s.OpenBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, b2.WriteSession("sess-3", []byte("v2")))
	require.NoError(t, b2.Commit())

	data, err := s.ReadSession(ctx, "sess-3")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestDeletePrivateContextIsIsolatedFromSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch, err := s.OpenBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.WriteSession("sess-4", []byte("data")))
	require.NoError(t, batch.DeletePrivateContext("sess-4"))
	require.NoError(t, batch.Commit())

	data, err := s.ReadSession(ctx, "sess-4")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestBatchRejectsUseAfterCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch, err := s.OpenBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Commit())

	err = batch.WriteSession("sess-5", []byte("data"))
	require.ErrorIs(t, err, ErrBatchClosed)
}

func TestDeleteSessionRemovesRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch, err := s.OpenBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.WriteSession("sess-6", []byte("data")))
	require.NoError(t, batch.Commit())

	require.NoError(t, s.DeleteSession(ctx, "sess-6"))

	_, err = s.ReadSession(ctx, "sess-6")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

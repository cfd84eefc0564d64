package db

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a scratch Postgres database, for example
// HARK_TEST_DATABASE_URL=postgres://localhost/hark_test?sslmode=disable
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("HARK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HARK_TEST_DATABASE_URL not set")
	}

	store, err := Open(context.Background(), url, log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestSaveStartsSessionLazily(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "first sentence"))
	require.NoError(t, store.Save(ctx, ""))
	require.NoError(t, store.Save(ctx, "second sentence"))

	recent, err := store.RecentSentences(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second sentence", recent[0].Text)
	assert.Equal(t, "first sentence", recent[1].Text)
	assert.Equal(t, recent[0].SessionID, recent[1].SessionID)
	assert.NotEqual(t, uuid.Nil, recent[0].SessionID)
}

func TestNewSessionGroupsLaterSentences(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "in the first"))

	second, err := store.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "in the second"))

	recent, err := store.RecentSentences(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second, recent[0].SessionID)
	assert.Equal(t, first, recent[1].SessionID)
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(context.Background(), "not a url ::", log.New(io.Discard))
	assert.Error(t, err)
}

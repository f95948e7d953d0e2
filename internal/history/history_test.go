package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	require.NoError(t, err)
	require.NotNil(t, s)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Record(ctx, Entry{SessionID: "s1", Request: "scan the host", Tool: "nmap",
		Command: "nmap -sV 10.0.0.1", RiskTier: "MEDIUM", Outcome: "executed"})
	s.Record(ctx, Entry{SessionID: "s1", Request: "what is nmap", Outcome: "explained"})
	s.Record(ctx, Entry{SessionID: "s2", Request: "other session", Outcome: "composed"})

	entries, err := s.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	assert.Equal(t, "what is nmap", entries[0].Request)
	assert.Equal(t, "scan the host", entries[1].Request)
	assert.Equal(t, "nmap", entries[1].Tool)
	assert.Equal(t, "MEDIUM", entries[1].RiskTier)
	assert.False(t, entries[1].CreatedAt.IsZero())
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		s.Record(ctx, Entry{SessionID: "s1", Request: "r", Outcome: "composed"})
	}

	entries, err := s.Recent(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecentUnknownSession(t *testing.T) {
	s := openTestStore(t)
	entries, err := s.Recent(context.Background(), "ghost", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNilStoreIsInert(t *testing.T) {
	var s *Store

	s.Record(context.Background(), Entry{SessionID: "s1"})
	entries, err := s.Recent(context.Background(), "s1", 5)
	assert.NoError(t, err)
	assert.Nil(t, entries)
	assert.NoError(t, s.Close())
}

func TestOpenEmptyPathDisables(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	assert.Nil(t, s)
}

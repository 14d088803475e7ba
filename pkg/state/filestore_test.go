package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	cursor, err := s.Load("daily_statistics/42/101")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFileStore(path)

	require.NoError(t, s.Save("daily_statistics/42/101", "2024-06-05T23:59:59Z"))

	cursor, err := s.Load("daily_statistics/42/101")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-05T23:59:59Z", cursor)
}

func TestResourcesAreIndependent(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, s.Save("daily_statistics/42/101", "2024-06-01T00:00:00Z"))
	require.NoError(t, s.Save("daily_statistics/42/102", "2024-07-01T00:00:00Z"))

	a, err := s.Load("daily_statistics/42/101")
	require.NoError(t, err)
	b, err := s.Load("daily_statistics/42/102")
	require.NoError(t, err)

	assert.Equal(t, "2024-06-01T00:00:00Z", a)
	assert.Equal(t, "2024-07-01T00:00:00Z", b)
}

func TestSaveOverwritesPriorCursor(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, s.Save("r", "2024-01-01T00:00:00Z"))
	require.NoError(t, s.Save("r", "2024-02-01T00:00:00Z"))

	cursor, err := s.Load("r")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01T00:00:00Z", cursor)
}

func TestClearRemovesCursor(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, s.Save("r", "2024-01-01T00:00:00Z"))
	require.NoError(t, s.Clear("r"))

	cursor, err := s.Load("r")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestCorruptStateFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewFileStore(path)
	_, err := s.Load("r")
	assert.Error(t, err)
}

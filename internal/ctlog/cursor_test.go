package ctlog

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestCursorStoreEmptyPathIsNoop(t *testing.T) {
	s := NewCursorStore("", testLogEntry())
	_, ok := s.Get("log-a")
	require.False(t, ok)

	s.Advance("log-a", 5)
	require.NoError(t, s.Flush())
}

func TestCursorStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	s := NewCursorStore(path, testLogEntry())
	_, ok := s.Get("log-a")
	require.False(t, ok)
}

func TestCursorStoreCorruptFileStartsEmptyInsteadOfErroring(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s := NewCursorStore(path, testLogEntry())
	_, ok := s.Get("log-a")
	require.False(t, ok)
}

func TestCursorStoreAdvanceAndFlushRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	s := NewCursorStore(path, testLogEntry())

	s.Advance("log-a", 10)
	s.Advance("log-b", 20)
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]uint64
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, uint64(10), got["log-a"])
	require.Equal(t, uint64(20), got["log-b"])

	reloaded := NewCursorStore(path, testLogEntry())
	v, ok := reloaded.Get("log-a")
	require.True(t, ok)
	require.Equal(t, uint64(10), v)
}

func TestCursorStoreAdvanceNeverGoesBackwards(t *testing.T) {
	s := NewCursorStore("", testLogEntry())
	s.Advance("log-a", 10)
	s.Advance("log-a", 5)

	v, ok := s.Get("log-a")
	require.True(t, ok)
	require.Equal(t, uint64(10), v, "advancing to a lower index must be ignored")
}

func TestCursorStoreMaybeCheckpointRespectsIntervalAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	s := NewCursorStore(path, testLogEntry())

	require.NoError(t, s.MaybeCheckpoint(time.Hour, 1000))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "checkpoint should not fire when neither threshold is met")

	s.Advance("log-a", 1)
	require.NoError(t, s.MaybeCheckpoint(time.Hour, 1))
	_, err = os.Stat(path)
	require.NoError(t, err, "checkpoint should fire once the entry-count threshold is met")
}

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []Entry {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestLogWritesWriteActionsByDefault(t *testing.T) {
	path := t.TempDir() + "/audit.log"
	logger, err := New(path, true)
	require.NoError(t, err)
	defer logger.Close()

	logger.Log("alice", "set", "db/password", true, nil, nil)

	entries := readLines(t, path)
	require.Len(t, entries, 1)
	require.Equal(t, "set", entries[0].Action)
	require.Equal(t, "db/password", entries[0].Path)
	require.True(t, entries[0].Success)
	require.NotEmpty(t, entries[0].ID)
}

func TestLogSkipsReadActionsUnlessEnabled(t *testing.T) {
	path := t.TempDir() + "/audit.log"
	logger, err := New(path, true)
	require.NoError(t, err)
	defer logger.Close()

	logger.Log("alice", "get", "db/password", true, nil, nil)

	entries := readLines(t, path)
	require.Empty(t, entries)
}

func TestLogRecordsReadActionsWhenLogReadsEnabled(t *testing.T) {
	path := t.TempDir() + "/audit.log"
	logger, err := New(path, true, WithLogReads(true))
	require.NoError(t, err)
	defer logger.Close()

	logger.Log("alice", "get", "db/password", true, nil, nil)

	entries := readLines(t, path)
	require.Len(t, entries, 1)
	require.Equal(t, "get", entries[0].Action)
}

func TestLogIsNoOpWhenDisabled(t *testing.T) {
	path := t.TempDir() + "/audit.log"
	logger, err := New(path, false)
	require.NoError(t, err)
	defer logger.Close()

	logger.Log("alice", "set", "db/password", true, nil, nil)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestLogRecordsFailureMessage(t *testing.T) {
	path := t.TempDir() + "/audit.log"
	logger, err := New(path, true)
	require.NoError(t, err)
	defer logger.Close()

	logger.Log("alice", "delete", "missing/path", false, errSentinel, nil)

	entries := readLines(t, path)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Success)
	require.Equal(t, errSentinel.Error(), entries[0].Error)
}

var errSentinel = &sentinelErr{"boom"}

type sentinelErr struct{ msg string }

func (e *sentinelErr) Error() string { return e.msg }

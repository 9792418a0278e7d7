package audit_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/cartograph/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_NewFile(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), "failures.csv")

	sink, err := audit.NewCSVSink(path)
	require.NoError(t, err)
	assert.Equal(t, path, sink.Path())

	require.NoError(t, sink.Append("1 Elm St, Apt 3", "1 Elm St, USA", "no_result"))
	require.NoError(t, sink.Append(`12 "Quoted", Rd`, "12 Quoted Rd, USA", "error: terminal (status 403)"))
	require.NoError(t, sink.Close())

	rows := readRows(t, path)
	assert.Equal(t, [][]string{
		{"address", "query", "reason"},
		{"1 Elm St, Apt 3", "1 Elm St, USA", "no_result"},
		{`12 "Quoted", Rd`, "12 Quoted Rd, USA", "error: terminal (status 403)"},
	}, rows)
}

func TestCSVSink_AppendsToExistingFile(t *testing.T) {
	defer filet.CleanUp(t)
	dir := filet.TmpDir(t, "")
	path := filepath.Join(dir, "failures.csv")
	filet.File(t, path, "address,query,reason\nold,\"old, USA\",no_result\n")

	sink, err := audit.NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append("new", "new, USA", "no_result"))
	require.NoError(t, sink.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"address", "query", "reason"}, rows[0])
	assert.Equal(t, []string{"new", "new, USA", "no_result"}, rows[2])
}

func TestCSVSink_EmptyExistingFileGetsHeader(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), "failures.csv")
	filet.File(t, path, "")

	sink, err := audit.NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.Equal(t, [][]string{{"address", "query", "reason"}}, readRows(t, path))
}

func TestCSVSink_Errors(t *testing.T) {
	defer filet.CleanUp(t)
	dir := filet.TmpDir(t, "")

	t.Run("unwritable path", func(t *testing.T) {
		_, err := audit.NewCSVSink(filepath.Join(dir, "missing", "failures.csv"))
		require.Error(t, err)
		assert.ErrorContains(t, err, "failed to open audit file")
	})

	t.Run("append after close", func(t *testing.T) {
		sink, err := audit.NewCSVSink(filepath.Join(dir, "closed.csv"))
		require.NoError(t, err)
		require.NoError(t, sink.Close())
		require.NoError(t, sink.Close())

		err = sink.Append("a", "b", "c")
		require.ErrorIs(t, err, audit.ErrClosed)
	})
}

func TestCSVSink_ConcurrentAppends(t *testing.T) {
	defer filet.CleanUp(t)
	path := filepath.Join(filet.TmpDir(t, ""), "failures.csv")

	sink, err := audit.NewCSVSink(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sink.Append("addr, with comma", "q", "no_result"))
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	rows := readRows(t, path)
	assert.Len(t, rows, 21)
}

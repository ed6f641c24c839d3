package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(ids ...string) []europepmc.ProjectedRecord {
	var out []europepmc.ProjectedRecord
	for _, id := range ids {
		out = append(out, europepmc.ProjectedRecord{
			{Key: "pmid", Value: json.RawMessage(`"` + id + `"`)},
			{Key: "citedByCount", Value: json.RawMessage(`0`)},
		})
	}
	return out
}

func newWriter(t *testing.T, depth int) *ShardedWriter {
	t.Helper()
	w, err := NewShardedWriter(t.TempDir(), Options{PadWidth: 7, ShardDepth: depth, Indent: 4}, logger.NewNopLogger())
	require.NoError(t, err)
	return w
}

func TestShardPath(t *testing.T) {
	tests := []struct {
		sequence int
		depth    int
		want     string
	}{
		{42, 4, filepath.Join("2", "4", "0", "0")},
		{1, 4, filepath.Join("1", "0", "0", "0")},
		{1234567, 4, filepath.Join("7", "6", "5", "4")},
		{42, 2, filepath.Join("2", "4")},
		{42, 0, ""},
		{42, 10, filepath.Join("2", "4", "0", "0", "0", "0", "0")},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ShardPath(tt.sequence, 7, tt.depth), "sequence %d depth %d", tt.sequence, tt.depth)
	}

	assert.Equal(t, "results.0000042.json", FileName(42, 7))
}

// Consecutive sequences spread evenly across the leaf directories
func TestShardUniformity(t *testing.T) {
	counts := make(map[string]int)
	for seq := 1; seq <= 10000; seq++ {
		counts[ShardPath(seq, 7, 4)]++
	}

	assert.Len(t, counts, 10000, "depth 4 gives one document per shard for the first 10^4 pages")
	for shard, n := range counts {
		assert.Equal(t, 1, n, shard)
	}

	firstDigit := make(map[string]int)
	for seq := 1; seq <= 10000; seq++ {
		firstDigit[strings.Split(ShardPath(seq, 7, 4), string(filepath.Separator))[0]]++
	}
	assert.Len(t, firstDigit, 10)
	for digit, n := range firstDigit {
		assert.Equal(t, 1000, n, "top-level directory %s", digit)
	}
}

func TestWrite(t *testing.T) {
	w := newWriter(t, 4)

	path, err := w.Write(42, "AoJwkN", records("1", "2"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.BaseDir(), "2", "4", "0", "0", "results.0000042.json"), path)
	assert.True(t, w.Exists(42))
	assert.Equal(t, 1, w.Written())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := `{
    "cursor": "AoJwkN",
    "results": [
        {
            "pmid": "1",
            "citedByCount": 0
        },
        {
            "pmid": "2",
            "citedByCount": 0
        }
    ]
}`
	assert.Equal(t, expected, string(content))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")
}

func TestWriteFirstPageHasNullCursor(t *testing.T) {
	w := newWriter(t, 4)

	_, err := w.Write(1, "", records("1"))
	require.NoError(t, err)

	doc, err := ReadDocument(w.PathFor(1))
	require.NoError(t, err)
	assert.Nil(t, doc.Cursor)
	require.Len(t, doc.Results, 1)

	raw, err := os.ReadFile(w.PathFor(1))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cursor": null`)
}

func TestWriteOverwrites(t *testing.T) {
	w := newWriter(t, 4)

	_, err := w.Write(7, "C1", records("1", "2", "3"))
	require.NoError(t, err)
	_, err = w.Write(7, "C1", records("1"))
	require.NoError(t, err)

	doc, err := ReadDocument(w.PathFor(7))
	require.NoError(t, err)
	assert.Len(t, doc.Results, 1)
	assert.Equal(t, 2, w.Written())
}

func TestWriteIdempotent(t *testing.T) {
	w := newWriter(t, 4)

	first, err := w.Write(3, "C3", records("a", "b"))
	require.NoError(t, err)
	before, err := os.ReadFile(first)
	require.NoError(t, err)

	second, err := w.Write(3, "C3", records("a", "b"))
	require.NoError(t, err)
	after, err := os.ReadFile(second)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
}

func TestWriteEmptyResults(t *testing.T) {
	w := newWriter(t, 2)

	_, err := w.Write(5, "C", nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(w.PathFor(5))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"results": []`)
}

func TestNewShardedWriterValidation(t *testing.T) {
	_, err := NewShardedWriter(t.TempDir(), Options{PadWidth: 3, ShardDepth: 4}, logger.NewNopLogger())
	assert.Error(t, err)

	_, err = NewShardedWriter(t.TempDir(), Options{ShardDepth: -1}, logger.NewNopLogger())
	assert.Error(t, err)

	_, err = NewShardedWriter(t.TempDir(), Options{}, logger.NewNopLogger())
	assert.NoError(t, err)
}

func TestWriteRejectsInvalidSequence(t *testing.T) {
	w := newWriter(t, 4)
	_, err := w.Write(0, "C", records("1"))
	assert.Error(t, err)
}

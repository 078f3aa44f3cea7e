package inventory

import (
	"context"
	"testing"

	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()

	for path, contents := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(contents), 0644))
	}
}

func TestScan(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/storage/Movies/a.txt":        "aaaa",
		"/storage/TV/b.txt":            "bb",
		"/storage/root.bin":            "r",
		"/storage/.hidden":             "h",
		"/storage/TV/.partial":         "p",
		"/storage/TV/Season1/deep.txt": "nested files are not part of the inventory",
	})

	inv, err := NewScanner(fs, "/storage").Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Inventory{
		"a.txt":    {Filename: "a.txt", Tag: "Movies", Size: 4},
		"b.txt":    {Filename: "b.txt", Tag: "TV", Size: 2},
		"root.bin": {Filename: "root.bin", Tag: transfer.UntaggedTag, Size: 1},
	}, inv)
	assert.Equal(t, []string{"a.txt", "b.txt", "root.bin"}, inv.Filenames())
	assert.EqualValues(t, 7, inv.TotalSize())
}

func TestScan_EmptyRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/storage", 0755))

	inv, err := NewScanner(fs, "/storage").Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inv)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := NewScanner(afero.NewMemMapFs(), "/nope").Scan(context.Background())

	var ioErr *transfer.LocalIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "scan", ioErr.Op)
}

func TestScan_DuplicateNameLaterWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/storage/Anime/dup.mkv":  "1",
		"/storage/Movies/dup.mkv": "22",
	})

	inv, err := NewScanner(fs, "/storage").Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, inv, 1)
	assert.Equal(t, "Movies", inv["dup.mkv"].Tag)
	assert.EqualValues(t, 2, inv["dup.mkv"].Size)
}

func TestScan_SkipsSentinelDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/storage/Untagged/x.txt": "x",
	})

	inv, err := NewScanner(fs, "/storage").Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inv)
}

func TestScan_CancelledContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/storage/a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(fs, "/storage").Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTagDir(t *testing.T) {
	assert.Equal(t, "/storage", TagDir("/storage", transfer.UntaggedTag))
	assert.Equal(t, "/storage", TagDir("/storage", ""))
	assert.Equal(t, "/storage/TV", TagDir("/storage", "TV"))
	assert.Equal(t, "/storage/TV/b.txt", FilePath("/storage", "TV", "b.txt"))
	assert.Equal(t, "/storage/c.txt", FilePath("/storage", transfer.UntaggedTag, "c.txt"))
}

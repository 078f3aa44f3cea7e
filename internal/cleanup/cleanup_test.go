package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/italolelis/puttr/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, fs afero.Fs, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, afero.WriteFile(fs, path, []byte("partial"), 0644))

	old := time.Now().Add(-age)
	require.NoError(t, fs.Chtimes(path, old, old))
}

func TestDeleteStalePartials(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tmp/puttr/nested", 0755))

	writeAged(t, fs, "/tmp/puttr/stale.bin", 100*time.Hour)
	writeAged(t, fs, "/tmp/puttr/fresh.bin", time.Hour)
	writeAged(t, fs, "/tmp/puttr/active.bin", 100*time.Hour)

	active := []storage.DownloadRecord{{Filename: "active.bin", Status: storage.StatusDownloading}}

	removed, err := DeleteStalePartials(context.Background(), fs, "/tmp/puttr", 72*time.Hour, active)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for path, want := range map[string]bool{
		"/tmp/puttr/stale.bin":  false,
		"/tmp/puttr/fresh.bin":  true,
		"/tmp/puttr/active.bin": true,
		"/tmp/puttr/nested":     true,
	} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.Equal(t, want, exists, path)
	}
}

func TestDeleteStalePartials_MissingDir(t *testing.T) {
	removed, err := DeleteStalePartials(context.Background(), afero.NewMemMapFs(), "/nope", time.Hour, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDeleteStalePartials_Disabled(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tmp", 0755))
	writeAged(t, fs, "/tmp/old.bin", 1000*time.Hour)

	removed, err := DeleteStalePartials(context.Background(), fs, "/tmp", 0, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)

	exists, err := afero.Exists(fs, "/tmp/old.bin")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeleteStalePartials_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tmp", 0755))
	writeAged(t, fs, "/tmp/old.bin", 1000*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DeleteStalePartials(ctx, fs, "/tmp", time.Hour, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

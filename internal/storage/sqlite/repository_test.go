package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestClaimDownload(t *testing.T) {
	ctx := context.Background()
	repo := NewDownloadRepository(openTestDB(t))

	rec := storage.DownloadRecord{Filename: "c.txt", RemoteID: "42", Tag: "Movies"}

	require.NoError(t, repo.ClaimDownload(ctx, rec, "instance-a"))
	assert.ErrorIs(t, repo.ClaimDownload(ctx, rec, "instance-b"), storage.ErrClaimed)

	active, err := repo.GetActiveDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "instance-a", active[0].LockedBy)
	assert.Equal(t, storage.StatusDownloading, active[0].Status)

	rec.Status = storage.StatusFailed
	rec.Attempts = 30
	rec.Bytes = 1024
	rec.LastError = "transient network error"
	require.NoError(t, repo.FinishDownload(ctx, rec))

	active, err = repo.GetActiveDownloads(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repo.ClaimDownload(ctx, rec, "instance-b"), "a failed session can be reclaimed")

	rec.Status = storage.StatusDownloaded
	rec.LastError = ""
	require.NoError(t, repo.FinishDownload(ctx, rec))

	require.NoError(t, repo.ClaimDownload(ctx, rec, "instance-c"), "a downloaded file offered again can be fetched again")
}

func TestGetDownloads(t *testing.T) {
	ctx := context.Background()
	repo := NewDownloadRepository(openTestDB(t))

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++

		return base.Add(time.Duration(tick) * time.Second)
	}

	require.NoError(t, repo.ClaimDownload(ctx, storage.DownloadRecord{Filename: "a", RemoteID: "1"}, "i"))
	require.NoError(t, repo.ClaimDownload(ctx, storage.DownloadRecord{Filename: "b", RemoteID: "2"}, "i"))
	require.NoError(t, repo.FinishDownload(ctx, storage.DownloadRecord{
		Filename: "a", Status: storage.StatusDownloaded, Attempts: 1, Bytes: 10,
	}))

	records, err := repo.GetDownloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "a", records[0].Filename)
	assert.Equal(t, storage.StatusDownloaded, records[0].Status)
	assert.EqualValues(t, 10, records[0].Bytes)
	assert.Empty(t, records[0].LockedBy)
	assert.Equal(t, base.Add(3*time.Second), records[0].UpdatedAt)
	assert.Equal(t, "b", records[1].Filename)

	records, err = repo.GetDownloads(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestResetStaleClaims(t *testing.T) {
	ctx := context.Background()
	repo := NewDownloadRepository(openTestDB(t))

	require.NoError(t, repo.ClaimDownload(ctx, storage.DownloadRecord{Filename: "a", RemoteID: "1"}, "dead-instance"))

	n, err := repo.ResetStaleClaims(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	records, err := repo.GetDownloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusFailed, records[0].Status)
	assert.Equal(t, "interrupted", records[0].LastError)
}

func TestCycleRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCycleRepository(openTestDB(t))

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordCycle(ctx, storage.CycleRecord{
		ID: "first", StartedAt: start, FinishedAt: start.Add(time.Minute),
		Moves: 1, Deletes: 2, Downloads: 3, Published: true, PublishedFiles: 7,
	}))
	require.NoError(t, repo.RecordCycle(ctx, storage.CycleRecord{
		ID: "second", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour),
		Error: "remote service unavailable during ping (HTTP 503)",
	}))

	cycles, err := repo.GetCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 2)

	assert.Equal(t, "second", cycles[0].ID)
	assert.False(t, cycles[0].Published)
	assert.NotEmpty(t, cycles[0].Error)

	assert.Equal(t, "first", cycles[1].ID)
	assert.True(t, cycles[1].Published)
	assert.Equal(t, 7, cycles[1].PublishedFiles)
	assert.Equal(t, start, cycles[1].StartedAt)
}

func TestInstrumentedRepositories(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: false})
	require.NoError(t, err)

	downloads := NewInstrumentedDownloadRepository(db, tel)
	cycles := NewInstrumentedCycleRepository(db, tel)

	rec := storage.DownloadRecord{Filename: "c.txt", RemoteID: "42"}
	require.NoError(t, downloads.ClaimDownload(ctx, rec, "a"))
	assert.ErrorIs(t, downloads.ClaimDownload(ctx, rec, "b"), storage.ErrClaimed)

	active, err := downloads.GetActiveDownloads(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	n, err := downloads.ResetStaleClaims(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rec.Status = storage.StatusDownloaded
	require.NoError(t, downloads.FinishDownload(ctx, rec))

	all, err := downloads.GetDownloads(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, cycles.RecordCycle(ctx, storage.CycleRecord{ID: "x", StartedAt: time.Now(), FinishedAt: time.Now()}))

	got, err := cycles.GetCycles(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

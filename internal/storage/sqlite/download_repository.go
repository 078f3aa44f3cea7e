package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/puttr/internal/storage"
)

type DownloadRepository struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ storage.DownloadReadRepository  = (*DownloadRepository)(nil)
	_ storage.DownloadWriteRepository = (*DownloadRepository)(nil)
)

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn, now: time.Now}
}

// ClaimDownload atomically sets status to 'downloading' and locked_by to
// instanceID unless a live session already holds the filename.
func (r *DownloadRepository) ClaimDownload(ctx context.Context, rec storage.DownloadRecord, instanceID string) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (filename, remote_id, tag, status, attempts, bytes, locked_by, last_error, updated_at)
		VALUES (?, ?, ?, 'downloading', 0, 0, ?, NULL, ?)
		ON CONFLICT(filename) DO UPDATE SET
			remote_id = excluded.remote_id,
			tag = excluded.tag,
			status = 'downloading',
			locked_by = excluded.locked_by,
			last_error = NULL,
			updated_at = excluded.updated_at
		WHERE downloads.status != 'downloading' OR downloads.locked_by IS NULL OR downloads.locked_by = ''
	`, rec.Filename, rec.RemoteID, rec.Tag, instanceID, formatTime(r.now()))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrClaimed
	}

	return nil
}

// FinishDownload records the terminal state of a session and releases the claim.
func (r *DownloadRepository) FinishDownload(ctx context.Context, rec storage.DownloadRecord) error {
	var lastError sql.NullString
	if rec.LastError != "" {
		lastError = sql.NullString{String: rec.LastError, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE downloads
		SET status = ?, attempts = ?, bytes = ?, last_error = ?, locked_by = NULL, updated_at = ?
		WHERE filename = ?
	`, string(rec.Status), rec.Attempts, rec.Bytes, lastError, formatTime(r.now()), rec.Filename)

	return err
}

// ResetStaleClaims marks sessions a previous process left in 'downloading' as failed.
func (r *DownloadRepository) ResetStaleClaims(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE downloads
		SET status = 'failed', locked_by = NULL, last_error = 'interrupted', updated_at = ?
		WHERE status = 'downloading'
	`, formatTime(r.now()))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

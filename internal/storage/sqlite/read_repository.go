package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/puttr/internal/storage"
)

const downloadColumns = `filename, remote_id, tag, status, attempts, bytes, locked_by, last_error, updated_at`

// GetDownloads returns the most recently updated journal entries first.
func (r *DownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads ORDER BY updated_at DESC, filename LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDownloads(rows)
}

// GetActiveDownloads returns the sessions currently holding a claim.
func (r *DownloadRepository) GetActiveDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads
		WHERE status = 'downloading'
		AND locked_by IS NOT NULL AND locked_by != ''
		ORDER BY filename`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDownloads(rows)
}

func scanDownloads(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	var downloads []storage.DownloadRecord

	for rows.Next() {
		var (
			record    storage.DownloadRecord
			status    string
			updatedAt string
			lockedBy  sql.NullString
			lastError sql.NullString
		)

		err := rows.Scan(
			&record.Filename,
			&record.RemoteID,
			&record.Tag,
			&status,
			&record.Attempts,
			&record.Bytes,
			&lockedBy,
			&lastError,
			&updatedAt,
		)
		if err != nil {
			return nil, err
		}

		record.Status = storage.DownloadStatus(status)
		record.LockedBy = lockedBy.String
		record.LastError = lastError.String
		record.UpdatedAt = parseTime(updatedAt)

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

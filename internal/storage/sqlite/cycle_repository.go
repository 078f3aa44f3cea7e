package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/puttr/internal/storage"
)

type CycleRepository struct {
	db *sql.DB
}

var _ storage.CycleRepository = (*CycleRepository)(nil)

func NewCycleRepository(dbConn *sql.DB) *CycleRepository {
	return &CycleRepository{db: dbConn}
}

func (r *CycleRepository) RecordCycle(ctx context.Context, rec storage.CycleRecord) error {
	var cycleErr sql.NullString
	if rec.Error != "" {
		cycleErr = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, finished_at, moves, deletes, downloads, failed, published, published_files, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		formatTime(rec.StartedAt),
		formatTime(rec.FinishedAt),
		rec.Moves,
		rec.Deletes,
		rec.Downloads,
		rec.Failed,
		rec.Published,
		rec.PublishedFiles,
		cycleErr,
	)

	return err
}

// GetCycles returns the latest cycles first.
func (r *CycleRepository) GetCycles(ctx context.Context, limit int) ([]storage.CycleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, moves, deletes, downloads, failed, published, published_files, error
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []storage.CycleRecord

	for rows.Next() {
		var (
			rec        storage.CycleRecord
			startedAt  string
			finishedAt string
			cycleErr   sql.NullString
		)

		err := rows.Scan(
			&rec.ID,
			&startedAt,
			&finishedAt,
			&rec.Moves,
			&rec.Deletes,
			&rec.Downloads,
			&rec.Failed,
			&rec.Published,
			&rec.PublishedFiles,
			&cycleErr,
		)
		if err != nil {
			return nil, err
		}

		rec.StartedAt = parseTime(startedAt)
		rec.FinishedAt = parseTime(finishedAt)
		rec.Error = cycleErr.String

		cycles = append(cycles, rec)
	}

	return cycles, rows.Err()
}

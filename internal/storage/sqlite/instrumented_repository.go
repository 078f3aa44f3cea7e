package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

var (
	_ storage.DownloadReadRepository  = (*InstrumentedDownloadRepository)(nil)
	_ storage.DownloadWriteRepository = (*InstrumentedDownloadRepository)(nil)
)

func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// GetDownloads retrieves journal entries with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetDownloads(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetActiveDownloads retrieves claimed sessions with telemetry.
func (r *InstrumentedDownloadRepository) GetActiveDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_active_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetActiveDownloads(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ClaimDownload claims a download with telemetry. Losing the claim race is
// not counted as a database error.
func (r *InstrumentedDownloadRepository) ClaimDownload(ctx context.Context, rec storage.DownloadRecord, instanceID string) error {
	var claimErr error

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_download", func(ctx context.Context) error {
		claimErr = r.repo.ClaimDownload(ctx, rec, instanceID)
		if errors.Is(claimErr, storage.ErrClaimed) {
			return nil
		}

		return claimErr
	})
	if err != nil {
		return err
	}

	return claimErr
}

// FinishDownload stores the session result with telemetry.
func (r *InstrumentedDownloadRepository) FinishDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_download", func(ctx context.Context) error {
		return r.repo.FinishDownload(ctx, rec)
	})
}

// ResetStaleClaims resets interrupted sessions with telemetry.
func (r *InstrumentedDownloadRepository) ResetStaleClaims(ctx context.Context) (int64, error) {
	var n int64

	err := r.telemetry.InstrumentDBOperation(ctx, "reset_stale_claims", func(ctx context.Context) error {
		var err error

		n, err = r.repo.ResetStaleClaims(ctx)

		return err
	})

	return n, err
}

// InstrumentedCycleRepository wraps CycleRepository with telemetry.
type InstrumentedCycleRepository struct {
	repo      *CycleRepository
	telemetry *telemetry.Telemetry
}

var _ storage.CycleRepository = (*InstrumentedCycleRepository)(nil)

func NewInstrumentedCycleRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedCycleRepository {
	return &InstrumentedCycleRepository{
		repo:      NewCycleRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedCycleRepository) RecordCycle(ctx context.Context, rec storage.CycleRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_cycle", func(ctx context.Context) error {
		return r.repo.RecordCycle(ctx, rec)
	})
}

func (r *InstrumentedCycleRepository) GetCycles(ctx context.Context, limit int) ([]storage.CycleRecord, error) {
	var result []storage.CycleRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_cycles", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetCycles(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

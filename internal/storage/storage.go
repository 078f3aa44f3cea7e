package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClaimed is returned when another session already owns a download.
var ErrClaimed = errors.New("download already claimed")

type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusDownloaded  DownloadStatus = "downloaded"
	StatusFailed      DownloadStatus = "failed"
)

// DownloadRecord is the journal entry of one download session, keyed by the
// destination filename.
type DownloadRecord struct {
	Filename  string         `json:"filename"`
	RemoteID  string         `json:"remote_id"`
	Tag       string         `json:"tag"`
	Status    DownloadStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Bytes     int64          `json:"bytes"`
	LockedBy  string         `json:"locked_by,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CycleRecord is the persisted summary of one sync cycle.
type CycleRecord struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Moves          int       `json:"moves"`
	Deletes        int       `json:"deletes"`
	Downloads      int       `json:"downloads"`
	Failed         int       `json:"failed"`
	Published      bool      `json:"published"`
	PublishedFiles int       `json:"published_files"`
	Error          string    `json:"error,omitempty"`
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context, limit int) ([]DownloadRecord, error)
	GetActiveDownloads(ctx context.Context) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	// ClaimDownload marks rec as downloading by instanceID. It returns
	// ErrClaimed when a live session already holds the filename.
	ClaimDownload(ctx context.Context, rec DownloadRecord, instanceID string) error
	// FinishDownload stores the terminal status of a session and releases its claim.
	FinishDownload(ctx context.Context, rec DownloadRecord) error
	// ResetStaleClaims fails every claim left behind by a previous process.
	ResetStaleClaims(ctx context.Context) (int64, error)
}

type CycleRepository interface {
	RecordCycle(ctx context.Context, rec CycleRecord) error
	GetCycles(ctx context.Context, limit int) ([]CycleRecord, error)
}

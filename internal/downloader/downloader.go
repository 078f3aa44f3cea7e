// Package downloader fetches files offered by the remote service into the
// storage root. Transfers resume from partial temp files, retry transient
// failures a bounded number of times and are verified with CRC32 before being
// committed.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/puttr/internal/fsutil"
	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/telemetry"
	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidFilename is returned for names that would escape the temp or
// storage directories.
var ErrInvalidFilename = errors.New("invalid filename")

// Remote is the part of the remote service a download needs.
type Remote interface {
	DownloadURL(ctx context.Context, remoteID string) (string, error)
	ConfirmDownload(ctx context.Context, remoteID string) error
}

type Config struct {
	TempRoot     string
	StorageRoot  string
	ChunkSize    int64
	MaxAttempts  int
	RetryBackoff time.Duration
	StallTimeout time.Duration
	MaxParallel  int
}

type Option func(*Downloader)

// WithJournal records every session in j and refuses to start a session for
// a filename another live session holds.
func WithJournal(j storage.DownloadWriteRepository) Option {
	return func(d *Downloader) { d.journal = j }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.telemetry = t }
}

func WithInstanceID(id string) Option {
	return func(d *Downloader) { d.instanceID = id }
}

type Downloader struct {
	fs         afero.Fs
	remote     Remote
	httpClient *http.Client
	cfg        Config
	journal    storage.DownloadWriteRepository
	telemetry  *telemetry.Telemetry
	instanceID string
}

func New(fs afero.Fs, remote Remote, httpClient *http.Client, cfg Config, opts ...Option) *Downloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if cfg.ChunkSize < 0 {
		cfg.ChunkSize = 0
	}

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}

	d := &Downloader{
		fs:         fs,
		remote:     remote,
		httpClient: httpClient,
		cfg:        cfg,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.instanceID == "" {
		d.instanceID = GenerateInstanceID()
	}

	return d
}

// DownloadAll runs every download with at most MaxParallel in flight and
// returns one outcome per download, in input order.
func (d *Downloader) DownloadAll(ctx context.Context, downloads []transfer.Download) []transfer.Outcome {
	outcomes := make([]transfer.Outcome, len(downloads))

	var g errgroup.Group

	g.SetLimit(d.cfg.MaxParallel)

	for i, dl := range downloads {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = transfer.Outcome{Action: dl, Err: err}

				return nil
			}

			outcomes[i] = transfer.Outcome{Action: dl, Err: d.Download(ctx, dl)}

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// Download runs one session to COMPLETE or FAILED. A failed transfer keeps
// its temp file so the next session resumes it; a failed integrity check
// discards it.
func (d *Downloader) Download(ctx context.Context, dl transfer.Download) error {
	if err := validateFilename(dl.Filename); err != nil {
		return err
	}

	ctx = logctx.WithAttrs(ctx, "filename", dl.Filename, "remote_id", dl.RemoteID, "tag", dl.Tag)
	logger := logctx.LoggerFromContext(ctx)

	if err := d.claim(ctx, dl); err != nil {
		return err
	}

	s := newSession(dl.Filename, dl.RemoteID, filepath.Join(d.cfg.TempRoot, dl.Filename))

	err := d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		return d.run(ctx, s, dl)
	})
	if err != nil {
		logger.ErrorContext(ctx, "download failed",
			"state", s.State,
			"attempts", s.Attempt,
			"written", humanize.Bytes(uint64(s.BytesWritten)),
			"reason", transfer.Reason(err),
			"err", err,
		)

		s.State = StateFailed
	}

	d.finish(ctx, s, dl, err)

	return err
}

func (d *Downloader) run(ctx context.Context, s *Session, dl transfer.Download) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := d.prepare(ctx, s); err != nil {
		return err
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		s.Attempt++

		err := d.attempt(ctx, s)
		if err != nil && (ctx.Err() != nil || !transfer.IsTransient(err)) {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.cfg.RetryBackoff)),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.WarnContext(ctx, "download attempt failed, retrying",
				"attempt", s.Attempt,
				"max_attempts", d.cfg.MaxAttempts,
				"retry_in", wait,
				"reason", transfer.Reason(err),
				"err", err,
			)

			d.telemetry.RecordRetry("download", transfer.Reason(err))
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}

		return err
	}

	if err := d.verify(ctx, s, dl); err != nil {
		return err
	}

	return d.commit(ctx, s, dl)
}

// prepare is the INIT state: the temp root exists and the temp file exists.
// A temp file left by an earlier session is the resume point.
func (d *Downloader) prepare(ctx context.Context, s *Session) error {
	s.State = StateInit

	if err := fsutil.EnsureDir(d.fs, d.cfg.TempRoot); err != nil {
		return &transfer.LocalIOError{Op: "mkdir", Path: d.cfg.TempRoot, Err: err}
	}

	info, err := d.fs.Stat(s.TempPath)
	if err == nil {
		s.BytesWritten = info.Size()

		logctx.LoggerFromContext(ctx).InfoContext(ctx, "resuming partial download",
			"have", humanize.Bytes(uint64(info.Size())))

		return nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return &transfer.LocalIOError{Op: "stat", Path: s.TempPath, Err: err}
	}

	f, err := d.fs.OpenFile(s.TempPath, os.O_CREATE|os.O_WRONLY, fsutil.FilePerm)
	if err != nil {
		return &transfer.LocalIOError{Op: "create", Path: s.TempPath, Err: err}
	}

	return f.Close()
}

// attempt runs FETCH_URL when no usable URL is held, then STREAMING.
func (d *Downloader) attempt(ctx context.Context, s *Session) error {
	if s.URL == "" {
		s.State = StateFetchURL

		url, err := d.remote.DownloadURL(ctx, s.RemoteID)
		if err != nil {
			return err
		}

		s.URL = url
	}

	s.State = StateStreaming

	return d.stream(ctx, s)
}

func (d *Downloader) verify(ctx context.Context, s *Session, dl transfer.Download) error {
	logger := logctx.LoggerFromContext(ctx)

	s.State = StateVerifying

	sum, err := fsutil.Checksum(d.fs, s.TempPath)
	if err != nil {
		return &transfer.LocalIOError{Op: "checksum", Path: s.TempPath, Err: err}
	}

	// An undeclared checksum matches nothing.
	if strings.TrimSpace(dl.Checksum) == "" || !fsutil.ChecksumsEqual(sum, dl.Checksum) {
		if err := d.fs.Remove(s.TempPath); err != nil {
			logger.WarnContext(ctx, "failed to discard corrupt download", "path", s.TempPath, "err", err)
		}

		return &transfer.IntegrityMismatchError{Filename: dl.Filename, Expected: dl.Checksum, Actual: sum}
	}

	logger.InfoContext(ctx, "integrity check passed", "crc32", sum)

	return nil
}

// commit is the COMPLETE state: confirm to the remote service and relocate the
// verified temp file into storage.
func (d *Downloader) commit(ctx context.Context, s *Session, dl transfer.Download) error {
	logger := logctx.LoggerFromContext(ctx)

	dstDir := inventory.TagDir(d.cfg.StorageRoot, dl.Tag)
	dst := inventory.FilePath(d.cfg.StorageRoot, dl.Tag, dl.Filename)

	occupied, err := fsutil.Exists(d.fs, dst)
	if err != nil {
		return &transfer.LocalIOError{Op: "stat", Path: dst, Err: err}
	}

	if occupied {
		return &transfer.FilesystemConflictError{Path: dst, Reason: "destination already holds a file"}
	}

	if err := d.remote.ConfirmDownload(ctx, dl.RemoteID); err != nil {
		logger.WarnContext(ctx, "failed to confirm download", "reason", transfer.Reason(err), "err", err)
	}

	if err := fsutil.EnsureDir(d.fs, dstDir); err != nil {
		return &transfer.LocalIOError{Op: "mkdir", Path: dstDir, Err: err}
	}

	if err := fsutil.MoveFile(d.fs, s.TempPath, dst); err != nil {
		return &transfer.LocalIOError{Op: "commit", Path: dst, Err: err}
	}

	s.State = StateComplete

	logger.InfoContext(ctx, "download complete",
		"path", dst,
		"size", humanize.Bytes(uint64(s.BytesWritten)),
		"attempts", s.Attempt,
	)

	return nil
}

func (d *Downloader) claim(ctx context.Context, dl transfer.Download) error {
	if d.journal == nil {
		return nil
	}

	err := d.journal.ClaimDownload(ctx, storage.DownloadRecord{
		Filename: dl.Filename,
		RemoteID: dl.RemoteID,
		Tag:      dl.Tag,
	}, d.instanceID)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrClaimed):
		return &transfer.FilesystemConflictError{
			Path:   filepath.Join(d.cfg.TempRoot, dl.Filename),
			Reason: "another session is downloading this file",
			Err:    err,
		}
	default:
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal download claim", "err", err)

		return nil
	}
}

func (d *Downloader) finish(ctx context.Context, s *Session, dl transfer.Download, sessionErr error) {
	if d.journal == nil {
		return
	}

	rec := storage.DownloadRecord{
		Filename: dl.Filename,
		RemoteID: dl.RemoteID,
		Tag:      dl.Tag,
		Status:   storage.StatusDownloaded,
		Attempts: s.Attempt,
		Bytes:    s.BytesWritten,
	}

	if sessionErr != nil {
		rec.Status = storage.StatusFailed
		rec.LastError = sessionErr.Error()
	}

	// The journal must release the claim even when the cycle was cancelled.
	if err := d.journal.FinishDownload(context.WithoutCancel(ctx), rec); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal download result", "err", err)
	}
}

func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}

	return nil
}

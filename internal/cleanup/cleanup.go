// Package cleanup prunes abandoned partial downloads from the temp root.
package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
)

// DeleteStalePartials deletes temp files in dir not modified for longer than
// keepDuration. Files claimed by an active download session are kept. It
// returns how many files were removed. A keepDuration of zero disables it.
func DeleteStalePartials(ctx context.Context, fs afero.Fs, dir string, keepDuration time.Duration, active []storage.DownloadRecord) (int, error) {
	if keepDuration <= 0 {
		return 0, nil
	}

	logger := logctx.LoggerFromContext(ctx)

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, &transfer.LocalIOError{Op: "scan", Path: dir, Err: err}
	}

	inUse := make(map[string]struct{}, len(active))
	for _, rec := range active {
		inUse[rec.Filename] = struct{}{}
	}

	now := time.Now()

	var (
		removed int
		errs    []error
	)

	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if info.IsDir() {
			continue
		}

		if _, ok := inUse[info.Name()]; ok {
			continue
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		filePath := filepath.Join(dir, info.Name())

		if err := fs.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to delete stale partial download", "file", filePath, "err", err)

			errs = append(errs, &transfer.LocalIOError{Op: "remove", Path: filePath, Err: err})

			continue
		}

		removed++

		logger.InfoContext(ctx, "deleted stale partial download",
			"file", filePath,
			"size", humanize.Bytes(uint64(info.Size())),
			"last_modified", humanize.Time(info.ModTime()),
		)
	}

	return removed, errors.Join(errs...)
}

package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/puttr/internal/downloader/progress"
	"github.com/italolelis/puttr/internal/fsutil"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
)

// Progress is reported every 100MB when the size is unknown.
const unknownSizeProgressInterval = int64(100 * 1024 * 1024)

var (
	errInvalidContentRange = errors.New("invalid Content-Range header")
	errSizeChanged         = errors.New("declared file size changed")
)

// stream requests the file from the resume offset and writes the body over
// the temp file from there. The last chunk written is always re-requested
// because it may have been cut short. Bytes already on disk stay until the
// body overwrites them, so an attempt that fails early loses nothing.
func (d *Downloader) stream(ctx context.Context, s *Session) error {
	logger := logctx.LoggerFromContext(ctx)

	f, err := d.fs.OpenFile(s.TempPath, os.O_RDWR|os.O_CREATE, fsutil.FilePerm)
	if err != nil {
		return &transfer.LocalIOError{Op: "open", Path: s.TempPath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &transfer.LocalIOError{Op: "stat", Path: s.TempPath, Err: err}
	}

	size := info.Size()
	s.BytesWritten = size

	have := size
	if s.ExpectedSize != unknownSize {
		have = min(have, s.ExpectedSize)
	}

	offset := max(0, have-d.cfg.ChunkSize)

	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	wd := startWatchdog(d.cfg.StallTimeout, cancel)
	defer wd.stop()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, s.URL, nil)
	if err != nil {
		s.URL = ""

		return &transfer.TransientNetworkError{Operation: "stream", Err: err}
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return streamError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || start < 0 || start > offset {
			return &transfer.TransientNetworkError{
				Operation:  "stream",
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: %q", errInvalidContentRange, resp.Header.Get("Content-Range")),
			}
		}

		if err := latchSize(s, total); err != nil {
			return err
		}

		offset = start
	case http.StatusOK:
		if err := latchSize(s, resp.ContentLength); err != nil {
			return err
		}

		if offset > 0 {
			logger.InfoContext(ctx, "range request ignored, restarting from the beginning",
				"discarded", humanize.Bytes(uint64(size)))

			if err := f.Truncate(0); err != nil {
				return &transfer.LocalIOError{Op: "truncate", Path: s.TempPath, Err: err}
			}

			size = 0
			offset = 0
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return rangeNotSatisfiable(ctx, s, f, size, resp)
	default:
		s.URL = ""

		return &transfer.TransientNetworkError{
			Operation:  "stream",
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	logger.DebugContext(ctx, "streaming",
		"attempt", s.Attempt,
		"offset", offset,
		"expected_size", s.ExpectedSize,
		"status_code", resp.StatusCode,
	)

	var body io.Reader = &stallReader{reader: resp.Body, wd: wd}
	if s.ExpectedSize != unknownSize {
		body = io.LimitReader(body, s.ExpectedSize-offset)
	}

	pr := progress.NewReader(body, offset, s.ExpectedSize, unknownSizeProgressInterval, progressLogger(ctx))

	n, err := io.Copy(&fileWriter{w: io.NewOffsetWriter(f, offset), path: s.TempPath}, pr)
	end := offset + n
	s.BytesWritten = max(size, end)
	d.telemetry.RecordDownloadBytes(n)

	if err != nil {
		var localErr *transfer.LocalIOError
		if errors.As(err, &localErr) {
			return localErr
		}

		return streamError(ctx, attemptCtx, err)
	}

	if s.ExpectedSize == unknownSize {
		s.ExpectedSize = end
	} else if end < s.ExpectedSize {
		return &transfer.TransientNetworkError{
			Operation: "stream",
			Err:       fmt.Errorf("short body, %d of %d bytes: %w", end, s.ExpectedSize, io.ErrUnexpectedEOF),
		}
	}

	// Drop any stale tail left by an earlier, longer temp file.
	if err := f.Truncate(s.ExpectedSize); err != nil {
		return &transfer.LocalIOError{Op: "truncate", Path: s.TempPath, Err: err}
	}

	s.BytesWritten = s.ExpectedSize

	if err := f.Sync(); err != nil {
		return &transfer.LocalIOError{Op: "sync", Path: s.TempPath, Err: err}
	}

	return nil
}

// latchSize records the file size the first time a response declares it.
// A later response declaring a different size fails the attempt.
func latchSize(s *Session, total int64) error {
	switch {
	case total < 0:
		return nil
	case s.ExpectedSize == unknownSize:
		s.ExpectedSize = total

		return nil
	case s.ExpectedSize != total:
		return &transfer.TransientNetworkError{
			Operation: "stream",
			Err:       fmt.Errorf("%w: latched %d, now %d", errSizeChanged, s.ExpectedSize, total),
		}
	default:
		return nil
	}
}

// rangeNotSatisfiable handles a 416 answer. When the temp file already holds
// the whole file the stream is done; otherwise it restarts from zero.
func rangeNotSatisfiable(ctx context.Context, s *Session, f afero.File, size int64, resp *http.Response) error {
	_, total, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err == nil && total >= 0 && size >= total {
		if err := latchSize(s, total); err != nil {
			return err
		}

		if err := f.Truncate(total); err != nil {
			return &transfer.LocalIOError{Op: "truncate", Path: s.TempPath, Err: err}
		}

		s.BytesWritten = total

		logctx.LoggerFromContext(ctx).InfoContext(ctx, "temp file already complete",
			"size", humanize.Bytes(uint64(total)))

		return nil
	}

	if err := f.Truncate(0); err != nil {
		return &transfer.LocalIOError{Op: "truncate", Path: s.TempPath, Err: err}
	}

	s.BytesWritten = 0

	return &transfer.TransientNetworkError{
		Operation:  "stream",
		StatusCode: resp.StatusCode,
		Err:        errors.New(http.StatusText(resp.StatusCode)),
	}
}

// streamError classifies a transport or read error. Cancellation of the
// caller's context is returned as is so it is never retried.
func streamError(ctx, attemptCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(context.Cause(attemptCtx), errStalled) {
		return &transfer.TransientNetworkError{Operation: "stream", Err: errStalled}
	}

	return &transfer.TransientNetworkError{Operation: "stream", Err: err}
}

func progressLogger(ctx context.Context) func(written, total int64) {
	logger := logctx.LoggerFromContext(ctx)

	return func(written, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", written*100/total,
			)

			return
		}

		logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(written)))
	}
}

// parseContentRange parses "bytes first-last/total", "bytes first-last/*" and
// "bytes */total". Unknown parts are returned as -1.
func parseContentRange(h string) (start, total int64, err error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || unit != "bytes" {
		return 0, 0, errInvalidContentRange
	}

	rng, size, ok := strings.Cut(strings.TrimSpace(rest), "/")
	if !ok {
		return 0, 0, errInvalidContentRange
	}

	total = -1

	if size != "*" {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil || total < 0 {
			return 0, 0, errInvalidContentRange
		}
	}

	if rng == "*" {
		return -1, total, nil
	}

	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, errInvalidContentRange
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidContentRange
	}

	return start, total, nil
}

// fileWriter tags write failures as local so they are not retried as
// network errors.
type fileWriter struct {
	w    io.Writer
	path string
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, &transfer.LocalIOError{Op: "write", Path: fw.path, Err: err}
	}

	return n, nil
}

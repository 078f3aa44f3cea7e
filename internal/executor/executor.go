// Package executor applies planned moves and deletes to the storage root.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/puttr/internal/fsutil"
	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
)

type Executor struct {
	fs          afero.Fs
	storageRoot string
}

func New(fs afero.Fs, storageRoot string) *Executor {
	return &Executor{fs: fs, storageRoot: storageRoot}
}

// Move relocates m.Filename from its current tag directory to m.ToTag. A
// destination holding identical content counts as already moved; any other
// occupant is a FilesystemConflictError.
func (e *Executor) Move(ctx context.Context, m transfer.Move) error {
	logger := logctx.LoggerFromContext(ctx).With("filename", m.Filename, "from_tag", m.FromTag, "to_tag", m.ToTag)

	src := inventory.FilePath(e.storageRoot, m.FromTag, m.Filename)
	dstDir := inventory.TagDir(e.storageRoot, m.ToTag)
	dst := inventory.FilePath(e.storageRoot, m.ToTag, m.Filename)

	if src == dst {
		return nil
	}

	occupied, err := fsutil.Exists(e.fs, dst)
	if err != nil {
		return fmt.Errorf("failed to stat destination: %w", err)
	}

	if occupied {
		same, err := fsutil.SameContent(e.fs, src, dst)
		if err != nil || !same {
			return &transfer.FilesystemConflictError{Path: dst, Reason: "destination holds a different file", Err: err}
		}

		if err := e.fs.Remove(src); err != nil {
			return fmt.Errorf("failed to drop already moved source: %w", err)
		}

		logger.InfoContext(ctx, "file already present at destination, dropped source copy")
	} else {
		info, err := e.fs.Stat(src)
		if err != nil {
			return fmt.Errorf("failed to stat source: %w", err)
		}

		if err := fsutil.EnsureDir(e.fs, dstDir); err != nil {
			return err
		}

		if err := fsutil.MoveFile(e.fs, src, dst); err != nil {
			e.cleanupTagDir(ctx, m.ToTag)

			return err
		}

		logger.InfoContext(ctx, "file moved", "size", humanize.Bytes(uint64(info.Size())))
	}

	e.cleanupTagDir(ctx, m.FromTag)

	return nil
}

// Delete removes d.Filename from its tag directory. A file that is already
// gone counts as deleted.
func (e *Executor) Delete(ctx context.Context, d transfer.Delete) error {
	logger := logctx.LoggerFromContext(ctx).With("filename", d.Filename, "tag", d.Tag)

	path := inventory.FilePath(e.storageRoot, d.Tag, d.Filename)

	if err := e.fs.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}

		logger.DebugContext(ctx, "file already absent")
	} else {
		logger.InfoContext(ctx, "file deleted")
	}

	e.cleanupTagDir(ctx, d.Tag)

	return nil
}

// ApplyMoves runs every move and reports one outcome per move.
func (e *Executor) ApplyMoves(ctx context.Context, moves []transfer.Move) []transfer.Outcome {
	outcomes := make([]transfer.Outcome, 0, len(moves))

	for _, m := range moves {
		outcomes = append(outcomes, e.apply(ctx, m, func(ctx context.Context) error { return e.Move(ctx, m) }))
	}

	return outcomes
}

// ApplyDeletes runs every delete and reports one outcome per delete.
func (e *Executor) ApplyDeletes(ctx context.Context, deletes []transfer.Delete) []transfer.Outcome {
	outcomes := make([]transfer.Outcome, 0, len(deletes))

	for _, d := range deletes {
		outcomes = append(outcomes, e.apply(ctx, d, func(ctx context.Context) error { return e.Delete(ctx, d) }))
	}

	return outcomes
}

func (e *Executor) apply(ctx context.Context, a transfer.Action, fn func(context.Context) error) transfer.Outcome {
	if err := ctx.Err(); err != nil {
		return transfer.Outcome{Action: a, Err: err}
	}

	err := fn(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "action failed",
			"kind", a.Kind(),
			"filename", a.File(),
			"reason", transfer.Reason(err),
			"err", err,
		)
	}

	return transfer.Outcome{Action: a, Err: err}
}

// cleanupTagDir removes the tag directory once it is empty. The storage root
// itself is never removed. Failures are logged only.
func (e *Executor) cleanupTagDir(ctx context.Context, tag string) {
	dir := inventory.TagDir(e.storageRoot, tag)
	if dir == e.storageRoot {
		return
	}

	if err := fsutil.RemoveIfEmpty(e.fs, dir); err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "tag directory kept", "dir", dir, "err", err)

		return
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "empty tag directory removed", "dir", dir)
}

// Package fsutil holds the filesystem helpers shared by the executor, the
// downloader and the cleanup job. Every helper works on an afero.Fs so the
// same code runs against the OS and against in-memory filesystems in tests.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
)

const (
	DirPerm  = 0755
	FilePerm = 0644
)

// ErrNotEmpty is returned by RemoveIfEmpty when the directory still has entries.
var ErrNotEmpty = errors.New("directory not empty")

// EnsureDir creates dir and its parents. An existing directory is success.
func EnsureDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

// RemoveIfEmpty removes dir when it has no entries. The returned error is
// always a *transfer.LocalIOError; callers log it and move on.
func RemoveIfEmpty(fs afero.Fs, dir string) error {
	empty, err := afero.IsEmpty(fs, dir)
	if err != nil {
		return &transfer.LocalIOError{Op: "rmdir", Path: dir, Err: err}
	}

	if !empty {
		return &transfer.LocalIOError{Op: "rmdir", Path: dir, Err: ErrNotEmpty}
	}

	if err := fs.Remove(dir); err != nil {
		return &transfer.LocalIOError{Op: "rmdir", Path: dir, Err: err}
	}

	return nil
}

// Exists reports whether path exists. Stat errors other than "not found" are returned.
func Exists(fs afero.Fs, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// MoveFile relocates src to dst. It tries a rename first and falls back to
// copy and remove when the two paths live on different devices.
func MoveFile(fs afero.Fs, src, dst string) error {
	err := fs.Rename(src, dst)
	if err == nil {
		return nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("failed to rename %s to %s: %w", src, dst, err)
	}

	if err := copyFile(fs, src, dst); err != nil {
		_ = fs.Remove(dst)

		return err
	}

	if err := fs.Remove(src); err != nil {
		return fmt.Errorf("failed to remove %s after copy: %w", src, err)
	}

	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, FilePerm)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()

		return fmt.Errorf("failed to sync destination file: %w", err)
	}

	return out.Close()
}

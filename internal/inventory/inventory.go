// Package inventory builds the local view of the storage root: one FileRecord
// per file, keyed by filename, tagged by the directory it lives in.
package inventory

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
)

// FileRecord is the observed local state of one file.
type FileRecord struct {
	Filename string `json:"filename"`
	Tag      string `json:"tag"`
	Size     int64  `json:"size"`
}

// Inventory maps a filename to its record. Filenames are unique across tags.
type Inventory map[string]FileRecord

// Filenames returns the inventory keys in lexical order.
func (inv Inventory) Filenames() []string {
	names := make([]string, 0, len(inv))
	for name := range inv {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// TotalSize returns the sum of every record's size.
func (inv Inventory) TotalSize() int64 {
	var total int64
	for _, r := range inv {
		total += r.Size
	}

	return total
}

// TagDir returns the directory holding files of tag. Untagged files live in root.
func TagDir(root, tag string) string {
	if tag == "" || tag == transfer.UntaggedTag {
		return root
	}

	return filepath.Join(root, tag)
}

// FilePath returns where filename lives under root when tagged with tag.
func FilePath(root, tag, filename string) string {
	return filepath.Join(TagDir(root, tag), filename)
}

// Scanner walks a storage root one level deep.
type Scanner struct {
	fs   afero.Fs
	root string
}

func NewScanner(fs afero.Fs, root string) *Scanner {
	return &Scanner{fs: fs, root: root}
}

func (s *Scanner) Root() string {
	return s.root
}

// Scan returns the current inventory of the storage root. Per-entry failures
// are logged and skipped; only an unreadable root is reported as an error.
func (s *Scanner) Scan(ctx context.Context) (Inventory, error) {
	logger := logctx.LoggerFromContext(ctx).With("storage_root", s.root)

	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, &transfer.LocalIOError{Op: "scan", Path: s.root, Err: err}
	}

	inv := make(Inventory)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		name := entry.Name()
		if isHidden(name) {
			continue
		}

		if !entry.IsDir() {
			if entry.Mode().IsRegular() {
				s.add(ctx, inv, FileRecord{Filename: name, Tag: transfer.UntaggedTag, Size: entry.Size()})
			}

			continue
		}

		if name == transfer.UntaggedTag {
			logger.WarnContext(ctx, "skipping directory named after the untagged sentinel", "dir", name)

			continue
		}

		s.scanTag(ctx, inv, name)
	}

	logger.DebugContext(ctx, "local inventory scanned", "files", len(inv))

	return inv, nil
}

func (s *Scanner) scanTag(ctx context.Context, inv Inventory, tag string) {
	dir := filepath.Join(s.root, tag)

	files, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to read tag directory", "dir", dir, "err", err)

		return
	}

	for _, f := range files {
		if f.IsDir() || isHidden(f.Name()) || !f.Mode().IsRegular() {
			continue
		}

		s.add(ctx, inv, FileRecord{Filename: f.Name(), Tag: tag, Size: f.Size()})
	}
}

func (s *Scanner) add(ctx context.Context, inv Inventory, rec FileRecord) {
	if prev, ok := inv[rec.Filename]; ok {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "duplicate filename across tags, keeping the later one",
			"filename", rec.Filename,
			"dropped_tag", prev.Tag,
			"kept_tag", rec.Tag,
		)
	}

	inv[rec.Filename] = rec
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

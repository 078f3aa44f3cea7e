package fsutil

import (
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Checksum streams path through CRC32 (IEEE) and returns it as upper-case hex.
func Checksum(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	return FormatChecksum(h.Sum32()), nil
}

func FormatChecksum(sum uint32) string {
	return fmt.Sprintf("%08X", sum)
}

// ChecksumsEqual compares two declared checksums. Valid hex values are compared
// numerically, so "ABCD" and "0000abcd" match; anything else falls back to a
// case-insensitive string comparison.
func ChecksumsEqual(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)

	x, errA := strconv.ParseUint(a, 16, 32)
	y, errB := strconv.ParseUint(b, 16, 32)

	if errA == nil && errB == nil {
		return x == y
	}

	return strings.EqualFold(a, b)
}

// SameContent reports whether a and b have the same size and CRC32.
func SameContent(fs afero.Fs, a, b string) (bool, error) {
	sa, err := fs.Stat(a)
	if err != nil {
		return false, err
	}

	sb, err := fs.Stat(b)
	if err != nil {
		return false, err
	}

	if sa.Size() != sb.Size() {
		return false, nil
	}

	ca, err := Checksum(fs, a)
	if err != nil {
		return false, err
	}

	cb, err := Checksum(fs, b)
	if err != nil {
		return false, err
	}

	return ca == cb, nil
}

package progress

import "io"

// Reader wraps an io.Reader and reports progress via a callback. With a known
// total it reports once per whole-percent step; otherwise once every interval
// bytes.
type Reader struct {
	reader      io.Reader
	total       int64
	written     int64
	lastPercent int64
	lastReport  int64
	interval    int64
	onProgress  func(written, total int64)
}

// NewReader returns a Reader that starts counting at start bytes. A negative
// total means the size is unknown.
func NewReader(r io.Reader, start, total, interval int64, cb func(written, total int64)) *Reader {
	pr := &Reader{
		reader:     r,
		total:      total,
		written:    start,
		lastReport: start,
		interval:   interval,
		onProgress: cb,
	}

	if total > 0 {
		pr.lastPercent = start * 100 / total
	}

	return pr
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.written += int64(n)
		pr.report()
	}

	return n, err
}

// Written returns the byte count including the starting offset.
func (pr *Reader) Written() int64 {
	return pr.written
}

func (pr *Reader) report() {
	if pr.onProgress == nil {
		return
	}

	if pr.total > 0 {
		pct := pr.written * 100 / pr.total
		if pct > pr.lastPercent {
			pr.lastPercent = pct
			pr.onProgress(pr.written, pr.total)
		}

		return
	}

	if pr.interval > 0 && pr.written-pr.lastReport >= pr.interval {
		pr.lastReport = pr.written
		pr.onProgress(pr.written, pr.total)
	}
}

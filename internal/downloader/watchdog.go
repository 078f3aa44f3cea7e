package downloader

import (
	"context"
	"errors"
	"io"
	"time"
)

var errStalled = errors.New("stream stalled")

// watchdog cancels an attempt when no bytes arrive for timeout. A zero
// timeout disables it.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

func startWatchdog(timeout time.Duration, cancel context.CancelCauseFunc) *watchdog {
	if timeout <= 0 {
		return nil
	}

	return &watchdog{
		timeout: timeout,
		timer:   time.AfterFunc(timeout, func() { cancel(errStalled) }),
	}
}

func (w *watchdog) kick() {
	if w == nil {
		return
	}

	w.timer.Reset(w.timeout)
}

func (w *watchdog) stop() {
	if w == nil {
		return
	}

	w.timer.Stop()
}

type stallReader struct {
	reader io.Reader
	wd     *watchdog
}

func (r *stallReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.wd.kick()
	}

	return n, err
}

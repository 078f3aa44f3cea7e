// Package syncer drives sync cycles: it reconciles the local storage root
// with the remote service's declared inventories, applies the resulting
// actions and publishes the new local state.
package syncer

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/puttr/internal/cleanup"
	"github.com/italolelis/puttr/internal/fsutil"
	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/notifier"
	"github.com/italolelis/puttr/internal/reconcile"
	"github.com/italolelis/puttr/internal/remote"
	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/telemetry"
	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// maxNotifiedFailures caps how many failed actions are listed in one
// notification.
const maxNotifiedFailures = 10

type Scanner interface {
	Scan(ctx context.Context) (inventory.Inventory, error)
}

type Executor interface {
	ApplyMoves(ctx context.Context, moves []transfer.Move) []transfer.Outcome
	ApplyDeletes(ctx context.Context, deletes []transfer.Delete) []transfer.Outcome
}

type Downloader interface {
	DownloadAll(ctx context.Context, downloads []transfer.Download) []transfer.Outcome
}

type Config struct {
	TempRoot       string
	StorageRoot    string
	KeepPartialFor time.Duration
}

type Option func(*Syncer)

// WithCycleRepository persists every cycle report.
func WithCycleRepository(r storage.CycleRepository) Option {
	return func(s *Syncer) { s.cycles = r }
}

// WithDownloadJournal lets temp pruning skip files held by active sessions.
// Without a journal stale partials are never pruned.
func WithDownloadJournal(r storage.DownloadReadRepository) Option {
	return func(s *Syncer) { s.journal = r }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(s *Syncer) { s.notifier = n }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Syncer) { s.telemetry = t }
}

type Syncer struct {
	fs         afero.Fs
	cfg        Config
	remote     remote.Service
	scanner    Scanner
	executor   Executor
	downloader Downloader

	cycles    storage.CycleRepository
	journal   storage.DownloadReadRepository
	notifier  notifier.Notifier
	telemetry *telemetry.Telemetry

	group singleflight.Group

	mu   sync.RWMutex
	last *CycleReport
}

func New(fs afero.Fs, cfg Config, svc remote.Service, scanner Scanner, exec Executor, dl Downloader, opts ...Option) *Syncer {
	s := &Syncer{
		fs:         fs,
		cfg:        cfg,
		remote:     svc,
		scanner:    scanner,
		executor:   exec,
		downloader: dl,
		notifier:   notifier.Nop{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// LastReport returns the report of the latest finished cycle, or nil.
func (s *Syncer) LastReport() *CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.last
}

// Run syncs immediately and then every interval until ctx is done. A failed
// or panicking cycle never stops the loop.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "sync loop started", "interval", interval.String())

	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "sync loop stopped")

			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "sync cycle panicked", "panic", r, "stack", string(debug.Stack()))

			s.telemetry.RecordSystemError("syncer", "panic")
		}
	}()

	if _, err := s.Sync(ctx); err != nil {
		logger.ErrorContext(ctx, "sync cycle failed", "reason", transfer.Reason(err), "err", err)
	}
}

// Sync runs one cycle. A caller arriving while a cycle is in flight waits for
// it and shares its report instead of starting another.
func (s *Syncer) Sync(ctx context.Context) (*CycleReport, error) {
	v, err, shared := s.group.Do("sync", func() (any, error) {
		return s.cycle(ctx)
	})
	if shared {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "joined in-flight sync cycle")
	}

	report, _ := v.(*CycleReport)

	return report, err
}

func (s *Syncer) cycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{CycleID: uuid.NewString(), StartedAt: time.Now()}

	ctx = logctx.WithCycleID(ctx, report.CycleID)
	logger := logctx.LoggerFromContext(ctx)

	err := s.telemetry.InstrumentSync(ctx, func(ctx context.Context) error {
		return s.run(ctx, report)
	})

	report.FinishedAt = time.Now()

	if err != nil {
		report.Error = err.Error()
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.recordCycle(ctx, report)
	s.notify(ctx, report, err)

	logger.InfoContext(ctx, "sync cycle finished",
		"duration", report.Duration().String(),
		"moves", report.Moves.Succeeded,
		"deletes", report.Deletes.Succeeded,
		"downloads", report.Downloads.Succeeded,
		"failed", report.Failed(),
		"published", report.Published,
	)

	return report, err
}

func (s *Syncer) run(ctx context.Context, report *CycleReport) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "sync cycle started")

	for _, dir := range []string{s.cfg.TempRoot, s.cfg.StorageRoot} {
		if err := fsutil.EnsureDir(s.fs, dir); err != nil {
			return &transfer.LocalIOError{Op: "mkdir", Path: dir, Err: err}
		}
	}

	if err := s.remote.Ping(ctx); err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}

	local, err := s.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan storage: %w", err)
	}

	inventories, err := s.remote.FetchInventories(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch inventories: %w", err)
	}

	plan := reconcile.Plan(local, inventories.Local, inventories.Cloud)

	report.Moves.Planned = len(plan.Moves)
	report.Deletes.Planned = len(plan.Deletes)
	report.Downloads.Planned = len(plan.Downloads)

	logger.InfoContext(ctx, "sync plan ready",
		"local_files", len(local),
		"cloud_files", len(inventories.Cloud),
		"moves", len(plan.Moves),
		"deletes", len(plan.Deletes),
		"downloads", len(plan.Downloads),
	)

	for _, a := range plan.Actions() {
		logger.DebugContext(ctx, "planned action", "kind", a.Kind(), "filename", a.File())
	}

	moves := s.executor.ApplyMoves(ctx, plan.Moves)
	report.Moves.tally(moves)

	deletes := s.executor.ApplyDeletes(ctx, plan.Deletes)
	report.Deletes.tally(deletes)

	downloads := s.downloader.DownloadAll(ctx, plan.Downloads)
	report.Downloads.tally(downloads)

	report.Outcomes = append(append(append(report.Outcomes, moves...), deletes...), downloads...)
	s.recordActions(report.Outcomes)

	// Every action is terminal here; the rescan is the new state of record.
	current, err := s.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to rescan storage: %w", err)
	}

	publishErr := s.remote.Publish(ctx, current)
	if publishErr == nil {
		report.Published = true
		report.PublishedFiles = len(current)
	}

	s.prunePartials(ctx, report)

	if publishErr != nil {
		return fmt.Errorf("failed to publish inventory: %w", publishErr)
	}

	return nil
}

func (s *Syncer) prunePartials(ctx context.Context, report *CycleReport) {
	logger := logctx.LoggerFromContext(ctx)

	if s.journal == nil || s.cfg.KeepPartialFor <= 0 {
		return
	}

	active, err := s.journal.GetActiveDownloads(ctx)
	if err != nil {
		logger.WarnContext(ctx, "skipping temp pruning, active downloads unknown", "err", err)

		return
	}

	n, err := cleanup.DeleteStalePartials(ctx, s.fs, s.cfg.TempRoot, s.cfg.KeepPartialFor, active)
	report.PrunedPartials = n

	if err != nil {
		logger.WarnContext(ctx, "failed to prune stale partial downloads", "err", err)
	}
}

func (s *Syncer) recordActions(outcomes []transfer.Outcome) {
	for _, o := range outcomes {
		status := "success"
		if o.Failed() {
			status = "error"
		}

		s.telemetry.RecordAction(string(o.Action.Kind()), status, transfer.Reason(o.Err))
	}
}

func (s *Syncer) recordCycle(ctx context.Context, report *CycleReport) {
	if s.cycles == nil {
		return
	}

	if err := s.cycles.RecordCycle(context.WithoutCancel(ctx), report.record()); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record sync cycle", "err", err)
	}
}

func (s *Syncer) notify(ctx context.Context, report *CycleReport, cycleErr error) {
	var msg strings.Builder

	if cycleErr != nil {
		fmt.Fprintf(&msg, "❌ Sync cycle %s failed: %v\n", report.CycleID, cycleErr)
	}

	if failed := report.Failed(); failed > 0 {
		fmt.Fprintf(&msg, "⚠️ Sync cycle %s: %d action(s) failed\n", report.CycleID, failed)

		listed := 0

		for _, o := range report.Outcomes {
			if !o.Failed() {
				continue
			}

			if listed == maxNotifiedFailures {
				fmt.Fprintf(&msg, "… and %d more\n", failed-listed)

				break
			}

			fmt.Fprintf(&msg, "- %s %s: %s\n", o.Action.Kind(), o.Action.File(), transfer.Reason(o.Err))

			listed++
		}
	}

	if msg.Len() == 0 {
		return
	}

	if err := s.notifier.Notify(context.WithoutCancel(ctx), msg.String()); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification", "err", err)
	}
}

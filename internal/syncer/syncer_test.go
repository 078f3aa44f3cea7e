package syncer

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/puttr/internal/downloader"
	"github.com/italolelis/puttr/internal/executor"
	"github.com/italolelis/puttr/internal/fsutil"
	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/remote"
	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tempRoot    = "/tmp/puttr"
	storageRoot = "/storage"
)

type fakeService struct {
	mu          sync.Mutex
	pingErr     error
	publishErr  error
	inventories *remote.Inventories
	published   []inventory.Inventory
	baseURL     string
	pingCalls   int
	pingGate    chan struct{}
	pinged      chan struct{}
}

func (f *fakeService) Ping(ctx context.Context) error {
	f.mu.Lock()
	f.pingCalls++
	gate, pinged, err := f.pingGate, f.pinged, f.pingErr
	f.mu.Unlock()

	if pinged != nil {
		pinged <- struct{}{}
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

func (f *fakeService) FetchInventories(context.Context) (*remote.Inventories, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inventories == nil {
		return &remote.Inventories{Local: map[string]remote.LocalEntry{}}, nil
	}

	return f.inventories, nil
}

func (f *fakeService) Publish(_ context.Context, inv inventory.Inventory) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishErr != nil {
		return f.publishErr
	}

	f.published = append(f.published, inv)

	return nil
}

func (f *fakeService) DownloadURL(_ context.Context, remoteID string) (string, error) {
	return f.baseURL + "/" + remoteID, nil
}

func (f *fakeService) ConfirmDownload(context.Context, string) error {
	return nil
}

type fakeCycles struct {
	mu      sync.Mutex
	records []storage.CycleRecord
}

func (c *fakeCycles) RecordCycle(_ context.Context, rec storage.CycleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, rec)

	return nil
}

func (c *fakeCycles) GetCycles(context.Context, int) ([]storage.CycleRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.records, nil
}

type fakeJournal struct {
	active []storage.DownloadRecord
}

func (j *fakeJournal) GetDownloads(context.Context, int) ([]storage.DownloadRecord, error) {
	return nil, nil
}

func (j *fakeJournal) GetActiveDownloads(context.Context) ([]storage.DownloadRecord, error) {
	return j.active, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, content)

	return nil
}

type panickingScanner struct {
	calls atomic.Int32
}

func (p *panickingScanner) Scan(context.Context) (inventory.Inventory, error) {
	p.calls.Add(1)

	panic("scanner exploded")
}

type fixture struct {
	fs       afero.Fs
	svc      *fakeService
	cycles   *fakeCycles
	notifier *fakeNotifier
	syncer   *Syncer
}

func newFixture(t *testing.T, files map[string][]byte, opts ...Option) *fixture {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)

			return
		}

		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)

	f := &fixture{
		fs:       afero.NewMemMapFs(),
		svc:      &fakeService{baseURL: srv.URL},
		cycles:   &fakeCycles{},
		notifier: &fakeNotifier{},
	}

	dl := downloader.New(f.fs, f.svc, srv.Client(), downloader.Config{
		TempRoot:     tempRoot,
		StorageRoot:  storageRoot,
		ChunkSize:    1024,
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
		MaxParallel:  2,
	})

	opts = append([]Option{WithCycleRepository(f.cycles), WithNotifier(f.notifier)}, opts...)

	f.syncer = New(f.fs,
		Config{TempRoot: tempRoot, StorageRoot: storageRoot, KeepPartialFor: 72 * time.Hour},
		f.svc,
		inventory.NewScanner(f.fs, storageRoot),
		executor.New(f.fs, storageRoot),
		dl,
		opts...,
	)

	return f
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, afero.WriteFile(f.fs, path, []byte(content), 0644))
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()

	ok, err := afero.Exists(f.fs, path)
	require.NoError(t, err)

	return ok
}

func checksumOf(b []byte) string {
	return fsutil.FormatChecksum(crc32.ChecksumIEEE(b))
}

func TestSync_FullCycle(t *testing.T) {
	good := []byte("downloaded content")
	f := newFixture(t, map[string][]byte{"1": good, "2": []byte("corrupt")})

	f.write(t, "/storage/TV/a.txt", "aaa")
	f.write(t, "/storage/b.txt", "bbb")
	f.write(t, "/storage/Docs/c.txt", "ccc")
	f.write(t, "/storage/local-only.txt", "zzz")

	f.svc.inventories = &remote.Inventories{
		Local: map[string]remote.LocalEntry{
			"a.txt": {Filename: "a.txt", Tag: "Movies"},
			"b.txt": {Filename: "b.txt", Tag: transfer.UntaggedTag, Delete: true},
			"c.txt": {Filename: "c.txt", Tag: "Docs"},
		},
		Cloud: []remote.CloudEntry{
			{Filename: "a.txt", Tag: "Movies", Checksum: "00000000", RemoteID: "9"},
			{Filename: "d.bin", Tag: "Music", Checksum: checksumOf(good), RemoteID: "1"},
			{Filename: "e.bin", Tag: "Music", Checksum: "FFFFFFFF", RemoteID: "2"},
		},
	}

	report, err := f.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionCounts{Planned: 1, Succeeded: 1}, report.Moves)
	assert.Equal(t, ActionCounts{Planned: 1, Succeeded: 1}, report.Deletes)
	assert.Equal(t, ActionCounts{Planned: 2, Succeeded: 1, Failed: 1}, report.Downloads)
	assert.True(t, report.Published)
	assert.Equal(t, 4, report.PublishedFiles)
	assert.NotEmpty(t, report.CycleID)
	assert.Empty(t, report.Error)

	assert.True(t, f.exists(t, "/storage/Movies/a.txt"))
	assert.False(t, f.exists(t, "/storage/TV"), "emptied tag directory is removed")
	assert.False(t, f.exists(t, "/storage/b.txt"))
	assert.True(t, f.exists(t, "/storage/Docs/c.txt"))
	assert.True(t, f.exists(t, "/storage/Music/d.bin"))
	assert.False(t, f.exists(t, "/storage/Music/e.bin"))

	require.Len(t, f.svc.published, 1)

	published := f.svc.published[0]
	assert.Equal(t, []string{"a.txt", "c.txt", "d.bin", "local-only.txt"}, published.Filenames())
	assert.Equal(t, "Movies", published["a.txt"].Tag)
	assert.Equal(t, "Music", published["d.bin"].Tag)
	assert.Equal(t, transfer.UntaggedTag, published["local-only.txt"].Tag)

	require.Len(t, f.cycles.records, 1)
	assert.Equal(t, report.CycleID, f.cycles.records[0].ID)
	assert.Equal(t, 1, f.cycles.records[0].Failed)
	assert.True(t, f.cycles.records[0].Published)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "download e.bin: integrity_mismatch")

	assert.Same(t, report, f.syncer.LastReport())
}

func TestSync_ConsistentInventoriesPublishOnly(t *testing.T) {
	f := newFixture(t, nil)

	f.write(t, "/storage/Docs/c.txt", "ccc")

	f.svc.inventories = &remote.Inventories{
		Local: map[string]remote.LocalEntry{"c.txt": {Filename: "c.txt", Tag: "Docs"}},
		Cloud: []remote.CloudEntry{{Filename: "c.txt", Tag: "Docs", Checksum: "0", RemoteID: "1"}},
	}

	report, err := f.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Moves.Planned+report.Deletes.Planned+report.Downloads.Planned)
	assert.True(t, report.Published)
	assert.Empty(t, f.notifier.messages)
}

func TestSync_ServiceUnavailableAbortsCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.pingErr = &transfer.ServiceUnavailableError{Operation: "ping", StatusCode: http.StatusBadGateway}

	report, err := f.syncer.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, transfer.IsServiceUnavailable(err))

	assert.False(t, report.Published)
	assert.NotEmpty(t, report.Error)
	assert.Empty(t, f.svc.published, "an aborted cycle never publishes")

	require.Len(t, f.cycles.records, 1)
	assert.NotEmpty(t, f.cycles.records[0].Error)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "failed")
}

func TestSync_PublishFailureIsReported(t *testing.T) {
	f := newFixture(t, nil)

	f.write(t, "/storage/TV/a.txt", "aaa")
	f.svc.inventories = &remote.Inventories{
		Local: map[string]remote.LocalEntry{"a.txt": {Filename: "a.txt", Tag: "Movies"}},
	}
	f.svc.publishErr = &transfer.ServiceUnavailableError{Operation: "publish", StatusCode: http.StatusInternalServerError}

	report, err := f.syncer.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, transfer.IsServiceUnavailable(err))

	assert.Equal(t, 1, report.Moves.Succeeded, "actions run before publishing")
	assert.False(t, report.Published)
	assert.True(t, f.exists(t, "/storage/Movies/a.txt"))
}

func TestSync_SharesInFlightCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.pingGate = make(chan struct{})
	f.svc.pinged = make(chan struct{}, 2)

	type result struct {
		report *CycleReport
		err    error
	}

	results := make(chan result, 2)

	run := func() {
		report, err := f.syncer.Sync(context.Background())
		results <- result{report, err}
	}

	go run()

	<-f.svc.pinged

	go run()

	// give the second caller time to join the blocked cycle
	time.Sleep(50 * time.Millisecond)
	close(f.svc.pingGate)

	first := <-results
	second := <-results

	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.report, second.report)
	assert.Equal(t, 1, f.svc.pingCalls)
}

func TestSync_PrunesStalePartials(t *testing.T) {
	journal := &fakeJournal{active: []storage.DownloadRecord{{Filename: "busy.bin"}}}
	f := newFixture(t, nil, WithDownloadJournal(journal))

	require.NoError(t, f.fs.MkdirAll(tempRoot, 0755))
	f.write(t, "/tmp/puttr/stale.bin", "old")
	f.write(t, "/tmp/puttr/busy.bin", "old")

	old := time.Now().Add(-100 * time.Hour)
	require.NoError(t, f.fs.Chtimes("/tmp/puttr/stale.bin", old, old))
	require.NoError(t, f.fs.Chtimes("/tmp/puttr/busy.bin", old, old))

	report, err := f.syncer.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PrunedPartials)
	assert.False(t, f.exists(t, "/tmp/puttr/stale.bin"))
	assert.True(t, f.exists(t, "/tmp/puttr/busy.bin"))
}

func TestRun_RecoversFromPanics(t *testing.T) {
	f := newFixture(t, nil)

	scanner := &panickingScanner{}
	f.syncer.scanner = scanner

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- f.syncer.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return scanner.calls.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

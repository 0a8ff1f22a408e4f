package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	yd "github.com/Firdaussi/youtube-downloader"
)

// fakeDownloader simulates transfers with a configurable per-id outcome and
// records the peak number of concurrent Download calls.
type fakeDownloader struct {
	mu         sync.Mutex
	delay      time.Duration
	failures   map[string]int // id -> remaining failures before success
	alwaysFail map[string]bool
	calls      map[string]int
	current    int32
	peak       int32
	forceStops atomic.Int32
}

func newFakeDownloader(delay time.Duration) *fakeDownloader {
	return &fakeDownloader{
		delay:      delay,
		failures:   make(map[string]int),
		alwaysFail: make(map[string]bool),
		calls:      make(map[string]int),
	}
}

func (f *fakeDownloader) FetchMetadata(ctx context.Context, playlistID string, minimal bool) (*yd.PlaylistInfo, error) {
	return &yd.PlaylistInfo{ID: playlistID, Title: "playlist " + playlistID}, nil
}

func (f *fakeDownloader) Download(ctx context.Context, playlistID string, config yd.DownloadConfig, listener yd.ProgressListener) error {
	cur := atomic.AddInt32(&f.current, 1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.current, -1)

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[playlistID]++
	if f.alwaysFail[playlistID] {
		return fmt.Errorf("extraction failed for %s", playlistID)
	}
	if n := f.failures[playlistID]; n > 0 {
		f.failures[playlistID] = n - 1
		return errors.New("transient network error")
	}
	return nil
}

func (f *fakeDownloader) callCount(playlistID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[playlistID]
}

func (f *fakeDownloader) Pause()     {}
func (f *fakeDownloader) Resume()    {}
func (f *fakeDownloader) ForceStop() { f.forceStops.Add(1) }

// countingListener tallies callbacks; safe for concurrent use.
type countingListener struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    map[string]string
	allDone   int
}

func newCountingListener() *countingListener {
	return &countingListener{failed: make(map[string]string)}
}

func (l *countingListener) OnProgress(p yd.DownloadProgress) {}

func (l *countingListener) OnDownloadStart(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, id)
}

func (l *countingListener) OnDownloadComplete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, id)
}

func (l *countingListener) OnDownloadError(id string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed[id] = msg
}

func (l *countingListener) OnAllDownloadsComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allDone++
}

func (l *countingListener) allDoneCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allDone
}

func (l *countingListener) completedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.completed...)
}

func (l *countingListener) failureMessage(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed[id]
}

// fakeHistory marks a fixed set of ids as already downloaded.
type fakeHistory struct {
	known map[string]bool
}

func (h *fakeHistory) IsDuplicate(playlistID string) bool { return h.known[playlistID] }
func (h *fakeHistory) Save(entry yd.HistoryEntry) error   { return nil }

// rejectingValidator always fails validation.
type rejectingValidator struct{}

func (rejectingValidator) Validate(method string, path string) bool { return false }
func (rejectingValidator) ValidationErrors() []string               { return []string{"no cookies"} }

func waitForIdle(t *testing.T, s *DownloadService, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !s.IsRunning() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("service did not go idle in time")
}

func testConfig() yd.DownloadConfig {
	config := yd.DefaultDownloadConfig()
	config.SkipValidation = true
	config.CheckDuplicates = false
	config.RetryCount = 1
	return config
}

func testService(dl yd.PlaylistDownloader) *DownloadService {
	return New(Config{Downloader: dl, PollInterval: 5 * time.Millisecond})
}

func TestStartDownloads_DrainsQueue(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(10 * time.Millisecond)
	s := testService(dl)
	defer s.Close()
	listener := newCountingListener()

	ok := s.StartDownloads([]string{"PL1", "PL2", "PL3"}, testConfig(), listener)
	assert.True(ok)
	waitForIdle(t, s, 5*time.Second)

	status := s.QueueStatus()
	assert.Equal(0, status.Pending)
	assert.Equal(3, status.Completed)
	assert.Equal(0, status.Failed)
	assert.Equal(0, status.Active)
	assert.ElementsMatch([]string{"PL1", "PL2", "PL3"}, listener.completedIDs())
	assert.Equal(1, listener.allDoneCount())
}

func TestStartDownloads_RespectsConcurrencyLimit(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(30 * time.Millisecond)
	s := testService(dl)
	defer s.Close()

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("PL%d", i))
	}
	config := testConfig()
	config.MaxConcurrentDownloads = 2

	s.StartDownloads(ids, config, nil)
	waitForIdle(t, s, 10*time.Second)

	assert.Equal(10, s.QueueStatus().Completed)
	assert.LessOrEqual(atomic.LoadInt32(&dl.peak), int32(2))
}

func TestWorkerLimit(t *testing.T) {
	assert := assert_.New(t)

	config := yd.DownloadConfig{MaxConcurrentDownloads: 3}
	assert.Equal(3, workerLimit(config))

	config.QuickMode = true
	assert.Equal(5, workerLimit(config))

	config.MaxConcurrentDownloads = 20
	assert.Equal(hardConcurrencyCap, workerLimit(config))

	assert.Equal(1, workerLimit(yd.DownloadConfig{}))
}

func TestStartDownloads_FailuresAreRecorded(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(5 * time.Millisecond)
	dl.alwaysFail["PL2"] = true
	s := testService(dl)
	defer s.Close()
	listener := newCountingListener()

	s.StartDownloads([]string{"PL1", "PL2", "PL3"}, testConfig(), listener)
	waitForIdle(t, s, 5*time.Second)

	status := s.QueueStatus()
	assert.Equal(2, status.Completed)
	assert.Equal(1, status.Failed)
	assert.ElementsMatch([]string{"PL1", "PL3"}, listener.completedIDs())
	assert.Contains(listener.failureMessage("PL2"), "extraction failed")
}

func TestAutoRetry_EventuallySucceeds(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(5 * time.Millisecond)
	dl.failures["PL2"] = 2 // fails twice, then succeeds
	s := testService(dl)
	defer s.Close()
	listener := newCountingListener()

	config := testConfig()
	config.AutoRetryFailed = true
	config.MaxRetryCycles = 5

	s.StartDownloads([]string{"PL1", "PL2", "PL3"}, config, listener)
	waitForIdle(t, s, 5*time.Second)

	status := s.QueueStatus()
	assert.Equal(3, status.Completed)
	assert.Equal(0, status.Failed)
	assert.Equal(3, dl.callCount("PL2"))
	assert.Equal(1, dl.callCount("PL1"))
}

func TestAutoRetry_BoundedByMaxCycles(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(5 * time.Millisecond)
	dl.alwaysFail["PL1"] = true
	s := testService(dl)
	defer s.Close()

	config := testConfig()
	config.AutoRetryFailed = true
	config.MaxRetryCycles = 2

	s.StartDownloads([]string{"PL1"}, config, nil)
	waitForIdle(t, s, 5*time.Second)

	assert.Equal(1, s.QueueStatus().Failed)
	// Initial attempt plus two retry cycles.
	assert.Equal(3, dl.callCount("PL1"))
}

func TestStopDownloads_DiscardsPendingWork(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(50 * time.Millisecond)
	s := testService(dl)
	defer s.Close()
	listener := newCountingListener()

	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, fmt.Sprintf("PL%d", i))
	}
	config := testConfig()
	config.MaxConcurrentDownloads = 2

	s.StartDownloads(ids, config, listener)
	time.Sleep(20 * time.Millisecond)
	s.StopDownloads()

	assert.False(s.IsRunning())
	status := s.QueueStatus()
	assert.Equal(0, status.Pending)
	assert.Equal(0, status.Active)
	// A stop is not a completion.
	assert.Equal(0, listener.allDoneCount())
	assert.Equal(int32(1), dl.forceStops.Load())
}

func TestStopDownloads_CancellationIsNotFailure(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(200 * time.Millisecond)
	s := testService(dl)
	defer s.Close()
	listener := newCountingListener()

	s.StartDownloads([]string{"PL1"}, testConfig(), listener)
	time.Sleep(20 * time.Millisecond)
	s.StopDownloads()

	assert.Equal(0, s.QueueStatus().Failed)
	assert.Empty(listener.failureMessage("PL1"))
}

func TestStartDownloads_AppendsToRunningBatch(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(30 * time.Millisecond)
	s := testService(dl)
	defer s.Close()
	listener := newCountingListener()

	config := testConfig()
	config.MaxConcurrentDownloads = 1

	s.StartDownloads([]string{"PL1", "PL2"}, config, listener)
	assert.True(s.IsRunning())
	ok := s.StartDownloads([]string{"PL3"}, config, listener)
	assert.True(ok)

	waitForIdle(t, s, 5*time.Second)
	assert.Equal(3, s.QueueStatus().Completed)
	assert.Equal(1, listener.allDoneCount())
}

func TestStartDownloads_ValidationFailureBlocksStart(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(time.Millisecond)
	s := New(Config{
		Downloader:   dl,
		Validator:    rejectingValidator{},
		PollInterval: 5 * time.Millisecond,
	})
	defer s.Close()

	config := testConfig()
	config.SkipValidation = false

	ok := s.StartDownloads([]string{"PL1"}, config, nil)
	assert.False(ok)
	assert.False(s.IsRunning())
	assert.Equal(0, s.QueueStatus().Pending)
	assert.Equal(0, dl.callCount("PL1"))
}

func TestDuplicate_SkipsDownload(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(5 * time.Millisecond)
	history := &fakeHistory{known: map[string]bool{"PL1": true}}
	s := New(Config{
		Downloader:   dl,
		History:      history,
		PollInterval: 5 * time.Millisecond,
	})
	defer s.Close()
	listener := newCountingListener()

	config := testConfig()
	config.CheckDuplicates = true

	s.StartDownloads([]string{"PL1", "PL2"}, config, listener)
	waitForIdle(t, s, 5*time.Second)

	assert.Equal(2, s.QueueStatus().Completed)
	assert.Equal(0, dl.callCount("PL1"))
	assert.Equal(1, dl.callCount("PL2"))
	assert.ElementsMatch([]string{"PL1", "PL2"}, listener.completedIDs())
}

func TestQuickMode_SkipsDuplicateCheck(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(5 * time.Millisecond)
	history := &fakeHistory{known: map[string]bool{"PL1": true}}
	s := New(Config{
		Downloader:   dl,
		History:      history,
		PollInterval: 5 * time.Millisecond,
	})
	defer s.Close()

	config := testConfig()
	config.CheckDuplicates = true
	config.QuickMode = true

	s.StartDownloads([]string{"PL1"}, config, nil)
	waitForIdle(t, s, 5*time.Second)

	assert.Equal(1, dl.callCount("PL1"))
}

func TestBotDetection_RewritesFailureMessage(t *testing.T) {
	assert := assert_.New(t)

	s := testService(&botFailDownloader{})
	defer s.Close()
	listener := newCountingListener()

	s.StartDownloads([]string{"PL1"}, testConfig(), listener)
	waitForIdle(t, s, 5*time.Second)

	msg := listener.failureMessage("PL1")
	assert.Contains(msg, "cookie")
	assert.NotContains(msg, "Sign in to confirm")
}

type botFailDownloader struct{ fakeDownloader }

func (b *botFailDownloader) Download(ctx context.Context, playlistID string, config yd.DownloadConfig, listener yd.ProgressListener) error {
	return errors.New("Sign in to confirm you're not a bot. Use --cookies for authentication")
}

func TestListenerPanic_DoesNotKillWorker(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(time.Millisecond)
	s := testService(dl)
	defer s.Close()

	s.StartDownloads([]string{"PL1", "PL2"}, testConfig(), panickyListener{})
	waitForIdle(t, s, 5*time.Second)

	assert.Equal(2, s.QueueStatus().Completed)
}

type panickyListener struct{}

func (panickyListener) OnProgress(p yd.DownloadProgress)      { panic("listener bug") }
func (panickyListener) OnDownloadStart(id string)             { panic("listener bug") }
func (panickyListener) OnDownloadComplete(id string)          { panic("listener bug") }
func (panickyListener) OnDownloadError(id string, msg string) { panic("listener bug") }
func (panickyListener) OnAllDownloadsComplete()               { panic("listener bug") }

func TestRetryFailed_RestartsIdleService(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(5 * time.Millisecond)
	dl.failures["PL1"] = 1
	s := testService(dl)
	defer s.Close()
	listener := newCountingListener()

	s.StartDownloads([]string{"PL1"}, testConfig(), listener)
	waitForIdle(t, s, 5*time.Second)
	assert.Equal(1, s.QueueStatus().Failed)

	s.RetryFailed(testConfig(), listener)
	waitForIdle(t, s, 5*time.Second)

	status := s.QueueStatus()
	assert.Equal(1, status.Completed)
	assert.Equal(0, status.Failed)
}

func TestQueueProcessor_ExitsWhenRunSuperseded(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(time.Millisecond)
	s := testService(dl)
	defer s.Close()

	// Another run owns the service; a loop carrying a stale run id must not
	// schedule anything.
	s.mu.Lock()
	s.running = true
	s.runID = "live"
	s.mu.Unlock()
	s.queue.Enqueue("PL1", 0)

	done := make(chan struct{})
	go func() {
		s.processQueue(context.Background(), "stale", 1, testConfig(), yd.NilListener{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stale queue processor did not exit")
	}
	assert.Equal(0, dl.callCount("PL1"))
	assert.Equal(1, s.queue.Counts().Pending)
	assert.True(s.IsRunning())

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func TestStopThenStart_RunsSingleFreshBatch(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(30 * time.Millisecond)
	s := testService(dl)
	defer s.Close()

	config := testConfig()
	config.MaxConcurrentDownloads = 1

	s.StartDownloads([]string{"PL1", "PL2", "PL3"}, config, nil)
	time.Sleep(10 * time.Millisecond)
	s.StopDownloads()

	listener := newCountingListener()
	s.StartDownloads([]string{"PL4", "PL5"}, config, listener)
	waitForIdle(t, s, 5*time.Second)

	assert.ElementsMatch([]string{"PL4", "PL5"}, listener.completedIDs())
	assert.Equal(1, listener.allDoneCount())
	assert.Equal(2, s.QueueStatus().Completed)
	assert.LessOrEqual(atomic.LoadInt32(&dl.peak), int32(1))
}

func TestSubscribe_ReceivesLifecycleEvents(t *testing.T) {
	assert := assert_.New(t)

	dl := newFakeDownloader(5 * time.Millisecond)
	s := testService(dl)
	defer s.Close()

	sub, err := s.Subscribe()
	assert.NoError(err)

	s.StartDownloads([]string{"PL1"}, testConfig(), nil)
	waitForIdle(t, s, 5*time.Second)

	var sawStart, sawCompleted, sawRunDone bool
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case e, ok := <-sub.Receive():
			if !ok {
				break loop
			}
			switch e.(type) {
			case RunStarted:
				sawStart = true
			case DownloadCompleted:
				sawCompleted = true
			case RunCompleted:
				sawRunDone = true
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	assert.True(sawStart)
	assert.True(sawCompleted)
	assert.True(sawRunDone)
}

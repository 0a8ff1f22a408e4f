// Package service contains the download orchestrator: the state machine that
// drains the queue across a bounded worker pool and reports lifecycle events.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	yd "github.com/Firdaussi/youtube-downloader"
	"github.com/Firdaussi/youtube-downloader/internal/pubsub"
	"github.com/Firdaussi/youtube-downloader/internal/queue"
	"github.com/Firdaussi/youtube-downloader/internal/sync_"
	"github.com/Firdaussi/youtube-downloader/internal/throttle"
)

const (
	// hardConcurrencyCap bounds the worker pool regardless of configuration.
	hardConcurrencyCap = 8
	// quickModeBonus is added to the configured concurrency limit when quick
	// mode skips the per-item metadata work.
	quickModeBonus = 2
	// defaultPollInterval is the supervisory loop's sleep between scheduling
	// passes; a latency/CPU tradeoff, not a correctness requirement.
	defaultPollInterval = 250 * time.Millisecond
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Downloader yd.PlaylistDownloader
	// History, if set, is consulted for the pre-dispatch duplicate check.
	History yd.HistoryRepository
	// Validator, if set, gates StartDownloads on credential validation.
	Validator yd.CookieValidator
	// ProgressInterval is the base interval for progress throttling.
	ProgressInterval time.Duration
	// PollInterval overrides the supervisory loop's sleep; zero means the
	// default.
	PollInterval time.Duration
}

// Status is an eventually-consistent snapshot of queue counts; callers must
// not assume atomicity across multiple reads.
type Status struct {
	Pending   int
	Completed int
	Failed    int
	Active    int
}

type activeSet = map[string]struct{}

// DownloadService coordinates queue draining, worker dispatch and lifecycle
// transitions for a batch of playlist downloads.
//
// The `running` flag is the single source of truth for "keep scheduling":
// every loop (supervisory and per-worker) polls it at safe points and exits
// silently when it goes false. Only the supervisory loop adds to the active
// set; workers remove themselves in a deferred block.
type DownloadService struct {
	config    Config
	queue     *queue.DownloadQueue
	throttler *throttle.ProgressThrottler
	events    pubsub.Publisher[Event]
	log       *zap.SugaredLogger

	mu        sync.Mutex
	running   bool
	runID     string
	runCtx    context.Context
	runCancel context.CancelFunc
	workers   sync.WaitGroup

	active *sync_.RWMutexed[activeSet]
}

func New(config Config) *DownloadService {
	interval := config.ProgressInterval
	if interval <= 0 {
		interval = throttle.DefaultBaseInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	return &DownloadService{
		config:    config,
		queue:     queue.NewDownloadQueue(),
		throttler: throttle.NewProgressThrottler(interval),
		events:    pubsub.NewPublisher[Event](),
		active:    sync_.NewRWMutexed(make(activeSet)),
		log:       zap.S().Named("service"),
	}
}

// Subscribe returns a receiver of orchestration events. Subscribers should
// drain promptly or use a generous buffer.
func (s *DownloadService) Subscribe() (pubsub.ReceiverCloser[Event], error) {
	return s.events.SubscribeBufSize(64)
}

// StartDownloads begins a batch, or appends to the batch already in flight.
//
// When idle: credentials are validated first (unless config.SkipValidation);
// on validation failure nothing is enqueued and false is returned. On success
// the items are enqueued, the worker pool is sized, and the supervisory loop
// starts on its own goroutine.
//
// When already running the call becomes "enqueue more": the ids join the live
// queue and true is returned. Users appending to an in-flight batch is the
// expected workflow, not an error.
func (s *DownloadService) StartDownloads(playlistIDs []string, config yd.DownloadConfig, listener yd.ProgressListener) bool {
	if listener == nil {
		listener = yd.NilListener{}
	}

	s.mu.Lock()
	if s.running {
		defer s.mu.Unlock()
		for _, id := range playlistIDs {
			s.queue.Enqueue(id, 0)
		}
		s.log.Infow("appended to running batch", "count", len(playlistIDs))
		return true
	}
	s.mu.Unlock()

	if !config.SkipValidation && s.config.Validator != nil {
		if !s.config.Validator.Validate(config.CookieMethod, config.CookieFile) {
			s.log.Errorw("cookie validation failed", "errors", s.config.Validator.ValidationErrors())
			return false
		}
	}

	s.mu.Lock()
	if s.running {
		// Lost a race with another StartDownloads; append instead.
		defer s.mu.Unlock()
		for _, id := range playlistIDs {
			s.queue.Enqueue(id, 0)
		}
		return true
	}
	s.running = true
	s.runID = uuid.NewString()
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	runID := s.runID
	ctx := s.runCtx
	s.mu.Unlock()

	for _, id := range playlistIDs {
		s.queue.Enqueue(id, 0)
	}

	limit := workerLimit(config)
	s.log.Infow("starting downloads", "run_id", runID, "count", len(playlistIDs), "workers", limit)
	s.events.Send(RunStarted{runEvent{runID}, len(playlistIDs)})

	go s.processQueue(ctx, runID, limit, config, listener)
	return true
}

// StopDownloads halts the batch with prejudice: the running flag drops
// immediately, in-flight workers are cancelled (best-effort, cooperative),
// queued-but-undispatched items are discarded, and the extractor is asked to
// kill whatever it spawned.
func (s *DownloadService) StopDownloads() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Debug("no active downloads to stop")
		return
	}
	s.running = false
	runID := s.runID
	cancel := s.runCancel
	s.mu.Unlock()

	s.log.Infow("stopping all downloads", "run_id", runID)
	if cancel != nil {
		cancel()
	}
	s.config.Downloader.ForceStop()
	s.workers.Wait()
	s.queue.ClearAll()
	s.throttler.ResetAll()
	s.events.Send(RunStopped{runEvent{runID}})
}

// PauseDownloads delegates to the extractor's cooperative pause point.
func (s *DownloadService) PauseDownloads() {
	s.log.Info("pausing all downloads")
	s.config.Downloader.Pause()
	s.events.Send(DownloadsPaused{runEvent{s.currentRunID()}})
}

// ResumeDownloads releases a cooperative pause.
func (s *DownloadService) ResumeDownloads() {
	s.log.Info("resuming all downloads")
	s.config.Downloader.Resume()
	s.events.Send(DownloadsResumed{runEvent{s.currentRunID()}})
}

// RetryFailed moves all failed items back into the queue and restarts
// draining. Used both by the auto-retry sweep and for explicit user retry.
func (s *DownloadService) RetryFailed(config yd.DownloadConfig, listener yd.ProgressListener) {
	requeued := s.requeueFailed()
	s.log.Infow("retrying failed downloads", "count", requeued)
	if requeued == 0 {
		return
	}

	s.mu.Lock()
	if s.running {
		// The live supervisory loop will pick the items up.
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runID = uuid.NewString()
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	runID := s.runID
	ctx := s.runCtx
	s.mu.Unlock()

	if listener == nil {
		listener = yd.NilListener{}
	}
	s.events.Send(RunStarted{runEvent{runID}, requeued})
	go s.processQueue(ctx, runID, workerLimit(config), config, listener)
}

// QueueStatus returns current counts for status reporting.
func (s *DownloadService) QueueStatus() Status {
	counts := s.queue.Counts()
	return Status{
		Pending:   counts.Pending,
		Completed: counts.Completed,
		Failed:    counts.Failed,
		Active:    s.activeCount(),
	}
}

// IsRunning reports whether a batch is currently in flight.
func (s *DownloadService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close stops any in-flight batch and shuts down the event publisher.
func (s *DownloadService) Close() {
	s.StopDownloads()
	s.events.Close()
}

// ownsRun reports whether the given run is still the live one. A supervisory
// loop whose run has been stopped or superseded must stop scheduling.
func (s *DownloadService) ownsRun(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.runID == runID
}

func (s *DownloadService) currentRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

func (s *DownloadService) activeCount() (n int) {
	_ = s.active.RLocked(func(active activeSet) error {
		n = len(active)
		return nil
	})
	return n
}

func (s *DownloadService) requeueFailed() int {
	ids := s.queue.FailedIDs()
	s.queue.ClearFailed()
	for _, id := range ids {
		s.queue.Enqueue(id, 0)
	}
	return len(ids)
}

func workerLimit(config yd.DownloadConfig) int {
	limit := config.MaxConcurrentDownloads
	if limit < 1 {
		limit = 1
	}
	if config.QuickMode {
		limit += quickModeBonus
	}
	if limit > hardConcurrencyCap {
		limit = hardConcurrencyCap
	}
	return limit
}

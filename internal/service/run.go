package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	yd "github.com/Firdaussi/youtube-downloader"
)

// botDetectionAdvice replaces the raw extractor error when YouTube's bot
// detection fires, because the fix is configuration, not retrying.
const botDetectionAdvice = "YouTube bot detection triggered. Set up cookie authentication: " +
	"use a browser cookie method or export cookies.txt from a browser that is " +
	"logged in to YouTube, then try again."

// processQueue is the supervisory loop: the single writer of dispatch
// decisions. It runs until the batch drains or the running flag goes false.
// An unexpected panic in its own bookkeeping is fatal to the current run: the
// flag is forced false and the loop exits, and the caller must start a new
// batch to resume.
func (s *DownloadService) processQueue(ctx context.Context, runID string, limit int, config yd.DownloadConfig, listener yd.ProgressListener) {
	log := s.log.With("run_id", runID)
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("queue processor fault, stopping run", "panic", r)
			s.mu.Lock()
			var cancel context.CancelFunc
			if s.runID == runID {
				s.running = false
				cancel = s.runCancel
			}
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		}
	}()

	log.Debug("queue processor started")
	retryCycles := 0

	// ownsRun also guards against a stop/start race: if a new run was
	// started after this loop's run was stopped, the stale loop must not
	// keep scheduling alongside the new one.
	for s.ownsRun(runID) {
		// Fill free worker slots in priority order.
		for s.activeCount() < limit && s.ownsRun(runID) {
			item, ok := s.queue.DequeueNext()
			if !ok {
				break
			}
			id := item.PlaylistID
			_ = s.active.Locked(func(active activeSet) error {
				active[id] = struct{}{}
				return nil
			})
			s.workers.Add(1)
			go s.downloadOne(ctx, id, config, listener)
		}

		if s.activeCount() == 0 && s.queue.Counts().Pending == 0 {
			counts := s.queue.Counts()
			if config.AutoRetryFailed && counts.Failed > 0 &&
				(config.MaxRetryCycles == 0 || retryCycles < config.MaxRetryCycles) {
				retryCycles++
				requeued := s.requeueFailed()
				log.Infow("auto-retrying failed downloads", "cycle", retryCycles, "count", requeued)
				s.events.Send(RetrySweep{runEvent{runID}, retryCycles, requeued})
				continue
			}

			s.finishRun(runID, listener)
			return
		}

		// Voluntary yield between scheduling passes.
		select {
		case <-time.After(s.config.PollInterval):
		case <-ctx.Done():
		}
	}
	log.Debug("queue processor exiting, run stopped")
}

func (s *DownloadService) finishRun(runID string, listener yd.ProgressListener) {
	s.mu.Lock()
	if s.runID != runID {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	counts := s.queue.Counts()
	s.log.Infow("downloads complete",
		"run_id", runID, "completed", counts.Completed, "failed", counts.Failed)
	s.events.Send(RunCompleted{runEvent{runID}, counts.Completed, counts.Failed})
	s.notify(func() { listener.OnAllDownloadsComplete() })
}

// downloadOne is the per-item worker procedure. Every error path funnels into
// MarkFailed plus a listener notification; nothing escapes. Cancellation is
// distinguished from failure at every checkpoint, so a stopped download never
// pollutes the failed set.
func (s *DownloadService) downloadOne(ctx context.Context, playlistID string, config yd.DownloadConfig, listener yd.ProgressListener) {
	log := s.log.With("playlist_id", playlistID)
	defer s.workers.Done()
	defer func() {
		_ = s.active.Locked(func(active activeSet) error {
			delete(active, playlistID)
			return nil
		})
		s.throttler.Reset(playlistID)
		s.publishStatus()
	}()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("internal error: %v", r)
			log.Errorw("worker panic", "panic", r)
			s.queue.MarkFailed(playlistID, msg)
			s.notify(func() { listener.OnDownloadError(playlistID, msg) })
		}
	}()

	if !s.IsRunning() {
		log.Debug("cancelled before starting")
		return
	}

	s.events.Send(DownloadStarted{playlistEvent{playlistID}})
	s.notify(func() { listener.OnDownloadStart(playlistID) })

	if config.CheckDuplicates && !config.QuickMode && s.isDuplicate(playlistID) {
		log.Info("skipping duplicate")
		s.queue.MarkCompleted(playlistID, map[string]string{
			"status": "duplicate",
			"path":   config.DownloadDirectory,
		})
		s.events.Send(DownloadCompleted{playlistEvent{playlistID}, true})
		s.notify(func() { listener.OnDownloadComplete(playlistID) })
		return
	}

	err := s.config.Downloader.Download(ctx, playlistID, config, progressRelay{svc: s, inner: listener})

	// Re-check after the blocking call: a stop during the transfer is a
	// cancellation, not a failure.
	if !s.IsRunning() || errors.Is(err, context.Canceled) {
		log.Debug("cancelled during execution")
		return
	}

	if err == nil {
		s.queue.MarkCompleted(playlistID, map[string]string{
			"status":    "completed",
			"path":      config.DownloadDirectory,
			"timestamp": time.Now().Format(time.RFC3339),
		})
		log.Info("download completed")
		s.events.Send(DownloadCompleted{playlistEvent{playlistID}, false})
		s.notify(func() { listener.OnDownloadComplete(playlistID) })
		return
	}

	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "sign in to confirm") {
		msg = botDetectionAdvice
	}
	log.Errorw("download failed", "error", err)
	s.queue.MarkFailed(playlistID, msg)
	s.events.Send(DownloadFailed{playlistEvent{playlistID}, msg})
	s.notify(func() { listener.OnDownloadError(playlistID, msg) })
}

func (s *DownloadService) isDuplicate(playlistID string) bool {
	if s.queue.IsDuplicate(playlistID) {
		return true
	}
	return s.config.History != nil && s.config.History.IsDuplicate(playlistID)
}

func (s *DownloadService) publishStatus() {
	s.events.Send(StatusChanged{runEvent{s.currentRunID()}, s.QueueStatus()})
}

// notify shields the orchestrator from a misbehaving listener; a panic in a
// callback is logged and contained to that notification.
func (s *DownloadService) notify(f func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("listener panic", "panic", r)
		}
	}()
	f()
}

// progressRelay throttles OnProgress before it reaches the listener and
// mirrors forwarded events onto the event stream. All other callbacks pass
// straight through.
type progressRelay struct {
	svc   *DownloadService
	inner yd.ProgressListener
}

func (r progressRelay) OnProgress(p yd.DownloadProgress) {
	if !r.svc.throttler.ShouldUpdate(p.PlaylistID, p.Percent, string(p.Status), p.Message) {
		return
	}
	r.svc.events.Send(DownloadProgressed{playlistEvent{p.PlaylistID}, p})
	r.svc.notify(func() { r.inner.OnProgress(p) })
}

func (r progressRelay) OnDownloadStart(id string) {
	r.svc.notify(func() { r.inner.OnDownloadStart(id) })
}

func (r progressRelay) OnDownloadComplete(id string) {
	r.svc.notify(func() { r.inner.OnDownloadComplete(id) })
}

func (r progressRelay) OnDownloadError(id string, msg string) {
	r.svc.notify(func() { r.inner.OnDownloadError(id, msg) })
}

func (r progressRelay) OnAllDownloadsComplete() {
	r.svc.notify(func() { r.inner.OnAllDownloadsComplete() })
}

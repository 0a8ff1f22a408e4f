package service

import (
	yd "github.com/Firdaussi/youtube-downloader"
)

// Event is the tagged union published by the DownloadService, for consumers
// that prefer a channel over ProgressListener callbacks.
type Event interface {
	// PlaylistID the event relates to, or "" for run-level events.
	PlaylistID() string
}

type playlistEvent struct {
	playlistID string
}

func (e playlistEvent) PlaylistID() string {
	return e.playlistID
}

type runEvent struct {
	RunID string
}

func (runEvent) PlaylistID() string {
	return ""
}

type RunStarted struct {
	runEvent
	Total int
}

// RunCompleted fires exactly once per full drain with no further retry sweep.
type RunCompleted struct {
	runEvent
	Completed int
	Failed    int
}

type RunStopped struct {
	runEvent
}

// RetrySweep fires when a drained batch re-enqueues its failed items.
type RetrySweep struct {
	runEvent
	Cycle    int
	Requeued int
}

type DownloadStarted struct {
	playlistEvent
}

type DownloadProgressed struct {
	playlistEvent
	Progress yd.DownloadProgress
}

type DownloadCompleted struct {
	playlistEvent
	// Duplicate is true when the item was skipped because it had already
	// been downloaded.
	Duplicate bool
}

type DownloadFailed struct {
	playlistEvent
	Message string
}

type DownloadsPaused struct {
	runEvent
}

type DownloadsResumed struct {
	runEvent
}

// StatusChanged carries a queue-status snapshot, published whenever a worker
// reaches a terminal state.
type StatusChanged struct {
	runEvent
	Status Status
}

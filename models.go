package youtube_downloader

import (
	"time"
)

type DownloadStatus string

const (
	DownloadStatusPending     DownloadStatus = "pending"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
	DownloadStatusPaused      DownloadStatus = "paused"
)

type DownloadQuality string

const (
	QualityBest      DownloadQuality = "best"
	Quality1080p     DownloadQuality = "1080p"
	Quality720p      DownloadQuality = "720p"
	Quality480p      DownloadQuality = "480p"
	QualityAudioOnly DownloadQuality = "audio_only"
)

// DownloadConfig is an immutable-by-convention value object describing a single
// batch run. It is passed by value into every worker invocation; call sites
// needing a variant make a copy.
type DownloadConfig struct {
	DownloadDirectory      string
	MaxConcurrentDownloads int
	Quality                DownloadQuality
	// RetryCount is the number of attempts a single worker invocation makes
	// before the item becomes a terminal failure.
	RetryCount int
	// AutoRetryFailed re-enqueues all failed items when a batch drains.
	AutoRetryFailed bool
	// MaxRetryCycles bounds how many auto-retry sweeps a single batch may
	// trigger; 0 means unbounded.
	MaxRetryCycles  int
	CheckDuplicates bool
	BandwidthLimit  string
	CookieMethod    string
	CookieFile      string
	// SkipValidation bypasses the cookie validator on StartDownloads.
	SkipValidation bool
	// QuickMode skips the metadata prefetch and duplicate check to minimise
	// latency before the transfer starts.
	QuickMode bool
	// OutputTemplate names downloaded playlist folders, see NamingConfig.
	OutputTemplate string
}

// DefaultDownloadConfig returns the documented defaults for a batch run.
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		DownloadDirectory:      ".",
		MaxConcurrentDownloads: 1,
		Quality:                QualityBest,
		RetryCount:             3,
		AutoRetryFailed:        true,
		CheckDuplicates:        true,
		BandwidthLimit:         "0",
		CookieMethod:           "none",
	}
}

// PlaylistInfo is the metadata returned by the extractor for a playlist.
type PlaylistInfo struct {
	ID          string
	Title       string
	URL         string
	TotalTracks int
	Entries     []TrackInfo
}

type TrackInfo struct {
	ID    string
	Title string
}

// DownloadProgress is a single progress event from the extractor, emitted at
// the extractor's own cadence (potentially dozens per second).
type DownloadProgress struct {
	PlaylistID  string
	Status      DownloadStatus
	Percent     float64
	Speed       float64
	ETA         int
	CurrentFile string
	Message     string
}

type HistoryEntry struct {
	PlaylistID    string
	PlaylistTitle string
	Status        string
	Timestamp     time.Time
	DownloadPath  string
}

// QueueItem is created on enqueue and consumed when dispatched to a worker.
type QueueItem struct {
	PlaylistID string
	Priority   int
	EnqueuedAt time.Time
}

// DownloadResult records the terminal outcome of one playlist download.
type DownloadResult struct {
	PlaylistID string
	Status     DownloadStatus
	Info       map[string]string
	Error      string
}

package youtube_downloader

import (
	"context"
)

// PlaylistDownloader is the extractor adapter: the component that performs the
// actual metadata fetch and media transfer. Download blocks for the duration
// of the whole playlist transfer and is expected to invoke the listener's
// OnProgress repeatedly while doing so.
type PlaylistDownloader interface {
	// FetchMetadata returns playlist metadata. With minimal=true, entry
	// details may be skipped for speed.
	FetchMetadata(ctx context.Context, playlistID string, minimal bool) (*PlaylistInfo, error)
	Download(ctx context.Context, playlistID string, config DownloadConfig, listener ProgressListener) error
	// Pause suspends work at the next cooperative pause point (between
	// entries or retry attempts), not mid-transfer.
	Pause()
	Resume()
	// ForceStop cancels all in-flight work, best-effort.
	ForceStop()
}

// CookieValidator checks that the configured authentication method is usable
// before a batch starts.
type CookieValidator interface {
	Validate(method string, filePath string) bool
	ValidationErrors() []string
}

// HistoryRepository records completed and failed download attempts keyed by
// playlist id.
type HistoryRepository interface {
	// IsDuplicate is the fast path used before dispatching an item.
	IsDuplicate(playlistID string) bool
	Save(entry HistoryEntry) error
}

// ProgressListener receives lifecycle callbacks from the orchestrator. A
// listener must tolerate being called from multiple goroutines.
type ProgressListener interface {
	OnProgress(progress DownloadProgress)
	OnDownloadStart(playlistID string)
	OnDownloadComplete(playlistID string)
	OnDownloadError(playlistID string, message string)
	OnAllDownloadsComplete()
}

// NilListener discards all callbacks.
type NilListener struct{}

func (NilListener) OnProgress(DownloadProgress)    {}
func (NilListener) OnDownloadStart(string)         {}
func (NilListener) OnDownloadComplete(string)      {}
func (NilListener) OnDownloadError(string, string) {}
func (NilListener) OnAllDownloadsComplete()        {}

// Package downloader adapts the youtube extraction library to the
// PlaylistDownloader interface consumed by the orchestrator.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	yd "github.com/Firdaussi/youtube-downloader"
	"github.com/Firdaussi/youtube-downloader/internal/sync_"
)

const (
	// retryWait is the fixed delay between attempts inside a single Download
	// call. Deliberately not exponential; batch-level sweeps handle
	// persistent failures.
	retryWait = 2 * time.Second
	// pausePoll is how often a paused worker re-checks the pause flag.
	pausePoll = 200 * time.Millisecond
)

var ErrStopped = errors.New("download force-stopped")

// YouTubeDownloader downloads whole playlists track by track. Pause is
// cooperative: a paused worker blocks between tracks and between retry
// attempts, never mid-transfer. ForceStop cancels the contexts of all
// in-flight downloads.
type YouTubeDownloader struct {
	client  youtube.Client
	history yd.HistoryRepository
	paused  sync_.Flag

	mu     sync.Mutex
	active map[string]context.CancelFunc

	log *zap.SugaredLogger
}

func NewYouTubeDownloader(history yd.HistoryRepository) *YouTubeDownloader {
	return &YouTubeDownloader{
		history: history,
		active:  make(map[string]context.CancelFunc),
		log:     zap.S().Named("downloader"),
	}
}

func playlistURL(playlistID string) string {
	return fmt.Sprintf("https://www.youtube.com/playlist?list=%s", playlistID)
}

// FetchMetadata returns playlist metadata. The minimal flag keeps only what a
// flat listing provides (ids and titles), skipping anything that would need
// extra round trips.
func (d *YouTubeDownloader) FetchMetadata(ctx context.Context, playlistID string, minimal bool) (*yd.PlaylistInfo, error) {
	playlist, err := d.client.GetPlaylistContext(ctx, playlistURL(playlistID))
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist info: %w", err)
	}
	info := &yd.PlaylistInfo{
		ID:          playlist.ID,
		Title:       playlist.Title,
		URL:         playlistURL(playlistID),
		TotalTracks: len(playlist.Videos),
	}
	if !minimal {
		info.Entries = make([]yd.TrackInfo, 0, len(playlist.Videos))
		for _, entry := range playlist.Videos {
			info.Entries = append(info.Entries, yd.TrackInfo{ID: entry.ID, Title: entry.Title})
		}
	}
	return info, nil
}

// Download transfers the whole playlist, retrying up to config.RetryCount
// attempts with a fixed wait between them. It blocks until the playlist is
// done, an attempt budget is exhausted, or the context is cancelled.
// Cancellation is returned as the context's error, never recorded as a
// failure.
func (d *YouTubeDownloader) Download(ctx context.Context, playlistID string, config yd.DownloadConfig, listener yd.ProgressListener) error {
	if listener == nil {
		listener = yd.NilListener{}
	}
	log := d.log.With("playlist_id", playlistID)

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.active[playlistID] = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.active, playlistID)
		d.mu.Unlock()
	}()

	attempts := config.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var title string
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := d.waitWhilePaused(ctx, playlistID, listener); err != nil {
			return err
		}

		info, err := d.downloadOnce(ctx, playlistID, config, listener)
		if info != nil {
			title = info.Title
		}
		if err == nil {
			d.saveHistory(playlistID, title, string(yd.DownloadStatusCompleted), config.DownloadDirectory)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		log.Errorw("attempt failed", "attempt", attempt, "error", err)
		if attempt < attempts {
			select {
			case <-time.After(retryWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	d.saveHistory(playlistID, title, string(yd.DownloadStatusFailed), config.DownloadDirectory)
	return lastErr
}

// Pause suspends all workers at their next cooperative pause point.
func (d *YouTubeDownloader) Pause() {
	if d.paused.Set() {
		d.log.Info("downloads paused")
	}
}

// Resume releases paused workers.
func (d *YouTubeDownloader) Resume() {
	if d.paused.Clear() {
		d.log.Info("downloads resumed")
	}
}

// ForceStop cancels every in-flight download, best-effort. Workers unwind via
// their context, so completion is not synchronous with this call.
func (d *YouTubeDownloader) ForceStop() {
	d.paused.Clear()
	d.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(d.active))
	for _, cancel := range d.active {
		cancels = append(cancels, cancel)
	}
	d.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	d.log.Infow("force stop requested", "active", len(cancels))
}

func (d *YouTubeDownloader) waitWhilePaused(ctx context.Context, playlistID string, listener yd.ProgressListener) error {
	notified := false
	for d.paused.IsSet() {
		if !notified {
			notified = true
			listener.OnProgress(yd.DownloadProgress{
				PlaylistID: playlistID,
				Status:     yd.DownloadStatusPaused,
				Message:    "Paused",
			})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePoll):
		}
	}
	return nil
}

func (d *YouTubeDownloader) downloadOnce(ctx context.Context, playlistID string, config yd.DownloadConfig, listener yd.ProgressListener) (*yd.PlaylistInfo, error) {
	playlist, err := d.client.GetPlaylistContext(ctx, playlistURL(playlistID))
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	info := &yd.PlaylistInfo{
		ID:          playlist.ID,
		Title:       playlist.Title,
		URL:         playlistURL(playlistID),
		TotalTracks: len(playlist.Videos),
	}

	naming, err := yd.NewNamingConfig(config.OutputTemplate)
	if err != nil {
		return info, fmt.Errorf("bad output template: %w", err)
	}
	rateLimit, err := yd.ParseBandwidthLimit(config.BandwidthLimit)
	if err != nil {
		return info, err
	}
	targetDir, err := naming.GetTargetPath(config.DownloadDirectory, info)
	if err != nil {
		return info, fmt.Errorf("failed to resolve target path: %w", err)
	}

	total := len(playlist.Videos)
	for i, entry := range playlist.Videos {
		if err := d.waitWhilePaused(ctx, playlistID, listener); err != nil {
			return info, err
		}
		if err := ctx.Err(); err != nil {
			return info, err
		}
		if err := d.downloadTrack(ctx, playlistID, entry, targetDir, config, rateLimit, i, total, listener); err != nil {
			return info, fmt.Errorf("track %q: %w", entry.Title, err)
		}
	}

	listener.OnProgress(yd.DownloadProgress{
		PlaylistID: playlistID,
		Status:     yd.DownloadStatusCompleted,
		Percent:    100,
		Message:    fmt.Sprintf("Downloaded %d tracks to %s", total, targetDir),
	})
	return info, nil
}

func (d *YouTubeDownloader) downloadTrack(ctx context.Context, playlistID string, entry *youtube.PlaylistEntry, targetDir string, config yd.DownloadConfig, rateLimit int64, index, total int, listener yd.ProgressListener) error {
	video, err := d.client.VideoFromPlaylistEntryContext(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to get video info: %w", err)
	}
	format, err := selectFormat(video, config.Quality)
	if err != nil {
		return err
	}
	stream, size, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	started := time.Now()
	builder := yd.NewDownloadBuilder().
		WithContext(ctx).
		WithTargetPrefix(targetDir).
		WithRateLimit(rateLimit).
		WithProgressCallback(func(downloaded, expected int) {
			listener.OnProgress(trackProgress(playlistID, video.Title, index, total, downloaded, expected, started))
		})
	dl, err := builder.Build()
	if err != nil {
		return err
	}
	dl.AddExpectedBytes(int(size))
	return dl.SaveStream(trackFilename(video, format), stream)
}

// trackProgress maps byte progress of one track onto percent progress of the
// whole playlist.
func trackProgress(playlistID, title string, index, total, downloaded, expected int, started time.Time) yd.DownloadProgress {
	trackFraction := 0.0
	if expected > 0 {
		trackFraction = float64(downloaded) / float64(expected)
		if trackFraction > 1 {
			trackFraction = 1
		}
	}
	percent := (float64(index) + trackFraction) / float64(total) * 100

	elapsed := time.Since(started).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(downloaded) / elapsed
	}
	eta := 0
	if speed > 0 && expected > downloaded {
		eta = int(float64(expected-downloaded) / speed)
	}

	return yd.DownloadProgress{
		PlaylistID:  playlistID,
		Status:      yd.DownloadStatusDownloading,
		Percent:     percent,
		Speed:       speed,
		ETA:         eta,
		CurrentFile: title,
		Message:     fmt.Sprintf("Downloading: %s (%d/%d)", title, index+1, total),
	}
}

func selectFormat(video *youtube.Video, quality yd.DownloadQuality) (*youtube.Format, error) {
	var formats youtube.FormatList
	switch quality {
	case yd.QualityAudioOnly:
		formats = video.Formats.Type("audio")
	case yd.Quality1080p:
		formats = video.Formats.Quality("hd1080").WithAudioChannels()
	case yd.Quality720p:
		formats = video.Formats.Quality("hd720").WithAudioChannels()
	case yd.Quality480p:
		formats = video.Formats.Quality("large").WithAudioChannels()
	}
	if len(formats) == 0 {
		formats = video.Formats.WithAudioChannels()
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no usable format for video %s", video.ID)
	}
	return &formats[0], nil
}

func trackFilename(video *youtube.Video, format *youtube.Format) string {
	mimeType := strings.SplitN(format.MimeType, ";", 2)[0]
	parts := strings.SplitN(mimeType, "/", 2)
	ext := "mp4"
	if len(parts) == 2 && parts[1] != "" {
		ext = parts[1]
	}
	return strings.Join([]string{video.Title, video.ID, ext}, ".")
}

func (d *YouTubeDownloader) saveHistory(playlistID, title, status, path string) {
	if d.history == nil {
		return
	}
	if title == "" {
		title = playlistID
	}
	entry := yd.HistoryEntry{
		PlaylistID:    playlistID,
		PlaylistTitle: title,
		Status:        status,
		Timestamp:     time.Now(),
		DownloadPath:  path,
	}
	if err := d.history.Save(entry); err != nil {
		d.log.Errorw("failed to save history", "playlist_id", playlistID, "error", err)
	}
}

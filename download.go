package youtube_downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"
)

// Download tracks the byte-level progress of saving one or more media streams
// under a target prefix. All writes go through the Download so that a single
// progress callback sees every stream of a playlist.
type Download interface {
	// AddDownloadedBytes increases how many bytes have been saved so far.
	AddDownloadedBytes(n int)

	// AddExpectedBytes increases how many bytes are expected in total.
	AddExpectedBytes(n int)

	// Cancel the Download, stopping any in-progress I/O activity.
	Cancel()

	// Context is the cancellable context of this Download.
	Context() context.Context

	CreateFile(filename string) (io.WriteCloser, error)

	// Progress returns the downloaded and expected bytes of the download.
	Progress() (int, int)

	// SaveStream downloads the stream to the named file, calling
	// AddDownloadedBytes as bytes arrive. Cancelling the Download's context
	// interrupts the copy.
	SaveStream(filename string, stream io.Reader) error

	// Write ignores the data but sends the byte count to AddDownloadedBytes,
	// for progress tracking via io.MultiWriter (keep the Download as the last
	// writer so failed writes aren't counted).
	Write(p []byte) (n int, err error)
}

type download struct {
	ctx              context.Context
	cancel           context.CancelFunc
	progressCallback func(downloaded int, expected int)
	targetPrefix     string
	limiter          *rate.Limiter
	expectedBytes    int
	downloadedBytes  int
}

func (d *download) AddDownloadedBytes(n int) {
	d.downloadedBytes += n
	if d.progressCallback != nil {
		d.progressCallback(d.Progress())
	}
}

func (d *download) AddExpectedBytes(n int) {
	d.expectedBytes += n
	if d.progressCallback != nil {
		d.progressCallback(d.Progress())
	}
}

func (d *download) Cancel() {
	d.cancel()
}

func (d *download) Context() context.Context {
	return d.ctx
}

func (d *download) CreateFile(filename string) (io.WriteCloser, error) {
	targetPath := d.targetPath(filename)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0775); err != nil {
		return nil, err
	}
	return os.Create(targetPath)
}

func (d *download) Progress() (int, int) {
	return d.downloadedBytes, d.expectedBytes
}

func (d *download) SaveStream(filename string, stream io.Reader) error {
	f, err := d.CreateFile(filename)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	defer f.Close()

	// Wrapping the stream makes io.Copy return early when the Download is
	// cancelled, even if the underlying reader doesn't know about contexts.
	reader := &readerContext{ctx: d.ctx, r: stream, limiter: d.limiter}
	if _, err = io.Copy(io.MultiWriter(f, d), reader); err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}
	return nil
}

func (d *download) Write(p []byte) (n int, err error) {
	n = len(p)
	d.AddDownloadedBytes(n)
	return n, nil
}

func (d *download) targetPath(filename string) string {
	return filepath.Join(d.targetPrefix, SanitizeFilename(filename))
}

type DownloadBuilder interface {
	Build() (Download, error)
	WithContext(ctx context.Context) DownloadBuilder
	WithProgressCallback(f func(downloaded int, expected int)) DownloadBuilder
	// WithRateLimit caps the stream copy at bytesPerSecond; 0 means
	// unlimited.
	WithRateLimit(bytesPerSecond int64) DownloadBuilder
	WithTargetPrefix(prefix string) DownloadBuilder
}

type downloadBuilder struct {
	ctx              context.Context
	progressCallback func(int, int)
	targetPrefix     string
	rateLimit        int64
}

func NewDownloadBuilder() DownloadBuilder {
	return &downloadBuilder{
		ctx:          context.Background(),
		targetPrefix: ".",
	}
}

func (b *downloadBuilder) Build() (Download, error) {
	d := download{}
	d.ctx, d.cancel = context.WithCancel(b.ctx)
	d.progressCallback = b.progressCallback
	d.targetPrefix = b.targetPrefix
	if b.rateLimit > 0 {
		// Burst must cover io.Copy's buffer or WaitN can never succeed.
		burst := int(b.rateLimit)
		if burst < 64*1024 {
			burst = 64 * 1024
		}
		d.limiter = rate.NewLimiter(rate.Limit(b.rateLimit), burst)
	}
	return &d, nil
}

func (b *downloadBuilder) WithContext(ctx context.Context) DownloadBuilder {
	b.ctx = ctx
	return b
}

func (b *downloadBuilder) WithProgressCallback(f func(int, int)) DownloadBuilder {
	b.progressCallback = f
	return b
}

func (b *downloadBuilder) WithRateLimit(bytesPerSecond int64) DownloadBuilder {
	b.rateLimit = bytesPerSecond
	return b
}

func (b *downloadBuilder) WithTargetPrefix(prefix string) DownloadBuilder {
	b.targetPrefix = prefix
	return b
}

// A context-aware io.Reader wrapper, optionally rate-limited.
type readerContext struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *readerContext) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err = r.r.Read(p)
	if n > 0 && r.limiter != nil {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

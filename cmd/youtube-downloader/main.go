package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	yd "github.com/Firdaussi/youtube-downloader"
	"github.com/Firdaussi/youtube-downloader/async"
	"github.com/Firdaussi/youtube-downloader/internal/cookies"
	"github.com/Firdaussi/youtube-downloader/internal/database"
	"github.com/Firdaussi/youtube-downloader/internal/downloader"
	"github.com/Firdaussi/youtube-downloader/internal/history"
	"github.com/Firdaussi/youtube-downloader/internal/service"
	"github.com/Firdaussi/youtube-downloader/util"
)

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	defaults := yd.DefaultDownloadConfig()

	app := &cli.App{
		Name:      "youtube-downloader",
		Usage:     "bulk-download YouTube playlists",
		ArgsUsage: "PLAYLIST_ID [PLAYLIST_ID...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Value: defaults.DownloadDirectory,
				Usage: "save downloaded playlists under `DIR`",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: defaults.MaxConcurrentDownloads,
				Usage: "number of playlists to download in parallel",
			},
			&cli.StringFlag{
				Name:  "quality",
				Value: string(defaults.Quality),
				Usage: "preferred quality: best, 1080p, 720p, 480p, audio_only",
			},
			&cli.IntFlag{
				Name:  "retries",
				Value: defaults.RetryCount,
				Usage: "per-playlist download attempts",
			},
			&cli.BoolFlag{
				Name:  "auto-retry",
				Value: defaults.AutoRetryFailed,
				Usage: "re-run failed playlists after the batch drains",
			},
			&cli.IntFlag{
				Name:  "retry-cycles",
				Value: defaults.MaxRetryCycles,
				Usage: "bound on auto-retry sweeps, 0 means unbounded",
			},
			&cli.StringFlag{
				Name:  "rate-limit",
				Value: defaults.BandwidthLimit,
				Usage: "per-track bandwidth cap, e.g. 500K or 2M; 0 means unlimited",
			},
			&cli.BoolFlag{
				Name:  "quick",
				Usage: "skip duplicate checks and metadata extras for speed",
			},
			&cli.BoolFlag{
				Name:  "no-dedupe",
				Usage: "don't skip playlists already in the history",
			},
			&cli.StringFlag{
				Name:  "cookie-method",
				Value: defaults.CookieMethod,
				Usage: "cookie source: none, file, or a browser name",
			},
			&cli.StringFlag{
				Name:  "cookie-file",
				Usage: "Netscape-format cookies.txt, used with --cookie-method file",
			},
			&cli.BoolFlag{
				Name:  "skip-validation",
				Usage: "don't validate cookie configuration before starting",
			},
			&cli.StringFlag{
				Name:  "history",
				Value: "bolt",
				Usage: "history backend: bolt, sqlite or none",
			},
			&cli.StringFlag{
				Name:  "history-path",
				Value: "history.db",
				Usage: "path to the history database `FILE`",
			},
			&cli.StringFlag{
				Name:  "output-template",
				Value: defaults.OutputTemplate,
				Usage: "playlist directory name template",
			},
			&cli.DurationFlag{
				Name:  "progress-interval",
				Value: 250 * time.Millisecond,
				Usage: "base interval between progress updates",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one playlist id is required", 1)
			}
			if _, err := yd.ParseBandwidthLimit(c.String("rate-limit")); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			var playlistIDs []string
			for _, arg := range c.Args().Slice() {
				id, err := util.ExtractPlaylistID(arg)
				if err != nil {
					return cli.Exit(fmt.Sprintf("%q: %v", arg, err), 1)
				}
				playlistIDs = append(playlistIDs, id)
			}
			config := yd.DownloadConfig{
				DownloadDirectory:      c.String("target"),
				MaxConcurrentDownloads: c.Int("concurrency"),
				Quality:                yd.DownloadQuality(c.String("quality")),
				RetryCount:             c.Int("retries"),
				AutoRetryFailed:        c.Bool("auto-retry"),
				MaxRetryCycles:         c.Int("retry-cycles"),
				CheckDuplicates:        !c.Bool("no-dedupe"),
				BandwidthLimit:         c.String("rate-limit"),
				CookieMethod:           c.String("cookie-method"),
				CookieFile:             c.String("cookie-file"),
				SkipValidation:         c.Bool("skip-validation"),
				QuickMode:              c.Bool("quick"),
				OutputTemplate:         c.String("output-template"),
			}
			return run(ctx, playlistIDs, config, c.String("history"), c.String("history-path"), c.Duration("progress-interval"))
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		err = <-result
		if err != nil {
			logger.Fatal(err.Error())
		}
	}
}

func openHistory(backend string, path string) (yd.HistoryRepository, func(), error) {
	switch backend {
	case "bolt":
		store, err := history.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "sqlite":
		db, err := database.Open(path)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	case "none":
		return history.NilHistory{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

func run(ctx context.Context, playlistIDs []string, config yd.DownloadConfig, historyBackend string, historyPath string, progressInterval time.Duration) error {
	logger := zap.S()
	logger.Infof("Downloading %d playlist(s) into %s", len(playlistIDs), config.DownloadDirectory)

	repo, closeHistory, err := openHistory(historyBackend, historyPath)
	if err != nil {
		return fmt.Errorf("can't open history: %w", err)
	}
	defer closeHistory()

	svc := service.New(service.Config{
		Downloader:       downloader.NewYouTubeDownloader(repo),
		History:          repo,
		Validator:        cookies.NewYouTubeCookieValidator(),
		ProgressInterval: progressInterval,
	})
	defer svc.Close()

	events, err := svc.Subscribe()
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions64(100,
		progressbar.OptionSetDescription("waiting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	failed := 0
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var lastStatus service.Status
		for event := range events.Receive() {
			logger.Debugf("event: %T: %v", event, event.PlaylistID())
			switch e := event.(type) {
			case service.DownloadStarted:
				logger.Infof("Started %s", e.PlaylistID())
			case service.DownloadProgressed:
				bar.Describe(fmt.Sprintf("%s %s", e.PlaylistID(), e.Progress.Message))
				_ = bar.Set64(int64(e.Progress.Percent))
			case service.DownloadCompleted:
				if e.Duplicate {
					logger.Infof("Skipped %s (already downloaded)", e.PlaylistID())
				} else {
					logger.Infof("Completed %s", e.PlaylistID())
				}
			case service.DownloadFailed:
				logger.Errorf("Failed %s: %s", e.PlaylistID(), e.Message)
			case service.RetrySweep:
				logger.Infof("Retry sweep %d: requeued %d playlist(s)", e.Cycle, e.Requeued)
			case service.StatusChanged:
				changes, err := diff.Diff(lastStatus, e.Status)
				if err != nil {
					logger.Errorf("failed to diff old and new status: %v", err)
				} else {
					for _, change := range changes {
						logger.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
					}
				}
				lastStatus = e.Status
			case service.RunCompleted:
				_ = bar.Finish()
				logger.Infof("All downloads finished: %d completed, %d failed", e.Completed, e.Failed)
				failed = e.Failed
				close(done)
				return
			case service.RunStopped:
				_ = bar.Finish()
				logger.Info("Downloads stopped")
				close(done)
				return
			}
		}
	}()

	if !svc.StartDownloads(playlistIDs, config, nil) {
		return fmt.Errorf("refusing to start downloads, check cookie configuration")
	}

	select {
	case <-done:
	case <-ctx.Done():
		logger.Info("Exiting gracefully...")
		svc.StopDownloads()
		<-done
	}
	wg.Wait()

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d playlist(s) failed to download", failed), 1)
	}
	return nil
}

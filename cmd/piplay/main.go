package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/piplay/config"
	"github.com/bnema/piplay/internal/adapter/converter/ffmpeg"
	HTTPAdapter "github.com/bnema/piplay/internal/adapter/http"
	sqlitestore "github.com/bnema/piplay/internal/adapter/storage/sqlite"
	"github.com/bnema/piplay/internal/adapter/ytdlp"
	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/protocol"
	"github.com/bnema/piplay/internal/retry"
	"github.com/bnema/piplay/internal/service"
	"github.com/bnema/piplay/internal/trickplay"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	uploadIdleLimit = 30 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}
	logger.SetDebug(cfg.Debug)

	if err := run(cfg); err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info.Printf("starting piplay %s on %s, media in %s", version, cfg.Addr(), cfg.MediaDir)

	for _, dir := range []string{cfg.DataDir, cfg.MediaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	hub := service.NewHub(cfg.PeerBacklog)
	library, err := service.NewLibrary(ctx, store, service.HubNotifier{Hub: hub})
	if err != nil {
		return err
	}
	settings, err := service.NewSettings(ctx, store, hub, cfg.CookieFile)
	if err != nil {
		return err
	}

	ytdlpClient := ytdlp.NewClient(cfg.CookieFile)
	converter := ffmpeg.NewConverter()

	downloads := service.NewQueue[int64]("download")
	indexes := service.NewQueue[int64]("trickplay")

	downloader := service.NewDownloader(library, downloads, indexes, ytdlpClient, ytdlpClient, settings, service.DownloaderConfig{
		MediaDir: cfg.MediaDir,
		Attempts: cfg.DownloadAttempts,
		Backoff:  retry.NewBackoff(5*time.Second, 2*time.Minute, 2),
	})
	generator := service.NewTrickplayGenerator(library, indexes, converter, ytdlpClient, service.TrickplayConfig{
		MediaDir: cfg.MediaDir,
		Source:   service.TrickplaySource(cfg.TrickplaySource),
		Interval: cfg.TrickplayInterval.Seconds(),
		Grid: trickplay.Grid{
			TileWidth:  cfg.TileWidth,
			TileHeight: cfg.TileHeight,
			Rows:       cfg.GridRows,
			Columns:    cfg.GridColumns,
		},
		BIF: cfg.TrickplayBIF,
	})
	videos := service.NewVideoService(library, hub, ytdlpClient, downloads, indexes, downloader, generator, cfg.MediaDir)
	reconciler := service.NewReconciler(library, ytdlpClient, ytdlpClient, settings, downloads, videos, service.ReconcilerConfig{
		MediaDir:        cfg.MediaDir,
		PollInterval:    cfg.PollInterval,
		OrphanRetention: cfg.OrphanRetention,
	})
	uploads := service.NewUploadService(library, hub, converter, indexes, cfg.MediaDir)
	player := service.NewPlayer(library, hub)

	settings.OnChange(func(key, _ string) {
		if key == domain.SettingPlaylistURL {
			reconciler.Trigger()
		}
	})

	videos.Recover()

	server := HTTPAdapter.NewServer(HTTPAdapter.Services{
		Library:   library,
		Hub:       hub,
		Settings:  settings,
		Player:    player,
		Videos:    videos,
		Uploads:   uploads,
		Refresher: reconciler,
		Versions:  protocol.Versions{Server: version, YtDlp: ytdlpClient.Version(ctx)},
	}, cfg.MediaDir)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// websocket handlers watch this context and hang up on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return downloader.Run(gctx) })
	g.Go(func() error { return generator.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				uploads.Abandon(uploadIdleLimit)
			}
		}
	})
	g.Go(func() error {
		logger.Info.Printf("server listening on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown error: %v", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info.Printf("shutdown complete")
	return err
}

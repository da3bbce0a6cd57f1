// gallerysync mirrors a category/project/image tree from Google Drive, S3
// or a local directory into a static site and writes its projects
// manifest.
//
// Features:
// - Incremental sync (size + MD5 comparison, atomic downloads)
// - Orphan removal and empty directory pruning
// - Optional JPEG previews with EXIF orientation
// - One-shot or daemon mode with health, metrics and manifest endpoints
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/config"
	"github.com/fruitsalade/gallerysync/internal/fetch"
	"github.com/fruitsalade/gallerysync/internal/logging"
	"github.com/fruitsalade/gallerysync/internal/manifest"
	"github.com/fruitsalade/gallerysync/internal/metrics"
	"github.com/fruitsalade/gallerysync/internal/preview"
	"github.com/fruitsalade/gallerysync/internal/remote"
	"github.com/fruitsalade/gallerysync/internal/remote/drive"
	"github.com/fruitsalade/gallerysync/internal/remote/local"
	s3source "github.com/fruitsalade/gallerysync/internal/remote/s3"
	"github.com/fruitsalade/gallerysync/internal/retry"
	"github.com/fruitsalade/gallerysync/internal/status"
	"github.com/fruitsalade/gallerysync/internal/syncer"
	"github.com/fruitsalade/gallerysync/internal/watch"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file (environment variables take precedence)")
	dryRun := flag.Bool("dry-run", false, "Report what would change without downloading, deleting or writing")
	check := flag.Bool("check", false, "Verify that every image in the manifest exists locally, then exit")
	once := flag.Bool("once", false, "Run a single pass even if SYNC_INTERVAL is set")
	verbosity := flag.Int("v", -1, "Verbosity override: 0=warn, 1=info, 2=debug")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	level := cfg.LogLevel
	switch *verbosity {
	case 0:
		level = "warn"
	case 1:
		level = "info"
	case 2:
		level = "debug"
	}
	if err := logging.Init(logging.Config{
		Level:      level,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(2)
	}
	defer logging.Sync()

	fs := afero.NewOsFs()

	if *check {
		code := runCheck(fs, cfg)
		logging.Sync()
		os.Exit(code)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := newSource(ctx, cfg)
	if err != nil {
		logging.Fatal("remote source init failed", zap.Error(err))
	}

	runner, err := newRunner(source, fs, cfg)
	if err != nil {
		logging.Fatal("sync init failed", zap.Error(err))
	}

	logging.Info("gallerysync starting",
		zap.String("source", source.Type()),
		zap.String("mirror", cfg.MirrorRoot),
		zap.String("manifest", cfg.ManifestPath),
		zap.Duration("interval", cfg.Interval),
		zap.Bool("dry_run", cfg.DryRun))

	if cfg.Interval <= 0 || *once {
		_, err := runner.Run(ctx)
		writeTextfile(cfg)
		if err != nil {
			logging.Sync()
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, runner, fs, cfg)
}

func newSource(ctx context.Context, cfg *config.Config) (remote.Source, error) {
	switch cfg.SourceBackend {
	case config.SourceS3:
		return s3source.New(ctx, s3source.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
	case config.SourceLocal:
		return local.New(afero.NewOsFs(), cfg.LocalSourcePath), nil
	case config.SourceDrive:
		return drive.New(drive.Config{
			BaseURL:   cfg.DriveAPIURL,
			APIKey:    cfg.GoogleAPIKey,
			UserAgent: cfg.DriveUserAgent,

			RequestsPerMinute: cfg.DriveRPM,
		}), nil
	}
	return nil, fmt.Errorf("unknown source backend %q", cfg.SourceBackend)
}

func newRunner(source remote.Source, fs afero.Fs, cfg *config.Config) (*syncer.Runner, error) {
	order, err := manifest.ParseOrder(cfg.SortOrder)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(source, fs, fetch.Config{
		Timeout:     cfg.FetchTimeout,
		RetryConfig: retry.DefaultConfig(),
	})

	var previews *preview.Generator
	if cfg.PreviewRoot != "" {
		previews = preview.New(fs, preview.Config{
			MirrorRoot: cfg.MirrorRoot,
			Root:       cfg.PreviewRoot,
			MaxSize:    cfg.PreviewMaxSize,
		})
	}

	return syncer.NewRunner(source, fs, fetcher, previews, syncer.RunOptions{
		Options: syncer.Options{
			Root:      cfg.MirrorRoot,
			RootID:    cfg.RootID(),
			WebPrefix: cfg.WebPrefix,
			Order:     order,
			Workers:   cfg.Workers,
			DryRun:    cfg.DryRun,
		},
		ManifestPath: cfg.ManifestPath,
	}), nil
}

// runDaemon runs passes on cfg.Interval until ctx is cancelled. Passes
// never overlap: the next tick is only consumed after a pass returns. With
// a watched local source, changes below it trigger an early pass.
func runDaemon(ctx context.Context, runner *syncer.Runner, fs afero.Fs, cfg *config.Config) {
	statusSrv := status.NewServer(fs, cfg.ManifestPath)

	var httpServer *http.Server
	if cfg.MetricsAddr != "" {
		httpServer = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      statusSrv.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logging.Info("status server listening", zap.String("addr", cfg.MetricsAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("status server error", zap.Error(err))
			}
		}()
	}

	pass := func() {
		res, err := runner.Run(ctx)
		statusSrv.Record(res, err)
		writeTextfile(cfg)
	}

	changes := startWatcher(ctx, cfg)

	pass()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("shutting down")
			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpServer.Shutdown(shutdownCtx)
				cancel()
			}
			return
		case <-ticker.C:
			pass()
		case <-changes:
			logging.Info("source changed, starting pass")
			pass()
			ticker.Reset(cfg.Interval)
		}
	}
}

// startWatcher returns a channel of source change signals, or nil when
// watching is off or unavailable. A nil channel never fires.
func startWatcher(ctx context.Context, cfg *config.Config) <-chan struct{} {
	if !cfg.WatchSource {
		return nil
	}
	if cfg.SourceBackend != config.SourceLocal {
		logging.Warn("WATCH_SOURCE only applies to the local source", zap.String("source", cfg.SourceBackend))
		return nil
	}
	w, err := watch.New(cfg.LocalSourcePath, cfg.WatchDebounce)
	if err != nil {
		logging.Warn("cannot watch source, relying on interval", zap.Error(err))
		return nil
	}
	go w.Run(ctx)
	logging.Info("watching source", zap.String("path", cfg.LocalSourcePath))
	return w.Changes()
}

func runCheck(fs afero.Fs, cfg *config.Config) int {
	m, err := manifest.Load(fs, cfg.ManifestPath)
	if err != nil {
		logging.Error("cannot load manifest", zap.Error(err))
		return 1
	}
	missing := manifest.Missing(fs, m, cfg.WebPrefix, cfg.MirrorRoot)
	for _, web := range missing {
		logging.Warn("missing image", zap.String("path", web))
	}
	logging.Info("manifest check complete",
		zap.Int("projects", len(m)),
		zap.Int("images", m.ImageCount()),
		zap.Int("missing", len(missing)))
	if len(missing) > 0 {
		return 1
	}
	return 0
}

func writeTextfile(cfg *config.Config) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logging.Warn("cannot write metrics textfile", zap.String("path", cfg.MetricsTextfile), zap.Error(err))
	}
}

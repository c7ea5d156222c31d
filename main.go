// go_transcribe: speech-to-text job service.
//
// Accepts a media URL (direct file or a video page resolved by yt-dlp) or an
// uploaded file, transcribes it on a bounded worker pool, stores the transcript
// under OUTPUT_DIR and commits a record to Postgres or SQLite. The same
// pipeline is exposed as MCP tools at /mcp.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
	"github.com/anatolykoptev/go_transcribe/internal/engine/media"
	"github.com/anatolykoptev/go_transcribe/internal/engine/pipeline"
	"github.com/anatolykoptev/go_transcribe/internal/engine/store"
	"github.com/anatolykoptev/go_transcribe/internal/engine/transcribe"
	"github.com/anatolykoptev/go_transcribe/internal/jobserver"
)

var version = "dev"

func main() {
	cfg, err := engine.LoadConfig(env.Str("CONFIG_FILE", ""))
	if err != nil {
		slog.Error("config invalid", slog.Any("error", err))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg engine.Config, logger *slog.Logger) error {
	logger.Info("starting go_transcribe",
		slog.String("version", version),
		slog.String("addr", cfg.ListenAddr),
		slog.String("engine", cfg.Engine),
		slog.Int("workers", cfg.Workers),
	)

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	cache := engine.NewTieredCache(cfg.RedisURL, cfg.CacheTTL, cfg.CacheMaxEntries, 5*time.Minute)
	defer cache.Close()

	factory, err := transcribe.NewFactory(transcribe.Options{
		Kind:       cfg.Engine,
		WhisperBin: cfg.WhisperBin,
		Model:      engineModel(cfg),
		Language:   cfg.WhisperLanguage,
		RemoteURL:  cfg.RemoteSTTURL,
		APIKey:     cfg.RemoteSTTAPIKey,
	}, logger)
	if err != nil {
		return err
	}
	executor, err := transcribe.NewExecutor(factory, transcribe.ExecutorOptions{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Timeout:   cfg.TranscribeTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer executor.Close()

	extractor := media.NewExtractor(cfg.YtDlpBin, cfg.AudioCodec, cfg.ExtractTimeout, nil, logger)
	svc := pipeline.NewService(pipeline.Deps{
		Resolver: media.NewResolver(cfg.UploadDir, cfg.AudioCodec),
		Fetcher: media.NewFetcher(extractor, media.FetcherOptions{
			MaxBytes: cfg.MaxDownloadBytes,
			Timeout:  cfg.FetchTimeout,
		}, logger),
		Receiver:    media.NewReceiver(cfg.UploadDir, cfg.MaxUploadBytes, logger),
		Transcriber: executor,
		Artifacts:   store.NewArtifacts(db, cfg.OutputDir, cache, logger),
	}, logger)

	handler, err := jobserver.NewHandler(svc, jobserver.Options{
		Name:           "go_transcribe",
		Version:        version,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Ready:          db.Ping,
	}, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	if err := serve(ctx, ln, handler, cfg.ShutdownTimeout, logger); err != nil {
		return err
	}
	logger.Info("stopped", slog.Int("active_jobs", svc.ActiveJobs()))
	engine.LogMetrics(logger)
	return nil
}

// openStore connects the record store and checks its schema. The server only
// migrates when AUTO_MIGRATE is set; otherwise pending migrations are fatal.
func openStore(ctx context.Context, cfg engine.Config, logger *slog.Logger) (store.Store, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.AutoMigrate {
		if _, err := store.Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	}
	pending, err := store.Pending(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("check migrations: %w", err)
	}
	if len(pending) > 0 {
		db.Close()
		return nil, fmt.Errorf("%d pending migrations (%s): run cmd/migrate or set AUTO_MIGRATE=true",
			len(pending), strings.Join(pending, ", "))
	}
	return db, nil
}

// serve serves handler on ln until ctx is done, then drains in-flight requests for
// up to shutdownTimeout. Requests still running after that have their
// contexts cancelled, which kills any extraction or inference they started.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	reqCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.Duration("timeout", shutdownTimeout))
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logger.Warn("shutdown deadline passed, cancelling in-flight requests")
		cancelRequests()
		if err := srv.Close(); err != nil {
			logger.Warn("close server", slog.Any("error", err))
		}
		return nil
	})
	return g.Wait()
}

func engineModel(cfg engine.Config) string {
	if cfg.Engine == engine.EngineRemote {
		return cfg.RemoteSTTModel
	}
	return cfg.WhisperModel
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abdul-hamid-achik/safe/internal/albums"
	"github.com/abdul-hamid-achik/safe/internal/api"
	"github.com/abdul-hamid-achik/safe/internal/auth"
	"github.com/abdul-hamid-achik/safe/internal/cache"
	"github.com/abdul-hamid-achik/safe/internal/cdn"
	"github.com/abdul-hamid-achik/safe/internal/chunks"
	"github.com/abdul-hamid-achik/safe/internal/config"
	"github.com/abdul-hamid-achik/safe/internal/db"
	"github.com/abdul-hamid-achik/safe/internal/health"
	"github.com/abdul-hamid-achik/safe/internal/ids"
	"github.com/abdul-hamid-achik/safe/internal/ingest"
	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/metrics"
	"github.com/abdul-hamid-achik/safe/internal/paths"
	"github.com/abdul-hamid-achik/safe/internal/retention"
	"github.com/abdul-hamid-achik/safe/internal/scanner"
	"github.com/abdul-hamid-achik/safe/internal/thumbs"
	"github.com/abdul-hamid-achik/safe/internal/tracing"
	"github.com/abdul-hamid-achik/safe/internal/uploads"
	"github.com/abdul-hamid-achik/safe/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Default()
	log.Info("configuration loaded")

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "safe-api",
		ServiceVersion: config.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingOn,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(ctx) }()

	p, err := paths.New(cfg.UploadsRoot)
	if err != nil {
		return err
	}
	log.Info("uploads root ready", "root", p.Root())

	sdb, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = sdb.Close() }()
	queries := db.New(sdb)
	log.Info("database connected", "path", cfg.DBPath)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opt)
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, auth limiter falls back to memory", "error", err)
		}
	}

	authService := &auth.Service{
		Queries:        queries,
		AccountsOpen:   cfg.EnableUserAccounts,
		FailureLimiter: auth.NewFailureLimiter(redisClient),
	}
	if err := authService.EnsureRoot(ctx); err != nil {
		return err
	}

	resolver := retention.NewResolver([]retention.GroupPeriods{
		{Name: "user", Rank: auth.RankUser, Periods: cfg.TemporaryUploadAges},
		{Name: "moderator", Rank: auth.RankModerator, Periods: []float64{0}},
		{Name: "admin", Rank: auth.RankAdmin},
		{Name: "superadmin", Rank: auth.RankSuperadmin},
	})

	idStore := ids.NewStore(cfg.MaxTries)
	scan := scanner.New(cfg.ClamdAddr, cfg.ScanBypassRank, cfg.ScanWhitelistExts, cfg.ScanMaxSize)
	if scan.Enabled() {
		if err := scan.Ping(ctx); err != nil {
			log.Warn("virus scanner unreachable at startup", "addr", cfg.ClamdAddr, "error", err)
		} else {
			log.Info("virus scanner connected", "addr", cfg.ClamdAddr)
		}
	}

	coordinator := chunks.NewCoordinator(p, cfg.ChunkTimeout, cfg.MaxChunks, cfg.MaxSize, cfg.HashFiles)
	defer coordinator.CleanupAll()

	thumbGen := thumbs.NewGenerator(p, cfg.ThumbExtensions, cfg.ThumbPlaceholder)
	thumbPool := worker.NewPool(thumbGen, 2, 256)
	defer thumbPool.Shutdown(ctx)

	dispositionCache := cache.New(1024, cache.LastGetTime)
	renderCache := cache.New(256, cache.GetsCount)
	statsCache := cache.NewStats()

	writer := &db.Writer{
		DB:           sdb,
		Queries:      queries,
		StoreIP:      cfg.StoreIP,
		RemoveStaged: p.Remove,
		OnAlbumsTouched: func(albumIDs []int64) {
			for _, id := range albumIDs {
				renderCache.Delete(fmt.Sprintf("%d", id))
			}
		},
		OnInsert: func(f db.File) {
			statsCache.Invalidate("uploads")
			if thumbGen.CanThumb(ingest.Extname(f.Name)) {
				thumbPool.Enqueue(f.Name)
			}
		},
	}

	engine := &ingest.Engine{
		Paths:              p,
		IDs:                idStore,
		Queries:            queries,
		Writer:             writer,
		Scanner:            scan,
		Chunks:             coordinator,
		Retention:          resolver,
		MaxSize:            cfg.MaxSize,
		FilterEmptyFile:    cfg.FilterEmptyFile,
		HashFiles:          cfg.HashFiles,
		StripAllowed:       cfg.StripTagsAllowed,
		Filter:             ingest.NewFilter(cfg.ExtensionFilterMode, cfg.ExtensionFilter),
		URLFilter:          ingest.NewFilter(cfg.URLFilterMode, cfg.URLExtensionFilter),
		URLMaxSize:         cfg.URLMaxSize,
		URLFetchTimeout:    cfg.URLFetchTimeout,
		URLProxy:           cfg.URLProxy,
		MaxFilesPerUpload:  cfg.MaxFilesPerUpload,
		MaxFieldsPerUpload: cfg.MaxFieldsPerUpload,
		IDLength:           cfg.FileIDLength,
		IDLengthMin:        cfg.FileIDLengthMin,
		IDLengthMax:        cfg.FileIDLengthMax,
		DeriveMissingType:  cfg.DeriveMissingType,
	}

	purger := cdn.NewPurger(cdn.Config{
		ZoneID:         cfg.CFZoneID,
		APIToken:       cfg.CFAPIToken,
		UserServiceKey: cfg.CFUserServiceKey,
		APIKey:         cfg.CFAPIKey,
		Email:          cfg.CFEmail,
		BaseURL:        cfg.Domain,
	})
	defer purger.Shutdown()

	deleter := &uploads.Deleter{
		Queries:          queries,
		Paths:            p,
		Thumbs:           thumbGen,
		Purger:           purger,
		DispositionCache: dispositionCache,
		AlbumRenderCache: renderCache,
	}

	albumService := &albums.Service{
		Queries:     queries,
		IDs:         idStore,
		Paths:       p,
		Deleter:     deleter,
		RenderCache: renderCache,
		IdentLength: cfg.AlbumIDLength,
	}
	zipper := &albums.Zipper{
		Queries:      queries,
		Paths:        p,
		MaxTotalSize: cfg.ZipMaxTotalSize,
	}

	sweeper := &worker.Sweeper{
		Queries:  queries,
		Deleter:  deleter,
		Interval: cfg.SweepInterval,
	}
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	metrics.SetAppInfo(config.Version, cfg.Environment)

	router := api.NewRouter(&api.Config{
		Cfg:              cfg,
		Queries:          queries,
		Paths:            p,
		Engine:           engine,
		Deleter:          deleter,
		Albums:           albumService,
		Zipper:           zipper,
		Auth:             authService,
		Retention:        resolver,
		Health:           health.NewChecker(sdb, p.Root()),
		DispositionCache: dispositionCache,
		Private:          cfg.Private,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

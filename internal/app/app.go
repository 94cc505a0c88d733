package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/levelmind/levelmind-go/internal/catalog"
	"github.com/levelmind/levelmind-go/internal/config"
	"github.com/levelmind/levelmind-go/internal/download"
	"github.com/levelmind/levelmind-go/internal/library"
	"github.com/levelmind/levelmind-go/internal/metadata"
	"github.com/levelmind/levelmind-go/internal/monitoring"
	"github.com/levelmind/levelmind-go/internal/network"
	"github.com/levelmind/levelmind-go/internal/relay"
	"github.com/levelmind/levelmind-go/internal/server"
	"github.com/levelmind/levelmind-go/internal/storage"
	"github.com/levelmind/levelmind-go/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App owns every long-lived component of the core
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *sql.DB
	Registry   *store.Registry
	Jobs       *store.JobStore
	Storage    storage.Store
	Catalog    *catalog.Client
	Notifier   *download.ProgressNotifier
	Downloader *download.Downloader
	Scheduler  *download.Scheduler
	Library    *library.Service
	Health     *monitoring.HealthChecker

	version  string
	cancel   context.CancelFunc
	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New opens the database and storage and wires the components together.
// Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := store.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	media, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open media storage: %w", err)
	}

	registry := store.NewRegistry(db, logger)
	jobs := store.NewJobStore(db)

	catalogClient := catalog.NewClient(catalog.Options{
		BaseURL:   cfg.Catalog.BaseURL,
		Timeout:   cfg.Catalog.TimeoutDuration(),
		RateLimit: cfg.Catalog.RateLimit,
		Logger:    logger,
	})

	notifier := download.NewProgressNotifier()

	var lookup download.TrackLookup
	if cfg.Download.LookupMetadata {
		lookup = catalogClient
	}

	downloader := download.NewDownloader(download.Options{
		HTTPClient:  network.NewDownloadClient(cfg.Download.ConnectTimeoutDuration(), cfg.Download.ReadTimeoutDuration()),
		ReadTimeout: cfg.Download.ReadTimeoutDuration(),
		Storage:     media,
		Registry:    registry,
		Catalog:     lookup,
		Tags:        metadata.NewManager(),
		EmbedTags:   cfg.Download.EmbedTags,
		Notifier:    notifier,
		Logger:      logger,
	})

	scheduler := download.NewScheduler(downloader, jobs, notifier, cfg.Download.ConcurrentDownloads, logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Registry:   registry,
		Jobs:       jobs,
		Storage:    media,
		Catalog:    catalogClient,
		Notifier:   notifier,
		Downloader: downloader,
		Scheduler:  scheduler,
		Library:    library.NewService(catalogClient, scheduler, registry, media, logger),
		Health:     monitoring.NewHealthChecker(version, db, media),
		version:    version,
	}, nil
}

// Start runs the notifier and the scheduler. Interrupted jobs resume here.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("app already started")
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.Notifier.Start(ctx)

	if err := a.Scheduler.Start(ctx); err != nil {
		a.cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.started = true
	a.Logger.Info("levelmind core started", zap.String("version", a.version))
	return nil
}

// Serve runs the HTTP server, an initial catalog refresh and, when
// enabled, the Redis relay. It returns when ctx is cancelled or a
// component fails.
func (a *App) Serve(ctx context.Context) error {
	var r *relay.Relay
	if a.Config.Redis.Enabled {
		client, err := relay.Connect(ctx, a.Config.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		r = relay.New(client, a.Config.Redis.ChannelPrefix, a.Logger)
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := server.New(server.Options{
		Addr:      a.Config.Server.Addr,
		Library:   a.Library,
		Scheduler: a.Scheduler,
		Notifier:  a.Notifier,
		Health:    a.Health,
		Logger:    a.Logger,
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})

	g.Go(func() error {
		// A failed fetch leaves the library disconnected but keeps serving
		a.Library.Refresh(ctx)
		return nil
	})

	if r != nil {
		g.Go(func() error {
			return r.Run(ctx, a.Registry, a.Notifier)
		})
	}

	return g.Wait()
}

// Close stops background work and releases the database. It is safe to
// call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return nil
	}
	a.shutdown = true

	if a.started {
		a.Scheduler.Stop()
		a.cancel()
		<-a.Notifier.Done()
	}
	a.Registry.Close()

	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	a.Logger.Info("levelmind core stopped")
	return nil
}

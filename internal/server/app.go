// Package server assembles the pipeline's components from configuration and
// exposes the operations the CLI runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-outreach-sync/internal/api"
	"github.com/JakeFAU/creator-outreach-sync/internal/blocklist"
	"github.com/JakeFAU/creator-outreach-sync/internal/clock/system"
	"github.com/JakeFAU/creator-outreach-sync/internal/config"
	"github.com/JakeFAU/creator-outreach-sync/internal/credentials"
	"github.com/JakeFAU/creator-outreach-sync/internal/dispatcher"
	"github.com/JakeFAU/creator-outreach-sync/internal/extractor"
	collyfetcher "github.com/JakeFAU/creator-outreach-sync/internal/fetcher/colly"
	"github.com/JakeFAU/creator-outreach-sync/internal/firecrawl"
	"github.com/JakeFAU/creator-outreach-sync/internal/hash/sha256"
	"github.com/JakeFAU/creator-outreach-sync/internal/id/uuid"
	"github.com/JakeFAU/creator-outreach-sync/internal/merger"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	"github.com/JakeFAU/creator-outreach-sync/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/creator-outreach-sync/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/creator-outreach-sync/internal/publisher/pubsub"
	"github.com/JakeFAU/creator-outreach-sync/internal/report"
	"github.com/JakeFAU/creator-outreach-sync/internal/selector"
	"github.com/JakeFAU/creator-outreach-sync/internal/snapshot"
	"github.com/JakeFAU/creator-outreach-sync/internal/state"
	gcsstorage "github.com/JakeFAU/creator-outreach-sync/internal/storage/gcs"
	localstorage "github.com/JakeFAU/creator-outreach-sync/internal/storage/local"
	memorystorage "github.com/JakeFAU/creator-outreach-sync/internal/storage/memory"
	pgstore "github.com/JakeFAU/creator-outreach-sync/internal/storage/postgres"
)

// Store is every persistence interface the pipeline uses.
type Store interface {
	outreach.CandidateSource
	outreach.CredentialStore
	outreach.BlocklistStore
	outreach.OutreachStore
	outreach.SnapshotStore
	outreach.StateStore
}

// Overrides replace infrastructure normally built from config. Zero values
// mean "build from config".
type Overrides struct {
	Store     Store
	Client    outreach.ExtractionClient
	Blobs     outreach.BlobStore
	Publisher outreach.Publisher
	Clock     outreach.Clock
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store  Store
	pg     *pgstore.Store
	clock  outreach.Clock
	hasher *sha256.Hasher

	storageClient   *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher

	blocklist  *blocklist.Blocklist
	pool       *credentials.Pool
	selector   *selector.Selector
	merger     *merger.Merger
	dispatcher *dispatcher.Dispatcher
	tracker    *state.Tracker
	reporter   *report.Reporter
	snapshots  *snapshot.Loader
	apiServer  *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, ov Overrides) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  ov.Clock,
		hasher: sha256.New(),
	}
	if app.clock == nil {
		app.clock = system.New()
	}
	logger.Info("building application",
		zap.String("extractor_backend", cfg.Extractor.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("dry_run", cfg.Pipeline.DryRun),
	)

	app.store = ov.Store
	if app.store == nil {
		if err := app.setupDatabase(ctx); err != nil {
			return nil, err
		}
	}

	blobs := ov.Blobs
	if blobs == nil {
		var err error
		if blobs, err = app.setupStorage(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}
	publisher := ov.Publisher
	if publisher == nil {
		var err error
		if publisher, err = app.setupPublisher(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.blocklist = blocklist.New(app.store, app.clock, blocklist.Config{
		StaticPatterns: cfg.Blocklist.StaticPatterns,
		DryRun:         cfg.Pipeline.DryRun,
	}, logger)

	client := ov.Client
	if client == nil {
		client = app.setupClient()
	}
	if cfg.Extractor.Backend == config.BackendFirecrawl {
		app.pool = credentials.New(app.store, app.clock, credentials.Config{
			MaxInFlight:    cfg.Credentials.MaxInFlight,
			AcquireTimeout: cfg.Credentials.AcquireTimeout(),
			DryRun:         cfg.Pipeline.DryRun,
		}, logger)
	}

	// Interfaces stay nil, not typed-nil, when the backend needs no credentials.
	var (
		leasePool extractor.CredentialPool
		poolStats dispatcher.PoolStats
		apiPool   api.PoolStats
	)
	if app.pool != nil {
		leasePool, poolStats, apiPool = app.pool, app.pool, app.pool
	}

	worker := extractor.New(
		client,
		leasePool,
		app.blocklist,
		ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Extractor.RatePerHost, DefaultBurst: cfg.Extractor.Burst}),
		app.hasher,
		app.clock,
		extractor.Config{
			MapLimit:       cfg.Extractor.MapLimit,
			MaxPages:       cfg.Extractor.MaxPages,
			MaxRetries:     cfg.Extractor.MaxRetries,
			BackoffInitial: cfg.Extractor.BackoffInitial(),
			BackoffMax:     cfg.Extractor.BackoffMax(),
			CallTimeout:    cfg.Extractor.CallTimeout(),
		},
		logger,
	)

	app.selector = selector.New(app.store, app.blocklist, app.hasher, app.clock, selector.Config{
		StaleAfter:  cfg.Selector.StaleAfter(),
		MaxAttempts: cfg.Selector.MaxAttempts,
		Limit:       cfg.Selector.Limit,
	}, logger)
	app.merger = merger.New(app.store, app.store, app.clock, merger.Config{ChunkSize: cfg.Sync.ChunkSize}, logger)
	app.dispatcher = dispatcher.New(worker, app.merger, poolStats, uuid.NewUUIDGenerator(), app.clock, dispatcher.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		BatchSize:   cfg.Pipeline.BatchSize,
		MaxItems:    cfg.Pipeline.MaxItems,
		Deadline:    cfg.Pipeline.Deadline(),
		DryRun:      cfg.Pipeline.DryRun,
	}, logger)
	app.tracker = state.New(app.store, app.hasher, app.clock, logger)
	app.reporter = report.New(blobs, publisher, report.Config{
		Prefix: cfg.Storage.Prefix,
		Topic:  cfg.PubSub.TopicName,
	}, logger)
	app.snapshots = snapshot.New(app.hasher, app.openBucket, logger)

	deps := api.Deps{Runs: app.reporter, Pool: apiPool, Blocklist: app.store}
	if app.pg != nil {
		deps.DB = app.pg
	}
	app.apiServer = api.NewServer(deps, logger)
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, using in-memory store")
		a.store = memorystorage.NewStore()
		return nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pg = pgstore.New(pool, a.clock)
	a.store = a.pg

	attempts := a.cfg.DB.PingAttempts
	if attempts <= 0 {
		attempts = 1
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, a.pg.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn("database not reachable, retrying", zap.Error(err), zap.Duration("next", next))
		}),
	)
	if err != nil {
		a.pg.Close()
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	a.logger.Info("postgres store initialized")
	return nil
}

func (a *App) setupStorage(ctx context.Context) (outreach.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := a.gcsClient(ctx)
		if err != nil {
			return nil, err
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) gcsClient(ctx context.Context) (*storage.Client, error) {
	if a.storageClient != nil {
		return a.storageClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.storageClient = client
	return client, nil
}

// openBucket serves gs:// snapshot sources.
func (a *App) openBucket(ctx context.Context, bucket string) (outreach.BlobStore, error) {
	client, err := a.gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	return blobs, nil
}

func (a *App) setupPublisher(ctx context.Context) (outreach.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupClient() outreach.ExtractionClient {
	ext := a.cfg.Extractor
	if ext.Backend == config.BackendDirect {
		a.logger.Info("using direct colly backend", zap.String("user_agent", ext.UserAgent))
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     ext.UserAgent,
			RespectRobots: true,
			Timeout:       ext.CallTimeout(),
		}, a.logger)
	}
	a.logger.Info("using firecrawl backend", zap.String("base_url", a.cfg.Firecrawl.BaseURL))
	return firecrawl.New(firecrawl.Config{
		BaseURL:   a.cfg.Firecrawl.BaseURL,
		Timeout:   ext.CallTimeout(),
		UserAgent: ext.UserAgent,
	}, &http.Client{})
}

// Close releases infrastructure clients.
func (a *App) Close() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.logger.Sync()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler exposes the ops API for tests and embedding.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// ServeOps starts the ops server when enabled and returns a function that
// shuts it down.
func (a *App) ServeOps(ctx context.Context) func() {
	if !a.cfg.Server.Enabled {
		return func() {}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/api"
	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/attachments"
	"github.com/hackgods/clinic-booking-gateway/internal/booking"
	"github.com/hackgods/clinic-booking-gateway/internal/config"
	"github.com/hackgods/clinic-booking-gateway/internal/db"
	"github.com/hackgods/clinic-booking-gateway/internal/draft"
	"github.com/hackgods/clinic-booking-gateway/internal/logging"
	"github.com/hackgods/clinic-booking-gateway/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-booking-gateway/internal/redis"
	"github.com/hackgods/clinic-booking-gateway/internal/remote"
	"github.com/hackgods/clinic-booking-gateway/internal/session"
	"github.com/hackgods/clinic-booking-gateway/internal/slots"
)

var version = "dev"

// storage groups everything that lives in Redis when Redis is reachable.
type storage struct {
	drafts      draft.Store
	creds       session.CredentialStore
	blobs       attachments.Store
	locker      redisclient.Locker
	tracker     slots.SelectionTracker
	redisClient *redis.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("booking-gateway starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("backend", cfg.Backend),
		zap.String("attachment_store", cfg.AttachmentStore),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remoteClient, err := remote.New(remote.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.SubmitTimeout,
		Logger:  logger.Named("remote"),
	})
	if err != nil {
		logger.Fatal("remote client init error", zap.Error(err))
	}

	var checks []api.DependencyCheck

	var backend appointment.Backend = remoteClient
	if cfg.Backend == config.BackendPostgres {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancelPg()
		if err != nil {
			logger.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()
		logger.Info("connected to Postgres")

		backend = appointment.NewPgRepository(pgPool)
		checks = append(checks, api.PostgresCheck(pgPool))
	}

	st := connectStorage(rootCtx, cfg, logger)
	if st.redisClient != nil {
		defer func() {
			if err := st.redisClient.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		checks = append(checks, api.RedisCheck(st.redisClient))
	}

	if cfg.AttachmentStore == config.AttachmentStoreS3 {
		s3Client, err := attachments.NewS3Client(rootCtx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			logger.Fatal("s3 client init error", zap.Error(err))
		}
		st.blobs = attachments.NewS3Store(s3Client, cfg.AttachmentBucket)
	}

	m := metrics.NewBookingMetrics(nil)

	resolver := slots.NewResolver(backend, backend, slots.ResolverConfig{
		SlotLength: cfg.SlotLength,
		Timeout:    cfg.AvailabilityTimeout,
		Location:   cfg.Location(),
	}, m, logger.Named("slots"))

	wf := booking.New(booking.Deps{
		Drafts:      st.drafts,
		Doctors:     backend,
		Creator:     backend,
		Resolver:    resolver,
		Attachments: st.blobs,
		Locker:      st.locker,
		Metrics:     m,
		Logger:      logger.Named("booking"),
	}, booking.Config{
		SubmitTimeout:      cfg.SubmitTimeout,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	})

	sessions := session.NewSessions(remoteClient, st.creds, session.Options{
		RefreshAfter: cfg.SessionRefresh,
		Logger:       logger.Named("session"),
	})
	sessions.OnChange(wf.Forget)

	router := api.NewRouter(api.RouterConfig{
		Sessions:       sessions,
		Workflow:       wf,
		Picker:         slots.NewPicker(resolver, st.tracker),
		Metrics:        m,
		Logger:         logger.Named("http"),
		Checks:         checks,
		Env:            cfg.Env,
		Version:        version,
		CookieSecure:   cfg.CookieSecure,
		SessionTTL:     cfg.SessionTTL,
		MaxUploadBytes: cfg.MaxAttachmentBytes * 4,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("booking-gateway stopped")
}

// connectStorage wires the Redis-backed stores. Outside prod a missing Redis
// is tolerated: drafts stop persisting and the rest falls back to memory.
func connectStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) storage {
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		if cfg.Env == "prod" {
			logger.Fatal("redis connection error", zap.Error(err))
		}
		logger.Warn("redis unavailable, drafts will not persist", zap.Error(err))
		return storage{
			drafts:  draft.Unavailable{},
			creds:   session.NewMemoryCredentials(),
			blobs:   attachments.NewMemoryStore(),
			locker:  redisclient.NewMemoryLocker(),
			tracker: slots.NewMemoryTracker(),
		}
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	return storage{
		drafts:      draft.NewRedisStore(rdb, cfg.SessionTTL),
		creds:       session.NewRedisCredentials(rdb, cfg.SessionTTL),
		blobs:       attachments.NewRedisStore(rdb, cfg.SessionTTL),
		locker:      redisclient.NewRedisSessionLocker(rdb, cfg.LockTTL),
		tracker:     redisclient.NewSelectionTracker(rdb, cfg.SessionTTL),
		redisClient: rdb,
	}
}

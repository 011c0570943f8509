package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/openfed/socialauth/pkg/config"
	"github.com/openfed/socialauth/pkg/httputil"
	"github.com/openfed/socialauth/pkg/observability"
	"github.com/openfed/socialauth/pkg/social"
)

func main() {
	migrate := flag.Bool("migrate", true, "Run schema migrations at startup")
	flag.Parse()

	log := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	// OpenTelemetry (no-op when disabled)
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	// Connect to the database
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Printf("Connected to %s database", cfg.Database.Driver)

	if *migrate {
		if err := social.RunMigrations(ctx, db, cfg.Database.Driver); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Migrations applied")
	}

	// Pending-state store: redis when configured, in-memory otherwise
	var states social.StateStore
	var redisStore *social.RedisStateStore
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisStore, err = social.NewRedisStateStore(social.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			StateTTL: cfg.Auth.StateTTL,
		})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		redisClient = redisStore.Client()
		states = redisStore
		log.Println("Using redis pending-state store")
	} else {
		states = social.NewMemoryStateStore(cfg.Auth.StateTTL)
		log.Println("Using in-memory pending-state store (single node only)")
	}

	// Shared metrics registry for auth flow and HTTP server metrics
	promRegistry := prometheus.NewRegistry()
	obsMetrics := observability.NewMetrics(promRegistry)
	authMetrics := social.NewMetrics(promRegistry)

	providerConfigs, err := cfg.ProviderConfigs()
	if err != nil {
		log.Fatalf("Failed to assemble provider configs: %v", err)
	}

	registry, err := social.NewRegistry(social.ClientDeps{
		States: states,
		HTTPClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		BaseURL:   cfg.Server.BaseURL,
		TrustRoot: cfg.Auth.TrustRoot,
	}, providerConfigs)
	if err != nil {
		log.Fatalf("Failed to build provider registry: %v", err)
	}
	log.Printf("Providers enabled: %v", registry.Names())

	store := social.NewStore(db)
	engine := social.NewEngine(store, social.EngineConfig{
		CreateUsers:         cfg.Auth.CreateUsers,
		ForceRandomUsername: cfg.Auth.ForceRandomUsername,
		DisableExtraData:    cfg.Auth.DisableExtraData,
		ChangeSignalOnly:    cfg.Auth.ChangeSignalOnly,
		DefaultUsername:     cfg.Auth.DefaultUsername,
	})
	engine.SetLogger(logger.Slog())
	engine.SetMetrics(authMetrics)

	handlers := social.NewHandlers(registry, engine, store, social.HandlersConfig{
		LoginRedirectURL: cfg.Auth.LoginRedirectURL,
		LoginErrorURL:    cfg.Auth.LoginErrorURL,
		ErrorCookie:      cfg.Auth.ErrorCookie,
		SessionCookie:    cfg.Auth.SessionCookie,
		SecureCookies:    cfg.Auth.SecureCookies,
	})
	handlers.SetLogger(logger.Slog())
	handlers.SetMetrics(authMetrics)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		observability.HTTPMetricsMiddleware(obsMetrics),
		httputil.MaxBytesMiddleware(1<<20),
	)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      chain(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener for probes
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, promRegistry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Background jobs: expired-state sweep and db pool stats
	jobs := cron.New()
	if sweeper, ok := states.(social.Sweeper); ok {
		if _, err := jobs.AddFunc(cfg.Auth.SweepSchedule, func() {
			defer observability.RecoverPanic(logger, "state sweep")
			removed, err := sweeper.Sweep(context.Background())
			if err != nil {
				logger.WithError(err).Warn("Pending-state sweep failed")
				return
			}
			authMetrics.RecordSweep(removed)
			if removed > 0 {
				logger.WithField("removed", removed).Debug("Swept expired pending auth states")
			}
		}); err != nil {
			log.Fatalf("Failed to schedule state sweep: %v", err)
		}
	}
	if _, err := jobs.AddFunc("@every 15s", func() {
		defer observability.RecoverPanic(logger, "db stats")
		obsMetrics.UpdateDBStats(db.Stats())
	}); err != nil {
		log.Fatalf("Failed to schedule db stats collection: %v", err)
	}
	jobs.Start()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopped := jobs.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return db.Close()
	})
	if redisStore != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisStore.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	var group errgroup.Group
	group.Go(func() error {
		log.Printf("Starting socialauthd on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
		return nil
	})
	group.Go(func() error {
		log.Printf("Health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start health server: %v", err)
		}
		return nil
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}
	group.Wait()
	log.Println("Server stopped")
}

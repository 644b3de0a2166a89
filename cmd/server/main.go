package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dockqueue-backend/internal/config"
	"dockqueue-backend/internal/database"
	"dockqueue-backend/internal/handlers"
	"dockqueue-backend/internal/lock"
	"dockqueue-backend/internal/logger"
	"dockqueue-backend/internal/metrics"
	"dockqueue-backend/internal/middleware"
	"dockqueue-backend/internal/mongostore"
	"dockqueue-backend/internal/notify"
	"dockqueue-backend/internal/queue"
	"dockqueue-backend/internal/redisconn"
	"dockqueue-backend/internal/registry"
	"dockqueue-backend/internal/store"
	"dockqueue-backend/internal/store/memory"
	"dockqueue-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Setup(logger.Options{ServiceName: "dockqueue-backend"})
		log.Fatal().Err(err).Msg("❌ FATAL ERROR: invalid configuration")
	}
	logger.Setup(logger.Options{
		ServiceName: "dockqueue-backend",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
	})

	log.Info().Msg("═══════════════════════════════════════════════════════════════════")
	log.Info().Str("env", cfg.App.Env).Msg("🚀 DOCK QUEUE BACKEND SERVER STARTING")
	log.Info().Msg("═══════════════════════════════════════════════════════════════════")
	if envErr != nil {
		log.Warn().Msg("⚠️  .env file not found, using environment variables from system")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("❌ FATAL ERROR: server stopped")
	}
	log.Info().Msg("👋 Server stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := websocket.NewHub(metrics.NewHub(reg))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	// Without Redis every publish goes straight to the local hub.
	var (
		publisher notify.Publisher = hub
		locker    lock.Locker      = lock.NewKeyedMutex()
	)
	if cfg.Redis.Enabled() {
		client, err := redisconn.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		publisher = notify.NewRedisPublisher(client)
		locker = lock.NewRedisLocker(client, cfg.Queue.AdmissionLockTTL)

		relay := notify.NewRedisRelay(client, hub)
		g.Go(func() error { return relay.Run(ctx, nil) })
		log.Info().Msg("✅ Redis fan-out and admission locks enabled")
	} else {
		log.Warn().Msg("⚠️  REDIS_URL not set, running single-instance")
	}

	var pusher notify.Pusher
	if fcm := newFCMPusher(ctx, cfg.Firebase); fcm != nil {
		pusher = fcm
	}

	drivers := registry.NewService(st, st, st)
	manager := queue.NewManager(queue.Options{
		Drivers:            drivers,
		Waypoints:          st,
		Entries:            st,
		Locker:             locker,
		Notifier:           notify.NewService(publisher, st, pusher),
		Metrics:            metrics.NewQueue(reg),
		DockResponseWindow: cfg.Queue.DockResponseWindow,
	})
	tokens := websocket.NewTokenIssuer(cfg.Realtime.JWTSecret, cfg.Realtime.ChannelTokenTTL)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health(st, hub))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/ws", websocket.HandleWebSocket(hub, tokens))
	r.Mount("/api", handlers.Routes(handlers.Dependencies{
		Registry:  drivers,
		Queue:     manager,
		Waypoints: st,
		Tokens:    tokens,
	}))

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Msg("═══════════════════════════════════════════════════════════════════")
		log.Info().Msg("✅ ALL INITIALIZATION COMPLETE")
		log.Info().Str("addr", srv.Addr).Msg("🔌 Ready to accept requests!")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.StoreDriverMongo:
		log.Info().Msg("🔌 Connecting to MongoDB...")
		st, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			st.Close()
			return nil, err
		}
		if cfg.SeedWaypoints {
			if err := st.SeedWaypoints(ctx, database.DefaultWaypoints); err != nil {
				st.Close()
				return nil, err
			}
		}
		return st, nil

	case config.StoreDriverMemory:
		log.Warn().Msg("⚠️  Using in-memory store, data is lost on restart")
		return memory.New(database.DefaultWaypoints...), nil
	}

	log.Info().Msg("🔌 Connecting to database...")
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("🔄 Running database migrations...")
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.SeedWaypoints {
		if err := database.SeedWaypoints(ctx, db, database.DefaultWaypoints); err != nil {
			db.Close()
			return nil, err
		}
	}
	return database.NewStore(db), nil
}

// newFCMPusher prefers base64 credentials (cloud deployments) over a file.
// Push is optional; failures only disable it.
func newFCMPusher(ctx context.Context, cfg config.FirebaseConfig) *notify.FCMPusher {
	if cfg.CredentialsBase64 != "" {
		p, err := notify.NewFCMPusherFromBase64(ctx, cfg.CredentialsBase64)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to initialize FCM from base64 (push notifications disabled)")
			return nil
		}
		log.Info().Msg("✅ Firebase Cloud Messaging initialized from base64 credentials")
		return p
	}

	p, err := notify.NewFCMPusher(ctx, cfg.CredentialsFile)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Failed to initialize FCM from file (push notifications disabled)")
		return nil
	}
	log.Info().Msg("✅ Firebase Cloud Messaging initialized from file")
	return p
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"edaagent/internal/identity"
	"edaagent/internal/ratelimit"
	"edaagent/internal/util"
	"edaagent/pkg/ai"
	"edaagent/pkg/events"
	"edaagent/pkg/pipeline"
	"edaagent/pkg/queue"
	"edaagent/pkg/storage"
	"edaagent/pkg/store"
	"edaagent/services/designer/internal/app"
	"edaagent/services/designer/internal/config"
	"edaagent/services/designer/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "designer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gemini := ai.NewGeminiClient(cfg.GeminiAPIKey,
		ai.WithGeminiBaseURL(cfg.GeminiBaseURL),
		ai.WithGeminiTimeout(cfg.GeminiTimeout()),
	)
	if !gemini.Configured() {
		logger.Warn("gemini api key not set; generation requests will fail until GEMINI_API_KEY is provided")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := pipeline.NewMetrics(registry)
	if err != nil {
		util.Fatal("failed to register metrics", "err", err)
	}

	generator := ai.NewGeminiGenerator(gemini, cfg.GeminiModel)
	appCfg := app.Config{
		Generator: generator,
		Metrics:   metrics,
		Logger:    logger,
	}

	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL, cfg.AppID)
		if err != nil {
			util.Fatal("failed to open design store", "err", err)
		}
		defer gormStore.Close()
		appCfg.Backend = gormStore
	} else {
		logger.Warn("DATABASE_URL not set; design history is kept in memory")
	}

	var (
		redisClient *redis.Client
		archiveJobs *queue.RedisJobQueue
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		notifier, err := store.NewRedisNotifier(store.RedisNotifierConfig{Client: redisClient, AppID: cfg.AppID})
		if err != nil {
			util.Fatal("failed to init design notifier", "err", err)
		}
		appCfg.Notifier = notifier
	}

	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		appCfg.Archive = storage.NewScriptArchive(objects, cfg.AppID, cfg.ScriptURLExpiry())
		if redisClient != nil {
			archiveJobs, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
				Client: redisClient,
				Stream: cfg.AppID + ":archive",
				Group:  "designer-archive",
				Logger: logger,
			})
			if err != nil {
				util.Fatal("failed to init archive queue", "err", err)
			}
			appCfg.ArchiveQueue = archiveJobs
			appCfg.ArchiveWorkers = cfg.ArchiveWorkers
		}
	}

	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(events.PublisherConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			AppID:    cfg.AppID,
		})
		if err != nil {
			util.Fatal("failed to init event publisher", "err", err)
		}
		defer publisher.Close()
		appCfg.Events = publisher
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	serverCfg := server.Config{
		App:     appCore,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	if cfg.JWTSecret != "" {
		leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
		if err != nil {
			util.Fatal("failed to parse jwt leeway", "err", err)
		}
		verifier, err := identity.NewVerifier(identity.Config{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   leeway,
		})
		if err != nil {
			util.Fatal("failed to init token verifier", "err", err)
		}
		serverCfg.TokenVerifier = verifier
	} else {
		logger.Warn("JWT_SECRET not set; trusting X-User-Id header for caller identity")
	}
	if cfg.RateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{
			Client: redisClient,
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
		serverCfg.Limiter = limiter
	}
	if len(cfg.TrustedProxyCIDRs) > 0 {
		trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
		if err != nil {
			util.Fatal("failed to parse trusted proxies", "err", err)
		}
		serverCfg.TrustedProxies = trusted
	}

	httpServer := server.New(serverCfg)
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.GeminiTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(httpServer.CloseStreams)

	g, gctx := errgroup.WithContext(ctx)
	appCore.StartArchiveWorkers(gctx)
	g.Go(func() error {
		slog.Info("designer server listening", "addr", addr, "model", generator.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	// in-flight uploads finish before redis and the store are closed
	if archiveJobs != nil {
		archiveJobs.Wait()
	}
}

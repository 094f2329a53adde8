// Package main is the entry point for the chatcore server.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"chatcore/internal/attachments"
	"chatcore/internal/chatservice"
	"chatcore/internal/config"
	"chatcore/internal/consumer"
	"chatcore/internal/database"
	"chatcore/internal/fanout"
	"chatcore/internal/gateway"
	"chatcore/internal/handlers"
	"chatcore/internal/idempotency"
	"chatcore/internal/metrics"
	"chatcore/internal/presence"
	"chatcore/internal/producer"
	"chatcore/internal/replay"
	"chatcore/internal/replicalag"
	"chatcore/internal/streamlog"
	"chatcore/internal/tokenverify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("critical error loading configuration: %v", err)
	}

	initLogging(cfg)

	reg := metrics.New()

	db, err := database.New(cfg.DatabaseURL, database.Config{
		MaxOpenConns:    cfg.DBPoolMax,
		MaxIdleConns:    cfg.DBPoolMin,
		ConnMaxLifetime: cfg.DBIdleTimeout,
	}, reg)
	if err != nil {
		log.Fatalf("critical error connecting to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
		log.Fatalf("critical error migrating database: %v", err)
	}

	if cfg.EnableReadReplicas && cfg.ReplicaDatabaseURL != "" {
		router, err := database.NewReplicaRouter(cfg.ReplicaDatabaseURL, database.ReplicaConfig{
			Name: "primary-replica",
		}, reg)
		if err != nil {
			log.Fatalf("critical error connecting to read replica: %v", err)
		}
		db = db.WithReplicas(router)

		monitor := replicalag.New("primary-replica", db.DB.DB, cfg.ReplicaLagPollInterval, cfg.ReplicaLagCriticalThresh, reg, router)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go monitor.Run(ctx)
	}

	var cacheRedis *redis.Client
	if cfg.EnableRedisCache && cfg.RedisURL != "" {
		cacheRedis = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		db = db.WithCache(database.NewRedisResultCache(cacheRedis))
	}

	verifierOpts := []tokenverify.Option{}
	if cfg.JWKSURL != "" {
		jwksOpt, err := tokenverify.WithJWKS(cfg.JWKSURL)
		if err != nil {
			log.Fatalf("critical error resolving JWKS: %v", err)
		}
		verifierOpts = append(verifierOpts, jwksOpt)
	}
	if len(cfg.PublicKeys) > 0 {
		verifierOpts = append(verifierOpts, tokenverify.WithStaticKeys(cfg.PublicKeys))
	}
	verifier := tokenverify.New(cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenLeeway, verifierOpts...)

	socketRedis := redis.NewClient(&redis.Options{Addr: cfg.SocketRedisURL})

	presenceRegistry := presence.New(socketRedis, cfg.PresenceTTLMs, reg)
	replayCache := replay.New(cfg.ReplayCacheMaxMessages, cfg.ReplayCacheTTLMs)

	streamLog, err := streamlog.New(context.Background(), socketRedis, cfg.StreamPartitions)
	if err != nil {
		log.Fatalf("critical error initializing durable log: %v", err)
	}

	idemService := idempotency.New(socketRedis, db, cfg.ReplayCacheTTLMs)

	queue := make(fanout.Queue, 1024)
	fo := fanout.New(queue, db).WithReplay(replayCache)

	hub := gateway.NewHub(presenceRegistry, fo)

	prod := producer.New(db, idemService, streamLog)

	attachmentResolver, err := attachments.New(attachments.Config{
		Endpoint: os.Getenv("ATTACHMENTS_S3_ENDPOINT"),
		Region:   os.Getenv("ATTACHMENTS_S3_REGION"),
		KeyID:    os.Getenv("ATTACHMENTS_S3_KEY_ID"),
		AppKey:   os.Getenv("ATTACHMENTS_S3_APP_KEY"),
		Bucket:   os.Getenv("ATTACHMENTS_S3_BUCKET"),
	})
	if err != nil {
		log.Fatalf("critical error initializing attachment resolver: %v", err)
	}

	svc := chatservice.New(db, prod)

	gatewayCfg := gateway.Config{
		HeartbeatInterval:      cfg.HeartbeatIntervalMs,
		HeartbeatGrace:         cfg.HeartbeatGraceMs,
		MaxMessageContentBytes: cfg.MaxMessageContentBytes,
		PerSessionDedupeSize:   cfg.PerSessionDedupeSize,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for p := 0; p < streamLog.PartitionCount(); p++ {
		w := consumer.NewWorker(p, streamLog, idemService, fo, reg)
		go w.Run(ctx)
	}

	go hub.DrainDeliveries(ctx, queue)
	go reportPoolSaturation(ctx, db)

	socketHandler := handlers.NewSocket(hub, verifier, db, prod, replayCache, presenceRegistry, gatewayCfg, cfg.SocketInstanceID, cfg.CORSAllowedOrigins)
	conversationsHandler := handlers.NewConversations(svc)
	attachmentsHandler := handlers.NewAttachments(attachmentResolver)
	healthHandler := handlers.NewHealth(db)

	router := handlers.Router(conversationsHandler, attachmentsHandler, healthHandler, socketHandler, verifier, reg, cfg.CORSAllowedOrigins)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	slog.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("error during graceful shutdown: %v", err)
	}

	slog.Info("server stopped")
}

func reportPoolSaturation(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			db.ReportPoolSaturation()
		case <-ctx.Done():
			return
		}
	}
}

func initLogging(cfg *config.AppConfig) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

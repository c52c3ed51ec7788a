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

	"edgepress/internal/ratelimit"
	"edgepress/internal/util"
	"edgepress/pkg/kv"
	"edgepress/services/blog/internal/app"
	"edgepress/services/blog/internal/config"
	"edgepress/services/blog/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cacheTTL, err := config.ParseCacheTTL(cfg.CacheTTL)
	if err != nil {
		log.Fatalf("failed to parse cache TTL: %v", err)
	}
	mode, err := cfg.PaginationMode()
	if err != nil {
		log.Fatalf("failed to parse pagination: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		KV:               cfg.Config,
		CookieName:       cfg.SessionCookieName,
		RefreshIdentity:  cfg.RefreshIdentityEnabled(),
		Collection:       cfg.Collection(),
		IndexCASAttempts: cfg.IndexCASAttempts,
		DefaultMode:      mode,
		CacheSize:        cfg.CacheSize,
		CacheTTL:         cacheTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trustedProxies: %v", err)
	}

	var writeLimiter *ratelimit.FixedWindowLimiter
	if redisClient := kv.RedisClient(appCore.KV(), cfg.Config); redisClient != nil {
		perMinute := cfg.WriteRateLimitPerMinute
		if perMinute <= 0 {
			perMinute = 30
		}
		writeLimiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "edgepress:blog:ratelimit:write", perMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init write limiter: %v", err)
		}
	} else {
		slog.Warn("no redis configured; post write rate limits are disabled")
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		TrustedProxies: trusted,
		CORSOrigins:    cfg.CORSOrigins,
		WriteLimiter:   writeLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	slog.Info("blog server listening", "addr", addr, "kv", cfg.DriverName(), "pagination", mode, "index_cas_attempts", cfg.IndexCASAttempts)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

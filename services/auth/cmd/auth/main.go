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
	"edgepress/services/auth/internal/app"
	"edgepress/services/auth/internal/config"
	"edgepress/services/auth/internal/security"
	"edgepress/services/auth/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		KV:              cfg.Config,
		SessionTTL:      sessionTTL,
		CookieName:      cfg.SessionCookieName,
		RefreshIdentity: cfg.RefreshIdentityEnabled(),
		PasswordHasher:  cfg.PasswordHasher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if admin := cfg.BootstrapAdmin; admin.Username != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := appCore.EnsureAdmin(ctx, admin.Username, admin.Password)
		cancel()
		if err != nil {
			log.Fatalf("failed to bootstrap admin: %v", err)
		}
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trustedProxies: %v", err)
	}

	redisClient := kv.RedisClient(appCore.KV(), cfg.Config)
	newLimiter := func(name string, perMinute, fallback int) *ratelimit.FixedWindowLimiter {
		if redisClient == nil {
			return nil
		}
		if perMinute <= 0 {
			perMinute = fallback
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "edgepress:auth:ratelimit:"+name, perMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init %s limiter: %v", name, err)
		}
		return limiter
	}
	if redisClient == nil {
		slog.Warn("no redis configured; login rate limits and security alerts are disabled")
	}

	httpServer := server.New(server.Config{
		App:             appCore,
		CookieDomain:    cfg.CookieDomain,
		CookieInsecure:  cfg.CookieInsecure,
		TrustedProxies:  trusted,
		CORSOrigins:     cfg.CORSOrigins,
		LoginLimiter:    newLimiter("login", cfg.LoginRateLimitPerMinute, 10),
		RegisterLimiter: newLimiter("register", cfg.RegisterRateLimitPerMinute, 5),
		Alerter:         security.NewAuditAlerter(redisClient, ""),
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

	slog.Info("auth server listening", "addr", addr, "kv", cfg.DriverName())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

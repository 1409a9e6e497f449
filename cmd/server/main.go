package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/api"
	"github.com/soaringjerry/Malasakit/internal/config"
	"github.com/soaringjerry/Malasakit/internal/db"
	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/middleware"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configFile := flag.String("config", utils.Env("CONFIG", ""), "path to config file")
	flag.Parse()
	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	loader, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg := loader.Current()

	log, err := logging.New(cfg.Logging.LoggerOptions("server"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	warnInsecureSecret(cfg.Auth, log)

	store, err := db.Open(cfg.Database.Path, cfg.Database.MigrationsDir, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := seedIfEmpty(store, cfg.Database.SeedPath, log); err != nil {
		return err
	}

	limiter := middleware.NewIPLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	loader.Watch(log, func(c *config.Config) {
		limiter.SetLimit(c.Server.RateLimit, c.Server.RateBurst)
		log.Info("rate limit updated", zap.Float64("per_second", c.Server.RateLimit), zap.Int("burst", c.Server.RateBurst))
	})

	router := api.NewRouter(store, api.Options{
		Tokens:     middleware.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Limiter:    limiter,
		AdminToken: cfg.Server.AdminToken,
		Logger:     log,
		Commit:     cfg.Server.Commit,
		BuildTime:  cfg.Server.BuildTime,

		CORSOrigins:  cfg.Server.CORSOrigins,
		StaticMaxAge: cfg.Server.StaticMaxAge,
	})
	mux := http.NewServeMux()
	router.Register(mux)
	if cfg.Server.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.Wrap(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Malasakit server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func warnInsecureSecret(auth config.AuthConfig, log *zap.Logger) {
	if auth.InsecureSecret() {
		log.Warn("auth.jwt_secret is unset or the built-in default, respondent tokens can be forged; set MALASAKIT_AUTH_JWT_SECRET")
	}
}

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

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"portcaisse/internal/cache"
	"portcaisse/internal/client"
	"portcaisse/internal/config"
	"portcaisse/internal/domain"
	"portcaisse/internal/httpapi"
	"portcaisse/internal/invoice"
	"portcaisse/internal/logging"
	"portcaisse/internal/service"
	"portcaisse/internal/store"
	"portcaisse/internal/store/memory"
	pgstore "portcaisse/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		if err := ensureAdmin(ctx, pg); err != nil {
			logger.Fatal("user bootstrap failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	source, cacheCloser := buildInvoiceSource(ctx, cfg, repo, logger)
	if cacheCloser != nil {
		closers = append(closers, cacheCloser)
	}

	svc := service.New(repo, source, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("payment backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// buildInvoiceSource picks the remote upstream behind a circuit breaker when
// one is configured, otherwise the local store with an optional redis cache.
func buildInvoiceSource(ctx context.Context, cfg config.Config, repo store.Repository, logger *zap.Logger) (invoice.Source, func() error) {
	if cfg.InvoiceUpstreamURL != "" {
		opts := []client.Option{client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout})}
		if cfg.InvoiceUpstreamToken != "" {
			opts = append(opts, client.WithToken(cfg.InvoiceUpstreamToken))
		}
		upstream, err := client.New(cfg.InvoiceUpstreamURL, opts...)
		if err != nil {
			logger.Fatal("invalid INVOICE_UPSTREAM_URL", zap.Error(err))
		}
		logger.Info("invoices: remote upstream", zap.String("url", cfg.InvoiceUpstreamURL))
		return invoice.NewBreakerSource(upstream, invoice.BreakerConfig{
			Name:             "invoice-upstream",
			Timeout:          cfg.BreakerTimeout,
			ConsecutiveFails: uint32(cfg.BreakerFailures),
		}, logger), nil
	}

	invoiceCache := cache.InvoiceCache(cache.NoopInvoiceCache{})
	var closer func() error
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInvoiceCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			invoiceCache = redisCache
			closer = redisCache.Close
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}
	return invoice.NewStoreSource(repo, invoiceCache, cfg.InvoiceCacheTTL, logger), closer
}

// ensureAdmin creates the first admin account on an empty database from
// SEED_ADMIN_PASSWORD.
func ensureAdmin(ctx context.Context, repo store.Repository) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	password := strings.TrimSpace(os.Getenv("SEED_ADMIN_PASSWORD"))
	if len(password) < 8 {
		return errors.New("users table is empty: SEED_ADMIN_PASSWORD must be set (8+ characters)")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return repo.CreateUser(ctx, domain.UserAccount{
		Username:    "admin",
		DisplayName: "Administrateur",
		Password:    string(hash),
		Role:        domain.RoleAdmin,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if distinctRunes(cfg.AuthSecret) < 8 {
		return fmt.Errorf("AUTH_SECRET is too repetitive")
	}
	if strings.TrimSpace(cfg.AllowedOrigin) == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin, not *")
	}
	return nil
}

func distinctRunes(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"qaboard/internal/config"
	"qaboard/internal/db"
	"qaboard/internal/forum"
	"qaboard/internal/identity"
	"qaboard/internal/ledger"
	"qaboard/internal/router"
	"qaboard/internal/store"
	"qaboard/internal/store/badgerstore"
	"qaboard/internal/store/pgstore"
	"qaboard/internal/tally"
)

const shutdownTimeout = 10 * time.Second

// openStore connects the configured backend. Postgres tables are migrated
// on open.
func openStore(cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		bcfg := badgerstore.InMemoryConfig()
		if cfg.BadgerPath != "" {
			bcfg = badgerstore.DefaultConfig(cfg.BadgerPath)
		}
		bs, err := badgerstore.Open(bcfg, logger)
		if err != nil {
			return nil, err
		}
		return bs, nil
	default:
		gdb, err := db.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(gdb, logger); err != nil {
			return nil, err
		}
		return pgstore.New(gdb, logger), nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cache, err := tally.NewCache(cfg.TallyCacheSize, cfg.TallyCacheTTL)
	if err != nil {
		return err
	}
	feed := tally.NewFeed()

	var verifier *identity.JWTVerifier
	if cfg.JWTSecret != "" {
		if verifier, err = identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer); err != nil {
			return err
		}
	} else {
		logger.Warn("JWT_SECRET is not set, bearer tokens are disabled",
			slog.String("event", "server.jwt_disabled"))
	}

	votes := ledger.New(st, identity.ContextProvider{},
		ledger.WithCache(cache),
		ledger.WithPublisher(feed),
		ledger.WithMaxAttempts(cfg.VoteMaxAttempts),
		ledger.WithLogger(logger),
	)

	warnInsecureDefaults(cfg, logger)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.Default()
	r.Use(sessions.Sessions(cfg.SessionName, cookie.NewStore([]byte(cfg.SessionSecret))))
	router.RegisterRoutes(r, router.Deps{
		Forum:       forum.NewService(st, logger),
		Ledger:      votes,
		Feed:        feed,
		Verifier:    verifier,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("qaboard server starting",
			slog.String("event", "server.start"),
			slog.String("addr", srv.Addr),
			slog.String("store", cfg.StoreDriver),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.String("event", "server.stop"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func warnInsecureDefaults(cfg config.Config, logger *slog.Logger) {
	if cfg.DefaultSessionSecret() {
		logger.Warn("SESSION_SECRET is not set, session cookies use the built-in key",
			slog.String("event", "server.session_secret_default"))
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("migrate only applies to STORE_DRIVER=%s", config.DriverPostgres)
	}

	gdb, err := db.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	return db.Migrate(gdb, logger)
}

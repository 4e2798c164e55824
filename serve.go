package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/secureapp/apiv1/auth"
	"github.com/secureapp/apiv1/config"
	"github.com/secureapp/apiv1/dbhelper"
	"github.com/secureapp/apiv1/federated"
	"github.com/secureapp/apiv1/metrics"
	"github.com/secureapp/apiv1/routes"
	"github.com/secureapp/apiv1/throttle"
	"github.com/secureapp/apiv1/twofactor"
	"github.com/secureapp/apiv1/utils"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address, e.g. :5005")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterMetrics(reg)

	deps, err := buildDeps(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	r := mux.NewRouter()
	routes.CreateRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildDeps wires the authentication components on top of store.
func buildDeps(ctx context.Context, cfg config.Config, store dbhelper.Store, logger *zap.Logger) (routes.Deps, error) {
	hasher, err := utils.NewPasswordHasher(cfg.PasswordHashing)
	if err != nil {
		return routes.Deps{}, err
	}

	var fed federated.Verifier
	if cfg.FederatedSecret != "" {
		v, err := federated.NewJWTVerifier(cfg.FederatedSecret, cfg.FederatedSecretOld, cfg.FederatedAudience, cfg.FederatedIssuer)
		if err != nil {
			return routes.Deps{}, err
		}
		fed = v
	}

	verifier := twofactor.NewVerifier(store)
	authenticator := auth.New(auth.Options{
		Users:       store,
		Throttle:    throttle.New(store, cfg.MaxLoginAttempts, cfg.LoginLockout),
		TwoFactor:   verifier,
		Hasher:      hasher,
		Federated:   fed,
		AdminEmails: cfg.AdminEmails,
		Logger:      logger,
	})
	if cfg.SeedDemoUsers {
		if err := authenticator.SeedDemoUsers(ctx); err != nil {
			return routes.Deps{}, err
		}
	}

	return routes.Deps{
		Auth:           authenticator,
		Provisioner:    twofactor.NewProvisioner(store, cfg.TOTPIssuer),
		Verifier:       verifier,
		Logger:         logger,
		RateLimitRPS:   cfg.RateLimitRPS,
		TrustedProxies: cfg.TrustedProxies,
		StaticDir:      cfg.StaticDir,
	}, nil
}

// openStore returns the configured backend and a function releasing it.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (dbhelper.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return dbhelper.NewMemoryStore(), noop, nil
	case config.StoreFile:
		store, err := dbhelper.OpenFileStore(cfg.StoreFile)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.StoreMySQL:
		db, err := dbhelper.OpenDB(ctx, cfg.MySQLDSN(), cfg.DBConnectRetries, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := dbhelper.InitDB(db); err != nil {
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return dbhelper.NewGormStore(db), sqlDB.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

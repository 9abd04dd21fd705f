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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/nutricoach/mfaauth"
	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/billing/stripecustomer"
	"github.com/nutricoach/mfaauth/httpapi"
	"github.com/nutricoach/mfaauth/identity"
	"github.com/nutricoach/mfaauth/internal/settings"
	otelexport "github.com/nutricoach/mfaauth/metrics/export/otel"
	promexport "github.com/nutricoach/mfaauth/metrics/export/prometheus"
	"github.com/nutricoach/mfaauth/store/gormstore"
)

const meterName = "github.com/nutricoach/mfaauth"

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and metrics listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, logger, err := loadSettings(*configPath)
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, s, logger)
		},
	}
}

func serve(ctx context.Context, s *settings.Settings, logger *slog.Logger) error {
	db, err := openDatabase(s)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)
	store := gormstore.New(db)

	rdb, err := openRedis(ctx, s)
	if err != nil {
		return err
	}
	defer rdb.Close()

	hasher, err := identity.NewHasher(identity.DefaultHashConfig())
	if err != nil {
		return err
	}
	tokens, err := identity.NewTokenManager(identity.TokenConfig{
		SigningKey: []byte(s.Auth.JWTSigningKey),
		Issuer:     s.Auth.Issuer,
		Audience:   s.Auth.Audience,
		AccessTTL:  s.Auth.AccessTTL,
	}, time.Now)
	if err != nil {
		return err
	}
	local, err := identity.NewLocal(store, hasher, tokens)
	if err != nil {
		return err
	}

	var customers billing.CustomerClient
	if s.Billing.StripeSecretKey != "" {
		client, err := stripecustomer.New(s.Billing.StripeSecretKey, nil)
		if err != nil {
			return err
		}
		customers = client
	} else {
		logger.Warn("billing.stripe_secret_key not set; billing sync is local only")
	}
	cfg := s.EngineConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	adapter := billing.NewAdapter(customers, store, store, billing.Config{Timeout: cfg.Timeouts.Billing}, logger)

	engine, err := mfaauth.New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(rdb).
		WithIdentityProvider(local).
		WithBilling(adapter).
		WithAuditSink(gormstore.NewAuditSink(db)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if s.Metrics.OTel {
		provider := otelexport.NewLogMeterProvider(logger.With("component", "otel"), s.Metrics.OTelInterval)
		otel.SetMeterProvider(provider)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("otel meter provider shutdown", "error", err)
			}
		}()
		exporter, err := otelexport.NewExporter(provider.Meter(meterName), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		defer exporter.Close()
	}

	gin.SetMode(gin.ReleaseMode)
	api := httpapi.New(engine, httpapi.Options{
		AllowedOrigins: s.HTTP.AllowedOrigins,
		Logger:         logger,
		Health: map[string]httpapi.HealthCheck{
			"database": store.Ping,
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
	})

	servers := []*http.Server{{
		Addr:         s.HTTP.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  s.HTTP.ReadTimeout,
		WriteTimeout: s.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}}
	if s.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promexport.NewCollector(engine).Handler())
		servers = append(servers, &http.Server{
			Addr:              s.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.HTTP.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

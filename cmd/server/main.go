// Copyright 2026 The TrustGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/incident"
	"github.com/trustgate/trustgate/internal/keyring"
	"github.com/trustgate/trustgate/internal/observability/logger"
	"github.com/trustgate/trustgate/internal/observability/metrics"
	"github.com/trustgate/trustgate/internal/observability/tracing"
	"github.com/trustgate/trustgate/internal/policy"
	"github.com/trustgate/trustgate/internal/protector"
	"github.com/trustgate/trustgate/internal/reuse"
	"github.com/trustgate/trustgate/internal/rotation"
	"github.com/trustgate/trustgate/internal/store/postgres"
	transportHTTP "github.com/trustgate/trustgate/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting trustgate token security service")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		os.Exit(1)
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Key protection
	prot, err := protector.NewAESGCM(cfg.Keys.MasterEncryptionKey, cfg.Keys.ProtectorPurpose)
	if err != nil {
		slog.Error("failed to initialize key protector", logger.Error(err))
		os.Exit(1)
	}
	algorithm, err := keyring.ParseAlgorithm(cfg.Keys.Algorithm)
	if err != nil {
		slog.Error("invalid signing algorithm", logger.Error(err))
		os.Exit(1)
	}

	// Initialize repositories
	keyRepo := postgres.NewKeyRepository(db)
	rotationPolicyRepo := postgres.NewRotationPolicyRepository(db)
	tokenPolicyRepo := postgres.NewTokenPolicyRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	grantRepo := postgres.NewGrantRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	incidentRepo := postgres.NewIncidentRepository(db)

	// Guardrails from config
	guardrails := buildGuardrails(cfg)

	// Initialize services
	incidents := incident.NewService(incidentRepo)
	keys := keyring.NewService(keyRepo, prot, algorithm)
	coordinator := rotation.NewCoordinator(db, rotationPolicyRepo, keys, incidents, meter)
	provider := rotation.NewCredentialProvider(keys, coordinator)
	scheduler := rotation.NewScheduler(coordinator, cfg.Rotation.CheckInterval)

	rotationPolicies := policy.NewRotationPolicyService(rotationPolicyRepo, guardrails, incidents, cfg.IsProduction())
	tokenPolicies := policy.NewTokenPolicyService(tokenPolicyRepo, guardrails, incidents)
	ledger := reuse.NewLedger(ledgerRepo)

	// Seed the rotation policy row so the scheduler's first check finds it.
	if _, err := rotationPolicies.Get(ctx); err != nil {
		slog.Error("failed to seed rotation policy", logger.Error(err))
		os.Exit(1)
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go scheduler.Run(workerCtx)
	go provider.Forward(workerCtx)

	// Periodic retention sweep for retired keys, ledger rows, sessions
	// and revoked grants.
	go func() {
		keyRetention := time.Duration(cfg.Rotation.RetiredKeyRetentionDays) * 24 * time.Hour
		ledgerRetention := time.Duration(cfg.Rotation.LedgerRetentionDays) * 24 * time.Hour
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if _, err := keys.Cleanup(workerCtx, keyRetention); err != nil {
					slog.Error("failed to prune retired keys", logger.Error(err))
				}
				if _, err := ledger.Cleanup(workerCtx, ledgerRetention); err != nil {
					slog.Error("failed to prune reuse ledger", logger.Error(err))
				}
				if _, err := sessionRepo.DeleteExpired(workerCtx); err != nil {
					slog.Error("failed to prune expired sessions", logger.Error(err))
				}
				if _, err := grantRepo.DeleteExpired(workerCtx); err != nil {
					slog.Error("failed to prune expired grants", logger.Error(err))
				}
			}
		}
	}()

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		keyring.NewPublisher(keys),
		rotationPolicies,
		tokenPolicies,
		coordinator,
		incidents,
		cfg.Admin.APIToken,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stopWorkers()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// buildGuardrails starts from the compiled defaults and applies the
// deploy-time overrides.
func buildGuardrails(cfg *config.Config) policy.Guardrails {
	g := policy.DefaultGuardrails()
	g.MinRotationIntervalDays = cfg.Guardrails.MinRotationIntervalDays
	g.MaxRotationIntervalDays = cfg.Guardrails.MaxRotationIntervalDays
	g.MaxAccessTokenMinutes = cfg.Guardrails.MaxAccessTokenMinutes
	g.MaxRefreshTokenDays = cfg.Guardrails.MaxRefreshTokenDays
	g.MaxReuseLeewaySeconds = cfg.Guardrails.MaxReuseLeewaySeconds
	return g
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}

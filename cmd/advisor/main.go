// Command advisor boots the brokerage advisory core (C13): it loads
// configuration, wires every component in the order SPEC_FULL.md §4.13
// names, and serves the HTTP API until a termination signal arrives.
//
// Grounded on services/jax-api/cmd/jax-api/main.go's shape — flag-parsed
// config path, sequential component construction, server.RegisterX calls,
// log.Fatal on unrecoverable setup errors — generalized with a
// signal-driven graceful shutdown the teacher's own main.go doesn't have,
// adapted from services/jax-orchestrator's ctx.Done()-based goroutine
// shutdown pattern.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"jax-advisor-core/internal/audit"
	"jax-advisor-core/internal/authn"
	"jax-advisor-core/internal/broker"
	"jax-advisor-core/internal/compliance"
	"jax-advisor-core/internal/config"
	"jax-advisor-core/internal/database"
	"jax-advisor-core/internal/execution"
	"jax-advisor-core/internal/guard"
	"jax-advisor-core/internal/httpapi"
	"jax-advisor-core/internal/llm"
	"jax-advisor-core/internal/middleware"
	"jax-advisor-core/internal/observability"
	"jax-advisor-core/internal/policy"
	"jax-advisor-core/internal/router"
	"jax-advisor-core/internal/session"
	"jax-advisor-core/internal/store"
	"jax-advisor-core/internal/supervisor"
	"jax-advisor-core/internal/sync"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, migrationsPath string
	flag.StringVar(&configPath, "config", "config/advisor.json", "Path to the advisor config file")
	flag.StringVar(&migrationsPath, "migrations", "migrations", "Path to the SQL migrations directory")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("fatal: %v", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig := &database.Config{
		DSN:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		SSLMode:  cfg.DBSSLMode,

		MaxOpenConns:    cfg.PoolSize + cfg.MaxOverflow,
		MaxIdleConns:    cfg.PoolSize,
		ConnMaxLifetime: cfg.PoolRecycle,
		ConnMaxIdleTime: cfg.PoolTimeout,
	}
	if err := dbConfig.Validate(); err != nil {
		log.Printf("fatal: database config: %v", err)
		return 2
	}

	db, err := database.ConnectWithMigrations(ctx, dbConfig, migrationsPath)
	if err != nil {
		log.Printf("fatal: database connect: %v", err)
		return 1
	}
	defer db.Close()

	dataStore := store.New(db)
	auditLog := audit.New(sqlFromDB(db))

	policyStore := policy.New(auditLog)
	policyStore.EnableSnapshotCache(cfg.RedisURL)
	// Warm from the last snapshot another instance published, so
	// compliance checks have something to answer with immediately. The
	// authoritative file load below still always runs and supersedes it —
	// this only shortens the cold-start gap, it isn't a replacement.
	if _, err := policyStore.WarmFromCache(ctx); err != nil {
		observability.Info(ctx, "policy_cache_warm_skipped", map[string]any{"reason": err.Error()})
	}
	if _, err := policyStore.LoadFromSource(ctx, cfg.PolicyPath); err != nil {
		if !isPolicyNotExist(err) {
			log.Printf("fatal: policy load: %v", err)
			return 2
		}
		observability.Info(ctx, "policy_file_missing_using_baseline", map[string]any{"path": cfg.PolicyPath})
		if _, err := policyStore.Update(ctx, policy.DefaultDocument("baseline")); err != nil {
			log.Printf("fatal: policy baseline: %v", err)
			return 2
		}
	}
	if cfg.PolicyWatchIntervalSec > 0 {
		policyStore.StartWatcher(ctx, time.Duration(cfg.PolicyWatchIntervalSec)*time.Second)
	}
	defer policyStore.StopWatcher()

	brokerAdapter := broker.New(broker.Config{
		AlpacaAPIKey:    cfg.BrokerAPIKey,
		AlpacaAPISecret: cfg.BrokerSecret,
		AlpacaPaper:     cfg.BrokerPaper,
		PolygonAPIKey:   cfg.PolygonAPIKey,
		CacheRedisURL:   cfg.RedisURL,
		CacheEnabled:    true,
		CacheTTL:        5 * time.Second,
		PollInterval:    250 * time.Millisecond,
		PollAttempts:    10,
	})

	complianceEvaluator := compliance.New(policyStore, dataStore, auditLog)

	sessionLog := session.New(dataStore)

	guardController, healthMonitor, err := buildGuardController(db, brokerAdapter, policyStore)
	if err != nil {
		log.Printf("fatal: %v", err)
		return 1
	}
	go healthMonitor.Run(ctx)

	executionService := execution.New(dataStore, brokerAdapter, complianceEvaluator, guardController)

	syncService := sync.New(dataStore, brokerAdapter, executionService).WithGuard(guardController)
	go syncService.Run(ctx)

	llmClient := llm.New(llm.Config{
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: 60 * time.Second,
	})
	agentRouter := router.New(llmClient)

	sup := supervisor.New(agentRouter, llmClient, executionService, sessionLog, dataStore, brokerAdapter)

	authManager, err := authn.NewManager(authn.Config{
		Secret: []byte(cfg.JWTSecret),
		Issuer: "jax-advisor-core",
	})
	if err != nil {
		log.Printf("fatal: auth manager: %v", err)
		return 2
	}

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		RequestsPerHour:   cfg.RateLimitPerMinute * 20,
		Enabled:           true,
	})

	server := httpapi.New(authManager, rateLimiter, middleware.DefaultCORSConfig(), sup, dataStore, executionService, brokerAdapter, guardController)
	server.RegisterRoutes()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		observability.Info(ctx, "advisor_listening", map[string]any{"addr": httpServer.Addr, "mock_broker": brokerAdapter.IsMock()})
		serveErr <- httpServer.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("fatal: http server: %v", err)
			return 1
		}
	case <-sig:
		observability.Info(ctx, "advisor_shutdown_signal", nil)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			return 1
		}
	}
	return 0
}

// buildGuardController wires the three health probes the Guard Controller
// (C12) polls: database reachability, broker reachability (a failed SPY
// price lookup reports degraded, not failed), and whether a policy
// snapshot is loaded.
func buildGuardController(db *database.DB, brokerAdapter *broker.Adapter, policyStore *policy.Store) (*guard.Controller, *guard.HealthMonitor, error) {
	dbProbe := guard.NewFuncProbe("database", func(ctx context.Context) guard.CheckResult {
		result := guard.CheckResult{Name: "database", CheckedAt: time.Now(), Status: guard.StatusOK}
		if err := db.HealthCheck(ctx); err != nil {
			result.Status = guard.StatusFailed
			result.Message = err.Error()
		}
		return result
	})

	brokerProbe := guard.NewFuncProbe("broker", func(ctx context.Context) guard.CheckResult {
		result := guard.CheckResult{Name: "broker", CheckedAt: time.Now(), Status: guard.StatusOK}
		if _, err := brokerAdapter.GetPrice(ctx, "SPY"); err != nil {
			result.Status = guard.StatusDegraded
			result.Message = err.Error()
		}
		return result
	})

	policyProbe := guard.NewFuncProbe("policy", func(ctx context.Context) guard.CheckResult {
		result := guard.CheckResult{Name: "policy", CheckedAt: time.Now(), Status: guard.StatusOK}
		if _, err := policyStore.Snapshot(); err != nil {
			result.Status = guard.StatusFailed
			result.Message = err.Error()
		}
		return result
	})

	monitor := guard.NewHealthMonitor(guard.DefaultMonitorConfig(), nil, dbProbe, brokerProbe, policyProbe)
	override := guard.NewOverrideController()
	incidentLog, err := guard.OpenIncidentLog("data/incidents")
	if err != nil {
		return nil, nil, fmt.Errorf("guard controller: incident log: %w", err)
	}
	return guard.New(monitor, override, incidentLog), monitor, nil
}

func sqlFromDB(db *database.DB) *sql.DB {
	return db.DB
}

// isPolicyNotExist reports whether err is a policy.PolicySourceError wrapping
// a missing-file error, so a fresh deployment with no policy document yet
// can fall back to policy.DefaultDocument instead of failing to boot.
func isPolicyNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

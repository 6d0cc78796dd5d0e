// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/compiler"
	"github.com/xkilldash9x/intentc/internal/config"
	"github.com/xkilldash9x/intentc/internal/engine"
	"github.com/xkilldash9x/intentc/internal/llmclient"
	"github.com/xkilldash9x/intentc/internal/mcp"
	"github.com/xkilldash9x/intentc/internal/safety"
	"github.com/xkilldash9x/intentc/internal/server"
	"github.com/xkilldash9x/intentc/internal/store"
)

// ComponentFactory builds the full service graph. The abstraction keeps
// the serve command's wiring testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create performs the full dependency injection. With no database URL
// configured the system runs on the in-memory store; every other
// component is wired identically either way.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Store: Postgres when configured, in-memory otherwise.
	var intentStore schemas.IntentStore
	if dbURL := cfg.Database().URL; dbURL != "" {
		poolCfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to parse database URL: %w", err)
			return nil, initializationErr
		}
		if maxConns := cfg.Database().MaxConns; maxConns > 0 {
			poolCfg.MaxConns = maxConns
		}
		if lifetime := cfg.Database().ConnLifetime; lifetime > 0 {
			poolCfg.MaxConnLifetime = lifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.DBPool = pool

		dbStore, err := store.New(ctx, pool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		intentStore = dbStore
		logger.Debug("Postgres store initialized.")
	} else {
		logger.Warn("Database URL is not configured. Running on the in-memory store; state will not survive a restart.")
		intentStore = store.NewMemory()
	}
	components.Store = intentStore

	// 2. Auditor
	auditor, err := safety.NewAuditor(intentStore, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize auditor: %w", err)
		return nil, initializationErr
	}
	components.Auditor = auditor

	// 3. MCP client; its server list feeds the capability catalog.
	mcpClient, err := mcp.NewClient(cfg.MCP(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize MCP client: %w", err)
		return nil, initializationErr
	}
	components.MCP = mcpClient
	logger.Debug("MCP client initialized.", zap.Strings("servers", mcpClient.Servers()))

	// 4. LLM client and compiler
	llmClient, err := llmclient.NewClient(cfg.LLM(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize LLM client: %w", err)
		return nil, initializationErr
	}

	catalog := schemas.CapabilityCatalog{
		Keywords:   schemas.DefaultKeywords(),
		MCPServers: mcpClient.Servers(),
	}
	intentCompiler, err := compiler.New(llmClient, intentStore, catalog, cfg.Compiler(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize compiler: %w", err)
		return nil, initializationErr
	}
	components.Compiler = intentCompiler
	logger.Debug("Intent compiler initialized.")

	// 5. Script engine: MCP tool bridge over a simulated fallback.
	simulated := engine.NewSimulatedEngine(cfg.Safety().ReviewThreshold, logger)
	script, err := engine.NewToolBridge(mcpClient, simulated, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize script engine: %w", err)
		return nil, initializationErr
	}

	// 6. Task engine and sweeper
	taskEngine, err := engine.New(cfg, logger, intentStore, auditor, script)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize task engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = taskEngine

	sweeper, err := engine.NewSweeper(taskEngine, cfg.Safety().SweepInterval)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize sweeper: %w", err)
		return nil, initializationErr
	}
	components.Sweeper = sweeper
	logger.Debug("Task engine and sweeper initialized.")

	// 7. Rate limiter and HTTP server
	limiter := safety.NewLimiter(cfg.Safety().RateLimitPerMinute)
	components.Limiter = limiter

	httpServer, err := server.New(cfg, logger, intentCompiler, taskEngine, intentStore, limiter)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize HTTP server: %w", err)
		return nil, initializationErr
	}
	components.Server = httpServer

	logger.Info("All components initialized successfully.")
	return components, nil
}

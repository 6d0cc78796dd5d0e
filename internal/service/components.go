// File: internal/service/components.go

// Package service is the composition root: it wires configuration,
// store, LLM client, compiler, safety layer, engine, sweeper and HTTP
// server into a running system.
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/compiler"
	"github.com/xkilldash9x/intentc/internal/engine"
	"github.com/xkilldash9x/intentc/internal/mcp"
	"github.com/xkilldash9x/intentc/internal/observability"
	"github.com/xkilldash9x/intentc/internal/safety"
	"github.com/xkilldash9x/intentc/internal/server"
)

// Components holds every initialized service. The struct centralizes
// lifecycle management: Create builds it, Shutdown tears it down in
// dependency order.
type Components struct {
	Store    schemas.IntentStore
	Compiler *compiler.Compiler
	Engine   *engine.Engine
	Sweeper  *engine.Sweeper
	Server   *server.Server
	MCP      *mcp.Client
	Limiter  *safety.Limiter
	Auditor  *safety.Auditor

	// DBPool is nil when the system runs on the in-memory store.
	DBPool *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown stops the engine and releases the database pool. The HTTP
// server and sweeper stop with their context.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning component shutdown sequence.")

	if c.Engine != nil {
		c.Engine.Stop()
		logger.Debug("Task engine stopped.")
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}

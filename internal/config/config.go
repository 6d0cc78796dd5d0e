// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Server() ServerConfig
	LLM() LLMConfig
	Compiler() CompilerConfig
	Safety() SafetyConfig
	Engine() EngineConfig
	MCP() MCPConfig

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// Safety Setters
	SetSafetyReviewThreshold(float64)
}

// Config holds the entire application configuration. It uses private
// fields to enforce access through the Interface's getter methods.
type Config struct {
	logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	database DatabaseConfig `mapstructure:"database" yaml:"database"`
	server   ServerConfig   `mapstructure:"server" yaml:"server"`
	llm      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	compiler CompilerConfig `mapstructure:"compiler" yaml:"compiler"`
	safety   SafetyConfig   `mapstructure:"safety" yaml:"safety"`
	engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	mcp      MCPConfig      `mapstructure:"mcp" yaml:"mcp"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Database() DatabaseConfig { return c.database }
func (c *Config) Server() ServerConfig     { return c.server }
func (c *Config) LLM() LLMConfig           { return c.llm }
func (c *Config) Compiler() CompilerConfig { return c.compiler }
func (c *Config) Safety() SafetyConfig     { return c.safety }
func (c *Config) Engine() EngineConfig     { return c.engine }
func (c *Config) MCP() MCPConfig           { return c.mcp }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int)  { c.engine.WorkerConcurrency = w }
func (c *Config) SetSafetyReviewThreshold(t float64) { c.safety.ReviewThreshold = t }

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	MaxConns     int32         `mapstructure:"max_conns" yaml:"max_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime" yaml:"conn_lifetime"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer       string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	AuthDisabled    bool          `mapstructure:"auth_disabled" yaml:"auth_disabled"`
}

// LLMProvider names a supported completion provider.
type LLMProvider string

const ProviderGemini LLMProvider = "gemini"

// LLMConfig configures the completion provider used for entity
// extraction and plan generation.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// CompilerConfig bounds the intent compiler.
type CompilerConfig struct {
	MaxPlanSteps       int `mapstructure:"max_plan_steps" yaml:"max_plan_steps"`
	DefaultStepMinutes int `mapstructure:"default_step_minutes" yaml:"default_step_minutes"`
	LLMTokensPerCall   int `mapstructure:"llm_tokens_per_call" yaml:"llm_tokens_per_call"`
}

// SafetyConfig tunes the safety layer. ReviewThreshold is the
// simulation risk score above which execution requests manual review;
// it is a policy knob, not a constant.
type SafetyConfig struct {
	ReviewThreshold    float64          `mapstructure:"review_threshold" yaml:"review_threshold"`
	ApprovalThreshold  schemas.RiskLevel `mapstructure:"-" yaml:"-"`
	ApprovalRiskName   string           `mapstructure:"approval_threshold" yaml:"approval_threshold"`
	RateLimitPerMinute int              `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	DefaultBudgetUSD   float64          `mapstructure:"default_budget_usd" yaml:"default_budget_usd"`
	SweepInterval      time.Duration    `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// EngineConfig configures the task execution engine.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout" yaml:"default_step_timeout"`
}

// MCPConfig maps MCP server names to their base URLs.
type MCPConfig struct {
	Servers map[string]string `mapstructure:"servers" yaml:"servers"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a configuration populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.safety.ApprovalThreshold = schemas.ParseRiskLevel(cfg.safety.ApprovalRiskName)
	return &cfg
}

// SetDefaults initializes default values for all configuration keys.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "intentc")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.conn_lifetime", "30m")

	// -- Server --
	v.SetDefault("server.addr", ":8087")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.jwt_issuer", "intentc")
	v.SetDefault("server.auth_disabled", false)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4000)

	// -- Compiler --
	v.SetDefault("compiler.max_plan_steps", 50)
	v.SetDefault("compiler.default_step_minutes", 5)
	v.SetDefault("compiler.llm_tokens_per_call", 1000)

	// -- Safety --
	v.SetDefault("safety.review_threshold", 0.7)
	v.SetDefault("safety.approval_threshold", "HIGH")
	v.SetDefault("safety.rate_limit_per_minute", 60)
	v.SetDefault("safety.default_budget_usd", 100.0)
	v.SetDefault("safety.sweep_interval", "30s")

	// -- Engine --
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_step_timeout", "5m")

	// -- MCP --
	v.SetDefault("mcp.timeout", "60s")
}

// NewConfigFromViper creates a configuration instance from a viper
// object that has already read its sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values come from the environment, never the file.
	_ = v.BindEnv("llm.api_key", "INTENTC_LLM_API_KEY")
	_ = v.BindEnv("server.jwt_secret", "INTENTC_JWT_SECRET")
	_ = v.BindEnv("database.url", "INTENTC_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.safety.ApprovalThreshold = schemas.ParseRiskLevel(cfg.safety.ApprovalRiskName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if c.safety.ReviewThreshold < 0.0 || c.safety.ReviewThreshold > 1.0 {
		return fmt.Errorf("safety.review_threshold must be between 0.0 and 1.0")
	}
	if c.compiler.MaxPlanSteps <= 0 {
		return fmt.Errorf("compiler.max_plan_steps must be a positive integer")
	}
	return nil
}

// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/intentc/api/schemas"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 4, cfg.Engine().WorkerConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Engine().DefaultStepTimeout)
	assert.Equal(t, 0.7, cfg.Safety().ReviewThreshold)
	assert.Equal(t, schemas.RiskHigh, cfg.Safety().ApprovalThreshold)
	assert.Equal(t, 60, cfg.Safety().RateLimitPerMinute)
	assert.Equal(t, 50, cfg.Compiler().MaxPlanSteps)
	assert.Equal(t, 1000, cfg.Compiler().LLMTokensPerCall)
	assert.Equal(t, 30*time.Second, cfg.Safety().SweepInterval)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetEngineWorkerConcurrency(0)
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.SetSafetyReviewThreshold(1.5)
	assert.Error(t, cfg.Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("engine.worker_concurrency", 12)
	v.Set("safety.approval_threshold", "CRITICAL")
	v.Set("safety.review_threshold", 0.5)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Engine().WorkerConcurrency)
	assert.Equal(t, schemas.RiskCritical, cfg.Safety().ApprovalThreshold)
	assert.Equal(t, 0.5, cfg.Safety().ReviewThreshold)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("compiler.max_plan_steps", -1)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

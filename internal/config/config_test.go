// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "warden", cfg.Logger().ServiceName)
	assert.Equal(t, 2, cfg.Engine().WorkerConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Engine().DefaultRunTimeout)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, "console", cfg.Approval().Mode)
	assert.False(t, cfg.Advisor().Enabled)
	assert.Empty(t, cfg.Database().URL)
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("engine.worker_concurrency", 8)
	v.Set("approval.mode", "auto-deny")
	v.Set("network.navigation_timeout", "30s")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine().WorkerConcurrency)
	assert.Equal(t, "auto-deny", cfg.Approval().Mode)
	assert.Equal(t, 30*time.Second, cfg.Network().NavigationTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		set  func(v *viper.Viper)
	}{
		{"zero concurrency", func(v *viper.Viper) { v.Set("engine.worker_concurrency", 0) }},
		{"zero queue", func(v *viper.Viper) { v.Set("engine.queue_size", 0) }},
		{"unknown approval mode", func(v *viper.Viper) { v.Set("approval.mode", "shrug") }},
		{"advisor enabled without url", func(v *viper.Viper) { v.Set("advisor.enabled", true) }},
		{"advisor bad rate", func(v *viper.Viper) {
			v.Set("advisor.enabled", true)
			v.Set("advisor.base_url", "http://localhost:9000")
			v.Set("advisor.rate_per_second", -1.0)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			tc.set(v)
			_, err := NewConfigFromViper(v)
			assert.Error(t, err)
		})
	}
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.SetEngineWorkerConcurrency(6)
	cfg.SetBrowserHeadless(false)
	cfg.SetApprovalMode("auto-approve")
	cfg.SetAdvisorEnabled(true)
	cfg.SetRunConfig(RunConfig{Targets: []string{"https://example.com", "https://example.org"}, Format: "json"})

	assert.Equal(t, 6, cfg.Engine().WorkerConcurrency)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "auto-approve", cfg.Approval().Mode)
	assert.True(t, cfg.Advisor().Enabled)
	assert.Equal(t, []string{"https://example.com", "https://example.org"}, cfg.Run().Targets)
}

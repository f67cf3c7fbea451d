package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Scheduler().TickInterval)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler().OptimizeInterval)
	assert.Equal(t, 5, cfg.Scheduler().MaxConcurrentTasks)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler().RetentionWindow)
	assert.Equal(t, 48, cfg.Scheduler().WindowCap)
	assert.InDelta(t, 0.15, cfg.Bandit().ExplorationRate, 1e-9)
	assert.InDelta(t, 0.1, cfg.Bandit().LossPenalty, 1e-9)

	// 10 streams x 2 platforms x 4 hooks x 3 styles = 240 arms by default.
	n := len(cfg.Bandit().Streams) * len(cfg.Bandit().Platforms) *
		len(cfg.Bandit().Hooks) * len(cfg.Bandit().Styles)
	assert.Equal(t, 240, n)
}

func TestPlatformLimitFallback(t *testing.T) {
	g := GovernorConfig{
		PlatformDailyLimits:  map[string]float64{"tiktok": 200},
		DefaultPlatformLimit: 75,
	}
	assert.InDelta(t, 200, g.PlatformLimit("tiktok"), 1e-9)
	assert.InDelta(t, 75, g.PlatformLimit("instagram"), 1e-9)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		set  func(v *viper.Viper)
	}{
		{"empty universe", func(v *viper.Viper) { v.Set("bandit.streams", []string{}) }},
		{"exploration rate above one", func(v *viper.Viper) { v.Set("bandit.exploration_rate", 1.5) }},
		{"positive prune threshold", func(v *viper.Viper) { v.Set("bandit.prune_threshold", 10.0) }},
		{"zero daily budget", func(v *viper.Viper) { v.Set("governor.daily_budget", 0.0) }},
		{"zero concurrency", func(v *viper.Viper) { v.Set("scheduler.max_concurrent_tasks", 0) }},
		{"db enabled without url", func(v *viper.Viper) { v.Set("database.enabled", true) }},
		{"baseline consumes whole budget", func(v *viper.Viper) { v.Set("bandit.baseline_weight", 0.01) }},
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

func TestConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("scheduler.max_concurrent_tasks", 8)
	v.Set("governor.daily_budget", 1000.0)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scheduler().MaxConcurrentTasks)
	assert.InDelta(t, 1000.0, cfg.Governor().DailyBudget, 1e-9)
}

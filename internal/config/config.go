// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on this rather than the concrete struct so tests can
// substitute fixed values.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Bandit() BanditConfig
	Governor() GovernorConfig
	Scheduler() SchedulerConfig
	Server() ServerConfig
	Funnel() FunnelConfig
}

// Config holds the entire application configuration. Fields are private to
// enforce access through the Interface getters; unmarshaling goes through the
// exported mirror in fileConfig.
type Config struct {
	logger    LoggerConfig
	database  DatabaseConfig
	bandit    BanditConfig
	governor  GovernorConfig
	scheduler SchedulerConfig
	server    ServerConfig
	funnel    FunnelConfig
}

// fileConfig is the exported-field shape viper can decode into.
type fileConfig struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Bandit    BanditConfig    `mapstructure:"bandit" yaml:"bandit"`
	Governor  GovernorConfig  `mapstructure:"governor" yaml:"governor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Funnel    FunnelConfig    `mapstructure:"funnel" yaml:"funnel"`
}

func (f fileConfig) toConfig() *Config {
	return &Config{
		logger:    f.Logger,
		database:  f.Database,
		bandit:    f.Bandit,
		governor:  f.Governor,
		scheduler: f.Scheduler,
		server:    f.Server,
		funnel:    f.Funnel,
	}
}

func (c *Config) Logger() LoggerConfig       { return c.logger }
func (c *Config) Database() DatabaseConfig   { return c.database }
func (c *Config) Bandit() BanditConfig       { return c.bandit }
func (c *Config) Governor() GovernorConfig   { return c.governor }
func (c *Config) Scheduler() SchedulerConfig { return c.scheduler }
func (c *Config) Server() ServerConfig       { return c.server }
func (c *Config) Funnel() FunnelConfig       { return c.funnel }

// LoggerConfig holds all the configuration for the logger.
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

// DatabaseConfig holds the ledger database connection details. The ledger is
// optional: with Enabled false the service keeps all state in memory.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// BanditConfig tunes the arm registry and the Thompson Sampling allocator.
type BanditConfig struct {
	// Universe of arm combinations seeded at startup.
	Streams   []string `mapstructure:"streams" yaml:"streams"`
	Platforms []string `mapstructure:"platforms" yaml:"platforms"`
	Hooks     []string `mapstructure:"hooks" yaml:"hooks"`
	Styles    []string `mapstructure:"styles" yaml:"styles"`

	// ExplorationRate is the fraction of selections reserved for the
	// least-clicked arms regardless of score.
	ExplorationRate float64 `mapstructure:"exploration_rate" yaml:"exploration_rate"`

	// LossPenalty multiplies the sampled score of arms with negative profit.
	LossPenalty float64 `mapstructure:"loss_penalty" yaml:"loss_penalty"`

	// BaselineWeight is the per-arm allocation floor applied before the
	// profit-proportional share is distributed.
	BaselineWeight float64 `mapstructure:"baseline_weight" yaml:"baseline_weight"`

	// PruneThreshold is the (negative) profit below which an arm may be
	// deleted; PruneMinSamples is the click count required before pruning is
	// allowed, so under-explored arms are never removed.
	PruneThreshold  float64 `mapstructure:"prune_threshold" yaml:"prune_threshold"`
	PruneMinSamples int64   `mapstructure:"prune_min_samples" yaml:"prune_min_samples"`

	// PromoteCount arms receive a PromoteBudget spend proposal on every
	// periodic optimization pass.
	PromoteCount  int     `mapstructure:"promote_count" yaml:"promote_count"`
	PromoteBudget float64 `mapstructure:"promote_budget" yaml:"promote_budget"`
}

// GovernorConfig tunes the spend governor's risk limits.
type GovernorConfig struct {
	DailyBudget          float64            `mapstructure:"daily_budget" yaml:"daily_budget"`
	ApprovalThreshold    float64            `mapstructure:"approval_threshold" yaml:"approval_threshold"`
	PlatformDailyLimits  map[string]float64 `mapstructure:"platform_daily_limits" yaml:"platform_daily_limits"`
	DefaultPlatformLimit float64            `mapstructure:"default_platform_limit" yaml:"default_platform_limit"`
}

// PlatformLimit returns the daily spend limit for a platform, falling back
// to the default limit for platforms without an explicit entry.
func (g GovernorConfig) PlatformLimit(platform string) float64 {
	if limit, ok := g.PlatformDailyLimits[platform]; ok {
		return limit
	}
	return g.DefaultPlatformLimit
}

// SchedulerConfig tunes the orchestrator's tick loop.
type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	OptimizeInterval   time.Duration `mapstructure:"optimize_interval" yaml:"optimize_interval"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	RetentionWindow    time.Duration `mapstructure:"retention_window" yaml:"retention_window"`
	AnalyticsInterval  time.Duration `mapstructure:"analytics_interval" yaml:"analytics_interval"`
	WindowCap          int           `mapstructure:"window_cap" yaml:"window_cap"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// FunnelConfig tunes the built-in collaborator implementations.
type FunnelConfig struct {
	// PublishRate caps outbound publish calls per second; PublishBurst is the
	// limiter burst size.
	PublishRate  float64 `mapstructure:"publish_rate" yaml:"publish_rate"`
	PublishBurst int     `mapstructure:"publish_burst" yaml:"publish_burst"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "promoflow")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")

	// -- Bandit --
	v.SetDefault("bandit.streams", []string{
		"gadgets", "home", "fitness", "beauty", "kitchen",
		"outdoors", "pets", "office", "travel", "games",
	})
	v.SetDefault("bandit.platforms", []string{"tiktok", "youtube"})
	v.SetDefault("bandit.hooks", []string{"curiosity", "urgency", "social_proof", "challenge"})
	v.SetDefault("bandit.styles", []string{"fast_cut", "voiceover", "demo"})
	v.SetDefault("bandit.exploration_rate", 0.15)
	v.SetDefault("bandit.loss_penalty", 0.1)
	v.SetDefault("bandit.baseline_weight", 0.001)
	v.SetDefault("bandit.prune_threshold", -100.0)
	v.SetDefault("bandit.prune_min_samples", 50)
	v.SetDefault("bandit.promote_count", 5)
	v.SetDefault("bandit.promote_budget", 20.0)

	// -- Governor --
	v.SetDefault("governor.daily_budget", 500.0)
	v.SetDefault("governor.approval_threshold", 50.0)
	v.SetDefault("governor.default_platform_limit", 200.0)
	v.SetDefault("governor.platform_daily_limits", map[string]float64{
		"tiktok":  200.0,
		"youtube": 150.0,
	})

	// -- Scheduler --
	v.SetDefault("scheduler.tick_interval", "30s")
	v.SetDefault("scheduler.optimize_interval", "2h")
	v.SetDefault("scheduler.max_concurrent_tasks", 5)
	v.SetDefault("scheduler.retention_window", "24h")
	v.SetDefault("scheduler.analytics_interval", "30m")
	v.SetDefault("scheduler.window_cap", 48)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Funnel --
	v.SetDefault("funnel.publish_rate", 2.0)
	v.SetDefault("funnel.publish_burst", 1)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return fc.toConfig()
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("database.url", "PROMOFLOW_DATABASE_URL")

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := fc.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if len(c.bandit.Streams) == 0 || len(c.bandit.Platforms) == 0 ||
		len(c.bandit.Hooks) == 0 || len(c.bandit.Styles) == 0 {
		return fmt.Errorf("bandit universe must have at least one stream, platform, hook, and style")
	}
	if c.bandit.ExplorationRate < 0 || c.bandit.ExplorationRate > 1 {
		return fmt.Errorf("bandit.exploration_rate must be in [0, 1]")
	}
	if c.bandit.LossPenalty < 0 || c.bandit.LossPenalty > 1 {
		return fmt.Errorf("bandit.loss_penalty must be in [0, 1]")
	}
	if c.bandit.BaselineWeight < 0 {
		return fmt.Errorf("bandit.baseline_weight must be non-negative")
	}
	if n := len(c.bandit.Streams) * len(c.bandit.Platforms) * len(c.bandit.Hooks) * len(c.bandit.Styles); float64(n)*c.bandit.BaselineWeight >= 1 {
		return fmt.Errorf("bandit.baseline_weight too large for a universe of %d arms", n)
	}
	if c.bandit.PruneThreshold >= 0 {
		return fmt.Errorf("bandit.prune_threshold must be negative")
	}
	if c.bandit.PromoteCount <= 0 || c.bandit.PromoteBudget <= 0 {
		return fmt.Errorf("bandit.promote_count and bandit.promote_budget must be positive")
	}
	if c.governor.DailyBudget <= 0 {
		return fmt.Errorf("governor.daily_budget must be positive")
	}
	if c.governor.ApprovalThreshold <= 0 {
		return fmt.Errorf("governor.approval_threshold must be positive")
	}
	if c.governor.DefaultPlatformLimit <= 0 {
		return fmt.Errorf("governor.default_platform_limit must be positive")
	}
	if c.scheduler.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be a positive integer")
	}
	if c.scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be a positive duration")
	}
	if c.scheduler.WindowCap <= 0 {
		return fmt.Errorf("scheduler.window_cap must be a positive integer")
	}
	if c.database.Enabled && c.database.URL == "" {
		return fmt.Errorf("database.url is required when database.enabled is true")
	}
	return nil
}

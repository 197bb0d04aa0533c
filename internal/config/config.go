package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/zerverless/coordinator/internal/coordinator"
)

type Config struct {
	NodeID   string
	HTTPPort int
	LogLevel string

	Replication          int
	MaxReplicasAttempted int
	PairThreshold        float64
	JobThreshold         float64
	PointsCap            float64
	HistorySize          int
	JobRetention         time.Duration
	ContributorRetention time.Duration
	AbandonAfter         time.Duration
	SweepInterval        time.Duration
	TargetPending        int
	EventBuffer          int

	CatalogPath      string
	CatalogGitURL    string
	CatalogGitBranch string
	CatalogGitUser   string
	CatalogGitToken  string
	DataDir          string
	RedisAddr        string
	RedisStream      string

	RateLimitRPS   float64
	RateLimitBurst int
	AdminToken     string
}

func defaults(v *viper.Viper) {
	v.SetDefault("NODE_ID", "node-default")
	v.SetDefault("HTTP_PORT", 8000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REPLICATION_FACTOR", 3)
	v.SetDefault("MAX_REPLICAS_ATTEMPTED", 5)
	v.SetDefault("PAIR_THRESHOLD", 0.8)
	v.SetDefault("JOB_THRESHOLD", 0.7)
	v.SetDefault("POINTS_CAP", 3600)
	v.SetDefault("HISTORY_SIZE", 50)
	v.SetDefault("JOB_RETENTION", "24h")
	v.SetDefault("CONTRIBUTOR_RETENTION", "24h")
	v.SetDefault("ABANDON_AFTER", "168h")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("TARGET_PENDING", 0)
	v.SetDefault("EVENT_BUFFER", 256)
	v.SetDefault("CATALOG_PATH", "")
	v.SetDefault("CATALOG_GIT_URL", "")
	v.SetDefault("CATALOG_GIT_BRANCH", "main")
	v.SetDefault("CATALOG_GIT_USER", "git")
	v.SetDefault("CATALOG_GIT_TOKEN", "")
	v.SetDefault("DATA_DIR", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_STREAM", "coordinator:settled")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("ADMIN_TOKEN", "")
}

// Load reads configuration from the environment.
func Load() *Config {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

// LoadFile reads a config file and lets the environment override it.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	v.AutomaticEnv()
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		NodeID:               v.GetString("NODE_ID"),
		HTTPPort:             v.GetInt("HTTP_PORT"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		Replication:          v.GetInt("REPLICATION_FACTOR"),
		MaxReplicasAttempted: v.GetInt("MAX_REPLICAS_ATTEMPTED"),
		PairThreshold:        v.GetFloat64("PAIR_THRESHOLD"),
		JobThreshold:         v.GetFloat64("JOB_THRESHOLD"),
		PointsCap:            v.GetFloat64("POINTS_CAP"),
		HistorySize:          v.GetInt("HISTORY_SIZE"),
		JobRetention:         v.GetDuration("JOB_RETENTION"),
		ContributorRetention: v.GetDuration("CONTRIBUTOR_RETENTION"),
		AbandonAfter:         v.GetDuration("ABANDON_AFTER"),
		SweepInterval:        v.GetDuration("SWEEP_INTERVAL"),
		TargetPending:        v.GetInt("TARGET_PENDING"),
		EventBuffer:          v.GetInt("EVENT_BUFFER"),
		CatalogPath:          v.GetString("CATALOG_PATH"),
		CatalogGitURL:        v.GetString("CATALOG_GIT_URL"),
		CatalogGitBranch:     v.GetString("CATALOG_GIT_BRANCH"),
		CatalogGitUser:       v.GetString("CATALOG_GIT_USER"),
		CatalogGitToken:      v.GetString("CATALOG_GIT_TOKEN"),
		DataDir:              v.GetString("DATA_DIR"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisStream:          v.GetString("REDIS_STREAM"),
		RateLimitRPS:         v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:       v.GetInt("RATE_LIMIT_BURST"),
		AdminToken:           v.GetString("ADMIN_TOKEN"),
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = coordinator.DefaultSweepInterval
	}
	return cfg
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c *Config) CoordinatorOptions() coordinator.Options {
	opts := coordinator.DefaultOptions()
	opts.Replication = c.Replication
	opts.MaxReplicasAttempted = c.MaxReplicasAttempted
	opts.PairThreshold = c.PairThreshold
	opts.JobThreshold = c.JobThreshold
	opts.PointsCap = c.PointsCap
	opts.HistorySize = c.HistorySize
	opts.JobRetention = c.JobRetention
	opts.ContributorRetention = c.ContributorRetention
	opts.AbandonAfter = c.AbandonAfter
	opts.TargetPending = c.TargetPending
	return opts
}

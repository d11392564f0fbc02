package main

import (
	"fmt"
	"os"
	"time"

	"codearena/internal/arena/controller"
	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	contestModel "codearena/internal/contest/model"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/spec"
	problemModel "codearena/internal/problem/model"
	"codearena/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// ShutdownTimeout bounds draining of HTTP requests and in-flight judging.
	ShutdownTimeout time.Duration           `yaml:"shutdownTimeout"`
	CORS            middleware.CORSConfig   `yaml:"cors"`
	RateLimit       controller.RateLimits   `yaml:"rateLimit"`
	Stream          controller.StreamConfig `yaml:"stream"`
}

// JudgeConfig holds judge settings.
type JudgeConfig struct {
	WorkRoot       string `yaml:"workRoot"`
	MaxSourceBytes int    `yaml:"maxSourceBytes"`
	// CompileLimits and RunDefaults override the runner's built in limits.
	CompileLimits spec.ResourceLimit `yaml:"compileLimits"`
	RunDefaults   spec.ResourceLimit `yaml:"runDefaults"`
	// SampleSlots bounds concurrent sample runs.
	SampleSlots   int           `yaml:"sampleSlots"`
	SampleTimeout time.Duration `yaml:"sampleTimeout"`
}

// SchedulerConfig holds submission scheduling settings.
type SchedulerConfig struct {
	PoolSize     int           `yaml:"poolSize"`
	MaxRetries   int           `yaml:"maxRetries"`
	BackoffBase  time.Duration `yaml:"backoffBase"`
	BackoffMax   time.Duration `yaml:"backoffMax"`
	JudgeTimeout time.Duration `yaml:"judgeTimeout"`
	StatusTTL    time.Duration `yaml:"statusTTL"`
	VerdictTopic string        `yaml:"verdictTopic"`
	SourceBucket string        `yaml:"sourceBucket"`
	SourcePrefix string        `yaml:"sourcePrefix"`
}

// LeaderboardConfig holds ranking policy and snapshot settings.
type LeaderboardConfig struct {
	PenaltyPerWrong    time.Duration `yaml:"penaltyPerWrong"`
	CountSolveTime     *bool         `yaml:"countSolveTime"`
	CountCompileErrors bool          `yaml:"countCompileErrors"`
	FlushInterval      time.Duration `yaml:"flushInterval"`
	CacheTTL           time.Duration `yaml:"cacheTTL"`
	InboxSize          int           `yaml:"inboxSize"`
}

// SessionConfig holds session token settings.
type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	TokenGrace time.Duration `yaml:"tokenGrace"`
}

// CatalogConfig locates the problem catalog.
type CatalogConfig struct {
	Path   string                    `yaml:"path"`
	Points problemModel.PointsPolicy `yaml:"points"`
}

// AppConfig holds arena-service configuration.
type AppConfig struct {
	Server      ServerConfig           `yaml:"server"`
	Logger      logger.Config          `yaml:"logger"`
	Redis       cache.RedisConfig      `yaml:"redis"`
	Database    db.MySQLConfig         `yaml:"database"`
	Kafka       mq.KafkaConfig         `yaml:"kafka"`
	MinIO       storage.MinIOConfig    `yaml:"minio"`
	Sandbox     engine.Config          `yaml:"sandbox"`
	Languages   []profile.LanguageSpec `yaml:"languages"`
	Judge       JudgeConfig            `yaml:"judge"`
	Scheduler   SchedulerConfig        `yaml:"scheduler"`
	Leaderboard LeaderboardConfig      `yaml:"leaderboard"`
	Contests    []contestModel.Contest `yaml:"contests"`
	Session     SessionConfig          `yaml:"session"`
	Catalog     CatalogConfig          `yaml:"catalog"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyServerDefaults(&cfg.Server)
	applyJudgeDefaults(&cfg.Judge)
	applySchedulerDefaults(&cfg.Scheduler)
	applyLeaderboardDefaults(&cfg.Leaderboard)
	if len(cfg.Languages) == 0 {
		cfg.Languages = profile.DefaultLanguages()
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "configs/problems.yaml"
	}
	if cfg.Session.Issuer == "" {
		cfg.Session.Issuer = "codearena"
	}
	if cfg.Session.Secret == "" {
		return nil, fmt.Errorf("session.secret is required")
	}
	for i := range cfg.Contests {
		if cfg.Contests[i].Duration == 0 {
			cfg.Contests[i].Duration = contestModel.DefaultDuration
		}
	}
	return &cfg, nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	applyRateLimitDefaults(&cfg.RateLimit.Submit, 10, 30)
	applyRateLimitDefaults(&cfg.RateLimit.Run, 20, 60)
}

func applyRateLimitDefaults(p *middleware.RateLimitPolicy, userMax, ipMax int) {
	if p.Window == 0 {
		p.Window = time.Minute
	}
	if p.UserMax == 0 {
		p.UserMax = userMax
	}
	if p.IPMax == 0 {
		p.IPMax = ipMax
	}
}

func applyJudgeDefaults(cfg *JudgeConfig) {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir() + "/codearena"
	}
	if cfg.MaxSourceBytes == 0 {
		cfg.MaxSourceBytes = 64 * 1024
	}
	if cfg.SampleSlots == 0 {
		cfg.SampleSlots = 4
	}
	if cfg.SampleTimeout == 0 {
		cfg.SampleTimeout = 30 * time.Second
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.JudgeTimeout == 0 {
		cfg.JudgeTimeout = 2 * time.Minute
	}
	if cfg.StatusTTL == 0 {
		cfg.StatusTTL = 24 * time.Hour
	}
	if cfg.VerdictTopic == "" {
		cfg.VerdictTopic = "arena.verdict.final"
	}
	if cfg.SourceBucket == "" {
		cfg.SourceBucket = "arena-sources"
	}
	if cfg.SourcePrefix == "" {
		cfg.SourcePrefix = "submissions"
	}
}

func applyLeaderboardDefaults(cfg *LeaderboardConfig) {
	if cfg.PenaltyPerWrong == 0 {
		cfg.PenaltyPerWrong = 20 * time.Minute
	}
	if cfg.CountSolveTime == nil {
		on := true
		cfg.CountSolveTime = &on
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 15 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.InboxSize == 0 {
		cfg.InboxSize = 256
	}
}

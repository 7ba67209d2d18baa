package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ledgerdesk/assistant-backend/internal/data/db"
	"github.com/ledgerdesk/assistant-backend/internal/platform/envutil"
	"github.com/ledgerdesk/assistant-backend/internal/services"
)

type Config struct {
	Env            string
	ServiceVersion string
	HTTPAddr       string
	MetricsAddr    string
	JWTSecret      string
	RedisAddr      string

	DB              db.Config
	Scope           services.ScopeCacheConfig
	Learning        services.LearningConfig
	Review          services.ReviewConfig
	RedactionPolicy services.RedactionPolicy

	SweeperEnabled bool
	SweepInterval  time.Duration
}

// Load builds the config from environment variables, then overlays the
// optional YAML file named by ASSISTANT_CONFIG_FILE. File values win over
// environment values for the fields they set.
func Load() (Config, error) {
	cfg := Config{
		Env:            envutil.String("APP_ENV", "dev"),
		ServiceVersion: envutil.String("SERVICE_VERSION", "dev"),
		HTTPAddr:       envutil.String("HTTP_ADDR", ":8080"),
		MetricsAddr:    envutil.String("METRICS_ADDR", ""),
		JWTSecret:      envutil.String("JWT_SECRET", ""),
		RedisAddr:      envutil.String("REDIS_ADDR", ""),
		DB:             db.ConfigFromEnv(),
		Scope: services.ScopeCacheConfig{
			TTL:                envutil.Duration("SCOPE_TTL", 15*time.Minute),
			MaxScopeBytes:      envutil.Int("SCOPE_MAX_BYTES", 8*1024),
			ComparablesCap:     envutil.Int("SCOPE_COMPARABLES_CAP", 20),
			PerUserMaxSessions: envutil.Int("SCOPE_PER_USER_MAX_SESSIONS", 8),
			GlobalMaxEntries:   envutil.Int("SCOPE_GLOBAL_MAX_ENTRIES", 10000),
			GlobalMaxBytes:     envutil.Int64("SCOPE_GLOBAL_MAX_BYTES", 64*1024*1024),
		},
		Learning: services.LearningConfig{
			CandidateLimit: envutil.Int("LEARNING_CANDIDATE_LIMIT", 50),
			MaxExamples:    envutil.Int("LEARNING_MAX_EXAMPLES", 3),
			MinScore:       envutil.Float("LEARNING_MIN_SCORE", 0.34),
			DirectScore:    envutil.Float("LEARNING_DIRECT_SCORE", 0.82),
		},
		Review: services.ReviewConfig{
			RetentionDays:    envutil.Int("REVIEW_RETENTION_DAYS", 90),
			SweepBatch:       envutil.Int("REVIEW_SWEEP_BATCH", 500),
			ListDefaultLimit: envutil.Int("REVIEW_LIST_DEFAULT_LIMIT", 20),
			ListMaxLimit:     envutil.Int("REVIEW_LIST_MAX_LIMIT", 100),
		},
		RedactionPolicy: services.RedactionPolicy(envutil.String("REVIEW_REDACTION_POLICY", string(services.RedactionMinimal))),
		SweeperEnabled:  envutil.Bool("RETENTION_SWEEPER_ENABLED", true),
		SweepInterval:   envutil.Duration("RETENTION_SWEEP_INTERVAL", time.Hour),
	}

	if path := envutil.String("ASSISTANT_CONFIG_FILE", ""); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if cfg.Env == "prod" && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required in prod")
	}
	return cfg, nil
}

type fileConfig struct {
	HTTPAddr        *string `yaml:"httpAddr"`
	MetricsAddr     *string `yaml:"metricsAddr"`
	RedisAddr       *string `yaml:"redisAddr"`
	RedactionPolicy *string `yaml:"redactionPolicy"`
	Scope           struct {
		TTL                *string `yaml:"ttl"`
		MaxScopeBytes      *int    `yaml:"maxScopeBytes"`
		ComparablesCap     *int    `yaml:"comparablesCap"`
		PerUserMaxSessions *int    `yaml:"perUserMaxSessions"`
		GlobalMaxEntries   *int    `yaml:"globalMaxEntries"`
		GlobalMaxBytes     *int64  `yaml:"globalMaxBytes"`
	} `yaml:"scope"`
	Learning struct {
		CandidateLimit *int     `yaml:"candidateLimit"`
		MaxExamples    *int     `yaml:"maxExamples"`
		MinScore       *float64 `yaml:"minScore"`
		DirectScore    *float64 `yaml:"directScore"`
	} `yaml:"learning"`
	Review struct {
		RetentionDays *int `yaml:"retentionDays"`
		SweepBatch    *int `yaml:"sweepBatch"`
	} `yaml:"review"`
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.HTTPAddr != nil {
		cfg.HTTPAddr = *fc.HTTPAddr
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.RedisAddr != nil {
		cfg.RedisAddr = *fc.RedisAddr
	}
	if fc.RedactionPolicy != nil {
		cfg.RedactionPolicy = services.RedactionPolicy(*fc.RedactionPolicy)
	}
	if fc.Scope.TTL != nil {
		d, err := time.ParseDuration(*fc.Scope.TTL)
		if err != nil {
			return fmt.Errorf("config: scope.ttl: %w", err)
		}
		cfg.Scope.TTL = d
	}
	if fc.Scope.MaxScopeBytes != nil {
		cfg.Scope.MaxScopeBytes = *fc.Scope.MaxScopeBytes
	}
	if fc.Scope.ComparablesCap != nil {
		cfg.Scope.ComparablesCap = *fc.Scope.ComparablesCap
	}
	if fc.Scope.PerUserMaxSessions != nil {
		cfg.Scope.PerUserMaxSessions = *fc.Scope.PerUserMaxSessions
	}
	if fc.Scope.GlobalMaxEntries != nil {
		cfg.Scope.GlobalMaxEntries = *fc.Scope.GlobalMaxEntries
	}
	if fc.Scope.GlobalMaxBytes != nil {
		cfg.Scope.GlobalMaxBytes = *fc.Scope.GlobalMaxBytes
	}
	if fc.Learning.CandidateLimit != nil {
		cfg.Learning.CandidateLimit = *fc.Learning.CandidateLimit
	}
	if fc.Learning.MaxExamples != nil {
		cfg.Learning.MaxExamples = *fc.Learning.MaxExamples
	}
	if fc.Learning.MinScore != nil {
		cfg.Learning.MinScore = *fc.Learning.MinScore
	}
	if fc.Learning.DirectScore != nil {
		cfg.Learning.DirectScore = *fc.Learning.DirectScore
	}
	if fc.Review.RetentionDays != nil {
		cfg.Review.RetentionDays = *fc.Review.RetentionDays
	}
	if fc.Review.SweepBatch != nil {
		cfg.Review.SweepBatch = *fc.Review.SweepBatch
	}
	return nil
}

// Package config loads typed service configuration from viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/meanishn/platform/internal/alerts"
	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/matching"
	"github.com/meanishn/platform/internal/workers/expiry"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type SweepConfig struct {
	expiry.Config `mapstructure:",squash"`
	// LeaderElection makes only one instance sweep, via a Redis lease.
	LeaderElection bool `mapstructure:"leader_election"`
}

type CacheConfig struct {
	AcceptedTTL time.Duration `mapstructure:"accepted_ttl"`
}

type AsynqConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Config holds typed configuration for the marketplace service.
type Config struct {
	LogLevel      string
	HTTPAddr      string
	OpsAddr       string
	Store         string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KafkaBrokers  []string
	KafkaTopic    string
	JWTSecret     string
	OTelEndpoint  string
	OpsEmail      string

	Fanout  assignment.FanoutConfig
	Scoring matching.ScoringConfig
	Sweep   SweepConfig
	Cache   CacheConfig
	Asynq   AsynqConfig
	Notify  alerts.AsyncConfig
	Mail    alerts.MailConfig
}

// LoadDotEnv reads .env from the working directory when present.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("ops_addr", ":9090")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("redis_db", 0)
	v.SetDefault("kafka_topic", "marketplace.events")

	v.SetDefault("fanout.batch_size", 5)
	v.SetDefault("fanout.offer_ttl", "15m")
	v.SetDefault("fanout.rematch_policy", string(assignment.PoolReoffer))
	v.SetDefault("fanout.max_rounds", 3)

	v.SetDefault("scoring.max_distance_miles", 50)
	v.SetDefault("scoring.weights.category", matching.DefaultWeights.Category)
	v.SetDefault("scoring.weights.proximity", matching.DefaultWeights.Proximity)
	v.SetDefault("scoring.weights.quality", matching.DefaultWeights.Quality)

	v.SetDefault("sweep.schedule", "@every 30s")
	v.SetDefault("sweep.batch", 200)
	v.SetDefault("sweep.leader_election", false)

	v.SetDefault("cache.accepted_ttl", "5s")
	v.SetDefault("asynq.concurrency", 5)

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 1024)
	v.SetDefault("notify.timeout", "15s")

	v.SetDefault("mail.provider", "smtp")
	v.SetDefault("mail.smtp.port", "587")
	v.SetDefault("mail.plunk.api_url", "https://api.useplunk.com/v1/send")
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel:      v.GetString("log_level"),
		HTTPAddr:      v.GetString("http_addr"),
		OpsAddr:       v.GetString("ops_addr"),
		Store:         strings.ToLower(v.GetString("store")),
		PostgresDSN:   v.GetString("postgres_dsn"),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		KafkaBrokers:  splitList(v.GetString("kafka_brokers")),
		KafkaTopic:    v.GetString("kafka_topic"),
		JWTSecret:     v.GetString("jwt_secret"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
		OpsEmail:      v.GetString("ops_email"),
	}

	// Unmarshal walks every leaf key, so a section keeps its defaults when
	// only some of its keys are overridden.
	var sections struct {
		Fanout  assignment.FanoutConfig `mapstructure:"fanout"`
		Scoring matching.ScoringConfig  `mapstructure:"scoring"`
		Sweep   SweepConfig             `mapstructure:"sweep"`
		Cache   CacheConfig             `mapstructure:"cache"`
		Asynq   AsynqConfig             `mapstructure:"asynq"`
		Notify  alerts.AsyncConfig      `mapstructure:"notify"`
		Mail    alerts.MailConfig       `mapstructure:"mail"`
	}
	if err := v.Unmarshal(&sections); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Fanout = sections.Fanout
	cfg.Scoring = sections.Scoring
	cfg.Sweep = sections.Sweep
	cfg.Cache = sections.Cache
	cfg.Asynq = sections.Asynq
	cfg.Notify = sections.Notify
	cfg.Mail = sections.Mail
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store))
	}
	if _, err := assignment.ParsePoolPolicy(string(c.Fanout.Policy)); err != nil {
		errs = append(errs, err)
	}
	if c.Fanout.BatchSize < 0 {
		errs = append(errs, errors.New("fanout.batch_size must not be negative"))
	}
	if c.Fanout.MaxRounds < 0 {
		errs = append(errs, errors.New("fanout.max_rounds must not be negative"))
	}
	if c.Fanout.OfferTTL <= 0 {
		errs = append(errs, errors.New("fanout.offer_ttl must be positive"))
	}
	if c.Notify.Workers < 0 || c.Notify.QueueSize < 0 {
		errs = append(errs, errors.New("notify.workers and notify.queue_size must not be negative"))
	}
	if c.Sweep.LeaderElection && c.RedisAddr == "" {
		errs = append(errs, errors.New("sweep.leader_election needs redis_addr"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            int    `yaml:"port"`
	NatsURL         string `yaml:"nats_url"`
	NatsToken       string `yaml:"nats_token"`
	DatabaseURL     string `yaml:"database_url"`
	RedisURL        string `yaml:"redis_url"`
	LogLevel        string `yaml:"log_level"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	APIToken        string `yaml:"api_token"`

	MinEditsForAnalysis    int           `yaml:"min_edits_for_analysis"`
	AnalysisInterval       int           `yaml:"analysis_interval"`
	MaxEditsPerAnalysis    int           `yaml:"max_edits_per_analysis"`
	MinConfidenceThreshold float64       `yaml:"min_confidence_threshold"`
	ProfileCacheTTL        time.Duration `yaml:"profile_cache_ttl"`
	ProfileCacheSize       int           `yaml:"profile_cache_size"`

	MinCliniciansForAggregation int           `yaml:"min_clinicians_for_aggregation"`
	MinLettersForAggregation    int           `yaml:"min_letters_for_aggregation"`
	MaxPatternsPerCategory      int           `yaml:"max_patterns_per_category"`
	MinPatternFrequency         int           `yaml:"min_pattern_frequency"`
	AggregationSchedule         string        `yaml:"aggregation_schedule"`
	AggregationWindow           time.Duration `yaml:"aggregation_window"`

	SeedStatePath string `yaml:"seed_state_path"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:            8760,
		NatsURL:         "nats://hermes:4222",
		LogLevel:        "info",
		AnthropicModel:  "claude-sonnet-4-20250514",
		SeedStatePath:   "quill-seed-state.json",
		ProfileCacheTTL: 5 * time.Minute,

		MinEditsForAnalysis:    5,
		AnalysisInterval:       10,
		MaxEditsPerAnalysis:    50,
		MinConfidenceThreshold: 0.5,
		ProfileCacheSize:       1024,

		MinCliniciansForAggregation: 5,
		MinLettersForAggregation:    50,
		MaxPatternsPerCategory:      20,
		MinPatternFrequency:         3,
		AggregationSchedule:         "0 3 * * 1",
		AggregationWindow:           30 * 24 * time.Hour,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// QUILL_CONFIG if set, then environment variables. Out-of-range values fall
// back to their defaults. The returned error only reports an unreadable or
// malformed file; the Config is usable either way.
func Load() (Config, error) {
	cfg := Defaults()

	var fileErr error
	if path := os.Getenv("QUILL_CONFIG"); path != "" {
		fileErr = loadFile(path, &cfg)
	}

	cfg.Port = envInt("QUILL_PORT", cfg.Port)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = envStr("NATS_TOKEN", cfg.NatsToken)
	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envStr("REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.AnthropicAPIKey = envStr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AnthropicModel = envStr("QUILL_MODEL", cfg.AnthropicModel)
	cfg.APIToken = envStr("QUILL_API_TOKEN", cfg.APIToken)
	cfg.SeedStatePath = envStr("QUILL_SEED_STATE", cfg.SeedStatePath)

	cfg.MinEditsForAnalysis = envInt("MIN_EDITS_FOR_ANALYSIS", cfg.MinEditsForAnalysis)
	cfg.AnalysisInterval = envInt("ANALYSIS_INTERVAL", cfg.AnalysisInterval)
	cfg.MaxEditsPerAnalysis = envInt("MAX_EDITS_PER_ANALYSIS", cfg.MaxEditsPerAnalysis)
	cfg.MinConfidenceThreshold = envFloat("MIN_CONFIDENCE_THRESHOLD", cfg.MinConfidenceThreshold)
	cfg.ProfileCacheTTL = envDuration("PROFILE_CACHE_TTL", cfg.ProfileCacheTTL)
	cfg.ProfileCacheSize = envInt("PROFILE_CACHE_SIZE", cfg.ProfileCacheSize)

	cfg.MinCliniciansForAggregation = envInt("MIN_CLINICIANS_FOR_AGGREGATION", cfg.MinCliniciansForAggregation)
	cfg.MinLettersForAggregation = envInt("MIN_LETTERS_FOR_AGGREGATION", cfg.MinLettersForAggregation)
	cfg.MaxPatternsPerCategory = envInt("MAX_PATTERNS_PER_CATEGORY", cfg.MaxPatternsPerCategory)
	cfg.MinPatternFrequency = envInt("MIN_PATTERN_FREQUENCY", cfg.MinPatternFrequency)
	cfg.AggregationSchedule = envStr("AGGREGATION_SCHEDULE", cfg.AggregationSchedule)
	cfg.AggregationWindow = envDuration("AGGREGATION_WINDOW", cfg.AggregationWindow)

	cfg.fillInvalid()
	return cfg, fileErr
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	// Decode into a copy so a half-parsed file leaves cfg untouched.
	next := *cfg
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	*cfg = next
	return nil
}

func (c *Config) fillInvalid() {
	d := Defaults()
	positive := []struct {
		v   *int
		def int
	}{
		{&c.Port, d.Port},
		{&c.MinEditsForAnalysis, d.MinEditsForAnalysis},
		{&c.AnalysisInterval, d.AnalysisInterval},
		{&c.MaxEditsPerAnalysis, d.MaxEditsPerAnalysis},
		{&c.ProfileCacheSize, d.ProfileCacheSize},
		{&c.MinCliniciansForAggregation, d.MinCliniciansForAggregation},
		{&c.MinLettersForAggregation, d.MinLettersForAggregation},
		{&c.MaxPatternsPerCategory, d.MaxPatternsPerCategory},
		{&c.MinPatternFrequency, d.MinPatternFrequency},
	}
	for _, p := range positive {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
	if c.MinConfidenceThreshold <= 0 || c.MinConfidenceThreshold > 1 {
		c.MinConfidenceThreshold = d.MinConfidenceThreshold
	}
	if c.ProfileCacheTTL <= 0 {
		c.ProfileCacheTTL = d.ProfileCacheTTL
	}
	if c.AggregationWindow <= 0 {
		c.AggregationWindow = d.AggregationWindow
	}
	if c.AggregationSchedule == "" {
		c.AggregationSchedule = d.AggregationSchedule
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Package config provides configuration management for the Asahi gateway.
//
// Configuration is read from a TOML document and every scalar field can
// be overridden at process start via ASAHI_<SECTION>_<FIELD> environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"asahi/internal/domain"
)

// Config is the root configuration structure.
type Config struct {
	API           APIConfig           `toml:"api"`
	Cache         CacheConfig         `toml:"cache"`
	Routing       RoutingConfig       `toml:"routing"`
	Tracking      TrackingConfig      `toml:"tracking"`
	Observability ObservabilityConfig `toml:"observability"`
	Embeddings    EmbeddingsConfig    `toml:"embeddings"`
	Batching      BatchingConfig      `toml:"batching"`
	FeatureStore  FeatureStoreConfig  `toml:"feature_store"`
	Optimization  OptimizationConfig  `toml:"optimization"`
	Governance    GovernanceConfig    `toml:"governance"`
}

// APIConfig contains operational server settings.
type APIConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	Version            string `toml:"version"`
}

// CacheConfig contains Tier-1 exact cache settings.
type CacheConfig struct {
	TTLSeconds             int    `toml:"ttl_seconds"`
	MaxEntries             int    `toml:"max_entries"`
	CleanupIntervalSeconds int    `toml:"cleanup_interval_seconds"`
	RedisAddr              string `toml:"redis_addr"` // empty = in-memory store
	RedisDB                int    `toml:"redis_db"`
	RedisPassword          string `toml:"redis_password"`
}

// RoutingConfig contains router and constraint-interpreter settings.
type RoutingConfig struct {
	DefaultQualityThreshold float64 `toml:"default_quality_threshold"`
	DefaultLatencyBudgetMs  int     `toml:"default_latency_budget_ms"`
	ModelsPath              string  `toml:"models_path"` // YAML model catalog
}

// TrackingConfig contains metering settings, including the rates used
// for the all-GPT-4 counterfactual baseline.
type TrackingConfig struct {
	BaselineInputRate  float64 `toml:"baseline_input_rate"`
	BaselineOutputRate float64 `toml:"baseline_output_rate"`
	BaselineModel      string  `toml:"baseline_model"`
}

// ObservabilityConfig contains telemetry, anomaly, and forecasting settings.
type ObservabilityConfig struct {
	Enabled                   bool           `toml:"enabled"`
	CollectionIntervalSeconds int            `toml:"collection_interval_seconds"`
	RetentionHours            int            `toml:"retention_hours"`
	Anomaly                   AnomalyConfig  `toml:"anomaly"`
	Forecasting               ForecastConfig `toml:"forecasting"`
}

// AnomalyConfig contains anomaly detection thresholds.
type AnomalyConfig struct {
	CostSpikeThreshold        float64 `toml:"cost_spike_threshold"`
	LatencySpikeThreshold     float64 `toml:"latency_spike_threshold"`
	ErrorRateThreshold        float64 `toml:"error_rate_threshold"`
	CacheDegradationThreshold float64 `toml:"cache_degradation_threshold"`
	QualityDropThreshold      float64 `toml:"quality_drop_threshold"`
	RollingWindowHours        int     `toml:"rolling_window_hours"`
}

// ForecastConfig contains forecasting model settings.
type ForecastConfig struct {
	EMASpanDays        int     `toml:"ema_span_days"`
	MinDataPoints      int     `toml:"min_data_points"`
	StableThresholdPct float64 `toml:"stable_threshold_pct"`
}

// EmbeddingsConfig contains embedding provider settings.
type EmbeddingsConfig struct {
	Provider       string `toml:"provider"` // "cohere", "openai", "mock"
	ModelName      string `toml:"model_name"`
	APIKeyEnv      string `toml:"api_key_env"`
	Dimension      int    `toml:"dimension"`
	BatchSize      int    `toml:"batch_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// BatchingConfig contains batch engine and scheduler settings.
type BatchingConfig struct {
	MinBatchSize       int      `toml:"min_batch_size"`
	MaxBatchSize       int      `toml:"max_batch_size"`
	MaxWaitMs          int      `toml:"max_wait_ms"`
	LatencyThresholdMs int      `toml:"latency_threshold_ms"`
	PollIntervalMs     int      `toml:"poll_interval_ms"`
	EligibleTaskTypes  []string `toml:"eligible_task_types"`
}

// FeatureStoreConfig contains feature store settings. The core does not
// consume features itself; the section is carried for external collaborators.
type FeatureStoreConfig struct {
	Provider                  string `toml:"provider"`
	LocalDataPath             string `toml:"local_data_path"`
	TimeoutMs                 int    `toml:"timeout_ms"`
	FallbackOnTimeout         bool   `toml:"fallback_on_timeout"`
	FreshnessThresholdSeconds int    `toml:"freshness_threshold_seconds"`
}

// OptimizationConfig contains prompt-optimization settings used by
// external collaborators.
type OptimizationConfig struct {
	MinRelevanceThreshold float64 `toml:"min_relevance_threshold"`
	ScoringMethod         string  `toml:"scoring_method"`
	MaxHistoryTurns       int     `toml:"max_history_turns"`
}

// GovernanceConfig contains encryption and retention settings.
type GovernanceConfig struct {
	EncryptionKeyEnv string `toml:"encryption_key_env"`
	PBKDF2Iterations int    `toml:"pbkdf2_iterations"`
	SaltLength       int    `toml:"salt_length"`
	RetentionDays    int    `toml:"retention_days"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			RateLimitPerMinute: 100,
			Version:            "1.0.0",
		},
		Cache: CacheConfig{
			TTLSeconds:             86400,
			MaxEntries:             10000,
			CleanupIntervalSeconds: 300,
		},
		Routing: RoutingConfig{
			DefaultQualityThreshold: 3.5,
			DefaultLatencyBudgetMs:  300,
			ModelsPath:              "config/models.yaml",
		},
		Tracking: TrackingConfig{
			BaselineInputRate:  0.010,
			BaselineOutputRate: 0.030,
			BaselineModel:      "gpt-4",
		},
		Observability: ObservabilityConfig{
			Enabled:                   true,
			CollectionIntervalSeconds: 10,
			RetentionHours:            168,
			Anomaly: AnomalyConfig{
				CostSpikeThreshold:        2.0,
				LatencySpikeThreshold:     2.0,
				ErrorRateThreshold:        0.01,
				CacheDegradationThreshold: 0.5,
				QualityDropThreshold:      0.5,
				RollingWindowHours:        24,
			},
			Forecasting: ForecastConfig{
				EMASpanDays:        7,
				MinDataPoints:      3,
				StableThresholdPct: 5.0,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "cohere",
			ModelName:      "embed-english-v3.0",
			APIKeyEnv:      "COHERE_API_KEY",
			Dimension:      1024,
			BatchSize:      96,
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Batching: BatchingConfig{
			MinBatchSize:       2,
			MaxBatchSize:       10,
			MaxWaitMs:          500,
			LatencyThresholdMs: 200,
			PollIntervalMs:     50,
			EligibleTaskTypes:  []string{"summarization", "faq", "translation"},
		},
		FeatureStore: FeatureStoreConfig{
			Provider:                  "local",
			LocalDataPath:             "data/features.json",
			TimeoutMs:                 200,
			FallbackOnTimeout:         true,
			FreshnessThresholdSeconds: 3600,
		},
		Optimization: OptimizationConfig{
			MinRelevanceThreshold: 0.3,
			ScoringMethod:         "keyword",
			MaxHistoryTurns:       5,
		},
		Governance: GovernanceConfig{
			EncryptionKeyEnv: "ASAHI_ENCRYPTION_KEY",
			PBKDF2Iterations: 480000,
			SaltLength:       16,
			RetentionDays:    365,
		},
	}
}

// Load loads configuration from a TOML file, falling back to defaults
// when the file does not exist, then applies ASAHI_* env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, domain.WrapError(domain.ErrConfiguration, err, "parsing config %s", path)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads config from file or returns defaults on error.
func LoadOrDefault(path string) *Config {
	if path == "" {
		cfg := Default()
		cfg.applyEnvOverrides()
		return cfg
	}
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load config from %s: %v\n", path, err)
		return Default()
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Cache.TTLSeconds <= 0 {
		return domain.NewError(domain.ErrConfiguration, "cache.ttl_seconds must be positive, got %d", c.Cache.TTLSeconds)
	}
	if c.Batching.MaxBatchSize < 1 || c.Batching.MinBatchSize < 1 {
		return domain.NewError(domain.ErrConfiguration, "batching sizes must be >= 1")
	}
	if c.Batching.MinBatchSize > c.Batching.MaxBatchSize {
		return domain.NewError(domain.ErrConfiguration,
			"batching.min_batch_size (%d) exceeds max_batch_size (%d)",
			c.Batching.MinBatchSize, c.Batching.MaxBatchSize)
	}
	if c.Embeddings.Dimension <= 0 {
		return domain.NewError(domain.ErrConfiguration, "embeddings.dimension must be positive")
	}
	return nil
}

// applyEnvOverrides overrides scalar fields via ASAHI_<SECTION>_<FIELD>
// environment variables.
func (c *Config) applyEnvOverrides() {
	envStr("ASAHI_API_HOST", &c.API.Host)
	envInt("ASAHI_API_PORT", &c.API.Port)
	envInt("ASAHI_API_RATE_LIMIT_PER_MINUTE", &c.API.RateLimitPerMinute)
	envStr("ASAHI_API_VERSION", &c.API.Version)

	envInt("ASAHI_CACHE_TTL_SECONDS", &c.Cache.TTLSeconds)
	envInt("ASAHI_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	envInt("ASAHI_CACHE_CLEANUP_INTERVAL_SECONDS", &c.Cache.CleanupIntervalSeconds)
	envStr("ASAHI_CACHE_REDIS_ADDR", &c.Cache.RedisAddr)
	envInt("ASAHI_CACHE_REDIS_DB", &c.Cache.RedisDB)
	envStr("ASAHI_CACHE_REDIS_PASSWORD", &c.Cache.RedisPassword)

	envFloat("ASAHI_ROUTING_DEFAULT_QUALITY_THRESHOLD", &c.Routing.DefaultQualityThreshold)
	envInt("ASAHI_ROUTING_DEFAULT_LATENCY_BUDGET_MS", &c.Routing.DefaultLatencyBudgetMs)
	envStr("ASAHI_ROUTING_MODELS_PATH", &c.Routing.ModelsPath)

	envFloat("ASAHI_TRACKING_BASELINE_INPUT_RATE", &c.Tracking.BaselineInputRate)
	envFloat("ASAHI_TRACKING_BASELINE_OUTPUT_RATE", &c.Tracking.BaselineOutputRate)
	envStr("ASAHI_TRACKING_BASELINE_MODEL", &c.Tracking.BaselineModel)

	envBool("ASAHI_OBSERVABILITY_ENABLED", &c.Observability.Enabled)
	envInt("ASAHI_OBSERVABILITY_COLLECTION_INTERVAL_SECONDS", &c.Observability.CollectionIntervalSeconds)
	envInt("ASAHI_OBSERVABILITY_RETENTION_HOURS", &c.Observability.RetentionHours)
	envFloat("ASAHI_OBSERVABILITY_COST_SPIKE_THRESHOLD", &c.Observability.Anomaly.CostSpikeThreshold)
	envFloat("ASAHI_OBSERVABILITY_LATENCY_SPIKE_THRESHOLD", &c.Observability.Anomaly.LatencySpikeThreshold)
	envFloat("ASAHI_OBSERVABILITY_ERROR_RATE_THRESHOLD", &c.Observability.Anomaly.ErrorRateThreshold)
	envFloat("ASAHI_OBSERVABILITY_CACHE_DEGRADATION_THRESHOLD", &c.Observability.Anomaly.CacheDegradationThreshold)
	envFloat("ASAHI_OBSERVABILITY_QUALITY_DROP_THRESHOLD", &c.Observability.Anomaly.QualityDropThreshold)
	envInt("ASAHI_OBSERVABILITY_ROLLING_WINDOW_HOURS", &c.Observability.Anomaly.RollingWindowHours)
	envInt("ASAHI_OBSERVABILITY_EMA_SPAN_DAYS", &c.Observability.Forecasting.EMASpanDays)
	envInt("ASAHI_OBSERVABILITY_MIN_DATA_POINTS", &c.Observability.Forecasting.MinDataPoints)
	envFloat("ASAHI_OBSERVABILITY_STABLE_THRESHOLD_PCT", &c.Observability.Forecasting.StableThresholdPct)

	envStr("ASAHI_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	envStr("ASAHI_EMBEDDINGS_MODEL_NAME", &c.Embeddings.ModelName)
	envStr("ASAHI_EMBEDDINGS_API_KEY_ENV", &c.Embeddings.APIKeyEnv)
	envInt("ASAHI_EMBEDDINGS_DIMENSION", &c.Embeddings.Dimension)
	envInt("ASAHI_EMBEDDINGS_BATCH_SIZE", &c.Embeddings.BatchSize)
	envInt("ASAHI_EMBEDDINGS_TIMEOUT_SECONDS", &c.Embeddings.TimeoutSeconds)
	envInt("ASAHI_EMBEDDINGS_MAX_RETRIES", &c.Embeddings.MaxRetries)

	envInt("ASAHI_BATCHING_MIN_BATCH_SIZE", &c.Batching.MinBatchSize)
	envInt("ASAHI_BATCHING_MAX_BATCH_SIZE", &c.Batching.MaxBatchSize)
	envInt("ASAHI_BATCHING_MAX_WAIT_MS", &c.Batching.MaxWaitMs)
	envInt("ASAHI_BATCHING_LATENCY_THRESHOLD_MS", &c.Batching.LatencyThresholdMs)
	envInt("ASAHI_BATCHING_POLL_INTERVAL_MS", &c.Batching.PollIntervalMs)
	if v := os.Getenv("ASAHI_BATCHING_ELIGIBLE_TASK_TYPES"); v != "" {
		parts := strings.Split(v, ",")
		types := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				types = append(types, p)
			}
		}
		c.Batching.EligibleTaskTypes = types
	}

	envStr("ASAHI_FEATURE_STORE_PROVIDER", &c.FeatureStore.Provider)
	envStr("ASAHI_FEATURE_STORE_LOCAL_DATA_PATH", &c.FeatureStore.LocalDataPath)
	envInt("ASAHI_FEATURE_STORE_TIMEOUT_MS", &c.FeatureStore.TimeoutMs)
	envBool("ASAHI_FEATURE_STORE_FALLBACK_ON_TIMEOUT", &c.FeatureStore.FallbackOnTimeout)
	envInt("ASAHI_FEATURE_STORE_FRESHNESS_THRESHOLD_SECONDS", &c.FeatureStore.FreshnessThresholdSeconds)

	envFloat("ASAHI_OPTIMIZATION_MIN_RELEVANCE_THRESHOLD", &c.Optimization.MinRelevanceThreshold)
	envStr("ASAHI_OPTIMIZATION_SCORING_METHOD", &c.Optimization.ScoringMethod)
	envInt("ASAHI_OPTIMIZATION_MAX_HISTORY_TURNS", &c.Optimization.MaxHistoryTurns)

	envStr("ASAHI_GOVERNANCE_ENCRYPTION_KEY_ENV", &c.Governance.EncryptionKeyEnv)
	envInt("ASAHI_GOVERNANCE_PBKDF2_ITERATIONS", &c.Governance.PBKDF2Iterations)
	envInt("ASAHI_GOVERNANCE_SALT_LENGTH", &c.Governance.SaltLength)
	envInt("ASAHI_GOVERNANCE_RETENTION_DAYS", &c.Governance.RetentionDays)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			*dst = true
		case "0", "false", "no":
			*dst = false
		}
	}
}

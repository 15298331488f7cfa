package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier"`

	// Source extracts for batch runs
	Input InputPaths `json:"input" yaml:"input"`

	// Scoring and report settings
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// ScoringConfig holds report and rule settings.
type ScoringConfig struct {
	// RulesFile is an optional YAML reason rule table replacing the defaults.
	RulesFile string `json:"rulesFile" yaml:"rulesFile"`

	// TopClaims and TopCustomers size the summary previews.
	TopClaims    int `json:"topClaims" yaml:"topClaims"`
	TopCustomers int `json:"topCustomers" yaml:"topCustomers"`

	// ClaimAlertThreshold is the claim risk score at or above which a
	// claim is published on the flagged-claim topic.
	ClaimAlertThreshold float64 `json:"claimAlertThreshold" yaml:"claimAlertThreshold"`

	// OutputDir receives the CSV reports of CLI runs.
	OutputDir string `json:"outputDir" yaml:"outputDir"`

	// CustomerWeights maps customer feature names to their share of the
	// customer risk score. Empty means the built-in 50/30/20 weighting;
	// otherwise the weights must be non-negative and sum to 100.
	CustomerWeights map[string]float64 `json:"customerWeights,omitempty" yaml:"customerWeights,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings. When enabled, incoming
// W3C traceparent headers are honored so API spans join the caller's trace.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Tier: TierCommunity,
		Input: InputPaths{
			Customers: "customers_sample.csv",
			Policies:  "policies_sample.csv",
			Claims:    "claims_sample.csv",
			Fraud:     "fraud_detection_sample.csv",
		},
		Scoring: ScoringConfig{
			TopClaims:           5,
			TopCustomers:        3,
			ClaimAlertThreshold: 75,
			OutputDir:           ".",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			RunTTL:       time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   100,
		LocalTTL:       time.Minute,
		RunTTL:         24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

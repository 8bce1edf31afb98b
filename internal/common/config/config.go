// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Experts    ExpertsConfig    `mapstructure:"experts"`
	Completion CompletionConfig `mapstructure:"completion"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Estimator  EstimatorConfig  `mapstructure:"estimator"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Specific Configuration Sections ---

// ExpertSourceConfig describes one knowledge-base expert endpoint.
type ExpertSourceConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

// ExpertsConfig holds settings for the expert fan-out stage.
type ExpertsConfig struct {
	Sources    []ExpertSourceConfig `mapstructure:"sources"`
	QueryMode  string               `mapstructure:"query_mode"`
	Timeout    int                  `mapstructure:"timeout"` // milliseconds
	MaxRetries int                  `mapstructure:"max_retries"`
}

// CompletionConfig holds settings for the synthesis completion service.
type CompletionConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     int     `mapstructure:"timeout"` // milliseconds
	MaxRetries  int     `mapstructure:"max_retries"`
}

// PipelineConfig holds orchestration settings. Framework is the static
// creative-structure guidance prepended to every expert query.
type PipelineConfig struct {
	Project           string `mapstructure:"project"`
	Genre             string `mapstructure:"genre"`
	Logline           string `mapstructure:"logline"`
	Framework         string `mapstructure:"framework"`
	DeltaTargetTokens int    `mapstructure:"delta_target_tokens"`
	RunLockKey        string `mapstructure:"run_lock_key"`
	RunLockTTL        int    `mapstructure:"run_lock_ttl"` // milliseconds
}

// EstimatorConfig holds the fixed per-scene constants used by the cost
// estimator. Input covers the synthesis prompt, output the generated
// blueprint, delta the compressed continuity summary.
type EstimatorConfig struct {
	InputTokensPerScene  int     `mapstructure:"input_tokens_per_scene"`
	OutputTokensPerScene int     `mapstructure:"output_tokens_per_scene"`
	DeltaTokensPerScene  int     `mapstructure:"delta_tokens_per_scene"`
	SynthesisInputRate   float64 `mapstructure:"synthesis_input_rate"`  // USD per million tokens
	SynthesisOutputRate  float64 `mapstructure:"synthesis_output_rate"` // USD per million tokens
	ExpertQueryRate      float64 `mapstructure:"expert_query_rate"`     // USD per million tokens
	SecondsPerScene      float64 `mapstructure:"seconds_per_scene"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the Prometheus scrape endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

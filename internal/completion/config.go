// internal/completion/config.go
package completion

import "time"

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

func LoadConfig() *Config {
	return &Config{
		Model:       "claude-sonnet-4-20250514",
		Temperature: 0.3,
		MaxTokens:   4000,
		Timeout:     60 * time.Second,
		MaxRetries:  3,
	}
}

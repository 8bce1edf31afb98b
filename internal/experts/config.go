// internal/experts/config.go
package experts

import "time"

// Source identifies one knowledge-base expert endpoint.
type Source struct {
	Name    string
	BaseURL string
}

type Config struct {
	Sources    []Source
	QueryMode  string
	Timeout    time.Duration
	MaxRetries int
}

func LoadConfig() *Config {
	return &Config{
		QueryMode:  "hybrid",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

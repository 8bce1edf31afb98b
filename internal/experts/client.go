// internal/experts/client.go
package experts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	stderrors "lizzy-pipeline/internal/common/errors"
	"lizzy-pipeline/internal/common/metrics"
	"lizzy-pipeline/internal/models"
)

var (
	ErrExpertTimeout     = errors.New("EXPERT_TIMEOUT")
	ErrExpertQueryFailed = errors.New("EXPERT_QUERY_FAILED")
)

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Client fans scene queries out to every configured expert source.
type Client struct {
	config *Config
	client *http.Client
	logger Logger
}

func NewClient(config *Config, log Logger) *Client {
	return &Client{
		config: config,
		// No HTTP client timeout - rely only on context
		client: &http.Client{},
		logger: log.With(map[string]interface{}{
			"component": "expert-client",
		}),
	}
}

// SourceNames returns the configured source names in order.
func (c *Client) SourceNames() []string {
	names := make([]string, len(c.config.Sources))
	for i, source := range c.config.Sources {
		names[i] = source.Name
	}
	return names
}

// Query sends one query to one expert source, retrying transient
// failures with exponential backoff.
func (c *Client) Query(ctx context.Context, source Source, query string) (string, error) {
	// The configured timeout bounds the whole call, retries included,
	// independent of any looser deadline the caller carries.
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	requestBody := QueryRequest{
		Query: query,
		Mode:  c.config.QueryMode,
	}
	body, _ := json.Marshal(requestBody)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ErrExpertTimeout
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", source.BaseURL+"/query", bytes.NewBuffer(body))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExpertQueryFailed, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, lastErr = c.client.Do(req)
		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}

		if ctx.Err() != nil {
			return "", ErrExpertTimeout
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrExpertTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrExpertQueryFailed, lastErr)
	}

	if resp == nil {
		return "", fmt.Errorf("%w: no successful response after retries", ErrExpertQueryFailed)
	}
	defer resp.Body.Close()

	var apiResponse QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrExpertQueryFailed, err)
	}

	if strings.TrimSpace(apiResponse.Response) == "" {
		return "", fmt.Errorf("%w: empty response", ErrExpertQueryFailed)
	}

	return apiResponse.Response, nil
}

// QueryAll fans one scene's queries out to all sources concurrently and
// collects whatever succeeded. A failed source is logged and skipped;
// the caller decides whether zero results is fatal.
func (c *Client) QueryAll(ctx context.Context, queries map[string]string) []models.ExpertResult {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []models.ExpertResult

	for _, source := range c.config.Sources {
		query, ok := queries[source.Name]
		if !ok {
			continue
		}

		wg.Add(1)
		go func(source Source, query string) {
			defer wg.Done()

			response, err := c.Query(ctx, source, query)
			if err != nil {
				stdErr := stderrors.NewExpertQueryFailedError(source.Name, err)
				if errors.Is(err, ErrExpertTimeout) {
					stdErr = stderrors.NewExpertTimeoutError(source.Name)
				}
				metrics.ExpertQueryFailures.WithLabelValues(source.Name).Inc()
				c.logger.Warn("expert query failed", map[string]interface{}{
					"source":    source.Name,
					"errorCode": string(stdErr.Code),
					"retryable": stdErr.Retryable,
					"details":   stdErr.Details,
				})
				return
			}

			mu.Lock()
			results = append(results, models.ExpertResult{
				Source:   source.Name,
				Query:    query,
				Response: response,
			})
			mu.Unlock()
		}(source, query)
	}

	wg.Wait()

	c.logger.Info("expert fan-out completed", map[string]interface{}{
		"requested": len(queries),
		"succeeded": len(results),
	})

	return results
}

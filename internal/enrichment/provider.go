// Package enrichment queries third-party data providers for information
// about an identified visitor and merges their responses into the
// canonical enriched shape.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"visitor-tracker/internal/circuitbreaker"
	"visitor-tracker/internal/common/errors"
	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/common/utils"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetryDelay = 1 * time.Second
	maxAttempts       = 3

	// Provider responses are capped to keep a misbehaving endpoint from
	// exhausting memory.
	maxResponseBytes = 1 << 20
)

// ProviderConfig describes a single enrichment endpoint.
type ProviderConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Priority   int
	RetryDelay time.Duration
}

// Provider is an HTTP client for one enrichment endpoint. Each lookup is
// retried with linear backoff and runs behind a circuit breaker so a dead
// provider stops consuming attempts quickly.
type Provider struct {
	config  ProviderConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  logging.Logger
}

func NewProvider(config ProviderConfig, logger logging.Logger) *Provider {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		breaker: circuitbreaker.New("enrichment:"+config.Name, circuitbreaker.ProviderConfig, logger),
		logger:  logger,
	}
}

func (p *Provider) Name() string {
	return p.config.Name
}

func (p *Provider) Priority() int {
	return p.config.Priority
}

// Lookup fetches enrichment fields for an email address. Up to three
// attempts are made with linear backoff (attempt number times the retry
// delay) between them.
func (p *Provider) Lookup(ctx context.Context, email string) (map[string]interface{}, error) {
	var fields map[string]interface{}
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.breaker.Execute(ctx, func() error {
			result, err := p.fetch(ctx, email)
			if err != nil {
				return err
			}
			fields = result
			return nil
		})
		if lastErr == nil {
			return fields, nil
		}

		p.logger.Debug("enrichment lookup attempt failed",
			logging.String("provider", p.config.Name),
			logging.Int("attempt", attempt),
			logging.Err(lastErr))

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(utils.LinearRetryDelay(attempt, p.config.RetryDelay)):
			}
		}
	}

	return nil, lastErr
}

func (p *Provider) fetch(ctx context.Context, email string) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/enrich?email=%s", p.config.BaseURL, url.QueryEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.InternalError("failed to build enrichment request", err).
			WithContext("provider", p.config.Name)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s request failed: %w", p.config.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("provider %s returned status %d", p.config.Name, resp.StatusCode)
	}

	var fields map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&fields); err != nil {
		return nil, fmt.Errorf("provider %s returned invalid JSON: %w", p.config.Name, err)
	}

	return fields, nil
}

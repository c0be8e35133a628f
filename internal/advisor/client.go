// File: internal/advisor/client.go
// Description: HTTP client for the optional risk analytics service. The
// client is rate limited and strictly best-effort: every failure surfaces as
// an error the caller degrades on, never as a blocked run.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/config"
)

// Client implements schemas.RiskAdvisor against the analytics HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient validates the advisor config and builds a client.
func NewClient(cfg config.AdvisorConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, errors.New("advisor is disabled in configuration")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		log:     logger.Named("advisor"),
	}, nil
}

type signalsResponse struct {
	Signals []schemas.RiskSignal `json:"signals"`
}

// FetchSignals asks the analytics service for per-worker-type risk scores.
// The rate limiter bounds how hard a busy engine can hit the service.
func (c *Client) FetchSignals(ctx context.Context, workerTypes []string) ([]schemas.RiskSignal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("advisor rate limit wait: %w", err)
	}

	endpoint := c.baseURL + "/v1/risk-signals"
	if len(workerTypes) > 0 {
		query := url.Values{"worker_types": {strings.Join(workerTypes, ",")}}
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building advisor request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisor returned status %d", resp.StatusCode)
	}

	var decoded signalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding advisor response: %w", err)
	}

	c.log.Debug("Fetched risk signals", zap.Int("count", len(decoded.Signals)))
	return decoded.Signals, nil
}

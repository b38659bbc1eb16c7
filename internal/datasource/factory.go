package datasource

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/config"
)

// NewResultsSource builds the configured results source and its HTTP client
func NewResultsSource(cfg *config.Config, logger logrus.FieldLogger) (ResultsSource, *RateLimitedHTTPClient, error) {
	if cfg.Fetch.BaseURL == "" {
		return nil, nil, fmt.Errorf("fetch.base_url is required")
	}
	if cfg.Fetch.APIKey == "" && cfg.Fetch.ProxyToken == "" {
		return nil, nil, fmt.Errorf("fetch requires api_key or proxy_token")
	}

	httpCfg := DefaultHTTPClientConfig()
	httpCfg.Timeout = cfg.FetchTimeout()
	httpCfg.MaxRetries = cfg.Fetch.RetryAttempts
	httpCfg.RateLimit = cfg.Fetch.RequestsPerSecond
	httpCfg.Burst = cfg.Fetch.Burst
	httpCfg.CircuitBreakerMax = cfg.Fetch.MaxFailures
	if cfg.Fetch.CooldownSeconds > 0 {
		httpCfg.Cooldown = time.Duration(cfg.Fetch.CooldownSeconds) * time.Second
	}
	httpClient := NewRateLimitedHTTPClient(httpCfg, logger)

	source := NewAPIFootballClient(httpClient, APIFootballConfig{
		BaseURL:    cfg.Fetch.BaseURL,
		APIKey:     cfg.Fetch.APIKey,
		ProxyToken: cfg.Fetch.ProxyToken,
		Season:     cfg.Fetch.Season,
		CacheTTL:   cfg.FetchCacheTTL(),
	}, logger)

	return source, httpClient, nil
}

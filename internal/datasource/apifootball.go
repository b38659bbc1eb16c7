package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	apiFootballName = "api_football"
	dateLayout      = "2006-01-02"
	maxPages        = 100
)

// APIFootballConfig configures the API-Football client
type APIFootballConfig struct {
	BaseURL    string
	APIKey     string
	ProxyToken string
	// Season is sent with every request. Zero derives it from the date range.
	Season   int
	CacheTTL time.Duration
}

// APIFootballClient implements ResultsSource for API-Football and the
// fixtures proxy that fronts it
type APIFootballClient struct {
	httpClient *RateLimitedHTTPClient
	cfg        APIFootballConfig
	cache      *cache.Cache
	logger     logrus.FieldLogger
	now        func() time.Time
}

type fixturesPage struct {
	Errors   json.RawMessage `json:"errors"`
	Results  int             `json:"results"`
	Paging   paging          `json:"paging"`
	Response []apiFixture    `json:"response"`
}

type paging struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type apiFixture struct {
	Fixture struct {
		ID     int64  `json:"id"`
		Date   string `json:"date"`
		Status struct {
			Short string `json:"short"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"league"`
	Teams struct {
		Home struct {
			Name string `json:"name"`
		} `json:"home"`
		Away struct {
			Name string `json:"name"`
		} `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
}

// NewAPIFootballClient creates a new API-Football client
func NewAPIFootballClient(httpClient *RateLimitedHTTPClient, cfg APIFootballConfig, logger logrus.FieldLogger) *APIFootballClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &APIFootballClient{
		httpClient: httpClient,
		cfg:        cfg,
		cache:      cache.New(ttl, 10*time.Minute),
		logger:     logger.WithField("source", apiFootballName),
		now:        time.Now,
	}
}

// Name returns the name of the data source
func (c *APIFootballClient) Name() string {
	return apiFootballName
}

// FetchResults retrieves every fixture of league within [from, to], following
// pagination. Any failed page fails the whole call.
func (c *APIFootballClient) FetchResults(ctx context.Context, league string, from, to time.Time) ([]FixtureResult, error) {
	if to.Before(from) {
		return nil, NewDataSourceError(apiFootballName, ErrCodeInvalidData, "to is before from", nil)
	}

	var out []FixtureResult
	for _, season := range c.seasons(from, to) {
		for page := 1; page <= maxPages; page++ {
			fp, err := c.fetchPage(ctx, league, season, from, to, page)
			if err != nil {
				return nil, err
			}
			for i := range fp.Response {
				fr, err := convertFixture(&fp.Response[i], league)
				if err != nil {
					c.logger.WithError(err).WithField("fixture_id", fp.Response[i].Fixture.ID).Warn("Skipping malformed fixture")
					continue
				}
				out = append(out, fr)
			}
			if fp.Paging.Total <= page {
				break
			}
		}
	}
	return out, nil
}

// seasons lists the seasons the date range touches. European seasons start in July.
func (c *APIFootballClient) seasons(from, to time.Time) []int {
	if c.cfg.Season > 0 {
		return []int{c.cfg.Season}
	}
	seasonOf := func(t time.Time) int {
		if t.Month() >= time.July {
			return t.Year()
		}
		return t.Year() - 1
	}
	var out []int
	for s := seasonOf(from); s <= seasonOf(to); s++ {
		out = append(out, s)
	}
	return out
}

func (c *APIFootballClient) fetchPage(ctx context.Context, league string, season int, from, to time.Time, page int) (*fixturesPage, error) {
	q := url.Values{}
	q.Set("league", league)
	q.Set("season", strconv.Itoa(season))
	q.Set("from", from.Format(dateLayout))
	q.Set("to", to.Format(dateLayout))
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	endpoint := c.cfg.BaseURL + "/fixtures?" + q.Encode()

	if cached, ok := c.cache.Get(endpoint); ok {
		return cached.(*fixturesPage), nil
	}

	resp, err := c.httpClient.Get(ctx, endpoint, c.headers())
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, NewDataSourceError(apiFootballName, ErrCodeCircuitOpen, "provider calls suspended", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewDataSourceError(apiFootballName, ErrCodeUpstreamUnavailable, "failed to fetch fixtures", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewDataSourceError(apiFootballName, ErrCodeAuthFailed, "invalid API key or proxy token", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewDataSourceError(apiFootballName, ErrCodeRateLimited, "rate limit exceeded", nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewDataSourceError(apiFootballName, ErrCodeUpstreamUnavailable, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var fp fixturesPage
	if err := json.NewDecoder(resp.Body).Decode(&fp); err != nil {
		return nil, NewDataSourceError(apiFootballName, ErrCodeInvalidData, "failed to parse response", err)
	}
	if msg := providerError(fp.Errors); msg != "" {
		return nil, NewDataSourceError(apiFootballName, ErrCodeProviderError, msg, nil)
	}

	// settled ranges never change
	if c.settled(to) {
		c.cache.SetDefault(endpoint, &fp)
	}
	return &fp, nil
}

func (c *APIFootballClient) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.cfg.ProxyToken != "" {
		h["x-proxy-token"] = c.cfg.ProxyToken
	} else if c.cfg.APIKey != "" {
		h["x-apisports-key"] = c.cfg.APIKey
	}
	return h
}

func (c *APIFootballClient) settled(to time.Time) bool {
	return to.Before(c.now().UTC().AddDate(0, 0, -1))
}

// providerError extracts the message of a non-empty "errors" field. The
// provider sends [] when there is no error and an object otherwise.
func providerError(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var errs map[string]interface{}
	if err := json.Unmarshal(raw, &errs); err != nil || len(errs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(errs))
	for k, v := range errs {
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	return strings.Join(parts, "; ")
}

func convertFixture(f *apiFixture, league string) (FixtureResult, error) {
	date, err := time.Parse(time.RFC3339, f.Fixture.Date)
	if err != nil {
		return FixtureResult{}, fmt.Errorf("invalid fixture date %q: %w", f.Fixture.Date, err)
	}
	leagueID := league
	if f.League.ID != 0 {
		leagueID = strconv.FormatInt(f.League.ID, 10)
	}
	return FixtureResult{
		FixtureID:  strconv.FormatInt(f.Fixture.ID, 10),
		LeagueID:   leagueID,
		LeagueName: f.League.Name,
		Country:    f.League.Country,
		Date:       date.UTC(),
		Status:     f.Fixture.Status.Short,
		HomeTeam:   f.Teams.Home.Name,
		AwayTeam:   f.Teams.Away.Name,
		HomeGoals:  f.Goals.Home,
		AwayGoals:  f.Goals.Away,
	}, nil
}

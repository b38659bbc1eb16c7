package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/goal-calibrator/internal/config"
	"github.com/yourusername/goal-calibrator/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testHTTPConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:           2 * time.Second,
		MaxRetries:        1,
		RetryWaitMin:      time.Millisecond,
		RetryWaitMax:      5 * time.Millisecond,
		RateLimit:         1000,
		Burst:             10,
		CircuitBreakerMax: 0,
		Cooldown:          time.Hour,
	}
}

func newTestSource(srvURL string, httpCfg HTTPClientConfig, cfg APIFootballConfig) *APIFootballClient {
	cfg.BaseURL = srvURL
	return NewAPIFootballClient(NewRateLimitedHTTPClient(httpCfg, quietLogger()), cfg, quietLogger())
}

var (
	from = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
)

const pageOne = `{
  "errors": [],
  "results": 2,
  "paging": {"current": 1, "total": 2},
  "response": [
    {"fixture": {"id": 1001, "date": "2026-09-12T14:00:00+00:00", "status": {"short": "FT"}},
     "league": {"id": 39, "name": "Premier League", "country": "England"},
     "teams": {"home": {"name": "Arsenal"}, "away": {"name": "Chelsea"}},
     "goals": {"home": 2, "away": 1}},
    {"fixture": {"id": 1002, "date": "2026-09-13T16:30:00+00:00", "status": {"short": "PST"}},
     "league": {"id": 39, "name": "Premier League", "country": "England"},
     "teams": {"home": {"name": "Everton"}, "away": {"name": "Fulham"}},
     "goals": {"home": null, "away": null}}
  ]
}`

const pageTwo = `{
  "errors": [],
  "results": 1,
  "paging": {"current": 2, "total": 2},
  "response": [
    {"fixture": {"id": 1003, "date": "2026-09-20T11:30:00Z", "status": {"short": "PEN"}},
     "league": {"id": 39, "name": "Premier League", "country": "England"},
     "teams": {"home": {"name": "Leeds"}, "away": {"name": "Wolves"}},
     "goals": {"home": 1, "away": 1}},
    {"fixture": {"id": 1004, "date": "not a date", "status": {"short": "FT"}},
     "league": {"id": 39}, "teams": {"home": {"name": "X"}, "away": {"name": "Y"}},
     "goals": {"home": 0, "away": 0}}
  ]
}`

func TestFetchResultsFollowsPagination(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/fixtures", r.URL.Path)
		assert.Equal(t, "proxy-secret", r.Header.Get("x-proxy-token"))
		assert.Empty(t, r.Header.Get("x-apisports-key"))
		q := r.URL.Query()
		assert.Equal(t, "39", q.Get("league"))
		assert.Equal(t, "2026", q.Get("season"))
		assert.Equal(t, "2026-09-01", q.Get("from"))
		assert.Equal(t, "2026-09-30", q.Get("to"))

		if q.Get("page") == "2" {
			fmt.Fprint(w, pageTwo)
			return
		}
		fmt.Fprint(w, pageOne)
	}))
	defer srv.Close()

	src := newTestSource(srv.URL, testHTTPConfig(), APIFootballConfig{ProxyToken: "proxy-secret", APIKey: "ignored"})
	results, err := src.FetchResults(context.Background(), "39", from, to)
	require.NoError(t, err)

	require.Len(t, results, 3, "malformed fixture skipped")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	assert.Equal(t, "1001", results[0].FixtureID)
	assert.Equal(t, "England", results[0].Country)
	assert.True(t, results[0].Finished())
	assert.Equal(t, 2, *results[0].HomeGoals)
	assert.False(t, results[1].Finished(), "postponed fixture")
	assert.True(t, results[2].Finished())
	assert.Equal(t, time.Date(2026, 9, 20, 11, 30, 0, 0, time.UTC), results[2].Date)
}

func TestFetchResultsUsesAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "direct-key", r.Header.Get("x-apisports-key"))
		fmt.Fprint(w, `{"errors":[],"paging":{"current":1,"total":1},"response":[]}`)
	}))
	defer srv.Close()

	src := newTestSource(srv.URL, testHTTPConfig(), APIFootballConfig{APIKey: "direct-key", Season: 2025})
	results, err := src.FetchResults(context.Background(), "140", from, to)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFetchResultsErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantCode     string
		wantUpstream bool
	}{
		{"server error after retries", http.StatusServiceUnavailable, "down", ErrCodeUpstreamUnavailable, true},
		{"unauthorized", http.StatusUnauthorized, "", ErrCodeAuthFailed, false},
		{"bad json", http.StatusOK, "{", ErrCodeInvalidData, false},
		{"provider error", http.StatusOK, `{"errors":{"requests":"daily limit reached"},"response":[]}`, ErrCodeProviderError, true},
		{"unexpected status", http.StatusNotFound, "nope", ErrCodeUpstreamUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			src := newTestSource(srv.URL, testHTTPConfig(), APIFootballConfig{APIKey: "k", Season: 2026})
			_, err := src.FetchResults(context.Background(), "39", from, to)
			require.Error(t, err)

			var dsErr DataSourceError
			require.True(t, errors.As(err, &dsErr))
			assert.Equal(t, tt.wantCode, dsErr.Code)
			assert.Equal(t, tt.wantUpstream, errors.Is(err, models.ErrUpstreamUnavailable))
		})
	}
}

func TestFetchResultsRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"errors":[],"paging":{"current":1,"total":1},"response":[]}`)
	}))
	defer srv.Close()

	src := newTestSource(srv.URL, testHTTPConfig(), APIFootballConfig{APIKey: "k", Season: 2026})
	_, err := src.FetchResults(context.Background(), "39", from, to)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchResultsCachesSettledRanges(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"errors":[],"paging":{"current":1,"total":1},"response":[]}`)
	}))
	defer srv.Close()

	src := newTestSource(srv.URL, testHTTPConfig(), APIFootballConfig{APIKey: "k", Season: 2026, CacheTTL: time.Hour})
	src.now = func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		_, err := src.FetchResults(context.Background(), "39", from, to)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// a range ending today is still moving
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		_, err := src.FetchResults(context.Background(), "39", from, today)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var calls int32
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"errors":[],"paging":{"current":1,"total":1},"response":[]}`)
	}))
	defer srv.Close()

	httpCfg := testHTTPConfig()
	httpCfg.MaxRetries = 0
	httpCfg.CircuitBreakerMax = 2
	src := newTestSource(srv.URL, httpCfg, APIFootballConfig{APIKey: "k", Season: 2026})
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	src.httpClient.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := src.FetchResults(ctx, "39", from, to)
		require.Error(t, err)
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))

	_, err := src.FetchResults(ctx, "39", from, to)
	var dsErr DataSourceError
	require.True(t, errors.As(err, &dsErr))
	assert.Equal(t, ErrCodeCircuitOpen, dsErr.Code)
	assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open circuit makes no request")

	healthy.Store(true)
	now = now.Add(2 * time.Hour)
	_, err = src.FetchResults(ctx, "39", from, to)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchResultsCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[],"paging":{"current":1,"total":1},"response":[]}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := newTestSource(srv.URL, testHTTPConfig(), APIFootballConfig{APIKey: "k", Season: 2026})
	_, err := src.FetchResults(ctx, "39", from, to)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeasons(t *testing.T) {
	src := newTestSource("http://unused", testHTTPConfig(), APIFootballConfig{})

	assert.Equal(t, []int{2025}, src.seasons(
		time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []int{2025, 2026}, src.seasons(
		time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)))

	src.cfg.Season = 2024
	assert.Equal(t, []int{2024}, src.seasons(from, to))
}

func TestFetchResultsRejectsInvertedRange(t *testing.T) {
	src := newTestSource("http://unused", testHTTPConfig(), APIFootballConfig{})
	_, err := src.FetchResults(context.Background(), "39", to, from)
	var dsErr DataSourceError
	require.True(t, errors.As(err, &dsErr))
	assert.Equal(t, ErrCodeInvalidData, dsErr.Code)
}

func TestNewResultsSource(t *testing.T) {
	tests := []struct {
		name    string
		fetch   config.FetchConfig
		wantErr string
	}{
		{"api key", config.FetchConfig{BaseURL: "https://v3.football.api-sports.io", APIKey: "k"}, ""},
		{"proxy token", config.FetchConfig{BaseURL: "https://proxy.example", ProxyToken: "t"}, ""},
		{"no credentials", config.FetchConfig{BaseURL: "https://v3.football.api-sports.io"}, "api_key or proxy_token"},
		{"no base url", config.FetchConfig{APIKey: "k"}, "base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Fetch: tt.fetch}
			src, httpClient, err := NewResultsSource(cfg, quietLogger())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, src)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, src)
			require.NotNil(t, httpClient)
			assert.NoError(t, httpClient.Close())
		})
	}
}

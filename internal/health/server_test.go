package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/goal-calibrator/internal/models"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(cfg Config) *Server {
	l := logrus.New()
	l.SetOutput(io.Discard)
	cfg.ServiceName = "goal-calibrator"
	cfg.Logger = l
	return NewServer(cfg)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndLive(t *testing.T) {
	s := newTestServer(Config{Version: "1.2.3"})
	h := s.Handler()

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)

	assert.Equal(t, http.StatusOK, get(t, h, "/live").Code)
}

func TestReady(t *testing.T) {
	failing := true
	s := newTestServer(Config{Checks: map[string]Pinger{
		"sqlite": pingFunc(func(context.Context) error {
			if failing {
				return errors.New("database is locked")
			}
			return nil
		}),
	}})
	h := s.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ready").Code)

	s.SetReady(true)
	rec := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")

	failing = false
	assert.Equal(t, http.StatusOK, get(t, h, "/ready").Code)
}

func TestStatus(t *testing.T) {
	next := time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)
	run := &models.PipelineRun{RunID: "r1", Outcome: models.RunOutcomeRejected}
	s := newTestServer(Config{
		LastRun: func(context.Context) (*models.PipelineRun, error) { return run, nil },
		NextRun: func() time.Time { return next },
	})

	rec := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "r1", resp.LastRun.RunID)
	require.NotNil(t, resp.NextRun)
	assert.True(t, next.Equal(*resp.NextRun))

	s = newTestServer(Config{
		LastRun: func(context.Context) (*models.PipelineRun, error) { return nil, models.ErrNotFound },
	})
	rec = get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "last_run")
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(Config{MetricsPath: "/metrics"})
	rec := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

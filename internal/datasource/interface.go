package datasource

import (
	"context"
	"errors"
	"time"

	"github.com/yourusername/goal-calibrator/internal/models"
)

// ResultsSource fetches final scores of played fixtures from an external provider
type ResultsSource interface {
	// FetchResults retrieves every fixture of league played within [from, to]
	FetchResults(ctx context.Context, league string, from, to time.Time) ([]FixtureResult, error)

	// Name returns the name of the data source
	Name() string
}

// Statuses of fixtures whose score is final
var finishedStatuses = map[string]bool{
	"FT":  true,
	"AET": true,
	"PEN": true,
}

// FixtureResult is a normalized fixture with its final score when played
type FixtureResult struct {
	FixtureID  string    `json:"fixture_id"`
	LeagueID   string    `json:"league_id"`
	LeagueName string    `json:"league_name,omitempty"`
	Country    string    `json:"country,omitempty"`
	Date       time.Time `json:"date"`
	Status     string    `json:"status"`
	HomeTeam   string    `json:"home_team"`
	AwayTeam   string    `json:"away_team"`
	HomeGoals  *int      `json:"home_goals,omitempty"`
	AwayGoals  *int      `json:"away_goals,omitempty"`
}

// Finished reports whether the fixture has a final score
func (f FixtureResult) Finished() bool {
	return finishedStatuses[f.Status] && f.HomeGoals != nil && f.AwayGoals != nil
}

// DataSourceError represents errors from data source operations
type DataSourceError struct {
	Source  string // Data source name
	Code    string // Error code
	Message string // Error message
	Err     error  // Underlying error
}

func (e DataSourceError) Error() string {
	if e.Err != nil {
		return e.Source + ": " + e.Code + ": " + e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Source + ": " + e.Code + ": " + e.Message
}

// Unwrap returns the underlying error
func (e DataSourceError) Unwrap() error {
	return e.Err
}

// Is matches models.ErrUpstreamUnavailable for every failure the provider
// itself is responsible for
func (e DataSourceError) Is(target error) bool {
	if target != models.ErrUpstreamUnavailable {
		return false
	}
	switch e.Code {
	case ErrCodeUpstreamUnavailable, ErrCodeRateLimited, ErrCodeCircuitOpen, ErrCodeProviderError:
		return true
	}
	return false
}

// Common error codes
const (
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeAuthFailed          = "AUTH_FAILED"
	ErrCodeInvalidData         = "INVALID_DATA"
	ErrCodeCircuitOpen         = "CIRCUIT_OPEN"
	ErrCodeProviderError       = "PROVIDER_ERROR"
)

// ErrCircuitOpen is returned while the client refuses calls after repeated failures
var ErrCircuitOpen = errors.New("circuit breaker open")

// NewDataSourceError creates a new data source error
func NewDataSourceError(source, code, message string, err error) DataSourceError {
	return DataSourceError{
		Source:  source,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

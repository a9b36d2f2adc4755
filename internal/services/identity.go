package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/AnshRaj112/tracklog-backend/internal/logging"
	"github.com/AnshRaj112/tracklog-backend/internal/metrics"
)

// ExternalProfile is the subset of the identity provider's session-data
// payload we use.
type ExternalProfile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// IdentityProvider resolves an external session id to a profile.
type IdentityProvider interface {
	FetchProfile(ctx context.Context, sessionID string) (*ExternalProfile, error)
}

const identityBreakerName = "identity_provider"

// HTTPIdentityProvider calls GET <url> with X-Session-ID. Each call is bounded
// by the configured timeout and goes through a circuit breaker; no retries.
type HTTPIdentityProvider struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*ExternalProfile]
}

// IdentityConfig configures HTTPIdentityProvider.
type IdentityConfig struct {
	URL     string
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before opening. Default: 5
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing. Default: 30s
	OpenTimeout time.Duration
}

func NewHTTPIdentityProvider(cfg IdentityConfig) *HTTPIdentityProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        identityBreakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Upstream rejections (4xx) are the caller's problem, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errUpstreamRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(identityBreakerName).Set(float64(gobreaker.StateClosed))

	return &HTTPIdentityProvider{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[*ExternalProfile](settings),
	}
}

var errUpstreamRejected = errors.New("identity provider rejected the session")

func (p *HTTPIdentityProvider) FetchProfile(ctx context.Context, sessionID string) (*ExternalProfile, error) {
	profile, err := p.breaker.Execute(func() (*ExternalProfile, error) {
		return p.fetch(ctx, sessionID)
	})
	switch {
	case err == nil:
		metrics.UpstreamAuthRequests.WithLabelValues("success").Inc()
	case errors.Is(err, errUpstreamRejected):
		metrics.UpstreamAuthRequests.WithLabelValues("rejected").Inc()
	default:
		metrics.UpstreamAuthRequests.WithLabelValues("failure").Inc()
	}
	return profile, err
}

func (p *HTTPIdentityProvider) fetch(ctx context.Context, sessionID string) (*ExternalProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Session-ID", sessionID)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call identity provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status %d", errUpstreamRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var profile ExternalProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode identity payload: %w", err)
	}
	if strings.TrimSpace(profile.Email) == "" {
		return nil, errors.New("identity payload has no email")
	}
	return &profile, nil
}

// Package authorizer implements the external authorization gate client
// consulted before any transfer commits. Approval must be positive and
// explicit; every malformed answer is a gateway error, never approval.
package authorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/logging"
	"wallet-engine/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds the gate client configuration.
type Config struct {
	// BaseURL of the authorization service; GET {BaseURL}/authorize.
	BaseURL string

	// Retries is the total number of attempts on transport failure.
	Retries int

	// RetryBackoff is the fixed wait between attempts.
	RetryBackoff time.Duration

	// Timeout is the per-attempt ceiling.
	Timeout time.Duration

	// CircuitTimeout is the open-state period before the breaker probes
	// for recovery.
	CircuitTimeout time.Duration

	// ConsecutiveFailures trips the breaker once reached.
	ConsecutiveFailures uint32
}

// DefaultConfig returns the gate policy: 3 attempts, 100ms backoff,
// 5s per attempt.
func DefaultConfig() Config {
	return Config{
		Retries:             3,
		RetryBackoff:        100 * time.Millisecond,
		Timeout:             5 * time.Second,
		CircuitTimeout:      30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Client implements engine.Authorizer over HTTP.
type Client struct {
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	config  Config
	logger  *logging.Logger
	metrics metrics.MetricsCollector
}

// New creates a gate client. Pass nil logger or metrics to disable them.
func New(config Config, logger *logging.Logger, collector metrics.MetricsCollector) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	c := &Client{
		http:    &http.Client{Timeout: config.Timeout},
		config:  config,
		logger:  logger.Named("authorizer"),
		metrics: collector,
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "authorizer",
		Timeout: config.CircuitTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			switch to {
			case gobreaker.StateClosed:
				c.metrics.RecordCircuitState(metrics.CircuitClosed)
			case gobreaker.StateHalfOpen:
				c.metrics.RecordCircuitState(metrics.CircuitHalfOpen)
			case gobreaker.StateOpen:
				c.metrics.RecordCircuitState(metrics.CircuitOpen)
			}
		},
	})

	return c
}

// gateResponse is the only shape that can grant approval.
type gateResponse struct {
	Status string `json:"status"`
	Data   struct {
		Authorization *bool `json:"authorization"`
	} `json:"data"`
}

// Authorize consults the gate. Transport failures are retried with a
// fixed backoff; exhausting retries, a tripped breaker or a malformed
// body all surface as Unavailable.
func (c *Client) Authorize(ctx context.Context) engine.Authorization {
	start := time.Now()

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.authorizeWithRetry(ctx)
	})

	var auth engine.Authorization
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Warn("circuit breaker open - authorization rejected")
		auth = unavailable()
	case err != nil:
		c.logger.Error("authorization request failed", zap.Error(err))
		auth = unavailable()
	default:
		auth = result.(engine.Authorization)
	}

	c.metrics.RecordAuthorization(auth.Outcome.String(), time.Since(start))
	return auth
}

// authorizeWithRetry performs up to Retries attempts. Only transport
// failures are retried; any response that arrives is evaluated once.
func (c *Client) authorizeWithRetry(ctx context.Context) (engine.Authorization, error) {
	var lastErr error
	for attempt := 1; attempt <= c.config.Retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.config.RetryBackoff):
			case <-ctx.Done():
				return engine.Authorization{}, ctx.Err()
			}
		}

		auth, err := c.attempt(ctx)
		if err == nil {
			return auth, nil
		}
		lastErr = err
		c.logger.Warn("authorization attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.config.Retries),
			zap.Error(err),
		)
	}
	return engine.Authorization{}, fmt.Errorf("authorization attempts exhausted: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context) (engine.Authorization, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/authorize", nil)
	if err != nil {
		return engine.Authorization{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.Authorization{}, fmt.Errorf("authorize request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return engine.Authorization{}, fmt.Errorf("read response: %w", err)
	}

	var gate gateResponse
	if err := json.Unmarshal(body, &gate); err != nil || gate.Status == "" || gate.Data.Authorization == nil {
		// A response lacking the expected shape is a gateway error,
		// never approval.
		c.logger.Warn("malformed authorizer response",
			zap.Int("http_status", resp.StatusCode),
		)
		return engine.Authorization{
			Outcome:    engine.AuthorizationUnavailable,
			Reason:     "Invalid authorizer response format.",
			StatusHint: http.StatusBadGateway,
		}, nil
	}

	if gate.Status == "success" && *gate.Data.Authorization {
		return engine.Authorization{Outcome: engine.AuthorizationApproved}, nil
	}

	// Well-formed, but anything short of an explicit approval is a
	// denial.
	return engine.Authorization{
		Outcome:    engine.AuthorizationDenied,
		Reason:     "Transfer denied by authorization service.",
		StatusHint: http.StatusForbidden,
	}, nil
}

func unavailable() engine.Authorization {
	return engine.Authorization{
		Outcome:    engine.AuthorizationUnavailable,
		Reason:     "Authorization service unavailable.",
		StatusHint: http.StatusBadGateway,
	}
}

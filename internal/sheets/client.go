// Package sheets posts order forms to the spreadsheet web-app endpoint that
// records orders.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	maxResponseBytes = 64 << 10

	defaultTimeout          = 15 * time.Second
	defaultMaxAttempts      = 3
	defaultBaseDelay        = 200 * time.Millisecond
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

var (
	ErrEndpointNotConfigured = errors.New("order sheet endpoint not configured")
	ErrUnexpectedStatus      = errors.New("unexpected status from order sheet")
	ErrCircuitOpen           = errors.New("order sheet circuit open")
)

type Config struct {
	Endpoint         string
	Timeout          time.Duration // per attempt
	MaxAttempts      int
	BaseDelay        time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = defaultBreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}

// Client submits forms with retry behind a circuit breaker
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "order-sheet",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

// Submit posts the form. The post is not idempotent, so only failures that
// happen before the request reaches the sheet are retried: connection errors
// while dialing and 429 responses. Timeouts, dropped connections and 5xx
// responses may follow a recorded row and fail without a retry.
func (c *Client) Submit(ctx context.Context, values url.Values) error {
	if c.cfg.Endpoint == "" {
		return ErrEndpointNotConfigured
	}

	_, err := c.breaker.Execute(func() ([]byte, error) {
		var body []byte
		backoff := retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), retry.NewExponential(c.cfg.BaseDelay))

		attempt := 0
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attempt++
			b, err := c.post(ctx, values)
			if err != nil {
				c.logger.Warn("Order sheet attempt failed",
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return err
			}
			body = b
			return nil
		})
		return body, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *Client) post(ctx context.Context, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to post order form: %w", err)
		if ctx.Err() == nil && notSent(err) {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	// the status decides the outcome; the body is only logged
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Debug("Failed to read order sheet response", zap.Error(err))
	}

	c.logger.Debug("Order sheet responded",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RetryableError(fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// notSent reports whether the request failed while connecting, before any
// byte of the form was written
func notSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// State reports the circuit breaker state for health output
func (c *Client) State() string {
	return c.breaker.State().String()
}

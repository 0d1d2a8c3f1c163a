// Package ibkr implements a chain source over the Interactive Brokers
// Client Portal Web API gateway.
package ibkr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/logging"
	"spxopt/internal/resilience"
	"spxopt/internal/security"
	"spxopt/pkg/utils"
)

// DefaultBaseURL is the local Client Portal gateway.
const DefaultBaseURL = "https://localhost:5000/v1/api"

// Config holds gateway configuration.
type Config struct {
	BaseURL        string
	Symbol         string
	Exchange       string // preferred listing of the underlying, e.g. CBOE
	InsecureTLS    bool   // the gateway ships a self-signed certificate
	Timeout        time.Duration
	MaxConcurrency int
	BatchSize      int // conids per snapshot request
	PreflightDelay time.Duration
	Retry          utils.RetryConfig
	Breaker        resilience.CircuitBreakerConfig
}

// DefaultConfig returns the default gateway configuration for symbol.
func DefaultConfig(symbol string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Symbol:         symbol,
		Exchange:       "CBOE",
		InsecureTLS:    true,
		Timeout:        30 * time.Second,
		MaxConcurrency: 8,
		BatchSize:      100,
		PreflightDelay: 500 * time.Millisecond,
		Retry:          utils.DefaultRetryConfig(),
		Breaker:        resilience.DefaultCircuitBreakerConfig(),
	}
}

// statusError is a non-2xx gateway response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

// isGatewayFailure reports whether err says something about gateway health.
// Client errors (bad conid, unknown month) do not.
func isGatewayFailure(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	return true
}

// Option configures a Supplier.
type Option func(*Supplier)

// WithAuditor records gateway access on a.
func WithAuditor(a security.Auditor) Option {
	return func(s *Supplier) { s.auditor = a }
}

// WithAccessController checks every gateway call against ac.
func WithAccessController(ac *security.AccessController) Option {
	return func(s *Supplier) { s.access = ac }
}

// WithLogger sets the connection logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supplier) { s.logger = logger }
}

func newHTTPClient(cfg Config) *resty.Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "spxopt")
	if cfg.InsecureTLS {
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return c
}

// get performs one GET against the gateway with retry and circuit breaker
// protection and decodes the JSON body into out.
func (s *Supplier) get(ctx context.Context, op security.OperationType, path string, params map[string]string, out interface{}) error {
	if err := s.access.CheckPermission(ctx, op); err != nil {
		return err
	}

	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return utils.Retry(ctx, s.retryConfig(path), func() error {
			return s.do(ctx, path, params, out)
		})
	})
	logging.LogAPICall(s.logger, http.MethodGet, path, time.Since(start), err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrTimeout) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return apperrors.NewSupplierError(Name, path, fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err))
		}
		return apperrors.NewSupplierError(Name, path, err)
	}
	return nil
}

func (s *Supplier) do(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return utils.Permanent(ctx.Err())
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err)
	}

	if resp.IsError() {
		se := &statusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 200)}
		if se.Code < http.StatusInternalServerError {
			return utils.Permanent(se)
		}
		return se
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return utils.Permanent(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return nil
}

func (s *Supplier) retryConfig(path string) utils.RetryConfig {
	rc := s.cfg.Retry
	logger := s.logger
	rc.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Str("endpoint", path).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Retrying gateway request")
	}
	return rc
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultRequestsPerSec = 5.0
	DefaultBurst          = 5
	DefaultMaxBodyBytes   = 32 << 20
)

// ErrInvalidPayload is returned when an upstream body is not valid JSON or
// exceeds the client's size cap.
var ErrInvalidPayload = errors.New("upstream returned invalid payload")

// HTTPStatusError represents an error due to a non-200 HTTP status code.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: non-200 status code: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the request may succeed when repeated.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPClient is a rate-limited JSON client for one upstream API.
type HTTPClient struct {
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	header     http.Header
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	maxBody    int64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithMaxBodyBytes caps the size of a response body. Non-positive values
// keep the default.
func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimit sets the sustained request rate and burst.
// A non-positive perSec disables limiting.
func WithRateLimit(perSec float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithHeader adds a header sent on every request (API keys, chain selectors).
func WithHeader(key, value string) ClientOption {
	return func(c *HTTPClient) {
		c.header.Set(key, value)
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSec), DefaultBurst),
		header:     http.Header{},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		maxBody:    DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON fetches path with query and parses the body.
// 429 and 5xx responses and transport errors are retried with exponential
// backoff; other statuses fail immediately with *HTTPStatusError.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header = c.header.Clone()
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint}
			if !statusErr.Retryable() {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if int64(len(b)) > c.maxBody {
			return backoff.Permanent(fmt.Errorf("%w: %s body exceeds %d bytes", ErrInvalidPayload, endpoint, c.maxBody))
		}
		body = b
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryDelay
	expo.MaxInterval = c.maxDelay
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(max(c.maxRetries, 0))), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrInvalidPayload, endpoint)
	}
	return gjson.ParseBytes(body), nil
}

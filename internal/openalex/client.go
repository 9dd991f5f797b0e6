package openalex

import (
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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit stays inside the polite pool allowance.
	DefaultRateLimit = 10.0

	// Retry defaults: at most DefaultMaxAttempts tries per request, with the
	// delay doubling from DefaultBaseDelay up to DefaultMaxDelay.
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second

	// MaxPerPage is the largest page size the works endpoint accepts.
	MaxPerPage = 200

	// startCursor begins cursor paging.
	startCursor = "*"

	// IDPrefix is the URL prefix OpenAlex puts on entity ids.
	IDPrefix = "https://openalex.org/"

	maxBodyBytes = 32 << 20
)

// Client is a rate-limited HTTP client for the OpenAlex API with bounded
// retries. It is safe for concurrent use, although the pipeline only ever
// issues one request at a time.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	mailto     string

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	logger  zerolog.Logger
	onRetry func(attempt int, err error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMailto sets the contact address sent for the polite pool.
func WithMailto(email string) ClientOption {
	return func(c *Client) {
		c.mailto = email
	}
}

// WithRateLimit sets the maximum requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry sets the attempt ceiling and the backoff bounds.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRetryObserver registers a callback invoked before every retry.
func WithRetryObserver(fn func(attempt int, err error)) ClientOption {
	return func(c *Client) {
		c.onRetry = fn
	}
}

// NewClient creates a new OpenAlex API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		baseURL:     DefaultBaseURL,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		logger:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WorksURL builds the works request URL for a query and cursor.
func (c *Client) WorksURL(q Query, cursor string) (string, error) {
	u, err := url.Parse(c.baseURL + "/works")
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	if cursor == "" {
		cursor = startCursor
	}
	perPage := q.PerPage
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	query := url.Values{}
	query.Set("filter", buildFilter(q))
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("cursor", cursor)
	if c.mailto != "" {
		query.Set("mailto", c.mailto)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// buildFilter renders the concept and inclusive date range filter.
func buildFilter(q Query) string {
	filters := []string{"concepts.id:" + q.ConceptID}
	if !q.From.IsZero() {
		filters = append(filters, "from_publication_date:"+q.From.String())
	}
	if !q.To.IsZero() {
		filters = append(filters, "to_publication_date:"+q.To.String())
	}
	return strings.Join(filters, ",")
}

// Page fetches a single works page. An empty cursor requests the first page.
// Transient failures are retried on the same cursor; a *FetchError is
// returned once retries are exhausted or the failure is permanent.
func (c *Client) Page(ctx context.Context, q Query, cursor string) (*WorksPage, error) {
	if cursor == "" {
		cursor = startCursor
	}
	u, err := c.WorksURL(q, cursor)
	if err != nil {
		return nil, err
	}

	var page WorksPage
	if err := c.getJSON(ctx, u, cursor, &page); err != nil {
		return nil, err
	}
	page.Cursor = cursor
	return &page, nil
}

// Institution fetches a single institution by id (with or without the
// https://openalex.org/ prefix).
func (c *Client) Institution(ctx context.Context, id string) (*Institution, error) {
	short := strings.TrimPrefix(id, IDPrefix)
	if short == "" {
		return nil, ErrNotFound
	}

	u, err := url.Parse(c.baseURL + "/institutions/" + url.PathEscape(short))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if c.mailto != "" {
		u.RawQuery = url.Values{"mailto": {c.mailto}}.Encode()
	}

	var inst Institution
	if err := c.getJSON(ctx, u.String(), "", &inst); err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Resource = "institutions/" + short
		}
		return nil, err
	}
	return &inst, nil
}

// getJSON performs a GET with rate limiting and bounded exponential backoff.
func (c *Client) getJSON(ctx context.Context, u, cursor string, out any) error {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{Cursor: cursor, Attempts: attempt, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		retryAfter, err := c.getOnce(ctx, u, out)
		if err == nil {
			return nil
		}

		status := 0
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}

		if ctx.Err() != nil {
			return &FetchError{Cursor: cursor, Attempts: attempt, StatusCode: status, Err: ctx.Err()}
		}
		if !isRetryable(err) || attempt >= c.maxAttempts {
			return &FetchError{Cursor: cursor, Attempts: attempt, StatusCode: status, Err: err}
		}

		delay := c.backoff(attempt, retryAfter)
		c.logger.Warn().
			Err(err).
			Str("cursor", cursor).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying OpenAlex request")
		if c.onRetry != nil {
			c.onRetry(attempt, err)
		}

		if err := waitForRetry(ctx, delay); err != nil {
			return &FetchError{Cursor: cursor, Attempts: attempt, StatusCode: status, Err: err}
		}
	}
}

// getOnce performs one request. It returns the server's Retry-After hint
// (zero if absent) alongside any error.
func (c *Client) getOnce(ctx context.Context, u string, out any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return parseRetryAfter(resp.Header.Get("Retry-After")), err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return 0, nil
}

func (c *Client) userAgent() string {
	if c.mailto != "" {
		return "rmap/1.0 (mailto:" + c.mailto + ")"
	}
	return "rmap/1.0"
}

// checkHTTPErrors returns an error if the HTTP response indicates a problem.
func checkHTTPErrors(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, &APIError{StatusCode: resp.StatusCode, Message: "not found"})
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, &APIError{StatusCode: resp.StatusCode, Message: "too many requests"})
	}
	if resp.StatusCode >= 400 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	return nil
}

// isRetryable reports whether a failed attempt should be repeated:
// network errors, rate limiting and server errors are transient.
func isRetryable(err error) bool {
	if errors.Is(err, ErrNetworkError) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// backoff returns min(baseDelay*2^(attempt-1), maxDelay), raised to the
// server's Retry-After hint when that is longer (still capped).
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := c.baseDelay
	for i := 1; i < attempt && d < c.maxDelay; i++ {
		d *= 2
	}
	if retryAfter > d {
		d = retryAfter
	}
	if d > c.maxDelay {
		d = c.maxDelay
	}
	return d
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

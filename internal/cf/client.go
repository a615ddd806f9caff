package cf

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

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/galpt/go-cfer/internal/config"
	"github.com/galpt/go-cfer/internal/logging"
)

// ErrMalformedResponse is returned when a response body does not match the expected envelope.
var ErrMalformedResponse = errors.New("malformed response")

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *APIError) Error() string {
	var env struct {
		Errors []ResponseInfo `json:"errors"`
	}
	if json.Unmarshal(e.Body, &env) == nil && len(env.Errors) > 0 {
		msgs := make([]string, 0, len(env.Errors))
		for _, m := range env.Errors {
			msgs = append(msgs, fmt.Sprintf("%d %s", m.Code, m.Message))
		}
		return fmt.Sprintf("http %s: %s", e.Status, strings.Join(msgs, "; "))
	}
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return "http " + e.Status
	}
	return fmt.Sprintf("http %s: %s", e.Status, body)
}

// IsConflict reports whether err is a 409 from the API, which the service
// returns when an identical rule already exists.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// Client is a small Cloudflare Email Routing client with opt-in rate-limit retries.
// It is safe for concurrent use: every request gets its own clone of the header template.
type Client struct {
	http    *http.Client
	base    string
	headers http.Header
	retries int
	logger  *logging.Logger
}

func NewClient(cfg *config.Config, logger *logging.Logger, opts ...Option) *Client {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+cfg.APIToken)

	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		base:    strings.TrimRight(cfg.APIHost, "/") + "/zones/" + url.PathEscape(cfg.ZoneID) + "/email/routing/rules",
		headers: headers,
		retries: cfg.RateLimitRetries,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RulesURL is the collection endpoint this client talks to.
func (c *Client) RulesURL() string { return c.base }

func (c *Client) doRequestWithRetry(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyBytes = b
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var out *Response
	operation := func() error {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header = c.headers.Clone()

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Debugf("http.do error: %v", err)
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: b}
			if c.retries == 0 {
				return backoff.Permanent(apiErr)
			}
			// Respect Retry-After if present
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					wait := time.Duration(secs)*time.Second + 500*time.Millisecond
					c.logger.Infof("rate limited, waiting %v before retrying", wait)
					select {
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					case <-time.After(wait):
					}
				}
			} else {
				c.logger.Infof("rate limited (429), backing off")
			}
			return apiErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: b})
		}

		out = &Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: b}
		return nil
	}

	// Exponential backoff with max elapsed time, only ever used for 429s
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 2 * time.Minute
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retries)), ctx)

	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRules fetches one page of routing rules.
func (c *Client) ListRules(ctx context.Context, page, perPage int) (*ListResponse, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	resp, err := c.doRequestWithRetry(ctx, http.MethodGet, "", query, nil)
	if err != nil {
		return nil, err
	}
	var out ListResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &out, nil
}

// CreateRule creates a routing rule.
func (c *Client) CreateRule(ctx context.Context, rule RoutingRule) (*Response, error) {
	return c.doRequestWithRetry(ctx, http.MethodPost, "", nil, rule)
}

// DeleteRule deletes a routing rule by ID.
func (c *Client) DeleteRule(ctx context.Context, id string) (*Response, error) {
	return c.doRequestWithRetry(ctx, http.MethodDelete, "/"+url.PathEscape(id), nil, nil)
}

// Package api is the request layer: uniform HTTP execution with bearer-token
// injection, a per-request timeout budget, and a single 401-triggered
// refresh-and-retry. Resource method sets live in the sibling files.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sangamlink/client-go/internal/errs"
)

// TokenSource supplies the current access token and performs the
// single-flight refresh. Implemented by the session manager.
type TokenSource interface {
	// AccessToken returns the current access token, empty when none.
	AccessToken() string
	// Refresh performs one token refresh and returns the new access token.
	// Concurrent callers must share one outstanding attempt.
	Refresh(ctx context.Context) (string, error)
}

// Client executes requests against the backend REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	tokens     TokenSource
	log        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: 30 * time.Second,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTokenSource attaches the session's token source. Must be called before
// authenticated requests are issued.
func (c *Client) SetTokenSource(ts TokenSource) { c.tokens = ts }

type reqOptions struct {
	// noAuthRetry disables the 401 refresh-and-retry. Set on the auth
	// endpoints themselves so a failing refresh cannot recurse.
	noAuthRetry bool
	// noBearer skips Authorization injection (login/register/refresh).
	noBearer bool
	query    url.Values
}

type reqOption func(*reqOptions)

func noAuthRetry() reqOption { return func(o *reqOptions) { o.noAuthRetry = true } }
func noBearer() reqOption    { return func(o *reqOptions) { o.noBearer = true } }
func withQuery(q url.Values) reqOption {
	return func(o *reqOptions) { o.query = q }
}

func (c *Client) get(ctx context.Context, path string, out any, opts ...reqOption) error {
	return c.do(ctx, http.MethodGet, path, nil, out, opts...)
}

func (c *Client) post(ctx context.Context, path string, body, out any, opts ...reqOption) error {
	return c.do(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *Client) put(ctx context.Context, path string, body, out any, opts ...reqOption) error {
	return c.do(ctx, http.MethodPut, path, body, out, opts...)
}

func (c *Client) delete(ctx context.Context, path string, out any, opts ...reqOption) error {
	return c.do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// do executes one request. On a 401 it asks the token source for exactly one
// refresh and replays the original request once with the new token; further
// 401s are returned as-is. All other non-2xx responses are normalized into
// *errs.APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any, opts ...reqOption) error {
	var o reqOptions
	for _, f := range opts {
		f(&o)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token := ""
	if c.tokens != nil && !o.noBearer {
		token = c.tokens.AccessToken()
	}

	status, respBody, err := c.roundTrip(ctx, method, path, o.query, payload, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && !o.noAuthRetry && c.tokens != nil {
		newToken, rerr := c.tokens.Refresh(ctx)
		if rerr != nil {
			return fmt.Errorf("%w: %s %s", errs.ErrSessionExpired, method, path)
		}
		c.log.Debug("retrying after token refresh", zap.String("path", path))
		if status, respBody, err = c.roundTrip(ctx, method, path, o.query, payload, newToken); err != nil {
			return err
		}
	}

	if status < 200 || status > 299 {
		return decodeAPIError(status, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response (%s %s): %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, token string) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, fmt.Errorf("%w: %s %s", errs.ErrTimeout, method, path)
		}
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response (%s %s): %w", method, path, err)
	}
	return resp.StatusCode, respBody, nil
}

// decodeAPIError normalizes an error body into *errs.APIError. Structured
// validation arrays are flattened; non-JSON bodies fall back to the status
// text.
func decodeAPIError(status int, body []byte) error {
	var parsed struct {
		Message string            `json:"message"`
		Error   string            `json:"error"`
		Errors  []errs.FieldError `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		msg := parsed.Message
		if msg == "" {
			msg = parsed.Error
		}
		return errs.NewAPIError(status, msg, parsed.Errors)
	}
	return errs.NewAPIError(status, http.StatusText(status), nil)
}

// Package api is the request pipeline to the game backend.
//
// Every call goes through Client.Request, which:
//
//  1. attaches the bearer token of the current session, JSON headers and a
//     fresh X-Request-ID
//  2. bounds the call with the configured per-request timeout
//  3. maps the outcome onto exactly one of three results:
//     2xx → *Response, non-2xx → apperror.ErrBackend, no response → apperror.ErrTransport
//
// WHY NO RETRIES HERE?
// Whether a call may be repeated depends on what it does: fetching the balance
// twice is harmless, completing a game twice is not. That decision belongs to
// the caller, so the pipeline performs each request exactly once.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/keno-client/internal/apperror"
)

// Header names used by the backend.
const (
	HeaderAuthorization = "Authorization"
	HeaderSessionID     = "X-SESSION-ID"
	HeaderRequestID     = "X-Request-ID"
)

// TokenFunc returns the bearer token to attach, or "" when signed out.
type TokenFunc func() string

// Response is a successful (2xx) backend response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("api: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("api: decoding response: %w", err)
	}
	return nil
}

type ClientConfig struct {
	BaseURL               string
	Timeout               time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	KeepAlive             time.Duration
	Headers               map[string]string

	// HTTPClient overrides the transport built from the fields above.
	HTTPClient *http.Client
}

func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:               15 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		KeepAlive:             30 * time.Second,
		Headers:               make(map[string]string),
	}
}

// Client performs backend calls on behalf of the session core.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	token   TokenFunc
	logger  *slog.Logger

	mu      sync.RWMutex
	headers map[string]string
}

func NewClient(config ClientConfig, token TokenFunc, logger *slog.Logger) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		dialer := &net.Dialer{
			Timeout:   config.Timeout,
			KeepAlive: config.KeepAlive,
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				MaxIdleConns:          config.MaxIdleConns,
				MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
				IdleConnTimeout:       config.IdleConnTimeout,
				TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
				ExpectContinueTimeout: config.ExpectContinueTimeout,
				ForceAttemptHTTP2:     true,
			},
		}
	}
	if token == nil {
		token = func() string { return "" }
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  httpClient,
		timeout: config.Timeout,
		token:   token,
		logger:  logger,
		headers: headers,
	}
}

// SetHeader adds a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

func (c *Client) Get(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, headers, nil)
}

func (c *Client) Post(ctx context.Context, path string, headers map[string]string, payload any) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, headers, payload)
}

func (c *Client) Delete(ctx context.Context, path string, headers map[string]string, payload any) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, headers, payload)
}

// Request performs one backend call. See the package doc for the result mapping.
func (c *Client) Request(ctx context.Context, method, path string, headers map[string]string, payload any) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("api: encoding %s %s payload: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("api: building %s %s request: %w", method, path, err)
	}

	requestID := xid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestID)

	req.Header.Set(HeaderAuthorization, "Bearer "+c.token())
	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()
	// Per-call headers win, including an explicit Authorization.
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("requestID", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Transport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Transport(fmt.Errorf("reading %s %s response: %w", method, path, err))
	}

	c.logger.Debug("backend request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("requestID", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperror.Backend(resp.StatusCode, reasonPhrase(resp))
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// reasonPhrase extracts "Internal Server Error" from "500 Internal Server Error".
func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if reason, ok := strings.CutPrefix(resp.Status, prefix); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/simally/sessionkit/lib/fingerprint"
	"github.com/simally/sessionkit/lib/netutil"
	"github.com/simally/sessionkit/lib/secret"
	"github.com/simally/sessionkit/session"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the base URL of the authentication service (e.g.,
	// "https://auth.simally.dev").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is the HTTP consumer of the authentication service's session
// endpoints. It implements [session.AuthGateway]: well-formed error
// responses come back as *session.AuthError, everything else as a
// transport error for the manager to classify.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ session.AuthGateway = (*Client)(nil)

// NewClient creates a client for the authentication service.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("gateway: BaseURL is required")
	}

	// Validate the URL structure. We store the string form (with
	// trailing slash stripped) and build request URLs by direct
	// concatenation.
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// registerRequest is the POST /v1/auth/register body. The password is
// converted to string at the JSON serialization boundary; the heap
// copy is short-lived, existing only during the HTTP call.
type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// loginRequest is the POST /v1/auth/login body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// validateResponse is the GET /v1/auth/session body for a live token.
type validateResponse struct {
	User      session.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Register creates a new account and returns its first session.
func (c *Client) Register(ctx context.Context, username string, password *secret.Buffer, fullName string) (*session.Session, error) {
	if username == "" {
		return nil, fmt.Errorf("gateway: username is required for registration")
	}
	if password == nil {
		return nil, fmt.Errorf("gateway: password is required for registration")
	}

	request := registerRequest{
		Username: username,
		Password: password.String(),
		FullName: fullName,
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/register", "", request)
	if err != nil {
		return nil, fmt.Errorf("gateway: registration failed: %w", err)
	}

	var record session.Session
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse register response: %w", err)
	}

	c.logger.Info("registered account",
		"user_id", record.User.ID,
		"username", record.User.Username,
		"session", record.Fingerprint(),
	)
	return &record, nil
}

// Authenticate exchanges credentials for a session.
func (c *Client) Authenticate(ctx context.Context, username string, password *secret.Buffer) (*session.Session, error) {
	if username == "" {
		return nil, fmt.Errorf("gateway: username is required for login")
	}
	if password == nil {
		return nil, fmt.Errorf("gateway: password is required for login")
	}

	request := loginRequest{
		Username: username,
		Password: password.String(),
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/login", "", request)
	if err != nil {
		return nil, fmt.Errorf("gateway: login failed: %w", err)
	}

	var record session.Session
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in",
		"user_id", record.User.ID,
		"username", record.User.Username,
		"session", record.Fingerprint(),
	)
	return &record, nil
}

// Invalidate revokes the session behind the token.
func (c *Client) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("gateway: token is required for invalidation")
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/logout", token, nil); err != nil {
		return fmt.Errorf("gateway: logout failed: %w", err)
	}

	c.logger.Debug("session invalidated", "token", fingerprint.Token(token))
	return nil
}

// Validate confirms the token still identifies a live session and
// returns the identity behind it.
func (c *Client) Validate(ctx context.Context, token string) (*session.User, error) {
	if token == "" {
		return nil, fmt.Errorf("gateway: token is required for validation")
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/auth/session", token, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: session validation failed: %w", err)
	}

	var response validateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse validation response: %w", err)
	}

	c.logger.Debug("session validated",
		"user_id", response.User.ID,
		"token", fingerprint.Token(token),
		"expires_at", response.ExpiresAt,
	)
	return &response.User, nil
}

// Touch records an activity heartbeat against the session, so the
// service's last-seen tracking follows real activity.
func (c *Client) Touch(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("gateway: token is required for touch")
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/touch", token, nil); err != nil {
		return fmt.Errorf("gateway: touch failed: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request to the authentication service and
// returns the response body. On 2xx, returns the body. On 4xx/5xx with
// the service's error shape, returns a *session.AuthError; any other
// failure (network, read, a body that is not the service's error
// shape) is a plain error for the caller to treat as transport-level.
// token may be empty for unauthenticated endpoints.
func (c *Client) doRequest(ctx context.Context, method, path, token string, requestBody any) ([]byte, error) {
	requestURL := c.baseURL + path

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("gateway: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("gateway: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All error responses from the service use the same JSON shape. A
	// body that does not parse, or parses without a code, is not the
	// service speaking (a proxy error page, a truncated response) and
	// is reported as a transport-level failure instead.
	var authErr session.AuthError
	if jsonErr := json.Unmarshal(responseBody, &authErr); jsonErr != nil || authErr.Code == "" {
		return nil, fmt.Errorf("gateway: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	authErr.StatusCode = response.StatusCode

	return nil, &authErr
}

// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/simally/sessionkit/lib/clock"
	"github.com/simally/sessionkit/lib/netutil"
	"github.com/simally/sessionkit/lib/secret"
	"github.com/simally/sessionkit/session"
)

// Config holds configuration for creating a Coordinator.
type Config struct {
	// ConversationBaseURL is the base URL of the conversation service
	// (e.g., "https://tavusapi.com").
	ConversationBaseURL string

	// RevocationBaseURL is the base URL of the grant revocation
	// service. Empty disables revocation: RevokeThirdPartyGrant
	// becomes a logged no-op.
	RevocationBaseURL string

	// APIKey authenticates every request (x-api-key header). The
	// coordinator borrows the buffer; the caller keeps ownership and
	// must not close it while the coordinator is in use.
	APIKey *secret.Buffer

	// Persona is the conversation profile sent when starting a
	// companion session.
	Persona *Persona

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Clock supplies time for conversation bookkeeping. If nil, the
	// real clock is used.
	Clock clock.Clock
}

// Coordinator drives the session's dependent subsystems over HTTP: it
// starts and ends companion conversations on the conversation service
// and revokes third-party OAuth grants. It implements
// [session.Coordinator].
//
// Conversations started through the coordinator are tracked in
// memory, keyed by user id, so a later teardown can end the right
// remote conversation. The tracking map is process-local: it does not
// survive a restart, and conversations started by other processes are
// invisible to it.
type Coordinator struct {
	conversationBaseURL string
	revocationBaseURL   string
	apiKey              *secret.Buffer
	persona             *Persona
	httpClient          *http.Client
	logger              *slog.Logger
	clock               clock.Clock

	mu     sync.Mutex
	active map[string]activeConversation
}

// activeConversation is the tracked state of one running companion
// conversation.
type activeConversation struct {
	id        string
	startedAt time.Time
}

var _ session.Coordinator = (*Coordinator)(nil)

// NewCoordinator creates a coordinator for the conversation service.
func NewCoordinator(config Config) (*Coordinator, error) {
	if config.ConversationBaseURL == "" {
		return nil, fmt.Errorf("companion: ConversationBaseURL is required")
	}
	if _, err := url.Parse(config.ConversationBaseURL); err != nil {
		return nil, fmt.Errorf("companion: invalid ConversationBaseURL %q: %w", config.ConversationBaseURL, err)
	}
	if config.RevocationBaseURL != "" {
		if _, err := url.Parse(config.RevocationBaseURL); err != nil {
			return nil, fmt.Errorf("companion: invalid RevocationBaseURL %q: %w", config.RevocationBaseURL, err)
		}
	}
	if config.APIKey == nil {
		return nil, fmt.Errorf("companion: APIKey is required")
	}
	if config.Persona == nil {
		return nil, fmt.Errorf("companion: Persona is required")
	}
	if err := config.Persona.Validate(); err != nil {
		return nil, fmt.Errorf("companion: invalid persona: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Coordinator{
		conversationBaseURL: strings.TrimRight(config.ConversationBaseURL, "/"),
		revocationBaseURL:   strings.TrimRight(config.RevocationBaseURL, "/"),
		apiKey:              config.APIKey,
		persona:             config.Persona,
		httpClient:          httpClient,
		logger:              logger,
		clock:               clk,
		active:              make(map[string]activeConversation),
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool.
func (c *Coordinator) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// conversationResponse is the create-conversation response body.
type conversationResponse struct {
	ConversationID  string `json:"conversation_id"`
	ConversationURL string `json:"conversation_url"`
}

// revokeGrantRequest is the POST /v1/grants/revoke body.
type revokeGrantRequest struct {
	UserID string `json:"user_id"`
}

// StartCompanionSession creates a conversation for the user on the
// conversation service and records its id. A conversation already
// tracked for the user is replaced; the service's participant-absent
// timeout collects the orphan.
func (c *Coordinator) StartCompanionSession(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("companion: user id is required")
	}

	// The persona doubles as the request payload; only the
	// conversation name is made per-user.
	payload := *c.persona
	payload.ConversationName = c.persona.ConversationName + "-" + userID

	body, err := c.doRequest(ctx, http.MethodPost, c.conversationBaseURL+"/v2/conversations", payload)
	if err != nil {
		return fmt.Errorf("companion: starting conversation: %w", err)
	}

	var created conversationResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return fmt.Errorf("companion: failed to parse conversation response: %w", err)
	}
	if created.ConversationID == "" {
		return fmt.Errorf("companion: conversation service returned no conversation id")
	}

	c.mu.Lock()
	previous, replaced := c.active[userID]
	c.active[userID] = activeConversation{
		id:        created.ConversationID,
		startedAt: c.clock.Now(),
	}
	c.mu.Unlock()

	if replaced {
		c.logger.Warn("replaced tracked conversation",
			"user_id", userID,
			"previous_conversation_id", previous.id,
			"conversation_id", created.ConversationID,
		)
	}

	c.logger.Info("companion conversation started",
		"user_id", userID,
		"conversation_id", created.ConversationID,
		"conversation_url", created.ConversationURL,
	)
	return nil
}

// EndCompanionSession stops and deletes the user's tracked
// conversation. No tracked conversation is a no-op. The tracking
// entry is removed before the remote calls: once the user is signed
// out this process is no longer responsible for the conversation, and
// a failed remote end is reported, not retried.
func (c *Coordinator) EndCompanionSession(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("companion: user id is required")
	}

	c.mu.Lock()
	conversation, ok := c.active[userID]
	delete(c.active, userID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("no tracked conversation", "user_id", userID)
		return nil
	}

	// End the live call, then delete the conversation object. The
	// delete is attempted even when the end fails: a conversation
	// that would not end can still be deleted.
	conversationURL := c.conversationBaseURL + "/v2/conversations/" + conversation.id

	var errs []error
	if _, err := c.doRequest(ctx, http.MethodPost, conversationURL+"/end", nil); err != nil {
		errs = append(errs, fmt.Errorf("companion: ending conversation %s: %w", conversation.id, err))
	}
	if _, err := c.doRequest(ctx, http.MethodDelete, conversationURL, nil); err != nil {
		errs = append(errs, fmt.Errorf("companion: deleting conversation %s: %w", conversation.id, err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.logger.Info("companion conversation ended",
		"user_id", userID,
		"conversation_id", conversation.id,
		"duration", c.clock.Now().Sub(conversation.startedAt),
	)
	return nil
}

// RevokeThirdPartyGrant revokes the user's third-party OAuth grant
// through the revocation service. With no revocation service
// configured this is a no-op.
func (c *Coordinator) RevokeThirdPartyGrant(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("companion: user id is required")
	}
	if c.revocationBaseURL == "" {
		c.logger.Debug("grant revocation not configured", "user_id", userID)
		return nil
	}

	request := revokeGrantRequest{UserID: userID}
	if _, err := c.doRequest(ctx, http.MethodPost, c.revocationBaseURL+"/v1/grants/revoke", request); err != nil {
		return fmt.Errorf("companion: revoking grant: %w", err)
	}

	c.logger.Info("third-party grant revoked", "user_id", userID)
	return nil
}

// ActiveConversations returns the number of conversations the
// coordinator is tracking.
func (c *Coordinator) ActiveConversations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// doRequest performs an HTTP request with the service API key
// attached and returns the response body. Any non-2xx status is an
// error: conversation-service failures carry no session error
// taxonomy, the manager logs and discards them.
func (c *Coordinator) doRequest(ctx context.Context, method, requestURL string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("companion: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("companion: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	// The API key crosses to string form only here, at the header
	// boundary.
	request.Header.Set("x-api-key", c.apiKey.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("companion: request to %s %s failed: %w", method, requestURL, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("companion: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	return nil, fmt.Errorf("companion: unexpected %d response from %s %s: %s",
		response.StatusCode, method, requestURL, string(responseBody))
}

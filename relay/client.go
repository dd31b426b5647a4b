// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package relay

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

	"github.com/agentmirror/agentmirror/lib/secret"
)

// maxResponseSize bounds relay response bodies. Session state blobs
// are capped well below this on the relay side.
const maxResponseSize = 16 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// RelayURL is the base URL of the relay (e.g. "https://relay.example.com").
	RelayURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated relay client. It holds the relay URL
// and HTTP transport, shared by the auth ceremony and by Conns.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated relay client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.RelayURL == "" {
		return nil, fmt.Errorf("relay: RelayURL is required")
	}
	if _, err := url.Parse(config.RelayURL); err != nil {
		return nil, fmt.Errorf("relay: invalid RelayURL %q: %w", config.RelayURL, err)
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
		baseURL:    strings.TrimRight(config.RelayURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops pooled HTTP connections. Called after a
// network disruption so the next request dials fresh instead of
// reusing a poisoned connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// AuthRequest opens the challenge-response ceremony by submitting an
// ephemeral public key. The relay answers with account material sealed
// to that key plus a challenge to sign.
func (c *Client) AuthRequest(ctx context.Context, ephemeralPublicKey []byte) (*AuthRequestResponse, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/request", nil, map[string]any{
		"publicKey": encode64(ephemeralPublicKey),
	})
	if err != nil {
		return nil, fmt.Errorf("relay: auth request failed: %w", err)
	}
	var response AuthRequestResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("relay: failed to parse auth response: %w", err)
	}
	return &response, nil
}

// AuthVerify submits the signed challenge. On success the relay
// returns a bearer token for the account.
func (c *Client) AuthVerify(ctx context.Context, request AuthVerifyRequest) (*AuthVerifyResponse, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/verify", nil, request)
	if err != nil {
		return nil, fmt.Errorf("relay: auth verify failed: %w", err)
	}
	var response AuthVerifyResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("relay: failed to parse verify response: %w", err)
	}
	return &response, nil
}

// doRequest performs a JSON request against the relay. Non-2xx
// responses are returned as *RelayError when the body parses as the
// standard error shape.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("relay: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("relay: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("relay: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var relayErr RelayError
	if jsonErr := json.Unmarshal(responseBody, &relayErr); jsonErr != nil || relayErr.Code == "" {
		// Non-JSON error body. Should not happen with a conforming
		// relay; fail loud with the raw body.
		return nil, fmt.Errorf("relay: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	relayErr.StatusCode = response.StatusCode

	return responseBody, &relayErr
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the REST client for the chat backend.
//
// The backend owns conversations, message history, and media storage; this
// client only reads list/history endpoints and uploads images. The realtime
// channel lives in internal/socket.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/peerchat-tui/internal/model"
)

// Configuration constants for the chat backend API.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors on idempotent requests.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 5 * time.Second

	// MaxResponseSize caps response bodies to prevent memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

// sharedHTTPClient is a pooled HTTP client shared by all API requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: DefaultTimeout,
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the base URL is not set.
	ErrNotConfigured = errors.New("chat API base URL not configured")

	// ErrAuthFailed indicates the auth token was rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrImageTooLarge indicates an upload exceeded the client-side limit.
	ErrImageTooLarge = errors.New("image exceeds upload size limit")
)

// APIError represents a non-2xx response from the chat backend.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("chat API error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the chat backend REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	maxImage   int64
}

// NewClient creates a new chat API client for the given base URL.
// The token is optional; when set it is sent as a bearer credential.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: sharedHTTPClient,
		maxRetries: DefaultMaxRetries,
		maxImage:   5 * 1024 * 1024,
	}
}

// WithHTTPClient sets a custom HTTP client (used by tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// WithMaxImageBytes sets the client-side upload size limit.
func (c *Client) WithMaxImageBytes(n int64) *Client {
	c.maxImage = n
	return c
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations fetches the conversations the user participates in.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := c.getJSON(ctx, "/chat/users/connected/"+url.PathEscape(userID), &convs)
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// GetMessages fetches the full message history for a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var msgs []*model.Message
	err := c.getJSON(ctx, "/chat/chats/"+url.PathEscape(conversationID), &msgs)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// =============================================================================
// IMAGE UPLOAD
// =============================================================================

// uploadResponse is the backend's durable media reference.
type uploadResponse struct {
	URL string `json:"url"`
}

// UploadImage uploads an image and returns its durable URL. The size is
// validated client-side before any network traffic; oversized files fail
// with ErrImageTooLarge.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	if size > c.maxImage {
		return "", ErrImageTooLarge
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, io.LimitReader(r, c.maxImage+1)); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/upload-image", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out uploadResponse
	if err := decodeBody(resp, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", &APIError{Status: resp.StatusCode, Message: "upload response missing url"}
	}
	return out.URL, nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// getJSON performs a GET with bounded retries for transient failures.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue // network errors are retryable
		}

		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			if isRetryable(resp.StatusCode) {
				lastErr = err
				continue
			}
			return err
		}

		err = decodeBody(resp, out)
		resp.Body.Close()
		return err
	}
	return lastErr
}

// authorize attaches the bearer token when configured.
func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkStatus maps HTTP failures to the error taxonomy.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuthFailed
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		msg := readErrorMessage(resp)
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
}

// isRetryable reports whether a status code warrants another attempt.
func isRetryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// decodeBody decodes a JSON body with the response size cap applied.
func decodeBody(resp *http.Response, out interface{}) error {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	return json.NewDecoder(limited).Decode(out)
}

// readErrorMessage extracts a short error string from a failed response.
func readErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return resp.Status
	}

	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &apiErr) == nil {
		if apiErr.Error != "" {
			return apiErr.Error
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// Package backend talks to the hosted database/auth/storage/functions service.
// The wire format follows the Supabase REST conventions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUnexpectedStatus is returned when the backend answers with a non-2xx code.
var ErrUnexpectedStatus = errors.New("unexpected response status code")

// StatusError carries the status and message of a failed call.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.Status)
	}
	return fmt.Sprintf("%s: %d: %s", ErrUnexpectedStatus, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Client is a thin REST client bound to one backend project.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every call. Zero keeps the default client behavior.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// New creates a client for the project at baseURL.
func New(baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the project URL.
func (c *Client) BaseURL() string { return c.baseURL }

type reqConfig struct {
	Method      string
	Path        string
	Token       string // Bearer token; the anon key is used when empty.
	Body        []byte
	ContentType string
}

func (c *Client) do(ctx context.Context, cfg reqConfig) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, cfg.Method, c.baseURL+cfg.Path, bytes.NewReader(cfg.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cfg.Body != nil {
		contentType := cfg.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", cfg.Method, cfg.Path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close backend response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", cfg.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// request sends cfg and decodes the JSON response into T.
func request[T any](ctx context.Context, c *Client, cfg reqConfig) (*T, error) {
	body, err := c.do(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var t T
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", cfg.Path, err)
	}
	return &t, nil
}

func jsonBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}

// errorMessage extracts the human-readable message from the backend's
// differently shaped error bodies.
func errorMessage(body []byte) string {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

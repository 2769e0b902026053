// Package client is an HTTP client for the playwatch API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Client talks to a running playwatch daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	// Token is sent as a bearer token. Login replaces it.
	Token string
	// CACert is a PEM file trusted in addition to the system pool.
	CACert   string
	Insecure bool // Skip TLS verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8787/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.Insecure || config.CACert != "" {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		token:   config.Token,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(config.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// IsReachable checks if the daemon answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.State(ctx)
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// State returns the current game state.
func (c *Client) State(ctx context.Context) (*State, error) {
	var out State
	if err := c.do(ctx, http.MethodGet, "/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Games returns the whole catalog.
func (c *Client) Games(ctx context.Context) ([]Game, error) {
	var out []Game
	if err := c.do(ctx, http.MethodGet, "/games", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Game fetches one catalog entry.
func (c *Client) Game(ctx context.Context, source, appID string) (*Game, error) {
	var out Game
	p := "/games/" + url.PathEscape(source) + "/" + url.PathEscape(appID)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup finds a game by executable name or install path.
func (c *Client) Lookup(ctx context.Context, q LookupQuery) (*Game, error) {
	v := url.Values{}
	if q.Executable != "" {
		v.Set("executable", q.Executable)
	}
	if q.Path != "" {
		v.Set("path", q.Path)
	}
	var out Game
	if err := c.do(ctx, http.MethodGet, "/games/lookup?"+v.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutGame merges g into the catalog and returns its id.
func (c *Client) PutGame(ctx context.Context, g Game) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPut, "/games", g, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// Scan triggers a catalog scan on the daemon.
func (c *Client) Scan(ctx context.Context) (*ScanResult, error) {
	var out ScanResult
	if err := c.do(ctx, http.MethodPost, "/scan", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token and uses it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	var out Token
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = out.Value
	c.mu.Unlock()
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	apiErr.Code = errorResp.Error
	apiErr.Message = errorResp.Message
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return apiErr
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

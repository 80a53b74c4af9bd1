// Package assistant talks to the external assistant engine. The engine owns
// reasoning, tool execution, and response generation; this gateway only
// forwards user input and stores what comes back.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"edgechat/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// Client sends one user message and returns the assistant records produced
// for that turn. The backend may split a single logical turn into several
// physical records (typically thinking + tool calls first, final content
// second) and may re-deliver duplicated content; records come back exactly
// as delivered and the display layer repairs them.
type Client interface {
	Name() string
	Chat(ctx context.Context, sessionID, content string) ([]domain.Message, error)
	Healthy(ctx context.Context) error
}

// HTTPClient implements Client against the assistant backend's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:9200"
	}
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  sharedHTTPClient(cfg.Timeout),
		logger:  lgr,
	}
}

// sharedHTTPClient returns an HTTP client with connection pooling tuned for
// long assistant calls.
func sharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func (c *HTTPClient) Name() string { return "http" }

type chatRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

type chatResponse struct {
	Messages []domain.Message `json:"messages"`
	Error    string           `json:"error,omitempty"`
}

func (c *HTTPClient) Chat(ctx context.Context, sessionID, content string) ([]domain.Message, error) {
	body, err := json.Marshal(chatRequest{SessionID: sessionID, Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant backend not reachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read assistant response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assistant backend returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse assistant response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("assistant error: %s", parsed.Error)
	}

	c.logger.Debug("assistant call completed",
		"session", sessionID,
		"records", len(parsed.Messages),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return parsed.Messages, nil
}

func (c *HTTPClient) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("assistant backend not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("assistant backend returned %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package recipeservice is the HTTP client for the recipe service backend.
// It implements assistant.Provider through POST /v1/chat and serves the
// remote synthesis credential through GET /v1/eleven-labs.
package recipeservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/sous/pkg/provider"
	"github.com/MrWong99/sous/pkg/provider/assistant"
)

const (
	chatPath       = "/v1/chat"
	credentialPath = "/v1/eleven-labs"
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 20
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithToken sends token as a bearer Authorization header on every request.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

// Client talks to the recipe service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ assistant.Provider = (*Client)(nil)

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("recipeservice: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// chatMessage is the request body of POST /v1/chat.
type chatMessage struct {
	Content string `json:"content"`
}

// chatReply is the response body of POST /v1/chat. An empty content string
// is a valid reply; a missing one is not.
type chatReply struct {
	Content *string `json:"content"`
}

// Reply implements assistant.Provider.
func (c *Client) Reply(ctx context.Context, content string) (string, error) {
	data, err := json.Marshal(chatMessage{Content: content})
	if err != nil {
		return "", fmt.Errorf("recipeservice: encode chat: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, chatPath, data)
	if err != nil {
		return "", err
	}
	var reply chatReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("recipeservice: decode chat reply: %w: %w", provider.ErrDecode, err)
	}
	if reply.Content == nil {
		return "", fmt.Errorf("recipeservice: chat reply has no content: %w", provider.ErrDecode)
	}
	return *reply.Content, nil
}

// ElevenLabsKey fetches the remote synthesis credential. The endpoint returns
// the key as plain text; surrounding whitespace and quotes are stripped.
func (c *Client) ElevenLabsKey(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, credentialPath, nil)
	if err != nil {
		return "", err
	}
	key := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if key == "" {
		return "", fmt.Errorf("recipeservice: empty credential: %w", provider.ErrDecode)
	}
	return key, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("recipeservice: build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recipeservice: %s %s: %w: %w", method, path, provider.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("recipeservice: read %s: %w: %w", path, provider.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("recipeservice: %s %s: %w: status %d", method, path, provider.ErrNetwork, resp.StatusCode)
	}
	return body, nil
}

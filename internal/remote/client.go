// Package remote is the HTTP transport the sync engine uses to reach the
// server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tokoku/internal/domain"
)

var (
	ErrTransport    = errors.New("sync transport error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("batch rejected")
)

const maxResponseBytes = 32 << 20

// tokenSkew renews the access token slightly before it expires.
const tokenSkew = 30 * time.Second

type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New returns a client for baseURL. It logs in lazily on the first call and
// again whenever the token expires or the server answers 401.
func New(baseURL string, username string, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     httpClient,
		now:      time.Now,
	}
}

// Probe reports whether the server answers its health check.
func (c *Client) Probe(ctx context.Context) error {
	status, body, err := c.send(ctx, http.MethodGet, "/healthz", nil, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	return nil
}

func (c *Client) Login(ctx context.Context) error {
	status, body, err := c.send(ctx, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Username: c.username,
		Password: c.password,
	}, "")
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(body))
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}

	var resp domain.LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: decode login response: %v", ErrTransport, err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("%w: login response has no access token", ErrTransport)
	}
	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		expiresAt = time.Time{}
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.expiresAt = expiresAt
	c.mu.Unlock()
	return nil
}

func (c *Client) Push(ctx context.Context, items []domain.QueueItem) (domain.PushResponse, error) {
	status, body, err := c.authorized(ctx, http.MethodPost, "/api/v1/sync/push", domain.PushRequest{Items: items})
	if err != nil {
		return domain.PushResponse{}, err
	}
	if status != http.StatusOK {
		return domain.PushResponse{}, statusError(status, body)
	}

	var resp domain.PushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PushResponse{}, fmt.Errorf("%w: decode push response: %v", ErrTransport, err)
	}
	return resp, nil
}

type applyResponse struct {
	Error        string               `json:"error"`
	AppliedIDs   []string             `json:"applied_ids"`
	Failed       []domain.PushFailure `json:"failed"`
	Placeholders []domain.Store       `json:"placeholders"`
	ServerTime   int64                `json:"server_time"`
}

// ApplyAll submits items as one batch. When the server rejects the batch the
// returned response still carries the per-item failures.
func (c *Client) ApplyAll(ctx context.Context, items []domain.QueueItem) (domain.PushResponse, error) {
	status, body, err := c.authorized(ctx, http.MethodPost, "/api/v1/sync/apply", domain.PushRequest{Items: items})
	if err != nil {
		return domain.PushResponse{}, err
	}

	switch status {
	case http.StatusOK, http.StatusUnprocessableEntity:
	default:
		return domain.PushResponse{}, statusError(status, body)
	}

	var decoded applyResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.PushResponse{}, fmt.Errorf("%w: decode apply response: %v", ErrTransport, err)
	}
	resp := domain.PushResponse{
		AppliedIDs:   decoded.AppliedIDs,
		Failed:       decoded.Failed,
		Placeholders: decoded.Placeholders,
		ServerTime:   decoded.ServerTime,
	}
	if status == http.StatusUnprocessableEntity {
		return resp, fmt.Errorf("%w: %s", ErrRejected, decoded.Error)
	}

	resp.AppliedIDs = make([]string, len(items))
	for i, item := range items {
		resp.AppliedIDs[i] = item.ID
	}
	return resp, nil
}

func (c *Client) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	status, body, err := c.authorized(ctx, http.MethodGet, "/api/v1/sync/snapshot", nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if status != http.StatusOK {
		return domain.Snapshot{}, statusError(status, body)
	}
	return decodeSnapshot(body)
}

// authorized sends an authenticated request, logging in first when needed.
// A 401 drops the token and retries once with a fresh login.
func (c *Client) authorized(ctx context.Context, method string, path string, payload any) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		status, body, err := c.send(ctx, method, path, payload, token)
		if err != nil {
			return 0, nil, err
		}
		if status != http.StatusUnauthorized {
			return status, body, nil
		}

		c.mu.Lock()
		if c.token == token {
			c.token = ""
		}
		c.mu.Unlock()
		if attempt > 0 {
			return status, body, fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(body))
		}
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.Unlock()
	if token != "" && (expiresAt.IsZero() || c.now().Add(tokenSkew).Before(expiresAt)) {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *Client) send(ctx context.Context, method string, path string, payload any, token string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s response: %w", ErrTransport, path, err)
	}
	return res.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	return fmt.Errorf("%w: status %d: %s", ErrTransport, status, errorMessage(body))
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return "empty response"
	}
	return msg
}

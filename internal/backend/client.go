package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint paths relative to Config.BaseURL.
const (
	PathListNotifications  = "/api/notification/get-notifications"
	PathReadAll            = "/api/notification/read-all"
	PathUnreadCount        = "/api/notification/unread-count"
	PathSavePushIdentity   = "/api/notification/save-fcm-token"
	PathRemovePushIdentity = "/api/notification/remove-fcm-token"
)

// Config configures the REST client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec int // outbound requests per second; 0 means unlimited
}

// TokenSource returns the current bearer token ("" when signed out).
type TokenSource func() string

// Response is what an Inspector sees for every completed request.
type Response struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	// SuppressAlert is set for calls made during user-initiated flows (logout, account delete).
	SuppressAlert bool
}

// Inspector is called after every response. It must not block for long.
type Inspector func(ctx context.Context, resp Response)

// Client is the learning backend API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	limiter    *rate.Limiter

	mu      sync.RWMutex
	inspect Inspector
}

// New creates a new API client.
func New(cfg Config, token TokenSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
		limiter:    lim,
	}
}

// SetInspector installs the response hook used for auth-failure detection.
func (c *Client) SetInspector(fn Inspector) {
	c.mu.Lock()
	c.inspect = fn
	c.mu.Unlock()
}

type ctxKey int

const suppressKey ctxKey = iota

// SuppressAuthAlert marks requests made with ctx so an auth failure does not
// surface the "session expired" alert.
func SuppressAuthAlert(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey, true)
}

func alertSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey).(bool)
	return v
}

// ListNotifications fetches one page of the user's notifications.
func (c *Client) ListNotifications(ctx context.Context, page, limit int) (*NotificationPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	var raw json.RawMessage
	if err := c.get(ctx, PathListNotifications+"?"+params.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("backend.ListNotifications: %w", err)
	}
	var p NotificationPage
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &p.Notifications); err != nil {
			return nil, fmt.Errorf("backend.ListNotifications: decode: %w", err)
		}
		p.Page, p.Total = page, len(p.Notifications)
		return &p, nil
	}
	if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("backend.ListNotifications: decode: %w", err)
		}
	}
	return &p, nil
}

// MarkAllRead marks every notification read server-side.
func (c *Client) MarkAllRead(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodPatch, PathReadAll, nil, nil, true, c.token()); err != nil {
		return fmt.Errorf("backend.MarkAllRead: %w", err)
	}
	return nil
}

// UnreadCount returns the server-side unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, PathUnreadCount, &out); err != nil {
		return 0, fmt.Errorf("backend.UnreadCount: %w", err)
	}
	return out.Count, nil
}

// RegisterPushIdentity stores this device's push token server-side.
func (c *Client) RegisterPushIdentity(ctx context.Context, id PushIdentity) error {
	if err := c.doRequest(ctx, http.MethodPost, PathSavePushIdentity, id, nil, true, c.token()); err != nil {
		return fmt.Errorf("backend.RegisterPushIdentity: %w", err)
	}
	return nil
}

// DeregisterPushIdentity removes this device's push token. token is sent as the
// bearer credential; "" sends no Authorization header. A 404 counts as success.
// Responses are not passed to the Inspector since this runs during invalidation.
func (c *Client) DeregisterPushIdentity(ctx context.Context, id PushIdentity, token string) error {
	err := c.doRequest(ctx, http.MethodPost, PathRemovePushIdentity, id, nil, false, token)
	if err != nil && !IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("backend.DeregisterPushIdentity: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out, true, c.token())
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any, inspect bool, token string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if inspect {
		c.mu.RLock()
		fn := c.inspect
		c.mu.RUnlock()
		if fn != nil {
			fn(ctx, Response{
				Method:        method,
				Path:          path,
				StatusCode:    resp.StatusCode,
				Body:          respBody,
				SuppressAlert: alertSuppressed(ctx),
			})
		}
	}

	if resp.StatusCode >= 400 {
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var env envelope
		if json.Unmarshal(respBody, &env) == nil {
			if msg := firstNonEmpty(env.Message, env.Error); msg != "" {
				return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
			}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if readErr != nil {
		return fmt.Errorf("read response: %w", readErr)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	payload := bytes.TrimSpace(respBody)
	if payload[0] == '{' {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if env.Success != nil && !*env.Success {
			return errors.New(firstNonEmpty(env.Message, env.Error, "request not successful"))
		}
		if len(env.Data) > 0 {
			payload = env.Data
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthorized is returned when a request was rejected with 401 and the
// token refresh failed. Stored credentials have been cleared at that point.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// TokenStore holds the bearer credentials. It is read on every request.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	// SetTokens stores a new token pair. An empty refresh keeps the stored one.
	SetTokens(access, refresh string) error
	Clear() error
}

// Client provides REST API access to the SecureChat server.
type Client struct {
	baseURL       string
	tokens        TokenStore
	httpClient    *http.Client
	onAuthFailure func()
}

// NewClient creates a new REST API client.
// baseURL is the server root, e.g. "http://localhost:8000"; paths start with /api.
func NewClient(baseURL string, tokens TokenStore) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// OnAuthFailure registers a hook run after a failed token refresh, once the
// credentials have been cleared.
func (c *Client) OnAuthFailure(fn func()) { c.onAuthFailure = fn }

// Authentication endpoints

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	var resp TokenPair
	if err := c.post(ctx, "/api/login/", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates a new account and returns its first token pair.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*TokenPair, error) {
	var resp TokenPair
	if err := c.post(ctx, "/api/register/", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout asks the server to blacklist the refresh token.
func (c *Client) Logout(ctx context.Context, refresh string) error {
	return c.post(ctx, "/api/logout/", logoutRequest{Refresh: refresh}, nil, true)
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var resp User
	if err := c.get(ctx, "/api/profile/", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchUsers finds users by username or email fragment.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var resp []User
	if err := c.get(ctx, "/api/users/search/?search="+url.QueryEscape(query), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Room management endpoints

// ListRooms returns the rooms the user participates in.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var resp []Room
	if err := c.get(ctx, "/api/chat/rooms/", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateRoom creates a room with the caller as its first participant.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*Room, error) {
	var resp Room
	if err := c.post(ctx, "/api/chat/rooms/", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRoom returns one room with its participants.
func (c *Client) GetRoom(ctx context.Context, id ID) (*Room, error) {
	var resp Room
	if err := c.get(ctx, fmt.Sprintf("/api/chat/rooms/%d/", id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinRoom adds the caller to a room's participants.
func (c *Client) JoinRoom(ctx context.Context, id ID) (*Room, error) {
	var resp Room
	if err := c.post(ctx, fmt.Sprintf("/api/chat/rooms/%d/join/", id), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartDirectChat returns the one-to-one room with another user, creating it if needed.
func (c *Client) StartDirectChat(ctx context.Context, userID ID) (*Room, error) {
	var resp Room
	if err := c.post(ctx, "/api/chat/dm/", DirectChatRequest{UserID: userID}, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message history endpoints

// ListMessages returns the full history of a room in ascending timestamp order.
func (c *Client) ListMessages(ctx context.Context, roomID ID) ([]Message, error) {
	var resp []Message
	if err := c.get(ctx, fmt.Sprintf("/api/chat/rooms/%d/messages/", roomID), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PostMessage stores a message through REST. Used when the channel is down.
func (c *Client) PostMessage(ctx context.Context, roomID ID, content string) (*Message, error) {
	var resp Message
	path := fmt.Sprintf("/api/chat/rooms/%d/messages/", roomID)
	if err := c.post(ctx, path, PostMessageRequest{Room: roomID, Content: content}, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, data, dest, requireAuth, false)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest, true, false)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, requireAuth bool) (*http.Request, error) {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// do sends the request. A 401 on an authenticated request triggers one
// refresh-and-retry; retried guards against refresh loops.
func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any, requireAuth, retried bool) error {
	req, err := c.newRequest(ctx, method, path, body, requireAuth)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && requireAuth && !retried {
		if err := c.refresh(ctx); err != nil {
			c.authFailed()
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return c.do(ctx, method, path, body, dest, requireAuth, true)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: decodeErrorMessage(respBody)}
	}

	if dest != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) refresh(ctx context.Context) error {
	if c.tokens == nil {
		return errors.New("no token store")
	}
	rt := c.tokens.RefreshToken()
	if rt == "" {
		return errors.New("no refresh token")
	}
	data, err := json.Marshal(refreshRequest{Refresh: rt})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var resp refreshResponse
	if err := c.do(ctx, http.MethodPost, "/api/login/refresh/", data, &resp, false, true); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if resp.Access == "" {
		return errors.New("refresh token: empty access token")
	}
	return c.tokens.SetTokens(resp.Access, resp.Refresh)
}

func (c *Client) authFailed() {
	if c.tokens != nil {
		_ = c.tokens.Clear()
	}
	if c.onAuthFailure != nil {
		c.onAuthFailure()
	}
}

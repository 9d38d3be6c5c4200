// Package client is a Go client for the session API. Authenticated calls go
// through a Coordinator so an expired access token is refreshed once no matter
// how many requests observe it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	refreshCookie      = "refresh_token"
	refreshProofHeader = "X-Refresh-Token"
)

// User is the public profile returned by the API.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Session is the body of register and login responses.
type Session struct {
	User        User      `json:"user"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type meResponse struct {
	User User `json:"user"`
}

// Client is the session API client. The refresh token lives in the cookie jar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	coord      *Coordinator
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient   *http.Client
	onTerminated func(error)
}

// WithHTTPClient uses hc instead of a default client. A cookie jar is added
// when hc has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithSessionTerminated registers fn to run when a refresh fails.
func WithSessionTerminated(fn func(error)) Option {
	return func(o *clientOptions) { o.onTerminated = fn }
}

// New creates a new API client.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: hc,
	}
	var copts []CoordinatorOption
	if o.onTerminated != nil {
		copts = append(copts, OnSessionTerminated(o.onTerminated))
	}
	c.coord = NewCoordinator(hc, RefresherFunc(c.refresh), copts...)
	return c, nil
}

// Coordinator exposes the refresh coordinator, e.g. to inspect its token.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// Register creates an account and installs the returned access token.
func (c *Client) Register(ctx context.Context, email, password, name string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/auth/register", registerRequest{Email: email, Password: password, Name: name}, &sess, nil, false); err != nil {
		return nil, err
	}
	c.coord.SetToken(sess.AccessToken)
	return &sess, nil
}

// Login authenticates and installs the returned access token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &sess, nil, false); err != nil {
		return nil, err
	}
	c.coord.SetToken(sess.AccessToken)
	return &sess, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp meResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &resp, nil, true); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Logout ends the session. With everywhere set the refresh cookie is sent as
// proof so the server revokes every refresh record of the user.
func (c *Client) Logout(ctx context.Context, everywhere bool) error {
	var headers http.Header
	if everywhere {
		if proof := c.refreshToken(); proof != "" {
			headers = http.Header{refreshProofHeader: []string{proof}}
		}
	}
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, headers, true)
	c.coord.Clear()
	return err
}

// refresh presents the refresh cookie and returns the new access token.
func (c *Client) refresh(ctx context.Context) (string, error) {
	var resp refreshResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &resp, nil, false); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

func (c *Client) refreshToken() string {
	u, err := url.Parse(c.baseURL + "/auth/logout")
	if err != nil || c.httpClient.Jar == nil {
		return ""
	}
	for _, ck := range c.httpClient.Jar.Cookies(u) {
		if ck.Name == refreshCookie {
			return ck.Value
		}
	}
	return ""
}

// do performs an HTTP request and decodes the response. Authenticated
// requests go through the coordinator.
func (c *Client) do(ctx context.Context, method, path string, body, result any, headers http.Header, authed bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header[k] = v
	}

	var resp *http.Response
	if authed {
		resp, err = c.coord.Do(req)
	} else {
		resp, err = c.httpClient.Do(req)
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

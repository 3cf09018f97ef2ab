// Package client holds the calling-side session helpers: a request wrapper
// that transparently refreshes an expired access token, and a resend
// governor mirroring the server's send-code cooldown.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotAuthenticated is returned when a request needs a refresh but no
// refresh token is held.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenPair is the client's view of a session
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Client wraps an http.Client with bearer-token handling. On a 401 it
// performs exactly one token refresh and retries the original request once;
// a second 401 is handed back to the caller unmodified. Concurrent requests
// racing on a 401 share a single in-flight refresh instead of triggering N
// parallel rotations.
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu     sync.RWMutex
	tokens TokenPair

	refreshGroup singleflight.Group
}

// New creates a session-aware client for the identity API at baseURL
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// SetTokens installs the token pair obtained from register or login
func (c *Client) SetTokens(t TokenPair) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// Tokens returns the current token pair
func (c *Client) Tokens() TokenPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// Do executes the request with the current access token attached. The
// request must be replayable: either without a body or with GetBody set
// (true for requests built via http.NewRequest with a byte reader).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	access := c.Tokens().AccessToken
	resp, err := c.send(req, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	refreshed, err := c.refreshShared(req.Context(), access)
	if err != nil {
		// Surface the original 401 when refresh cannot help
		if errors.Is(err, ErrNotAuthenticated) {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, err
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// Retry exactly once; a second 401 is returned as-is
	return c.send(req, refreshed)
}

// send issues a copy of the request carrying the given access token
func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		r.Body = body
	}
	if accessToken != "" {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return c.httpClient.Do(r)
}

// refreshShared coalesces concurrent refresh attempts into one network
// call. staleAccess is the token the caller saw rejected; when another
// goroutine already rotated the pair, the fresh token is returned without
// a second rotation.
func (c *Client) refreshShared(ctx context.Context, staleAccess string) (string, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		current := c.Tokens()
		if current.AccessToken != staleAccess && current.AccessToken != "" {
			// A concurrent caller already refreshed
			return current.AccessToken, nil
		}
		if current.RefreshToken == "" {
			return "", ErrNotAuthenticated
		}

		pair, err := c.refresh(ctx, current.RefreshToken)
		if err != nil {
			return "", err
		}
		c.SetTokens(pair)
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh calls POST /auth/refresh and returns the rotated pair
func (c *Client) refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return TokenPair{}, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return TokenPair{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, fmt.Errorf("refresh rejected with status %d: %w", resp.StatusCode, ErrNotAuthenticated)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return TokenPair{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if body.AccessToken == "" || body.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("refresh response missing tokens")
	}

	return TokenPair{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}, nil
}

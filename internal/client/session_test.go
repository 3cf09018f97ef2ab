package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend serves a protected endpoint and a refresh endpoint. Access
// tokens are compared against the current value; refresh rotates both.
type stubBackend struct {
	mu            sync.Mutex
	validAccess   string
	validRefresh  string
	refreshCalls  atomic.Int32
	protectedHits atomic.Int32
	failRefresh   bool
	generation    int
}

func newStubBackend(access, refresh string) *stubBackend {
	return &stubBackend{validAccess: access, validRefresh: refresh}
}

func (b *stubBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failRefresh || req.RefreshToken != b.validRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "refresh_token_invalid"})
			return
		}
		b.generation++
		b.validAccess = fmt.Sprintf("access-%d", b.generation)
		b.validRefresh = fmt.Sprintf("refresh-%d", b.generation)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  b.validAccess,
			"refresh_token": b.validRefresh,
		})
	})
	mux.HandleFunc("/bookings", func(w http.ResponseWriter, r *http.Request) {
		b.protectedHits.Add(1)
		b.mu.Lock()
		valid := "Bearer " + b.validAccess
		b.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": string(body)})
	})
	return mux
}

func newTestClient(t *testing.T, b *stubBackend) *Client {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client())
}

func TestDo_ValidTokenPassesThrough(t *testing.T) {
	b := newStubBackend("access-0", "refresh-0")
	c := newTestClient(t, b)
	c.SetTokens(TokenPair{AccessToken: "access-0", RefreshToken: "refresh-0"})

	req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/bookings", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), b.refreshCalls.Load(), "no refresh on a 200")
}

func TestDo_ExpiredTokenRefreshedAndRetriedOnce(t *testing.T) {
	b := newStubBackend("access-current", "refresh-0")
	c := newTestClient(t, b)
	c.SetTokens(TokenPair{AccessToken: "access-stale", RefreshToken: "refresh-0"})

	body := []byte(`{"tour_id":"t1"}`)
	req, _ := http.NewRequest(http.MethodPost, c.baseURL+"/bookings", bytes.NewReader(body))
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), b.refreshCalls.Load(), "exactly one refresh")
	assert.Equal(t, int32(2), b.protectedHits.Load(), "original try plus one retry")

	var echoed map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&echoed))
	assert.JSONEq(t, string(body), echoed["echo"], "request body must be replayed on retry")

	assert.Equal(t, "access-1", c.Tokens().AccessToken, "stored pair must be replaced")
	assert.Equal(t, "refresh-1", c.Tokens().RefreshToken)
}

func TestDo_SecondUnauthorizedSurfacedUnmodified(t *testing.T) {
	// Refresh succeeds but the backend keeps rejecting: the retry's 401
	// must be handed to the caller, not retried again.
	srvCalls := atomic.Int32{}
	refreshCalls := atomic.Int32{}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "access-new",
			"refresh_token": "refresh-new",
		})
	})
	mux.HandleFunc("/bookings", func(w http.ResponseWriter, r *http.Request) {
		srvCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client())
	c.SetTokens(TokenPair{AccessToken: "a", RefreshToken: "r"})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/bookings", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), refreshCalls.Load(), "no second refresh after the retry fails")
	assert.Equal(t, int32(2), srvCalls.Load())
}

func TestDo_NoRefreshTokenReturnsOriginal401(t *testing.T) {
	b := newStubBackend("access-current", "refresh-0")
	c := newTestClient(t, b)
	c.SetTokens(TokenPair{AccessToken: "access-stale"})

	req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/bookings", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), b.refreshCalls.Load(), "no refresh without a refresh token")
}

func TestDo_Concurrent401sShareOneRefresh(t *testing.T) {
	b := newStubBackend("access-current", "refresh-0")
	c := newTestClient(t, b)
	c.SetTokens(TokenPair{AccessToken: "access-stale", RefreshToken: "refresh-0"})

	const goroutines = 12
	var wg sync.WaitGroup
	statuses := make([]int, goroutines)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/bookings", nil)
			resp, err := c.Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	close(start)
	wg.Wait()

	for i, status := range statuses {
		assert.Equal(t, http.StatusOK, status, "request %d must succeed after the shared refresh", i)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load(),
		"concurrent 401s must coalesce into a single rotation")
}

func TestResendGovernor_AllowThenBlock(t *testing.T) {
	g := NewResendGovernor(90 * time.Second)

	ok, _ := g.Allow("+84912345678")
	require.True(t, ok)

	ok, remaining := g.Allow("+84912345678")
	assert.False(t, ok)
	assert.Greater(t, remaining.Seconds(), 0.0)

	ok, _ = g.Allow("+84987654321")
	assert.True(t, ok, "cooldown is per phone number")
}

func TestResendGovernor_SyncRemainingAdoptsServerView(t *testing.T) {
	g := NewResendGovernor(90 * time.Second)

	// Fresh client, server says 30s left from a previous session
	g.SyncRemaining("+84912345678", 30*time.Second)
	ok, remaining := g.Allow("+84912345678")
	assert.False(t, ok)
	assert.InDelta(t, 30.0, remaining.Seconds(), 1.0)
}

func TestResendGovernor_ClearUnblocks(t *testing.T) {
	g := NewResendGovernor(90 * time.Second)
	ok, _ := g.Allow("+84912345678")
	require.True(t, ok)

	g.Clear("+84912345678")
	ok, _ = g.Allow("+84912345678")
	assert.True(t, ok)
}

func TestMaskNothingLeaks(t *testing.T) {
	// The client never logs tokens; sanity-check the refresh error path
	// does not embed the refresh token value.
	b := newStubBackend("access-current", "refresh-0")
	b.failRefresh = true
	c := newTestClient(t, b)
	c.SetTokens(TokenPair{AccessToken: "stale", RefreshToken: "super-secret-refresh"})

	_, err := c.refresh(context.Background(), "super-secret-refresh")
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "super-secret-refresh"))
}

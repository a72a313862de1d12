package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
)

func testConfig() *bootstrap.Config {
	cfg, err := bootstrap.FromMap(map[string]interface{}{
		"instance_url":  "https://example.my.salesforce.com",
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"refresh_token": "refresh-tok",
	})
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestTokenExchange(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
		assert.Equal(t, "refresh-tok", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "fresh-token", "issued_at": "1700000000000"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	a := NewWithEndpoint(cfg, srv.URL)

	token, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1700000000000, cfg.IssuedAt)
}

func TestTokenReusedWhileFresh(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"access_token": "fresh-token"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AccessToken = "cached-token"
	cfg.IssuedAt = time.Now().UnixMilli()

	a := NewWithEndpoint(cfg, srv.URL)
	token, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
	assert.Equal(t, 0, calls)
}

func TestStaleTokenForcesExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": "fresh-token"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AccessToken = "stale-token"
	cfg.IssuedAt = time.Now().Add(-3 * time.Hour).UnixMilli()

	a := NewWithEndpoint(cfg, srv.URL)
	token, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
}

func TestExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	a := NewWithEndpoint(testConfig(), srv.URL)
	_, err := a.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.AccessToken = "cached-token"
	cfg.IssuedAt = time.Now().UnixMilli()

	a := New(cfg)
	headers, err := a.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer cached-token", headers["Authorization"])
}

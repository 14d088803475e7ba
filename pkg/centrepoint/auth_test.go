package centrepoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

func newTokenServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "test-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "test-secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
}

func testCreds(tokenURL string) models.Credentials {
	return models.Credentials{
		TokenURL:     tokenURL,
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		Scope:        "CentrePoint DataAccess",
	}
}

func TestSignAttachesBearerToken(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	auth := NewClientCredentialsAuth(testCreds(srv.URL), srv.Client(), zap.NewNop())

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, auth.Sign(context.Background(), req))

	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestTokenCachedAcrossRequests(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	auth := NewClientCredentialsAuth(testCreds(srv.URL), srv.Client(), zap.NewNop())

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
		require.NoError(t, auth.Sign(context.Background(), req))
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestConcurrentFirstUseIsSingleFlight(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	auth := NewClientCredentialsAuth(testCreds(srv.URL), srv.Client(), zap.NewNop())

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
			assert.NoError(t, auth.Sign(context.Background(), req))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestInvalidateForcesReauthentication(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	auth := NewClientCredentialsAuth(testCreds(srv.URL), srv.Client(), zap.NewNop())

	require.NoError(t, auth.EnsureToken(context.Background()))
	auth.Invalidate()
	require.NoError(t, auth.EnsureToken(context.Background()))

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestTokenEndpointRejectionIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	auth := NewClientCredentialsAuth(testCreds(srv.URL), srv.Client(), zap.NewNop())

	err := auth.EnsureToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuth))
	assert.False(t, errors.IsRetryable(err))
}

func TestEmptyAccessTokenIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	auth := NewClientCredentialsAuth(testCreds(srv.URL), srv.Client(), zap.NewNop())

	err := auth.EnsureToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuth))
}

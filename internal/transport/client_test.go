package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momo-gateway/internal/config"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/transport"
)

func newTestClient(maxRetries int) *transport.Client {
	return transport.NewClient(config.TransportConfig{
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    5 * time.Second,
		MaxRetries:     maxRetries,
		BaseBackoff:    time.Millisecond,
	}, logger.NewLogger())
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(3)
	resp, err := client.Execute(context.Background(), http.MethodGet, server.URL, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	client := newTestClient(3)
	resp, err := client.Execute(context.Background(), http.MethodPost, server.URL, nil, map[string]string{"a": "b"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "4xx responses must not be retried")
}

func TestExecuteExhaustedRetriesReturnsAPIError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"maintenance"}`))
	}))
	defer server.Close()

	client := newTestClient(2)
	resp, err := client.Execute(context.Background(), http.MethodGet, server.URL, nil, nil)

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	apiErr, ok := err.(*transport.APIError)
	require.True(t, ok, "expected *transport.APIError, got %T", err)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Payload, "maintenance")
}

func TestExecuteHonorsRetryAfter(t *testing.T) {
	var hits int32
	start := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(1)
	resp, err := client.Execute(context.Background(), http.MethodGet, server.URL, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(5)
	_, err := client.Execute(ctx, http.MethodGet, server.URL, nil, nil)
	require.Error(t, err)
}

package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestDoJSON_DecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 2, "test")

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, exec.DoJSON(context.Background(), newRequest(t, srv.URL), &out))
	assert.Equal(t, 42, out.Value)
}

func TestDoJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"value": 1}`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 2, "test")

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, exec.DoJSON(context.Background(), newRequest(t, srv.URL), &out))
	assert.Equal(t, int64(3), calls.Load())
}

func TestDoJSON_GivesUpAfterRetryMax(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 1, "test")

	err := exec.DoJSON(context.Background(), newRequest(t, srv.URL), nil)
	require.Error(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestDoJSON_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such page"))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 3, "test")

	err := exec.DoJSON(context.Background(), newRequest(t, srv.URL), nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
	assert.Equal(t, "no such page", statusErr.Body)
}

func TestDoJSON_UndecodableBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 0, "test")

	var out map[string]any
	assert.Error(t, exec.DoJSON(context.Background(), newRequest(t, srv.URL), &out))
}

func TestBackoff_Grows(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(0))
	assert.Equal(t, 250*time.Millisecond, Backoff(1))
	assert.Equal(t, 500*time.Millisecond, Backoff(2))
	assert.Equal(t, 500*time.Millisecond, Backoff(9))
}

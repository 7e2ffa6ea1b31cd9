package trigger_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/opsdash/pkg/opsdash/trigger"
)

func fastClient(t *testing.T, url string) *trigger.Client {
	t.Helper()
	c, err := trigger.NewClient(trigger.ClientConfig{
		URL:       url,
		Timeout:   5 * time.Second,
		RetryBase: time.Millisecond,
		RetryMax:  5 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestClient_SendsEvent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","message":"Event triggered","module":"anomaly_feed"}`))
	}))
	defer srv.Close()

	resp, err := fastClient(t, srv.URL).Send(context.Background(), "Anomaly Detected: x")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"event": "Anomaly Detected: x"}, got)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "anomaly_feed", resp.Module)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "retry me", body["event"], "body is replayed on retry")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	_, err := fastClient(t, srv.URL).Send(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fastClient(t, srv.URL).Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(4), calls.Load(), "first attempt plus three retries")
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"Invalid event data"}`))
	}))
	defer srv.Close()

	resp, err := fastClient(t, srv.URL).Send(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, "Invalid event data", resp.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RequiresURL(t *testing.T) {
	_, err := trigger.NewClient(trigger.ClientConfig{}, nil)
	assert.Error(t, err)
}

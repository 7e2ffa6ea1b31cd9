package httpapi_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vpbank/opsdash/pkg/opsdash/httpapi"
)

// openStream connects to path and returns a reader over the body lines.
func openStream(t *testing.T, ctx context.Context, url string) (*http.Response, *bufio.Scanner) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewScanner(resp.Body)
}

// nextLine returns the next non-empty body line, failing after a deadline.
func nextLine(t *testing.T, sc *bufio.Scanner) string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		for sc.Scan() {
			if l := sc.Text(); l != "" {
				got <- l
				return
			}
		}
		close(got)
	}()
	select {
	case l, ok := <-got:
		require.True(t, ok, "stream ended")
		return l
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream line")
		return ""
	}
}

func TestStream_ReplaysThenFollows(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, nil)
	srv := httptest.NewServer(h.srv.Handler())
	defer srv.Close()
	defer http.DefaultClient.CloseIdleConnections()

	m := h.module(t, "cpu_load")
	first := "[2026-03-04 05:06:07] Normal - Load: 12.0% - Stable"
	m.Publish(first)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, sc := openStream(t, ctx, srv.URL+"/cpu_load_stream")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	assert.Equal(t, "data: "+first, nextLine(t, sc))

	second := "[2026-03-04 05:06:17] High - Load: 95.0% - Scale out"
	m.Publish(second)
	assert.Equal(t, "data: "+second, nextLine(t, sc))

	m.Publish("a\nb")
	assert.Equal(t, "data: a", nextLine(t, sc))
	assert.Equal(t, "data: b", nextLine(t, sc))

	cancel()
	resp.Body.Close()
}

func TestStream_TriggerIsNextItem(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.srv.Handler())
	defer srv.Close()
	defer http.DefaultClient.CloseIdleConnections()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, sc := openStream(t, ctx, srv.URL+"/trigger_events_stream")

	resp, err := http.Post(srv.URL+"/trigger", "application/json", strings.NewReader(`{"event":"Disk full"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "data: [2026-03-04 05:06:07] Trigger: Disk full", nextLine(t, sc))
}

func TestStream_CarriageReturnsCannotAddFields(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.srv.Handler())
	defer srv.Close()
	defer http.DefaultClient.CloseIdleConnections()

	// A line carrying raw CRs, as published by something other than the
	// dispatcher, still frames every piece as data.
	h.module(t, "cpu_load").Publish("x\revent: hijack\r\ndata: forged")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/cpu_load_stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	want := "data: x\ndata: event: hijack\ndata: data: forged\n\n"
	var buf []byte
	chunk := make([]byte, 256)
	for len(buf) < len(want) {
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	assert.Equal(t, want, string(buf))
}

func TestStream_TriggerWithCarriageReturns(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.srv.Handler())
	defer srv.Close()
	defer http.DefaultClient.CloseIdleConnections()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, sc := openStream(t, ctx, srv.URL+"/trigger_events_stream")

	resp, err := http.Post(srv.URL+"/trigger", "application/json",
		strings.NewReader(`{"event":"Disk full\revent: hijack\rdata: forged"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "data: [2026-03-04 05:06:07] Trigger: Disk full", nextLine(t, sc))
	assert.Equal(t, "data: event: hijack", nextLine(t, sc))
	assert.Equal(t, "data: data: forged", nextLine(t, sc))
}

func TestStream_Heartbeat(t *testing.T) {
	h := newHarness(t, func(c *httpapi.Config) {
		c.Heartbeat = 30 * time.Millisecond
	})
	srv := httptest.NewServer(h.srv.Handler())
	defer srv.Close()
	defer http.DefaultClient.CloseIdleConnections()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, sc := openStream(t, ctx, srv.URL+"/cpu_load_stream")
	assert.True(t, strings.HasPrefix(nextLine(t, sc), "data: CPU: idle at "))

	_, sc = openStream(t, ctx, srv.URL+"/trigger_events_stream")
	assert.Equal(t, ": ping", nextLine(t, sc))
}

func TestStream_CloseStreamsEndsResponses(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.srv.Handler())
	defer srv.Close()
	defer http.DefaultClient.CloseIdleConnections()

	h.module(t, "cpu_load").Publish("x")
	_, sc := openStream(t, context.Background(), srv.URL+"/cpu_load_stream")
	require.Equal(t, "data: x", nextLine(t, sc))

	h.srv.CloseStreams()

	ended := make(chan struct{})
	go func() {
		for sc.Scan() {
		}
		close(ended)
	}()
	select {
	case <-ended:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after CloseStreams")
	}
}

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(retries int) Config {
	return Config{
		Timeout:         5 * time.Second,
		MaxRetries:      retries,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 10,
	}
}

func send(t *testing.T, c *Client, ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	require.NoError(t, err)
	return c.Do(ctx, req)
}

// countingServer answers with statuses in order, repeating the last one.
func countingServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		w.WriteHeader(statuses[min(n, len(statuses)-1)])
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryWaitMin)
	assert.Equal(t, 2*time.Second, cfg.RetryWaitMax)
	assert.Equal(t, "storefront", cfg.UserAgent)
}

func TestDo_SetsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.UserAgent()))
	}))
	defer srv.Close()

	cfg := fastRetryConfig(0)
	cfg.UserAgent = "storefront-test"
	resp, err := send(t, New(cfg), context.Background(), http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "storefront-test", string(body))
}

func TestDo_PostSentOnceEvenOn5xx(t *testing.T) {
	srv, hits := countingServer(t, http.StatusBadGateway)

	resp, err := send(t, New(fastRetryConfig(3)), context.Background(),
		http.MethodPost, srv.URL, strings.NewReader(`{"username":"ash"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDo_RetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		retries  int
		want     int
		hits     int32
	}{
		{"recovers after 503s", []int{503, 503, 200}, 3, 200, 3},
		{"retries 429", []int{429, 200}, 3, 200, 2},
		{"gives up with last answer", []int{502}, 2, 502, 3},
		{"501 is final", []int{501}, 3, 501, 1},
		{"404 is final", []int{404}, 3, 404, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := countingServer(t, tt.statuses...)

			resp, err := send(t, New(fastRetryConfig(tt.retries)), context.Background(), http.MethodGet, srv.URL, http.NoBody)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.hits, hits.Load())
		})
	}
}

func TestDo_RetryReplaysBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"price":20}`, string(body))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := send(t, New(fastRetryConfig(2)), context.Background(),
		http.MethodPut, srv.URL, bytes.NewReader([]byte(`{"price":20}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDo_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := send(t, New(fastRetryConfig(3)), ctx, http.MethodGet, srv.URL, http.NoBody)
	require.Error(t, err)
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Zero(t, retryAfter(resp, time.Second))

	resp.Header.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Zero(t, retryAfter(resp, time.Second))

	resp.Header.Set("Retry-After", "1")
	assert.Equal(t, time.Second, retryAfter(resp, 5*time.Second))

	resp.Header.Set("Retry-After", "120")
	assert.Equal(t, 5*time.Second, retryAfter(resp, 5*time.Second))
}

func TestBackoff_Capped(t *testing.T) {
	c := New(Config{RetryWaitMin: 100 * time.Millisecond, RetryWaitMax: 300 * time.Millisecond})

	assert.LessOrEqual(t, c.backoff(0), 125*time.Millisecond)
	for attempt := 2; attempt < 40; attempt++ {
		d := c.backoff(attempt)
		assert.GreaterOrEqual(t, d, 225*time.Millisecond)
		assert.LessOrEqual(t, d, 375*time.Millisecond)
	}
}

func TestTransient(t *testing.T) {
	assert.False(t, transient(nil))
	assert.False(t, transient(context.Canceled))
	assert.False(t, transient(errors.New("plain")))
	assert.True(t, transient(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
}

func TestIdempotent(t *testing.T) {
	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead} {
		assert.True(t, idempotent(m), m)
	}
	for _, m := range []string{http.MethodPost, http.MethodPatch} {
		assert.False(t, idempotent(m), m)
	}
}

func TestAddJitter(t *testing.T) {
	for range 1000 {
		d := addJitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), addJitter(0))
	assert.Equal(t, time.Duration(1), addJitter(1))
}

package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
)

func newTestFetcher(opts Options) *ContentFetcher {
	return New(nil, opts, logging.Discard())
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	f := newTestFetcher(Options{})
	resp, err := f.Fetch(context.Background(), server.URL, http.Header{"Referer": []string{"https://portal.example/"}})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, got.Get("User-Agent"), "Chrome")
	assert.Equal(t, "pt-BR,pt;q=0.9,en;q=0.8", got.Get("Accept-Language"))
	assert.Equal(t, "1", got.Get("DNT"))
	assert.Equal(t, "https://portal.example/", got.Get("Referer"))
}

func TestFetchRetriesNon2xx(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher(Options{MaxRetries: 3, BackoffBase: time.Millisecond})
	resp, err := f.Fetch(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := newTestFetcher(Options{MaxRetries: 3, BackoffBase: time.Millisecond})
	_, err := f.Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)

	var netErr *domain.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 3, netErr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchRetryWaitCeiling(t *testing.T) {
	t.Parallel()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	// backoffs 50ms, 50ms (clipped from 100ms), then the 100ms budget is spent
	f := newTestFetcher(Options{MaxRetries: 10, BackoffBase: 50 * time.Millisecond, MaxRetryWait: 100 * time.Millisecond})
	_, err := f.Fetch(context.Background(), server.URL, nil)

	var netErr *domain.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 3, netErr.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchRateLimitMeasuredBetweenRequests(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher(Options{Delay: time.Second})
	ctx := context.Background()

	_, err := f.Fetch(ctx, server.URL+"/a", nil)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, server.URL+"/b", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 2)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), time.Second)
}

func TestFetchHonorsContextDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := newTestFetcher(Options{MaxRetries: 3, BackoffBase: 10 * time.Second})
	start := time.Now()
	_, err := f.Fetch(ctx, server.URL, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	var privateHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/private/doc.pdf", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&privateHits, 1)
	})
	mux.HandleFunc("/public", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("public"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newTestFetcher(Options{RespectRobots: true})

	_, err := f.Fetch(context.Background(), server.URL+"/private/doc.pdf", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRobotsDisallowed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&privateHits))

	resp, err := f.Fetch(context.Background(), server.URL+"/public", nil)
	require.NoError(t, err)
	assert.Equal(t, "public", resp.Text())
}

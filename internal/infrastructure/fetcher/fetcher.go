package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options tune the politeness policy of a ContentFetcher.
type Options struct {
	// Delay is the minimum gap between the end of one request and the start of the next.
	Delay        time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	MaxRetryWait time.Duration
	UserAgent    string
	// RespectRobots enables a robots.txt check per host.
	RespectRobots bool
}

// ContentFetcher is a shared HTTP session with rate limiting and retry/backoff.
type ContentFetcher struct {
	client  *http.Client
	opts    Options
	headers http.Header
	logger  arbor.ILogger
	robots  *robotsPolicy

	mu          sync.Mutex
	lastRequest time.Time
}

var _ ports.Fetcher = (*ContentFetcher)(nil)

// New wires an HTTP client; a nil client gets a 30s timeout client.
func New(client *http.Client, opts Options, logger arbor.ILogger) *ContentFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = logging.Discard()
	}

	f := &ContentFetcher{
		client:  client,
		opts:    opts,
		headers: defaultHeaders(opts.UserAgent),
		logger:  logger,
	}
	if opts.RespectRobots {
		f.robots = newRobotsPolicy(f)
	}
	return f
}

func defaultHeaders(userAgent string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// Fetch retrieves url, retrying failures and non-2xx statuses with exponential backoff.
// Once attempts or the retry wait budget are exhausted a *domain.NetworkError is returned.
func (f *ContentFetcher) Fetch(ctx context.Context, url string, headers http.Header) (*domain.Response, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, url)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", url, domain.ErrRobotsDisallowed)
		}
	}

	var (
		lastErr    error
		lastStatus int
		attempts   int
		waited     time.Duration
	)

	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		attempts++
		resp, err := f.roundTrip(ctx, url, headers)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		lastStatus = 0
		if err == nil {
			lastStatus = resp.StatusCode
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		f.logger.Warn().
			Str("url", url).
			Int("attempt", attempts).
			Int("max_attempts", f.opts.MaxRetries).
			Err(err).
			Msg("fetch attempt failed")

		if attempt == f.opts.MaxRetries-1 {
			break
		}

		backoff := f.opts.BackoffBase * time.Duration(1<<attempt)
		if f.opts.MaxRetryWait > 0 {
			remaining := f.opts.MaxRetryWait - waited
			if remaining <= 0 {
				f.logger.Warn().Str("url", url).Dur("waited", waited).Msg("retry wait budget exhausted")
				break
			}
			if backoff > remaining {
				backoff = remaining
			}
		}

		if err := sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		waited += backoff
	}

	return nil, &domain.NetworkError{URL: url, Attempts: attempts, StatusCode: lastStatus, Err: lastErr}
}

// roundTrip issues a single request under the rate limit. Non-2xx responses are returned, not failed.
func (f *ContentFetcher) roundTrip(ctx context.Context, url string, headers http.Header) (*domain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.lastRequest.IsZero() {
		if wait := f.opts.Delay - time.Since(f.lastRequest); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	defer func() { f.lastRequest = time.Now() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range f.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	for key, values := range headers {
		req.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &domain.Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsPolicy caches robots.txt rules per host.
type robotsPolicy struct {
	fetcher *ContentFetcher

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

func newRobotsPolicy(f *ContentFetcher) *robotsPolicy {
	return &robotsPolicy{fetcher: f, hosts: map[string]*robotstxt.RobotsData{}}
}

// Allowed reports whether the configured user agent may fetch rawURL.
// Unreachable or failing robots.txt files allow everything.
func (p *robotsPolicy) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	if u.Path == "/robots.txt" {
		return true, nil
	}

	data, err := p.rules(ctx, u)
	if err != nil {
		return false, err
	}
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, p.fetcher.opts.UserAgent), nil
}

func (p *robotsPolicy) rules(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if data, ok := p.hosts[u.Host]; ok {
		return data, nil
	}

	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	resp, err := p.fetcher.roundTrip(ctx, robotsURL, nil)
	if err != nil || resp.StatusCode >= 500 {
		p.fetcher.logger.Debug().Str("url", robotsURL).Msg("robots.txt unavailable, allowing all")
		p.hosts[u.Host] = nil
		return nil, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		p.fetcher.logger.Debug().Str("url", robotsURL).Err(err).Msg("robots.txt unparsable, allowing all")
		p.hosts[u.Host] = nil
		return nil, nil
	}
	p.hosts[u.Host] = data
	return data, nil
}

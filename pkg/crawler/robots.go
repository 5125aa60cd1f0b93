package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"docharvest/pkg/logger"

	"github.com/temoto/robotstxt"
)

const maxRobotsSize = 512 * 1024

// RobotsPolicy caches robots.txt per scheme and host. Anything that goes
// wrong while fetching or parsing robots.txt allows every path.
type RobotsPolicy struct {
	client    *http.Client
	userAgent string
	logger    logger.Logger

	mu    sync.Mutex
	cache map[string]*robotstxt.Group
}

// NewRobotsPolicy creates a policy fetching robots.txt with client.
func NewRobotsPolicy(client *http.Client, userAgent string, log logger.Logger) *RobotsPolicy {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsPolicy{
		client:    client,
		userAgent: userAgent,
		logger:    logger.OrDefault(log),
		cache:     make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether u may be fetched. A nil policy allows everything.
func (p *RobotsPolicy) Allowed(ctx context.Context, u *url.URL) bool {
	if p == nil {
		return true
	}
	group := p.group(ctx, u)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (p *RobotsPolicy) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + strings.ToLower(u.Host)

	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.cache[key]; ok {
		return g
	}

	g := p.load(ctx, key+"/robots.txt")
	p.cache[key] = g
	return g
}

func (p *RobotsPolicy) load(ctx context.Context, robotsURL string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WarnWithFields("Failed to fetch robots.txt, allowing all", map[string]interface{}{
			"url":   robotsURL,
			"error": err.Error(),
		})
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.DebugWithFields("No robots.txt, allowing all", map[string]interface{}{
			"url":    robotsURL,
			"status": resp.StatusCode,
		})
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		p.logger.WarnWithFields("Failed to parse robots.txt, allowing all", map[string]interface{}{
			"url":   robotsURL,
			"error": err.Error(),
		})
		return nil
	}

	p.logger.InfoWithFields("Loaded robots.txt", map[string]interface{}{"url": robotsURL})
	return data.FindGroup(p.agentName())
}

func (p *RobotsPolicy) agentName() string {
	// robots.txt groups match on the product token only.
	name, _, _ := strings.Cut(p.userAgent, "/")
	name = strings.TrimSpace(name)
	if name == "" {
		return "*"
	}
	return name
}

package middleware

import (
	"bufio"
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

// robotsReadyTimeout caps how long a request stalls waiting for the host's
// robots.txt before proceeding anyway.
const robotsReadyTimeout = 5 * time.Second

// Robots gates requests on per-host robots.txt rules. robots.txt is fetched
// once per host at the highest priority; other requests for that host stall
// on a readiness signal until the robots response is observed or its fetch
// fails. Sitemap directives are always extracted, and sitemap fetches are
// never gated by disallow rules.
type Robots struct {
	userAgent string
	respect   bool
	enqueue   Enqueuer
	log       *logrus.Logger

	mu    sync.Mutex
	hosts map[string]*hostRobots
}

type hostRobots struct {
	// Closed once the robots.txt response for the host is observed,
	// whether it succeeded or not.
	ready chan struct{}

	// Parsed rules. Nil means no usable robots.txt: allow everything.
	group *robotstxt.Group
}

// NewRobots creates the robots middleware.
func NewRobots(userAgent string, respect bool, enqueue Enqueuer, log *logrus.Logger) *Robots {
	return &Robots{
		userAgent: userAgent,
		respect:   respect,
		enqueue:   enqueue,
		log:       log,
		hosts:     make(map[string]*hostRobots),
	}
}

func (r *Robots) Name() string { return "robots" }

// BeforeRequest stalls non-sitemap requests until the host's robots.txt has
// been observed, then applies the disallow rules when configured to.
func (r *Robots) BeforeRequest(ctx context.Context, req *frontier.Request) Verdict {
	// The robots fetch itself is never gated, and sitemap fetches bypass
	// disallow rules entirely.
	if req.Callback == frontier.ParseRobots || req.Callback == frontier.ParseSitemap {
		return Proceed
	}
	if !r.respect {
		return Proceed
	}

	origin, err := urlutil.Origin(req.URL)
	if err != nil {
		return Drop
	}

	host := r.hostEntry(origin)

	select {
	case <-host.ready:
	case <-ctx.Done():
		return Drop
	case <-time.After(robotsReadyTimeout):
		r.log.WithField("origin", origin).Debug("robots.txt readiness timed out")
	}

	r.mu.Lock()
	group := host.group
	r.mu.Unlock()

	if group != nil && !group.Test(pathAndQuery(req.URL)) {
		r.log.WithField("url", req.URL).Debug("blocked by robots.txt")
		return Drop
	}
	return Proceed
}

// hostEntry returns the readiness entry for an origin, enqueueing the
// robots.txt fetch on first encounter.
func (r *Robots) hostEntry(origin string) *hostRobots {
	r.mu.Lock()
	defer r.mu.Unlock()

	if host, ok := r.hosts[origin]; ok {
		return host
	}

	host := &hostRobots{ready: make(chan struct{})}
	r.hosts[origin] = host

	robotsReq := frontier.NewRequest(origin+"/robots.txt", frontier.ParseRobots, frontier.PriorityRobots, 0)
	if !r.enqueue.Enqueue(robotsReq) {
		// Already queued elsewhere; readiness will be signalled by its
		// response. Nothing more to do here.
		r.log.WithField("origin", origin).Debug("robots.txt already queued")
	}

	return host
}

// Prime registers an origin whose robots.txt request has been enqueued by
// the controller, so that BeforeRequest does not enqueue it a second time.
func (r *Robots) Prime(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hosts[origin]; !ok {
		r.hosts[origin] = &hostRobots{ready: make(chan struct{})}
	}
}

// HandleResponse installs the robots.txt rules for the response's origin and
// signals readiness. Returns the sitemap URLs declared in the file.
func (r *Robots) HandleResponse(resp *fetcher.Response) []string {
	origin, err := urlutil.Origin(resp.Request.URL)
	if err != nil {
		return nil
	}

	var group *robotstxt.Group
	var sitemaps []string

	if resp.ErrorType == fetcher.ErrorNone || resp.ErrorType == fetcher.ErrorHTTP {
		if data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body); err == nil {
			group = data.FindGroup(r.userAgent)
		}
		sitemaps = extractSitemaps(resp.Text)
	}

	r.mu.Lock()
	host, ok := r.hosts[origin]
	if !ok {
		host = &hostRobots{ready: make(chan struct{})}
		r.hosts[origin] = host
	}
	host.group = group
	select {
	case <-host.ready:
	default:
		close(host.ready)
	}
	r.mu.Unlock()

	return sitemaps
}

// extractSitemaps scans robots.txt content for Sitemap directives.
func extractSitemaps(content string) []string {
	var sitemaps []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "sitemap") {
			if value := strings.TrimSpace(parts[1]); value != "" {
				sitemaps = append(sitemaps, value)
			}
		}
	}

	return sitemaps
}

func pathAndQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}

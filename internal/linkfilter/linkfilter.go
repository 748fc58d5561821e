// Package linkfilter decides which hrefs in an HTML document look like
// feeds or feed-bearing pages, and assigns them queue priorities.
package linkfilter

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

// Link types on <link rel="alternate"> that identify a feed directly.
var feedLinkTypes = map[string]struct{}{
	"application/rss+xml":   {},
	"application/atom+xml":  {},
	"application/feed+json": {},
	"application/json":      {},
}

// Substrings of a URL's path, host, or query that suggest a feed.
var feedKeywords = []string{
	"rss.xml", "atom.xml", "feeds/", "-feed", "_feed",
	"rss.", "feed.", "atom.",
	"rss", "atom", "feed", "xml", "json",
}

// File extensions that can never be feeds.
var invalidExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {},
	".mp4": {}, ".mp3": {}, ".mkv": {}, ".avi": {},
	".pdf": {}, ".zip": {}, ".md": {}, ".css": {}, ".js": {},
	".woff": {}, ".woff2": {}, ".svg": {}, ".ttf": {},
}

// Path fragments that mark a URL as noise.
var invalidContents = []string{
	"/wp-admin", "/wp-login", "wp-includes", "wp-content", "wp-json",
	"xmlrpc", "/amp/", "mailto:", "javascript:", "//font.",
}

// Social-network hosts that are not worth crawling for feeds.
var socialHosts = []string{
	"facebook.com", "twitter.com", "x.com", "instagram.com",
	"linkedin.com", "pinterest.com",
}

// Querystring keys that mark a URL as noise.
var invalidQueryKeys = []string{"comment", "comments", "post", "view", "theme"}

// Hrefs matching these are demoted, not dropped: pages unlikely to carry
// feeds but not impossible.
var lowPriorityContents = []string{"/archive/", "/page/", "forum", "//cdn.", "video"}

var (
	feedlikeRegex = regexp.MustCompile(`(?i)\b(rss|feeds?|atom|json|xml|rdf|blogs?|subscribe|podcasts?)\b`)
	podcastRegex  = regexp.MustCompile(`(?i)\bpodcasts?\b`)
	dateRegex     = regexp.MustCompile(`/(\d{4}/\d{2})/`)
)

// Feedlike reports whether a URL's text alone suggests it may be a feed.
// Used to pick which sitemap entries are worth fetching.
func Feedlike(rawURL string) bool {
	return feedlikeRegex.MatchString(rawURL)
}

// OriginSet tracks extra origins (sitemap and WebSub hub hosts) whose URLs
// may be followed despite the same-origin default.
type OriginSet struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
}

// NewOriginSet creates an empty OriginSet.
func NewOriginSet() *OriginSet {
	return &OriginSet{hosts: make(map[string]struct{})}
}

// Add records the host of a URL as an allowed origin.
func (o *OriginSet) Add(rawURL string) {
	host, err := urlutil.ExtractHost(rawURL)
	if err != nil || host == "" {
		return
	}
	o.mu.Lock()
	o.hosts[host] = struct{}{}
	o.mu.Unlock()
}

// Contains reports whether the host is an allowed origin.
func (o *OriginSet) Contains(host string) bool {
	o.mu.RLock()
	_, ok := o.hosts[host]
	o.mu.RUnlock()
	return ok
}

// Candidate is a URL the filter decided is worth fetching.
type Candidate struct {
	URL      string
	Priority int
	Callback frontier.Callback
}

// Filter extracts feed candidates from HTML documents.
type Filter struct {
	normalizer  *urlutil.Normalizer
	seedHosts   map[string]struct{}
	seedOrigins map[string]struct{}
	extra       *OriginSet
	crawlHosts  bool
}

// New creates a Filter scoped to the given seed URLs. extra holds origins
// learned later in the crawl (sitemaps, hubs).
func New(normalizer *urlutil.Normalizer, seeds []string, extra *OriginSet, crawlHosts bool) *Filter {
	f := &Filter{
		normalizer:  normalizer,
		seedHosts:   make(map[string]struct{}),
		seedOrigins: make(map[string]struct{}),
		extra:       extra,
		crawlHosts:  crawlHosts,
	}
	for _, seed := range seeds {
		if host, err := urlutil.ExtractHost(seed); err == nil {
			f.seedHosts[host] = struct{}{}
		}
		if origin, err := urlutil.Origin(seed); err == nil {
			f.seedOrigins[origin] = struct{}{}
		}
	}
	return f
}

// Extract walks the document's anchor and link elements and yields
// candidates with priorities. Each candidate is depth = parent depth + 1;
// the depth cap is enforced at enqueue.
func (f *Filter) Extract(doc *goquery.Document, baseURL string) []Candidate {
	var candidates []Candidate
	seen := make(map[string]struct{})

	doc.Find("a[href], link[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		linkType, _ := sel.Attr("type")
		rel, _ := sel.Attr("rel")

		candidate := f.evaluate(baseURL, href, strings.ToLower(linkType), strings.ToLower(rel))
		if candidate == nil {
			return
		}
		if _, dup := seen[candidate.URL]; dup {
			return
		}
		seen[candidate.URL] = struct{}{}
		candidates = append(candidates, *candidate)
	})

	return candidates
}

func (f *Filter) evaluate(baseURL, href, linkType, rel string) *Candidate {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" || strings.HasPrefix(href, "#") {
		return nil
	}
	if strings.Contains(linkType, "oembed") {
		return nil
	}
	lower := strings.ToLower(href)
	for _, bad := range invalidContents {
		if strings.Contains(lower, bad) {
			return nil
		}
	}

	canonical, err := f.normalizer.Resolve(baseURL, href)
	if err != nil {
		return nil
	}

	u, err := url.Parse(canonical)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())

	// Same-origin default: cross-origin candidates are dropped unless the
	// host belongs to a sitemap or hub origin seen earlier.
	if !f.hostAllowed(host) {
		return nil
	}

	for _, social := range socialHosts {
		if host == social || strings.HasSuffix(host, "."+social) {
			return nil
		}
	}

	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		if _, bad := invalidExtensions[ext]; bad {
			return nil
		}
	}
	for key := range u.Query() {
		for _, bad := range invalidQueryKeys {
			if strings.EqualFold(key, bad) {
				return nil
			}
		}
	}

	// A declared feed type wins regardless of the URL text.
	if isFeedLinkType(linkType) && strings.Contains(rel, "alternate") {
		return &Candidate{URL: canonical, Priority: frontier.PriorityFeedLink, Callback: frontier.ParseFeed}
	}

	searchable := strings.ToLower(u.Path + " " + host + " " + u.RawQuery)
	if hasFeedKeyword(searchable) {
		priority := frontier.PriorityKeyword
		if isLowPriority(lower) {
			priority += 2
		}
		return &Candidate{URL: canonical, Priority: priority, Callback: frontier.ParseHTML}
	}

	if podcastRegex.MatchString(searchable) {
		return &Candidate{URL: canonical, Priority: frontier.PriorityKeyword + 10, Callback: frontier.ParseHTML}
	}

	// The origin root of a seed is crawled for site metadata.
	if f.crawlHosts {
		if origin, err := urlutil.Origin(canonical); err == nil {
			if _, isSeed := f.seedOrigins[origin]; isSeed && (u.Path == "/" || u.Path == "") {
				return &Candidate{URL: canonical, Priority: frontier.PriorityGeneric, Callback: frontier.ParseSiteMeta}
			}
		}
	}

	return nil
}

func (f *Filter) hostAllowed(host string) bool {
	for seedHost := range f.seedHosts {
		if urlutil.IsSubdomainOf(host, seedHost) {
			return true
		}
	}
	return f.extra != nil && f.extra.Contains(host)
}

func isFeedLinkType(linkType string) bool {
	_, ok := feedLinkTypes[linkType]
	return ok
}

func hasFeedKeyword(s string) bool {
	for _, kw := range feedKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isLowPriority(href string) bool {
	for _, marker := range lowPriorityContents {
		if strings.Contains(href, marker) {
			return true
		}
	}
	return dateRegex.MatchString(href)
}

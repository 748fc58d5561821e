// Package feedsearch discovers RSS, Atom, and JSON Feed URLs for a set of
// seed websites by crawling a bounded neighborhood of each seed.
package feedsearch

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/feedsearch-crawler/feedsearch/internal/config"
	"github.com/feedsearch-crawler/feedsearch/internal/feedparse"
	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
	"github.com/feedsearch-crawler/feedsearch/internal/linkfilter"
	"github.com/feedsearch-crawler/feedsearch/internal/middleware"
	"github.com/feedsearch-crawler/feedsearch/internal/scheduler"
	"github.com/feedsearch-crawler/feedsearch/internal/sitemeta"
	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

// Public aliases for the types callers handle.
type (
	// Options configures a crawl.
	Options = config.Options
	// FeedInfo describes one discovered feed.
	FeedInfo = feedparse.FeedInfo
	// SiteMeta is the metadata of one crawled site origin.
	SiteMeta = sitemeta.SiteMeta
	// Favicon is one discovered site icon.
	Favicon = sitemeta.Favicon
	// Stats is a snapshot of crawl counters.
	Stats = middleware.Snapshot
)

// DefaultOptions returns the documented default configuration.
func DefaultOptions() *Options { return config.DefaultOptions() }

// LoadOptions reads Options from a JSON file.
func LoadOptions(path string) (*Options, error) { return config.Load(path) }

// RootError classifies why every seed failed at the transport layer.
type RootError struct {
	URL       string `json:"url"`
	ErrorType string `json:"error_type"`
}

// SearchResult is the full outcome of a crawl.
type SearchResult struct {
	Feeds     []FeedInfo `json:"feeds"`
	RootError *RootError `json:"root_error,omitempty"`
	Stats     *Stats     `json:"stats,omitempty"`
}

// Common feed paths probed per origin when TryURLs is enabled without an
// explicit path list.
var defaultTryPaths = []string{
	"index.xml", "atom.xml", "feeds", "feeds/default", "feed",
	"feed/default", "feeds/posts/default", "?feed=rss", "?feed=atom",
	"?feed=rss2", "?feed=rdf", "rss", "atom", "rdf", "index.rss",
	"index.rdf", "index.atom", "data/rss", "rss.xml", "index.json",
	"about", "about/feeds", "rss-feeds",
}

// Caps on how much of a sitemap is followed.
const (
	maxSitemapURLs    = 100
	maxNestedSitemaps = 10
)

// Crawler runs feed searches with a fixed configuration. Safe for use from
// multiple goroutines; each search builds its own crawl state.
type Crawler struct {
	opts *config.Options
	log  *logrus.Logger
}

// NewCrawler creates a Crawler. A nil opts uses DefaultOptions; a nil log
// discards everything below warning level.
func NewCrawler(opts *Options, log *logrus.Logger) *Crawler {
	if opts == nil {
		opts = config.DefaultOptions()
	} else {
		opts = opts.Clone()
	}
	_ = opts.Validate()

	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Crawler{opts: opts, log: log}
}

// Search crawls the seeds and returns discovered feeds sorted by score.
// On root failure the list is empty.
func (c *Crawler) Search(ctx context.Context, seeds ...string) []FeedInfo {
	return c.SearchWithInfo(ctx, seeds...).Feeds
}

// SearchWithInfo crawls the seeds and additionally reports the classified
// root failure when every seed failed at the transport layer, plus crawl
// statistics when configured.
func (c *Crawler) SearchWithInfo(ctx context.Context, seeds ...string) *SearchResult {
	start := time.Now()
	result := &SearchResult{Feeds: []FeedInfo{}}

	run := newCrawlRun(c.opts, c.log)
	if len(run.normalizeSeeds(seeds)) == 0 {
		if len(seeds) > 0 {
			result.RootError = &RootError{URL: seeds[0], ErrorType: string(fetcher.ErrorInvalidURL)}
		}
		return result
	}

	run.build()
	run.enqueueSeeds()
	run.retry.SetDeadline(start.Add(c.opts.TotalTimeout))

	cctx, cancel := context.WithTimeout(ctx, c.opts.TotalTimeout)
	defer cancel()
	run.sched.Run(cctx)

	run.populateSiteMeta()
	result.Feeds = run.results.sorted(run.seedHosts)
	result.RootError = run.rootError()
	if c.opts.IncludeStats {
		result.Stats = run.stats.Snapshot(time.Since(start))
	}

	c.log.WithFields(logrus.Fields{
		"seeds":   len(run.seeds),
		"feeds":   len(result.Feeds),
		"elapsed": time.Since(start),
	}).Info("search finished")
	return result
}

// Search crawls the seeds with the given options and returns discovered
// feeds sorted by score.
func Search(ctx context.Context, opts *Options, seeds ...string) []FeedInfo {
	return NewCrawler(opts, nil).Search(ctx, seeds...)
}

// SearchWithInfo is like Search but also reports root failure and stats.
func SearchWithInfo(ctx context.Context, opts *Options, seeds ...string) *SearchResult {
	return NewCrawler(opts, nil).SearchWithInfo(ctx, seeds...)
}

// crawlRun is the state of one search: components wired together plus the
// collected items. Discarded when the search returns.
type crawlRun struct {
	opts       *config.Options
	log        *logrus.Logger
	normalizer *urlutil.Normalizer

	sched   *scheduler.Scheduler
	robots  *middleware.Robots
	retry   *middleware.Retry
	stats   *middleware.Stats
	parser  *feedparse.Parser
	meta    *sitemeta.Extractor
	filter  *linkfilter.Filter
	origins *linkfilter.OriginSet
	results *resultSet

	seeds     []string
	seedHosts map[string]struct{}

	mu           sync.Mutex
	siteMetas    []*sitemeta.SiteMeta
	favicons     map[string]*sitemeta.Favicon
	pendingIcons map[string]sitemeta.Favicon
	seedStatus   map[string]fetcher.ErrorType
	sitemapCount int
}

func newCrawlRun(opts *config.Options, log *logrus.Logger) *crawlRun {
	return &crawlRun{
		opts:         opts,
		log:          log,
		normalizer:   urlutil.DefaultNormalizer(),
		origins:      linkfilter.NewOriginSet(),
		results:      newResultSet(),
		seedHosts:    make(map[string]struct{}),
		favicons:     make(map[string]*sitemeta.Favicon),
		pendingIcons: make(map[string]sitemeta.Favicon),
		seedStatus:   make(map[string]fetcher.ErrorType),
	}
}

// normalizeSeeds canonicalizes the raw seed URLs, dropping invalid ones.
func (r *crawlRun) normalizeSeeds(raw []string) []string {
	seen := make(map[string]struct{})
	for _, seed := range raw {
		canonical, err := r.normalizer.Normalize(seed)
		if err != nil {
			r.log.WithField("url", seed).Warn("invalid seed url")
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		r.seeds = append(r.seeds, canonical)
		if host, err := urlutil.ExtractHost(canonical); err == nil {
			r.seedHosts[host] = struct{}{}
		}
	}
	return r.seeds
}

// build wires the downloader, middleware chain, and scheduler together.
func (r *crawlRun) build() {
	r.stats = middleware.NewStats()
	r.parser = feedparse.NewParser(r.normalizer, r.log)
	r.meta = sitemeta.NewExtractor(r.normalizer, r.log)
	r.filter = linkfilter.New(r.normalizer, r.seeds, r.origins, r.opts.CrawlHosts)

	downloader := fetcher.NewDownloader(r.opts, r.log)
	chain := middleware.NewChain()
	r.sched = scheduler.New(r.opts, downloader, chain, r.stats, r.log)

	r.robots = middleware.NewRobots(r.opts.UserAgent, r.opts.RespectRobots, r.sched, r.log)
	r.retry = middleware.NewRetry(r.opts.MaxRetries, r.sched, r.stats, r.log)

	chain.Use(r.robots)
	chain.Use(middleware.NewContentType(r.log))
	chain.Use(r.retry)
	chain.Use(middleware.NewMetrics(r.stats))

	r.sched.SetParseFunc(r.parse)
	r.sched.SetItemFunc(r.collect)
}

// enqueueSeeds seeds the queue: each seed URL, plus per origin its
// robots.txt, /sitemap.xml, origin page, and optional try-url probes.
func (r *crawlRun) enqueueSeeds() {
	seenOrigins := make(map[string]struct{})

	for _, seed := range r.seeds {
		r.sched.Enqueue(frontier.NewRequest(seed, frontier.ParseHTML, frontier.PrioritySeed, 0))

		origin, err := urlutil.Origin(seed)
		if err != nil {
			continue
		}
		if _, done := seenOrigins[origin]; done {
			continue
		}
		seenOrigins[origin] = struct{}{}

		// robots.txt is always fetched for its sitemap directives; the
		// disallow rules only gate when RespectRobots is set.
		r.robots.Prime(origin)
		r.sched.Enqueue(frontier.NewRequest(origin+"/robots.txt", frontier.ParseRobots, frontier.PriorityRobots, 0))
		r.sched.Enqueue(frontier.NewRequest(origin+"/sitemap.xml", frontier.ParseSitemap, frontier.PrioritySitemap, 0))

		if r.opts.CrawlHosts && origin+"/" != seed {
			r.sched.Enqueue(frontier.NewRequest(origin+"/", frontier.ParseSiteMeta, frontier.PriorityGeneric, 0))
		}

		if r.opts.TryURLs {
			paths := r.opts.TryURLPaths
			if len(paths) == 0 {
				paths = defaultTryPaths
			}
			for _, suffix := range paths {
				r.sched.Enqueue(frontier.NewRequest(joinOrigin(origin, suffix), frontier.ParseHTML, frontier.PriorityTryURL, 0))
			}
		}
	}
}

// parse dispatches a response to the handler its request named.
func (r *crawlRun) parse(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *scheduler.ParseResult {
	r.recordSeedOutcome(req, resp)

	switch req.Callback {
	case frontier.ParseRobots:
		return r.parseRobots(req, resp)
	case frontier.ParseSitemap:
		return r.parseSitemap(req, resp)
	case frontier.ParseFavicon:
		return r.parseFavicon(req, resp)
	case frontier.ParseHTML, frontier.ParseFeed, frontier.ParseSiteMeta:
		return r.parsePage(req, resp)
	}
	return nil
}

// recordSeedOutcome tracks transport-level failures of the seeds themselves
// for root error classification.
func (r *crawlRun) recordSeedOutcome(req *frontier.Request, resp *fetcher.Response) {
	if req.Depth != 0 || req.Callback != frontier.ParseHTML {
		return
	}
	isSeed := false
	for _, seed := range r.seeds {
		if seed == req.URL {
			isSeed = true
			break
		}
	}
	if !isSeed {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch resp.ErrorType {
	case fetcher.ErrorDNS, fetcher.ErrorSSL, fetcher.ErrorConnection,
		fetcher.ErrorTimeout, fetcher.ErrorInvalidURL:
		r.seedStatus[req.URL] = resp.ErrorType
	default:
		r.seedStatus[req.URL] = fetcher.ErrorNone
	}
}

// rootError reports the first seed's transport failure iff every seed
// failed at the transport layer.
func (r *crawlRun) rootError() *RootError {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, seed := range r.seeds {
		status, observed := r.seedStatus[seed]
		if !observed || status == fetcher.ErrorNone {
			return nil
		}
	}
	first := r.seeds[0]
	return &RootError{URL: first, ErrorType: string(r.seedStatus[first])}
}

// parsePage handles HTML and candidate feed bodies: feed validation first,
// then site metadata for origin pages, then link extraction.
func (r *crawlRun) parsePage(req *frontier.Request, resp *fetcher.Response) *scheduler.ParseResult {
	if !resp.OK() || len(resp.Body) == 0 {
		return nil
	}
	// A page reached through a redirect may already have been examined
	// under its final URL.
	if !r.sched.MarkParsed(resp.URL) {
		return nil
	}

	result := &scheduler.ParseResult{}

	if feed, ok := r.parser.Validate(resp); ok {
		result.Items = append(result.Items, feed)
		if feed.Favicon != "" && r.opts.FaviconDataURI {
			r.followIcon(result, feed.Favicon, req.Depth+1, sitemeta.Favicon{URL: feed.Favicon, Rel: "feed", Priority: 1})
		}
		return result
	}
	if req.Callback == frontier.ParseFeed {
		// Declared a feed by its link type, but the body is not one.
		return nil
	}

	if r.opts.CrawlHosts && r.isOriginPage(req, resp) {
		meta, icons := r.meta.Extract(resp)
		if meta != nil {
			result.Items = append(result.Items, meta)
			for _, icon := range icons {
				if r.opts.FaviconDataURI {
					r.followIcon(result, icon.URL, req.Depth+1, icon)
				} else {
					result.Items = append(result.Items, icon)
				}
			}
		}
	}

	if r.opts.MaxDepth > 0 && req.Depth >= r.opts.MaxDepth {
		return result
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlWindow(resp.Body)))
	if err != nil {
		return result
	}
	for _, candidate := range r.filter.Extract(doc, resp.URL) {
		followUp := frontier.NewRequest(candidate.URL, candidate.Callback, candidate.Priority, req.Depth+1)
		result.Requests = append(result.Requests, followUp)
	}
	return result
}

func (r *crawlRun) isOriginPage(req *frontier.Request, resp *fetcher.Response) bool {
	if origin, err := urlutil.Origin(resp.URL); err == nil && resp.URL == origin+"/" {
		return true
	}
	if origin, err := urlutil.Origin(req.URL); err == nil && req.URL == origin+"/" {
		return true
	}
	return false
}

// followIcon registers a favicon fetch and remembers which icon candidate
// it belongs to.
func (r *crawlRun) followIcon(result *scheduler.ParseResult, iconURL string, depth int, icon sitemeta.Favicon) {
	r.mu.Lock()
	if _, pending := r.pendingIcons[iconURL]; pending {
		r.mu.Unlock()
		return
	}
	r.pendingIcons[iconURL] = icon
	r.mu.Unlock()

	result.Requests = append(result.Requests, frontier.NewRequest(iconURL, frontier.ParseFavicon, frontier.PriorityFavicon, depth))
}

// parseRobots installs the host's rules and follows declared sitemaps.
func (r *crawlRun) parseRobots(req *frontier.Request, resp *fetcher.Response) *scheduler.ParseResult {
	sitemaps := r.robots.HandleResponse(resp)
	if len(sitemaps) == 0 {
		return nil
	}

	result := &scheduler.ParseResult{}
	for _, sitemapURL := range sitemaps {
		canonical, err := r.normalizer.Resolve(resp.URL, sitemapURL)
		if err != nil {
			continue
		}
		r.origins.Add(canonical)
		result.Requests = append(result.Requests, frontier.NewRequest(canonical, frontier.ParseSitemap, frontier.PrioritySitemap, req.Depth+1))
	}
	return result
}

// sitemapDoc covers both <urlset> and <sitemapindex> documents.
type sitemapDoc struct {
	URLs     []sitemapEntry `xml:"url"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// parseSitemap follows feed-looking sitemap entries and nested sitemaps.
func (r *crawlRun) parseSitemap(req *frontier.Request, resp *fetcher.Response) *scheduler.ParseResult {
	if !resp.OK() || len(resp.Body) == 0 {
		return nil
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(resp.Body, &doc); err != nil {
		r.log.WithField("url", resp.URL).Debug("sitemap did not parse")
		return nil
	}

	result := &scheduler.ParseResult{}

	for _, entry := range doc.Sitemaps {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		r.mu.Lock()
		if r.sitemapCount >= maxNestedSitemaps {
			r.mu.Unlock()
			break
		}
		r.sitemapCount++
		r.mu.Unlock()

		if canonical, err := r.normalizer.Resolve(resp.URL, loc); err == nil {
			result.Requests = append(result.Requests, frontier.NewRequest(canonical, frontier.ParseSitemap, frontier.PrioritySitemap, req.Depth+1))
		}
	}

	followed := 0
	for _, entry := range doc.URLs {
		if followed >= maxSitemapURLs {
			break
		}
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" || !linkfilter.Feedlike(loc) {
			continue
		}
		canonical, err := r.normalizer.Resolve(resp.URL, loc)
		if err != nil {
			continue
		}
		r.origins.Add(canonical)
		result.Requests = append(result.Requests, frontier.NewRequest(canonical, frontier.ParseHTML, frontier.PrioritySitemapURL, req.Depth+1))
		followed++
	}
	return result
}

// parseFavicon turns fetched icon bytes into a data URI item.
func (r *crawlRun) parseFavicon(req *frontier.Request, resp *fetcher.Response) *scheduler.ParseResult {
	r.mu.Lock()
	icon, ok := r.pendingIcons[req.URL]
	delete(r.pendingIcons, req.URL)
	r.mu.Unlock()
	if !ok {
		icon = sitemeta.Favicon{URL: req.URL}
	}

	if resp.OK() {
		icon.DataURI = sitemeta.DataURI(resp.ContentType, resp.Body)
	}
	return &scheduler.ParseResult{Items: []any{icon}}
}

// collect routes parsed items into the run's collections.
func (r *crawlRun) collect(item any) {
	switch v := item.(type) {
	case *feedparse.FeedInfo:
		r.results.add(v)
		// Hub hosts become allowed origins so their links may be followed.
		for _, hub := range v.Hubs {
			r.origins.Add(hub)
		}
	case *sitemeta.SiteMeta:
		r.mu.Lock()
		r.siteMetas = append(r.siteMetas, v)
		r.mu.Unlock()
	case sitemeta.Favicon:
		r.addFavicon(&v)
	case *sitemeta.Favicon:
		r.addFavicon(v)
	}
}

func (r *crawlRun) addFavicon(icon *sitemeta.Favicon) {
	if icon == nil || icon.URL == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.favicons[icon.URL]; ok && existing.DataURI != "" && icon.DataURI == "" {
		return
	}
	r.favicons[icon.URL] = icon
}

// populateSiteMeta attaches site names, site URLs, and favicons to every
// feed whose host matches a crawled origin.
func (r *crawlRun) populateSiteMeta() {
	r.mu.Lock()
	metas := r.siteMetas
	favicons := make(map[string]*sitemeta.Favicon, len(r.favicons))
	for k, v := range r.favicons {
		favicons[k] = v
	}
	r.mu.Unlock()

	r.results.each(func(feed *feedparse.FeedInfo) {
		feedHost, err := urlutil.ExtractHost(feed.URL)
		if err != nil {
			return
		}

		for _, meta := range metas {
			if meta.Host != "" && urlutil.IsSubdomainOf(feedHost, meta.Host) {
				if meta.URL != "" {
					feed.SiteURL = meta.URL
				}
				if meta.SiteName != "" {
					feed.SiteName = meta.SiteName
				}
				break
			}
		}

		if feed.Favicon != "" {
			if icon, ok := favicons[feed.Favicon]; ok {
				feed.FaviconDataURI = icon.DataURI
			}
		}
		if feed.Favicon == "" || (r.opts.FaviconDataURI && feed.FaviconDataURI == "") {
			var best *sitemeta.Favicon
			for _, icon := range favicons {
				if icon.Host != "" && !urlutil.IsSubdomainOf(feedHost, icon.Host) {
					continue
				}
				if r.opts.FaviconDataURI && icon.DataURI == "" {
					continue
				}
				if best == nil || icon.Priority < best.Priority {
					best = icon
				}
			}
			if best != nil {
				feed.Favicon = best.URL
				feed.FaviconDataURI = best.DataURI
			}
		}
	})
}

// htmlWindow bounds how much of a page the HTML parser sees.
func htmlWindow(body []byte) []byte {
	const maxParse = 512 * 1024
	if len(body) > maxParse {
		return body[:maxParse]
	}
	return body
}

// joinOrigin appends a try-url suffix to an origin, handling bare query
// suffixes such as "?feed=rss".
func joinOrigin(origin, suffix string) string {
	if strings.HasPrefix(suffix, "?") {
		return origin + "/" + suffix
	}
	return origin + "/" + strings.TrimPrefix(suffix, "/")
}

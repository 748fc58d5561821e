// Package frontier implements the crawl frontier: pending requests, the
// priority queue, and duplicate suppression.
package frontier

import (
	"time"
)

// Callback identifies which parser handles the response to a Request. The
// set is closed; the scheduler dispatches on it.
type Callback int

const (
	ParseHTML Callback = iota
	ParseFeed
	ParseRobots
	ParseSitemap
	ParseSiteMeta
	ParseFavicon
)

func (c Callback) String() string {
	switch c {
	case ParseHTML:
		return "parse_html"
	case ParseFeed:
		return "parse_feed"
	case ParseRobots:
		return "parse_robots"
	case ParseSitemap:
		return "parse_sitemap"
	case ParseSiteMeta:
		return "parse_site_meta"
	case ParseFavicon:
		return "parse_favicon"
	default:
		return "unknown"
	}
}

// Standard queue priorities. Lower sorts earlier.
const (
	PriorityRobots     = 1
	PrioritySitemap    = 5
	PrioritySeed       = 10
	PrioritySitemapURL = 10
	PriorityFeedLink   = 10
	PriorityTryURL     = 20
	PriorityKeyword    = 20
	PriorityFavicon    = 50
	PriorityGeneric    = 100
)

// Request is a single unit of crawl work. It is created by the controller or
// by a parse callback, owned by the queue until popped, and consumed exactly
// once by a worker (modulo explicit retry, which reuses the identity).
type Request struct {
	// Canonical URL, always the output of the normalizer.
	URL string

	// HTTP method: GET or HEAD.
	Method string

	// Which parser handles the response.
	Callback Callback

	// Queue priority, lower is earlier.
	Priority int

	// Link depth from the seed. Seeds are 0.
	Depth int

	// Retry attempts so far.
	Retries int

	// Delay before the fetch is issued, set by the retry middleware.
	Delay time.Duration

	// Extra headers for this request only.
	Headers map[string]string

	// Overrides the crawl-wide body cap when > 0.
	MaxContentLength int64

	// Sequence number assigned at enqueue, for FIFO tiebreak.
	seq uint64

	// Heap bookkeeping.
	index int
}

// NewRequest creates a GET Request for a canonical URL.
func NewRequest(url string, cb Callback, priority, depth int) *Request {
	return &Request{
		URL:      url,
		Method:   "GET",
		Callback: cb,
		Priority: priority,
		Depth:    depth,
	}
}

package frontier

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sync"

	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

// Query keys that select a feed representation of a page. URLs carrying one
// keep their query in the fingerprint; all other query strings are stripped.
var feedQueryKeys = []string{"feedformat", "feed", "rss", "atom", "jsonfeed", "format"}

// DupeFilter suppresses repeat fetches of the same URL. The fingerprint is
// the canonical URL with the query string removed, so querystring variants
// of a page are fetched only once per crawl. Queries that select a feed
// format (such as ?feed=rss) are significant and kept.
//
// Seen-for-enqueue and seen-for-parsing are tracked separately: a response
// may be examined by multiple callbacks without being fetched again.
type DupeFilter struct {
	mu       sync.Mutex
	enqueued map[string]struct{}
	parsed   map[string]struct{}
}

// NewDupeFilter creates an empty DupeFilter.
func NewDupeFilter() *DupeFilter {
	return &DupeFilter{
		enqueued: make(map[string]struct{}),
		parsed:   make(map[string]struct{}),
	}
}

// CheckAndAdd records the URL as seen for enqueue. Returns true if the URL
// was newly inserted, false if it was already seen.
func (d *DupeFilter) CheckAndAdd(url string) bool {
	fp := fingerprint(url)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.enqueued[fp]; seen {
		return false
	}
	d.enqueued[fp] = struct{}{}
	return true
}

// MarkSeen records a URL as seen without reporting whether it was new. Used
// for redirect targets, which reach the filter only after the fetch.
func (d *DupeFilter) MarkSeen(url string) {
	fp := fingerprint(url)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued[fp] = struct{}{}
}

// CheckAndAddParsed records the URL as seen for parsing, separately from the
// enqueue set.
func (d *DupeFilter) CheckAndAddParsed(url string) bool {
	fp := fingerprint(url)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.parsed[fp]; seen {
		return false
	}
	d.parsed[fp] = struct{}{}
	return true
}

// Len returns the number of distinct URLs seen for enqueue.
func (d *DupeFilter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.enqueued)
}

func fingerprint(rawURL string) string {
	key := rawURL
	if !hasFeedQuery(rawURL) {
		key = urlutil.StripQuery(rawURL)
	}
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func hasFeedQuery(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return false
	}
	query := u.Query()
	for _, key := range feedQueryKeys {
		if query.Has(key) {
			return true
		}
	}
	return false
}

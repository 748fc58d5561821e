package feedsearch

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feedsearch-crawler/feedsearch/internal/feedparse"
)

// Path fragments that earn the path bonus during scoring.
var scorePathPatterns = []string{"/feed", "/rss", ".xml", "/atom"}

// resultSet collects discovered feeds keyed by canonical URL. The key keeps
// the query string; duplicate suppression by query-stripped URL happens
// earlier, in the crawl's duplicate filter.
type resultSet struct {
	mu    sync.Mutex
	feeds map[string]*feedparse.FeedInfo
	order []string
}

func newResultSet() *resultSet {
	return &resultSet{feeds: make(map[string]*feedparse.FeedInfo)}
}

// add keeps the first FeedInfo seen for each canonical URL.
func (r *resultSet) add(feed *feedparse.FeedInfo) {
	if feed == nil || feed.URL == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feeds[feed.URL]; ok {
		return
	}
	r.feeds[feed.URL] = feed
	r.order = append(r.order, feed.URL)
}

func (r *resultSet) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

// each visits every collected feed. The callback may mutate the feed.
func (r *resultSet) each(fn func(*feedparse.FeedInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.order {
		fn(r.feeds[key])
	}
}

// sorted scores every feed against the seed hosts and returns them ordered
// by score descending, ties broken by shorter path then lexicographic URL.
func (r *resultSet) sorted(seedHosts map[string]struct{}) []FeedInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FeedInfo, 0, len(r.feeds))
	for _, key := range r.order {
		feed := r.feeds[key]
		feed.Score = scoreFeed(feed, seedHosts)
		out = append(out, *feed)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		pi, pj := urlPathLen(out[i].URL), urlPathLen(out[j].URL)
		if pi != pj {
			return pi < pj
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// scoreFeed ranks a feed by how likely it is to be the one the caller
// wants: seed-host feeds first, then well-formed feeds with fresh content.
func scoreFeed(feed *feedparse.FeedInfo, seedHosts map[string]struct{}) int {
	score := 0

	u, err := url.Parse(feed.URL)
	if err == nil {
		host := strings.ToLower(u.Hostname())
		if _, ok := seedHosts[host]; ok {
			score += 10
		}
		lowerPath := strings.ToLower(u.Path)
		for _, pattern := range scorePathPatterns {
			if strings.Contains(lowerPath, pattern) {
				score += 5
				break
			}
		}
	}

	if feed.Title != "" {
		score += 3
	}
	if feed.Description != "" {
		score += 2
	}
	if feed.ItemCount > 0 {
		score += 2
	}
	if !feed.LastUpdated.IsZero() {
		age := time.Since(feed.LastUpdated)
		if age <= 30*24*time.Hour {
			score += 2
		}
		if age <= 7*24*time.Hour {
			score += 2
		}
	}
	if feed.Bozo != 0 {
		score -= 5
	}

	hubBonus := len(feed.Hubs)
	if hubBonus > 2 {
		hubBonus = 2
	}
	score += hubBonus

	return score
}

func urlPathLen(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return len(rawURL)
	}
	return len(u.Path)
}

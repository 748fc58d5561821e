package feedsearch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedsearch-crawler/feedsearch/internal/feedparse"
)

func seedHostSet(hosts ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[h] = struct{}{}
	}
	return set
}

func TestScoreFeed(t *testing.T) {
	seeds := seedHostSet("example.com")

	tests := []struct {
		name string
		feed feedparse.FeedInfo
		want int
	}{
		{
			name: "bare feed off-host",
			feed: feedparse.FeedInfo{URL: "https://other.com/page"},
			want: 0,
		},
		{
			name: "seed host and path pattern",
			feed: feedparse.FeedInfo{URL: "https://example.com/feed"},
			want: 15,
		},
		{
			name: "path pattern counted once",
			feed: feedparse.FeedInfo{URL: "https://example.com/rss/feed.xml"},
			want: 15,
		},
		{
			name: "metadata bonuses",
			feed: feedparse.FeedInfo{
				URL:         "https://example.com/feed",
				Title:       "T",
				Description: "D",
				ItemCount:   3,
			},
			want: 22,
		},
		{
			name: "fresh content within a week",
			feed: feedparse.FeedInfo{
				URL:         "https://example.com/feed",
				LastUpdated: time.Now().Add(-48 * time.Hour),
			},
			want: 19,
		},
		{
			name: "stale content within a month",
			feed: feedparse.FeedInfo{
				URL:         "https://example.com/feed",
				LastUpdated: time.Now().Add(-20 * 24 * time.Hour),
			},
			want: 17,
		},
		{
			name: "bozo penalty",
			feed: feedparse.FeedInfo{URL: "https://example.com/feed", Bozo: 1},
			want: 10,
		},
		{
			name: "hub bonus capped at two",
			feed: feedparse.FeedInfo{
				URL:  "https://example.com/feed",
				Hubs: []string{"a", "b", "c", "d"},
			},
			want: 17,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreFeed(&tt.feed, seeds))
		})
	}
}

func TestResultSetSorted(t *testing.T) {
	rs := newResultSet()
	rs.add(&feedparse.FeedInfo{URL: "https://example.com/blog/deep/feed", Title: "Deep"})
	rs.add(&feedparse.FeedInfo{URL: "https://example.com/feed", Title: "Main"})
	rs.add(&feedparse.FeedInfo{URL: "https://other.com/feed", Title: "Off host"})

	out := rs.sorted(seedHostSet("example.com"))

	require.Len(t, out, 3)
	// Equal scores fall back to shorter path.
	assert.Equal(t, "https://example.com/feed", out[0].URL)
	assert.Equal(t, "https://example.com/blog/deep/feed", out[1].URL)
	assert.Equal(t, "https://other.com/feed", out[2].URL)
	assert.Greater(t, out[0].Score, out[2].Score)
}

func TestResultSetSortedLexicographicTie(t *testing.T) {
	rs := newResultSet()
	rs.add(&feedparse.FeedInfo{URL: "https://example.com/rss2"})
	rs.add(&feedparse.FeedInfo{URL: "https://example.com/rss1"})

	out := rs.sorted(seedHostSet("example.com"))

	require.Len(t, out, 2)
	assert.Equal(t, "https://example.com/rss1", out[0].URL)
	assert.Equal(t, "https://example.com/rss2", out[1].URL)
}

func TestResultSetFirstWins(t *testing.T) {
	rs := newResultSet()
	rs.add(&feedparse.FeedInfo{URL: "https://example.com/feed", Title: "First"})
	rs.add(&feedparse.FeedInfo{URL: "https://example.com/feed", Title: "Second"})

	assert.Equal(t, 1, rs.len())
	out := rs.sorted(seedHostSet("example.com"))
	require.Len(t, out, 1)
	assert.Equal(t, "First", out[0].Title)
}

func TestResultSetIgnoresEmpty(t *testing.T) {
	rs := newResultSet()
	rs.add(nil)
	rs.add(&feedparse.FeedInfo{})
	assert.Equal(t, 0, rs.len())
}

package feedsearch

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOPML(t *testing.T) {
	feeds := []FeedInfo{
		{URL: "https://example.com/feed.xml", Title: "Example Blog", SiteURL: "https://example.com/"},
		{URL: "https://example.com/untitled.xml"},
	}

	out, err := OPML(feeds)
	require.NoError(t, err)

	var doc opmlDoc
	require.NoError(t, xml.Unmarshal(out, &doc))
	assert.Equal(t, "2.0", doc.Version)
	assert.Empty(t, doc.Head.DateCreated)

	require.Len(t, doc.Body.Outlines, 2)
	first := doc.Body.Outlines[0]
	assert.Equal(t, "rss", first.Type)
	assert.Equal(t, "Example Blog", first.Text)
	assert.Equal(t, "https://example.com/feed.xml", first.XMLURL)
	assert.Equal(t, "https://example.com/", first.HTMLURL)

	// Title falls back to the URL when the feed has none.
	assert.Equal(t, "https://example.com/untitled.xml", doc.Body.Outlines[1].Text)
}

func TestOPMLDeterministic(t *testing.T) {
	feeds := []FeedInfo{
		{URL: "https://example.com/a.xml", Title: "A"},
		{URL: "https://example.com/b.xml", Title: "B"},
	}

	first, err := OPML(feeds)
	require.NoError(t, err)
	second, err := OPML(feeds)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOPMLPreservesOrder(t *testing.T) {
	feeds := []FeedInfo{
		{URL: "https://example.com/z.xml", Title: "Z"},
		{URL: "https://example.com/a.xml", Title: "A"},
	}

	out, err := OPML(feeds)
	require.NoError(t, err)

	var doc opmlDoc
	require.NoError(t, xml.Unmarshal(out, &doc))
	require.Len(t, doc.Body.Outlines, 2)
	assert.Equal(t, "Z", doc.Body.Outlines[0].Text)
	assert.Equal(t, "A", doc.Body.Outlines[1].Text)
}

func TestOPMLWithDate(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	out, err := OPMLWithDate([]FeedInfo{{URL: "https://example.com/feed.xml"}}, created)
	require.NoError(t, err)

	var doc opmlDoc
	require.NoError(t, xml.Unmarshal(out, &doc))
	assert.Equal(t, "Wed, 01 May 2024 12:00:00 +0000", doc.Head.DateCreated)
}

func TestOPMLEmpty(t *testing.T) {
	out, err := OPML(nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), xml.Header))
	assert.Contains(t, string(out), "<opml")
}

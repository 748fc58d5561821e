package frontier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDupeFilterStripsQueries(t *testing.T) {
	d := NewDupeFilter()

	assert.True(t, d.CheckAndAdd("https://example.com/page?utm_source=x"))
	assert.False(t, d.CheckAndAdd("https://example.com/page?utm_source=y"))
	assert.False(t, d.CheckAndAdd("https://example.com/page"))
	assert.Equal(t, 1, d.Len())
}

func TestDupeFilterKeepsFeedQueries(t *testing.T) {
	d := NewDupeFilter()

	assert.True(t, d.CheckAndAdd("https://example.com/"))
	assert.True(t, d.CheckAndAdd("https://example.com/?feed=rss"))
	assert.True(t, d.CheckAndAdd("https://example.com/?feed=atom"))
	assert.False(t, d.CheckAndAdd("https://example.com/?feed=rss"))
	assert.Equal(t, 3, d.Len())
}

func TestDupeFilterDistinctPaths(t *testing.T) {
	d := NewDupeFilter()

	assert.True(t, d.CheckAndAdd("https://example.com/feed"))
	assert.True(t, d.CheckAndAdd("https://example.com/rss"))
	assert.True(t, d.CheckAndAdd("https://other.com/feed"))
}

func TestDupeFilterMarkSeen(t *testing.T) {
	d := NewDupeFilter()

	d.MarkSeen("https://example.com/final")
	assert.False(t, d.CheckAndAdd("https://example.com/final"))
}

func TestDupeFilterParsedSetIsSeparate(t *testing.T) {
	d := NewDupeFilter()

	assert.True(t, d.CheckAndAdd("https://example.com/feed"))
	assert.True(t, d.CheckAndAddParsed("https://example.com/feed"))
	assert.False(t, d.CheckAndAddParsed("https://example.com/feed"))
}

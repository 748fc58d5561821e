package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
)

func robotsResponse(url string, status int, body string) *fetcher.Response {
	req := frontier.NewRequest(url, frontier.ParseRobots, frontier.PriorityRobots, 0)
	errType := fetcher.ErrorNone
	if status >= 400 {
		errType = fetcher.ErrorHTTP
	}
	return &fetcher.Response{
		Request:    req,
		URL:        url,
		StatusCode: status,
		Body:       []byte(body),
		Text:       body,
		ErrorType:  errType,
	}
}

func TestRobotsDisallow(t *testing.T) {
	enq := &fakeEnqueuer{}
	robots := NewRobots("Feedsearch Bot", true, enq, quietLogger())
	robots.Prime("https://example.com")

	robots.HandleResponse(robotsResponse("https://example.com/robots.txt", 200,
		"User-agent: *\nDisallow: /private/\n"))

	blocked := frontier.NewRequest("https://example.com/private/feed.xml", frontier.ParseHTML, frontier.PriorityKeyword, 1)
	assert.Equal(t, Drop, robots.BeforeRequest(context.Background(), blocked))

	allowed := frontier.NewRequest("https://example.com/public/feed.xml", frontier.ParseHTML, frontier.PriorityKeyword, 1)
	assert.Equal(t, Proceed, robots.BeforeRequest(context.Background(), allowed))
}

func TestRobotsNotRespected(t *testing.T) {
	enq := &fakeEnqueuer{}
	robots := NewRobots("Feedsearch Bot", false, enq, quietLogger())

	blocked := frontier.NewRequest("https://example.com/private/feed.xml", frontier.ParseHTML, frontier.PriorityKeyword, 1)
	assert.Equal(t, Proceed, robots.BeforeRequest(context.Background(), blocked))
	// With respect disabled nothing even triggers a robots fetch here.
	assert.Empty(t, enq.enqueued)
}

func TestRobotsBypassForRobotsAndSitemaps(t *testing.T) {
	enq := &fakeEnqueuer{}
	robots := NewRobots("Feedsearch Bot", true, enq, quietLogger())
	robots.Prime("https://example.com")
	robots.HandleResponse(robotsResponse("https://example.com/robots.txt", 200,
		"User-agent: *\nDisallow: /\n"))

	robotsReq := frontier.NewRequest("https://example.com/robots.txt", frontier.ParseRobots, frontier.PriorityRobots, 0)
	assert.Equal(t, Proceed, robots.BeforeRequest(context.Background(), robotsReq))

	sitemapReq := frontier.NewRequest("https://example.com/sitemap.xml", frontier.ParseSitemap, frontier.PrioritySitemap, 0)
	assert.Equal(t, Proceed, robots.BeforeRequest(context.Background(), sitemapReq))
}

func TestRobotsMissingFileAllowsAll(t *testing.T) {
	enq := &fakeEnqueuer{}
	robots := NewRobots("Feedsearch Bot", true, enq, quietLogger())
	robots.Prime("https://example.com")
	robots.HandleResponse(robotsResponse("https://example.com/robots.txt", 404, ""))

	req := frontier.NewRequest("https://example.com/anything", frontier.ParseHTML, frontier.PriorityKeyword, 1)
	assert.Equal(t, Proceed, robots.BeforeRequest(context.Background(), req))
}

func TestRobotsEnqueuesFetchOnFirstEncounter(t *testing.T) {
	enq := &fakeEnqueuer{}
	robots := NewRobots("Feedsearch Bot", true, enq, quietLogger())

	// An unprimed host triggers the robots fetch; the request itself then
	// stalls until HandleResponse runs, so signal readiness concurrently.
	done := make(chan Verdict, 1)
	go func() {
		req := frontier.NewRequest("https://example.com/page", frontier.ParseHTML, frontier.PriorityKeyword, 1)
		done <- robots.BeforeRequest(context.Background(), req)
	}()

	// Wait for the robots request to be enqueued, then answer it.
	for len(enq.enqueuedReqs()) == 0 {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, "https://example.com/robots.txt", enq.enqueuedReqs()[0].URL)
	robots.HandleResponse(robotsResponse("https://example.com/robots.txt", 200, "User-agent: *\nAllow: /\n"))

	assert.Equal(t, Proceed, <-done)
}

func TestRobotsSitemapDirectives(t *testing.T) {
	enq := &fakeEnqueuer{}
	robots := NewRobots("Feedsearch Bot", true, enq, quietLogger())
	robots.Prime("https://example.com")

	sitemaps := robots.HandleResponse(robotsResponse("https://example.com/robots.txt", 200,
		"User-agent: *\nDisallow:\n\nSitemap: https://example.com/sitemap.xml\nsitemap: https://cdn.example.com/sm2.xml\n# Sitemap: https://example.com/ignored.xml\n"))

	assert.Equal(t, []string{
		"https://example.com/sitemap.xml",
		"https://cdn.example.com/sm2.xml",
	}, sitemaps)
}

func TestRobotsAgentSpecificGroup(t *testing.T) {
	enq := &fakeEnqueuer{}
	robots := NewRobots("Feedsearch Bot", true, enq, quietLogger())
	robots.Prime("https://example.com")
	robots.HandleResponse(robotsResponse("https://example.com/robots.txt", 200,
		"User-agent: Feedsearch Bot\nDisallow: /blocked/\n\nUser-agent: *\nDisallow: /\n"))

	mine := frontier.NewRequest("https://example.com/blocked/x", frontier.ParseHTML, frontier.PriorityKeyword, 1)
	assert.Equal(t, Drop, robots.BeforeRequest(context.Background(), mine))

	open := frontier.NewRequest("https://example.com/open", frontier.ParseHTML, frontier.PriorityKeyword, 1)
	assert.Equal(t, Proceed, robots.BeforeRequest(context.Background(), open))
}

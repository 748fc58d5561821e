package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedsearch-crawler/feedsearch/internal/config"
	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
	"github.com/feedsearch-crawler/feedsearch/internal/middleware"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestScheduler(t *testing.T, opts *config.Options) *Scheduler {
	t.Helper()
	if opts == nil {
		opts = config.DefaultOptions()
	}
	log := quietLogger()
	downloader := fetcher.NewDownloader(opts, log)
	t.Cleanup(downloader.Close)
	return New(opts, downloader, middleware.NewChain(), middleware.NewStats(), log)
}

func TestSchedulerQuiescence(t *testing.T) {
	var fetched atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	sched := newTestScheduler(t, nil)
	sched.SetParseFunc(func(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *ParseResult {
		return nil
	})

	for i := 0; i < 5; i++ {
		sched.Enqueue(frontier.NewRequest(fmt.Sprintf("%s/page%d", srv.URL, i), frontier.ParseHTML, frontier.PrioritySeed, 0))
	}

	done := make(chan struct{})
	go func() {
		sched.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler did not reach quiescence")
	}
	assert.Equal(t, int64(5), fetched.Load())
}

func TestSchedulerFollowUpRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	var mu sync.Mutex
	var order []string

	sched := newTestScheduler(t, nil)
	sched.SetParseFunc(func(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *ParseResult {
		mu.Lock()
		order = append(order, req.URL)
		mu.Unlock()

		if req.Depth == 0 {
			return &ParseResult{Requests: []*frontier.Request{
				frontier.NewRequest(srv.URL+"/child", frontier.ParseHTML, frontier.PriorityKeyword, 1),
			}}
		}
		return nil
	})

	sched.Enqueue(frontier.NewRequest(srv.URL+"/root", frontier.ParseHTML, frontier.PrioritySeed, 0))
	sched.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{srv.URL + "/root", srv.URL + "/child"}, order)
}

func TestSchedulerDepthCap(t *testing.T) {
	opts := config.DefaultOptions()
	opts.MaxDepth = 2
	sched := newTestScheduler(t, opts)

	assert.True(t, sched.Enqueue(frontier.NewRequest("https://example.com/d2", frontier.ParseHTML, frontier.PriorityKeyword, 2)))
	assert.False(t, sched.Enqueue(frontier.NewRequest("https://example.com/d3", frontier.ParseHTML, frontier.PriorityKeyword, 3)))
}

func TestSchedulerDuplicateSuppression(t *testing.T) {
	sched := newTestScheduler(t, nil)

	assert.True(t, sched.Enqueue(frontier.NewRequest("https://example.com/feed", frontier.ParseHTML, frontier.PrioritySeed, 0)))
	assert.False(t, sched.Enqueue(frontier.NewRequest("https://example.com/feed", frontier.ParseHTML, frontier.PrioritySeed, 0)))

	// Retries bypass the filter.
	assert.True(t, sched.EnqueueRetry(frontier.NewRequest("https://example.com/feed", frontier.ParseHTML, frontier.PrioritySeed, 0)))
}

func TestSchedulerDeadlineStopsCrawl(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	opts := config.DefaultOptions()
	opts.RequestTimeout = 5 * time.Second
	sched := newTestScheduler(t, opts)
	sched.SetParseFunc(func(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *ParseResult {
		return nil
	})
	sched.Enqueue(frontier.NewRequest(srv.URL+"/hang", frontier.ParseHTML, frontier.PrioritySeed, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	sched.Run(ctx)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSchedulerEmptyQueueReturnsImmediately(t *testing.T) {
	sched := newTestScheduler(t, nil)
	sched.SetParseFunc(func(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *ParseResult {
		return nil
	})

	done := make(chan struct{})
	go func() {
		sched.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler with empty queue did not quiesce")
	}
}

func TestSchedulerItemsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	var mu sync.Mutex
	var items []any

	sched := newTestScheduler(t, nil)
	sched.SetParseFunc(func(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *ParseResult {
		return &ParseResult{Items: []any{"item-" + req.URL}}
	})
	sched.SetItemFunc(func(item any) {
		mu.Lock()
		items = append(items, item)
		mu.Unlock()
	})

	sched.Enqueue(frontier.NewRequest(srv.URL+"/a", frontier.ParseHTML, frontier.PrioritySeed, 0))
	sched.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, items, 1)
	assert.Equal(t, "item-"+srv.URL+"/a", items[0])
}

func TestHostThrottleSpacing(t *testing.T) {
	throttle := NewHostThrottle(50*time.Millisecond, 0)

	assert.Equal(t, time.Duration(0), throttle.Acquire("example.com"))

	wait := throttle.Acquire("example.com")
	assert.Greater(t, wait, 30*time.Millisecond)

	// A different host is not delayed.
	assert.Equal(t, time.Duration(0), throttle.Acquire("other.com"))
}

func TestHostThrottleNoDelay(t *testing.T) {
	throttle := NewHostThrottle(0, 0)
	assert.Equal(t, time.Duration(0), throttle.Acquire("example.com"))
	assert.Equal(t, time.Duration(0), throttle.Acquire("example.com"))
}

func TestHostThrottleGlobalCeiling(t *testing.T) {
	throttle := NewHostThrottle(0, 20)

	// Distinct hosts, so only the global limiter can space them.
	start := time.Now()
	for i, host := range []string{"a.com", "b.com", "c.com", "d.com"} {
		require.NoError(t, throttle.Wait(context.Background(), host), "wait %d", i)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestHostThrottleGlobalUnlimitedByDefault(t *testing.T) {
	throttle := NewHostThrottle(0, 0)

	start := time.Now()
	for _, host := range []string{"a.com", "b.com", "c.com", "d.com"} {
		require.NoError(t, throttle.Wait(context.Background(), host))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHostThrottleWaitHonorsContext(t *testing.T) {
	throttle := NewHostThrottle(5*time.Second, 0)
	require.NoError(t, throttle.Wait(context.Background(), "example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := throttle.Wait(ctx, "example.com")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

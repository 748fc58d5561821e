// Package middleware implements the pre-request and post-response hook
// pipeline that wraps every fetch.
package middleware

import (
	"context"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
)

// Verdict is the outcome of a pre-request hook.
type Verdict int

const (
	// Proceed lets the request continue down the chain.
	Proceed Verdict = iota
	// Drop discards the request without fetching.
	Drop
)

// Enqueuer feeds requests back into the crawl queue. Implemented by the
// scheduler.
type Enqueuer interface {
	// Enqueue adds a request subject to duplicate filtering and depth caps.
	// Returns false when the request was suppressed.
	Enqueue(req *frontier.Request) bool

	// EnqueueRetry re-adds a request that has already been fetched,
	// bypassing the duplicate filter.
	EnqueueRetry(req *frontier.Request) bool
}

// Middleware is a named member of the chain. Hooks are optional; a
// middleware implements RequestHook, ResponseHook, or both.
type Middleware interface {
	Name() string
}

// RequestHook runs before the fetch. It may drop the request.
type RequestHook interface {
	BeforeRequest(ctx context.Context, req *frontier.Request) Verdict
}

// ResponseHook runs after the fetch. Returning nil consumes the response,
// short-circuiting the rest of the chain and the parse callback.
type ResponseHook interface {
	AfterResponse(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *fetcher.Response
}

// Chain is an ordered middleware list. Pre-request hooks run in registration
// order; post-response hooks run in reverse order.
type Chain struct {
	members []Middleware
}

// NewChain creates a Chain from the given members, in order.
func NewChain(members ...Middleware) *Chain {
	return &Chain{members: members}
}

// Use appends a middleware to the chain.
func (c *Chain) Use(m Middleware) {
	c.members = append(c.members, m)
}

// BeforeRequest runs all pre-request hooks. The first Drop wins.
func (c *Chain) BeforeRequest(ctx context.Context, req *frontier.Request) Verdict {
	for _, m := range c.members {
		hook, ok := m.(RequestHook)
		if !ok {
			continue
		}
		if hook.BeforeRequest(ctx, req) == Drop {
			return Drop
		}
	}
	return Proceed
}

// AfterResponse runs all post-response hooks in reverse registration order.
// Returns nil when a hook consumed the response.
func (c *Chain) AfterResponse(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *fetcher.Response {
	for i := len(c.members) - 1; i >= 0; i-- {
		hook, ok := c.members[i].(ResponseHook)
		if !ok {
			continue
		}
		resp = hook.AfterResponse(ctx, req, resp)
		if resp == nil {
			return nil
		}
	}
	return resp
}

package fetcher

import (
	"net/http"
	"time"

	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
)

// ErrorType classifies a fetch failure. Errors are classified, never raised
// across the public boundary.
type ErrorType string

const (
	ErrorNone       ErrorType = "none"
	ErrorDNS        ErrorType = "dns_failure"
	ErrorSSL        ErrorType = "ssl_error"
	ErrorConnection ErrorType = "connection_error"
	ErrorHTTP       ErrorType = "http_error"
	ErrorTimeout    ErrorType = "timeout"
	ErrorInvalidURL ErrorType = "invalid_url"
	ErrorOther      ErrorType = "other"
)

// Response is the outcome of fetching one Request. StatusCode is -1 on
// transport failure.
type Response struct {
	// Originating request.
	Request *frontier.Request

	// Final URL after redirects.
	URL string

	// HTTP status code, or -1 when no response was received.
	StatusCode int

	// Response headers of the final hop.
	Headers http.Header

	// Raw decompressed body bytes.
	Body []byte

	// Body decoded to UTF-8 text, when the content type permits.
	Text string

	// Parsed JSON body for JSON content types. Nil when absent or when
	// decoding failed.
	JSON map[string]any

	// Content-Type of the final response, without parameters.
	ContentType string

	// Declared or actual content length in bytes.
	ContentLength int64

	// URLs of intermediate redirect hops, oldest first. The first entry is
	// the request URL when any redirect occurred.
	History []string

	// Failure classification.
	ErrorType ErrorType

	// Underlying error for logging. Never crosses the public boundary.
	Err error

	// Total fetch time.
	Elapsed time.Duration
}

// OK reports whether the response carries a usable 2xx payload.
func (r *Response) OK() bool {
	return r.ErrorType == ErrorNone && r.StatusCode >= 200 && r.StatusCode < 300
}

// OriginURL returns the first URL in the redirect history, or the request
// URL when there were no redirects.
func (r *Response) OriginURL() string {
	if len(r.History) > 0 {
		return r.History[0]
	}
	if r.Request != nil {
		return r.Request.URL
	}
	return r.URL
}

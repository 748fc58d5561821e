// Package fetcher executes single HTTP requests with timeouts, size caps,
// redirect tracking, and transport error classification.
package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"github.com/feedsearch-crawler/feedsearch/internal/config"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
)

// Content types accepted by the downloader. Anything else is closed before
// the body read; this is the primary defense against downloading binaries.
var allowedContentTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
	"text/xml":              {},
	"application/xml":       {},
	"application/rss+xml":   {},
	"application/atom+xml":  {},
	"application/json":      {},
	"application/feed+json": {},
	"text/plain":            {},
}

// Downloader fetches one Request at a time over a shared HTTP client. Safe
// for concurrent use by all workers.
type Downloader struct {
	client    *http.Client
	transport *http.Transport
	opts      *config.Options
	log       *logrus.Logger
}

// NewDownloader creates a Downloader with a connection pool sized for the
// configured concurrency.
func NewDownloader(opts *config.Options, log *logrus.Logger) *Downloader {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.RequestTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   opts.Concurrency,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{},
	}

	return &Downloader{
		transport: transport,
		opts:      opts,
		log:       log,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects are followed manually to track the chain.
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch executes the Request and returns a Response. The Response always
// carries a classification; Fetch never returns nil.
func (d *Downloader) Fetch(ctx context.Context, req *frontier.Request) *Response {
	start := time.Now()
	response := &Response{
		Request:    req,
		URL:        req.URL,
		StatusCode: -1,
		ErrorType:  ErrorNone,
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.opts.RequestTimeout)
	defer cancel()

	currentURL := req.URL
	for hop := 0; hop <= config.MaxRedirects; hop++ {
		httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, currentURL, nil)
		if err != nil {
			response.ErrorType = ErrorInvalidURL
			response.Err = err
			response.Elapsed = time.Since(start)
			return response
		}
		d.setRequestHeaders(httpReq, req)

		resp, err := d.client.Do(httpReq)
		if err != nil {
			response.URL = currentURL
			response.ErrorType = classifyTransportError(err)
			response.Err = err
			response.Elapsed = time.Since(start)
			return response
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			if location == "" {
				response.URL = currentURL
				response.StatusCode = resp.StatusCode
				response.Headers = resp.Header
				response.ErrorType = ErrorHTTP
				response.Elapsed = time.Since(start)
				return response
			}

			next, err := resolveRedirect(currentURL, location)
			if err != nil {
				response.URL = currentURL
				response.StatusCode = resp.StatusCode
				response.ErrorType = ErrorInvalidURL
				response.Err = err
				response.Elapsed = time.Since(start)
				return response
			}

			if strings.HasPrefix(currentURL, "https://") && strings.HasPrefix(next, "http://") {
				d.log.WithFields(logrus.Fields{
					"from": currentURL,
					"to":   next,
				}).Warn("redirect downgrades HTTPS to HTTP")
			}

			response.History = append(response.History, currentURL)
			currentURL = next
			continue
		}

		response.URL = currentURL
		response.StatusCode = resp.StatusCode
		response.Headers = resp.Header
		response.ContentType = mediaType(resp.Header.Get("Content-Type"))
		response.ContentLength = resp.ContentLength

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			response.ErrorType = ErrorHTTP
			response.Elapsed = time.Since(start)
			return response
		}

		// Gate on the declared content type before touching the body.
		if !d.contentTypeAllowed(response.ContentType, req) {
			resp.Body.Close()
			response.StatusCode = http.StatusUnsupportedMediaType
			response.ErrorType = ErrorHTTP
			response.Elapsed = time.Since(start)
			return response
		}

		d.readBody(resp, req, response)
		resp.Body.Close()
		response.Elapsed = time.Since(start)
		return response
	}

	// Redirect cap exceeded.
	response.URL = currentURL
	response.ErrorType = ErrorHTTP
	response.StatusCode = -1
	response.Elapsed = time.Since(start)
	return response
}

// Close releases idle connections.
func (d *Downloader) Close() {
	d.transport.CloseIdleConnections()
}

func (d *Downloader) setRequestHeaders(httpReq *http.Request, req *frontier.Request) {
	httpReq.Header.Set("User-Agent", d.opts.UserAgent)
	httpReq.Header.Set("Accept",
		"application/rss+xml,application/atom+xml,application/feed+json,"+
			"application/json;q=0.9,text/html,application/xhtml+xml,application/xml;q=0.8,*/*;q=0.5")
	for k, v := range d.opts.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
}

func (d *Downloader) contentTypeAllowed(contentType string, req *frontier.Request) bool {
	return AllowedContentType(contentType, req.Callback)
}

// AllowedContentType reports whether a media type passes the content-type
// gate for the given callback. Favicon fetches are the one place image
// bytes are expected.
func AllowedContentType(contentType string, cb frontier.Callback) bool {
	if contentType == "" {
		// Some feed servers omit the header entirely. Let the validator
		// decide from the body.
		return true
	}
	if cb == frontier.ParseFavicon && strings.HasPrefix(contentType, "image/") {
		return true
	}
	_, ok := allowedContentTypes[contentType]
	return ok
}

// readBody reads the body within the content length cap, decodes it per the
// declared charset, and attaches parsed JSON for JSON content types.
func (d *Downloader) readBody(resp *http.Response, req *frontier.Request, response *Response) {
	maxLen := d.opts.MaxContentLength
	if req.MaxContentLength > 0 {
		maxLen = req.MaxContentLength
	}

	limited := io.LimitReader(resp.Body, maxLen+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		response.ErrorType = classifyTransportError(err)
		response.Err = err
		return
	}

	if int64(len(raw)) > maxLen {
		// Over the cap: abort without classifying as a transport failure.
		// The retry middleware decides what to do with a 413.
		response.StatusCode = http.StatusRequestEntityTooLarge
		response.Body = nil
		return
	}

	response.Body = raw
	response.ContentLength = int64(len(raw))

	if req.Callback == frontier.ParseFavicon {
		// Favicons are consumed as raw bytes.
		return
	}

	response.Text = decodeText(raw, resp.Header.Get("Content-Type"))

	if strings.Contains(response.ContentType, "json") {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(response.Text), &parsed); err == nil {
			response.JSON = parsed
		}
	}
}

// decodeText converts body bytes to UTF-8. The charset reader honors the
// declared charset and sniffs BOMs and HTML meta tags; when nothing is
// declared it validates UTF-8 and otherwise assumes a Latin-1 superset.
func decodeText(raw []byte, contentTypeHeader string) string {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentTypeHeader)
	if err == nil {
		if decoded, err := io.ReadAll(reader); err == nil {
			return string(decoded)
		}
	}

	if utf8.Valid(raw) {
		return string(raw)
	}

	// Latin-1 maps every byte to the equivalent code point.
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// classifyTransportError maps a transport failure to the error taxonomy.
func classifyTransportError(err error) ErrorType {
	if err == nil {
		return ErrorNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorDNS
	}

	if isTLSError(err) {
		return ErrorSSL
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return ErrorInvalidURL
	}

	return ErrorConnection
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return true
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "certificate")
}

func resolveRedirect(baseURL, location string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(loc).String(), nil
}

func mediaType(contentTypeHeader string) string {
	if idx := strings.Index(contentTypeHeader, ";"); idx != -1 {
		contentTypeHeader = contentTypeHeader[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentTypeHeader))
}

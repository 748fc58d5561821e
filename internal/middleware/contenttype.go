package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
)

// ContentType re-affirms the downloader's content-type gate on the final
// response. Some servers misreport the type until the final redirect hop.
type ContentType struct {
	log *logrus.Logger
}

// NewContentType creates the content-type middleware.
func NewContentType(log *logrus.Logger) *ContentType {
	return &ContentType{log: log}
}

func (m *ContentType) Name() string { return "content_type" }

// AfterResponse rejects responses whose final content type is outside the
// accepted set.
func (m *ContentType) AfterResponse(ctx context.Context, req *frontier.Request, resp *fetcher.Response) *fetcher.Response {
	if !resp.OK() {
		return resp
	}
	if fetcher.AllowedContentType(resp.ContentType, req.Callback) {
		return resp
	}

	m.log.WithFields(logrus.Fields{
		"url":          resp.URL,
		"content_type": resp.ContentType,
	}).Debug("rejected by content-type gate")

	resp.StatusCode = http.StatusUnsupportedMediaType
	resp.ErrorType = fetcher.ErrorHTTP
	resp.Body = nil
	resp.Text = ""
	resp.JSON = nil
	return resp
}

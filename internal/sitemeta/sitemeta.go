// Package sitemeta extracts site-level metadata (name, description,
// favicon candidates) from a site's origin page.
package sitemeta

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

// Favicon bytes above this size are not inlined as data URIs.
const maxDataURISize = 100 * 1024

// HTML parsing is bounded to the head of very large pages.
const maxParseSize = 512 * 1024

// SiteMeta is the metadata of one site origin.
type SiteMeta struct {
	URL         string `json:"url"`
	Host        string `json:"host"`
	SiteName    string `json:"site_name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Favicon is one icon candidate discovered on a site, ordered by the
// reliability of its source markup.
type Favicon struct {
	URL      string `json:"url"`
	Rel      string `json:"rel"`
	Priority int    `json:"priority"`
	Host     string `json:"host"`
	DataURI  string `json:"data_uri"`
}

// Extractor parses origin pages.
type Extractor struct {
	normalizer *urlutil.Normalizer
	log        *logrus.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(normalizer *urlutil.Normalizer, log *logrus.Logger) *Extractor {
	return &Extractor{normalizer: normalizer, log: log}
}

// Extract parses an origin page into its SiteMeta and ranked favicon
// candidates. Returns nil when the body is not parseable HTML.
func (e *Extractor) Extract(resp *fetcher.Response) (*SiteMeta, []Favicon) {
	if resp == nil || !resp.OK() || len(resp.Body) == 0 {
		return nil, nil
	}
	body := resp.Body
	if len(body) > maxParseSize {
		body = body[:maxParseSize]
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.log.WithField("url", resp.URL).Debug("origin page did not parse as HTML")
		return nil, nil
	}

	meta := &SiteMeta{URL: e.siteURL(doc, resp.URL)}
	if host, err := urlutil.ExtractHost(meta.URL); err == nil {
		meta.Host = strings.TrimPrefix(host, "www.")
	}
	meta.SiteName = siteName(doc)
	meta.Description = metaContent(doc, "meta[name='description']")
	icons := e.iconCandidates(doc, resp.URL, meta.Host)
	if len(icons) > 0 {
		meta.Icon = icons[0].URL
	}
	return meta, icons
}

// siteURL prefers the canonical link, then og:url, then the page's own
// origin.
func (e *Extractor) siteURL(doc *goquery.Document, pageURL string) string {
	for _, candidate := range []string{
		attrContent(doc, "link[rel='canonical']", "href"),
		metaContent(doc, "meta[property='og:url']"),
	} {
		if candidate == "" {
			continue
		}
		if resolved, err := e.normalizer.Resolve(pageURL, candidate); err == nil {
			if origin, err := urlutil.Origin(resolved); err == nil {
				return origin + "/"
			}
		}
	}
	if origin, err := urlutil.Origin(pageURL); err == nil {
		return origin + "/"
	}
	return pageURL
}

// iconCandidates returns favicon URLs sorted by source priority: an
// explicit shortcut icon beats a plain icon link, which beats the
// conventional /favicon.ico path.
func (e *Extractor) iconCandidates(doc *goquery.Document, pageURL, host string) []Favicon {
	var icons []Favicon
	seen := make(map[string]struct{})

	add := func(rawURL, rel string, priority int) {
		resolved, err := e.normalizer.Resolve(pageURL, rawURL)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		icons = append(icons, Favicon{URL: resolved, Rel: rel, Priority: priority, Host: host})
	}

	doc.Find("link[rel]").Each(func(_ int, sel *goquery.Selection) {
		rel, _ := sel.Attr("rel")
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		switch strings.ToLower(strings.TrimSpace(rel)) {
		case "shortcut icon":
			add(href, "shortcut icon", 1)
		case "icon":
			add(href, "icon", 2)
		}
	})
	add("/favicon.ico", "favicon", 3)

	// Insertion is already grouped by rel; a stable ordering by priority
	// keeps shortcut icons first.
	for i := 1; i < len(icons); i++ {
		for j := i; j > 0 && icons[j-1].Priority > icons[j].Priority; j-- {
			icons[j-1], icons[j] = icons[j], icons[j-1]
		}
	}
	return icons
}

func siteName(doc *goquery.Document) string {
	for _, selector := range []string{
		"meta[property='og:site_name']",
		"meta[property='og:title']",
		"meta[property='application:name']",
		"meta[name='application-name']",
	} {
		if name := metaContent(doc, selector); name != "" {
			return name
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func attrContent(doc *goquery.Document, selector, attr string) string {
	value, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(value)
}

// DataURI encodes favicon bytes as a data: URI. Returns "" when the bytes
// are oversized or do not look like an image.
func DataURI(contentType string, body []byte) string {
	if len(body) == 0 || len(body) > maxDataURISize {
		return ""
	}
	mime := sniffImageType(contentType, body)
	if mime == "" {
		return ""
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(body)
}

// sniffImageType confirms the body is an image, preferring magic bytes over
// the server's declared type.
func sniffImageType(contentType string, body []byte) string {
	switch {
	case bytes.HasPrefix(body, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(body, []byte{0x00, 0x00, 0x01, 0x00}):
		return "image/x-icon"
	case bytes.HasPrefix(body, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(body, []byte("GIF8")):
		return "image/gif"
	case bytes.HasPrefix(body, []byte("<svg")) || bytes.Contains(body[:min(len(body), 256)], []byte("<svg")):
		return "image/svg+xml"
	}
	if strings.HasPrefix(contentType, "image/") {
		return contentType
	}
	return ""
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

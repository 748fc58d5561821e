package feedparse

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

// Window of the body examined when sniffing for an XML feed root.
const sniffWindow = 1024

const maxTitleLen = 1024

var (
	xmlFeedRegex  = regexp.MustCompile(`(?is)<\s*(rss|rdf:rdf|feed)[\s>]`)
	titleRegex    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	tagStripRegex = regexp.MustCompile(`<[^>]*>`)
	// Matches <link ...> and <atom:link ...> elements carrying rel and href
	// attributes, for WebSub discovery inside RSS bodies that gofeed does not
	// surface with rel information.
	linkTagRegex  = regexp.MustCompile(`(?is)<(?:atom:)?link\b[^>]*>`)
	relAttrRegex  = regexp.MustCompile(`(?i)rel\s*=\s*["']?([^"'\s>]+)`)
	hrefAttrRegex = regexp.MustCompile(`(?i)href\s*=\s*["']?([^"'\s>]+)`)
)

var audioTypes = []string{"audio/", "video/mp4"}

// Parser validates responses as feeds.
type Parser struct {
	normalizer *urlutil.Normalizer
	log        *logrus.Logger
}

// NewParser creates a feed validator.
func NewParser(normalizer *urlutil.Normalizer, log *logrus.Logger) *Parser {
	return &Parser{normalizer: normalizer, log: log}
}

// Validate decides whether the response body is a feed and, if so, returns
// its extracted metadata. A malformed body that still looks like a feed
// yields a FeedInfo with Bozo set rather than a rejection.
func (p *Parser) Validate(resp *fetcher.Response) (*FeedInfo, bool) {
	if resp == nil || !resp.OK() {
		return nil, false
	}

	info := &FeedInfo{
		URL:           resp.URL,
		ContentType:   resp.ContentType,
		ContentLength: resp.ContentLength,
	}

	// WebSub discovery checks Link headers before the body.
	info.Hubs, info.SelfURL = headerLinks(resp.Headers.Values("Link"))

	if isJSONFeed(resp.JSON) {
		if info.ContentType == "" {
			info.ContentType = "application/json"
		}
		p.parseJSON(info, resp.JSON)
		p.finish(info)
		return info, true
	}

	window := resp.Text
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	if !xmlFeedRegex.MatchString(window) {
		return nil, false
	}
	if info.ContentType == "" {
		info.ContentType = "text/xml"
	}
	p.parseXML(info, resp.Text)
	p.finish(info)
	return info, true
}

func (p *Parser) finish(info *FeedInfo) {
	if len(info.Hubs) > 0 && info.SelfURL != "" {
		info.IsPush = true
	}
	if info.Hubs == nil {
		info.Hubs = []string{}
	}
}

// isJSONFeed applies the explicit JSON Feed rule: a version field naming
// jsonfeed.org and an items array.
func isJSONFeed(data map[string]any) bool {
	if data == nil {
		return false
	}
	version, _ := data["version"].(string)
	if !strings.Contains(version, "jsonfeed.org") {
		return false
	}
	_, ok := data["items"].([]any)
	return ok
}

func (p *Parser) parseXML(info *FeedInfo, body string) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(body)
	if err != nil || feed == nil {
		// Keep what can be salvaged from a broken body.
		info.Bozo = 1
		if m := titleRegex.FindStringSubmatch(body); m != nil {
			info.Title = cleanTitle(m[1])
		}
		p.log.WithField("url", info.URL).Debug("feed body did not parse cleanly")
		return
	}

	info.Version = versionTag(feed)
	info.Title = cleanTitle(feed.Title)
	info.Description = strings.TrimSpace(feed.Description)
	info.ItemCount = len(feed.Items)

	if feed.Link != "" {
		if site, err := p.normalizer.Resolve(info.URL, feed.Link); err == nil {
			info.SiteURL = site
		}
	}
	if info.SelfURL == "" && feed.FeedLink != "" {
		if self, err := p.normalizer.Resolve(info.URL, feed.FeedLink); err == nil {
			info.SelfURL = self
		}
	}
	if len(info.Hubs) == 0 {
		hubs, self := websubLinks(body)
		info.Hubs = hubs
		if info.SelfURL == "" {
			info.SelfURL = self
		}
	}

	info.IsPodcast = podcastFeed(feed)

	var dates []time.Time
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		dates = appendPastDate(dates, item.PublishedParsed)
		dates = appendPastDate(dates, item.UpdatedParsed)
	}
	info.LastUpdated, info.Velocity = dateStats(dates, info.ItemCount)
}

func (p *Parser) parseJSON(info *FeedInfo, data map[string]any) {
	info.Version, _ = data["version"].(string)
	if title, ok := data["title"].(string); ok {
		info.Title = cleanTitle(title)
	}
	if desc, ok := data["description"].(string); ok {
		info.Description = strings.TrimSpace(desc)
	}
	if home, ok := data["home_page_url"].(string); ok && home != "" {
		if site, err := p.normalizer.Resolve(info.URL, home); err == nil {
			info.SiteURL = site
		}
	}
	if info.SelfURL == "" {
		if self, ok := data["feed_url"].(string); ok && self != "" {
			if resolved, err := p.normalizer.Resolve(info.URL, self); err == nil {
				info.SelfURL = resolved
			}
		}
	}
	if favicon, ok := data["favicon"].(string); ok && favicon != "" {
		if resolved, err := p.normalizer.Resolve(info.URL, favicon); err == nil {
			info.Favicon = resolved
		}
	}
	if len(info.Hubs) == 0 {
		if hubs, ok := data["hubs"].([]any); ok {
			for _, raw := range hubs {
				hub, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				if u, ok := hub["url"].(string); ok && u != "" {
					info.Hubs = append(info.Hubs, u)
				}
			}
		}
	}

	items, _ := data["items"].([]any)
	info.ItemCount = len(items)

	var dates []time.Time
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if published, ok := item["date_published"].(string); ok {
			if ts, ok := parseDate(published); ok {
				dates = appendPastDate(dates, &ts)
			}
		}
		if modified, ok := item["date_modified"].(string); ok {
			if ts, ok := parseDate(modified); ok {
				dates = appendPastDate(dates, &ts)
			}
		}
		if attachments, ok := item["attachments"].([]any); ok && !info.IsPodcast {
			for _, a := range attachments {
				att, ok := a.(map[string]any)
				if !ok {
					continue
				}
				if mime, ok := att["mime_type"].(string); ok && isAudioType(mime) {
					info.IsPodcast = true
					break
				}
			}
		}
	}
	info.LastUpdated, info.Velocity = dateStats(dates, info.ItemCount)
}

// versionTag renders gofeed's type and version as a compact tag such as
// "rss20", "atom10", or "json11".
func versionTag(feed *gofeed.Feed) string {
	kind := strings.ToLower(feed.FeedType)
	version := strings.ReplaceAll(feed.FeedVersion, ".", "")
	if version == "" {
		switch kind {
		case "rss":
			version = "20"
		case "atom":
			version = "10"
		case "json":
			version = "11"
		}
	}
	return kind + version
}

func podcastFeed(feed *gofeed.Feed) bool {
	if feed.ITunesExt != nil {
		return true
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if item.ITunesExt != nil {
			return true
		}
		for _, enc := range item.Enclosures {
			if enc != nil && isAudioType(enc.Type) {
				return true
			}
		}
	}
	return false
}

func isAudioType(mime string) bool {
	mime = strings.ToLower(mime)
	for _, prefix := range audioTypes {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}

// appendPastDate keeps a date only when it is not in the future.
func appendPastDate(dates []time.Time, ts *time.Time) []time.Time {
	if ts == nil || ts.IsZero() {
		return dates
	}
	if ts.After(time.Now().Add(24 * time.Hour)) {
		return dates
	}
	return append(dates, *ts)
}

// dateStats returns the newest entry date and the publication velocity in
// items per day over the observed date range.
func dateStats(dates []time.Time, itemCount int) (time.Time, float64) {
	if len(dates) == 0 {
		return time.Time{}, 0
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	newest := dates[len(dates)-1]
	oldest := dates[0]

	days := newest.Sub(oldest).Hours() / 24
	if days < 1 {
		days = 1
	}
	velocity := float64(itemCount) / days
	return newest, float64(int(velocity*1000)) / 1000
}

// parseDate tries the formats feeds use in the wild, strictest first.
func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// cleanTitle strips markup out of a title and bounds its length.
func cleanTitle(title string) string {
	title = tagStripRegex.ReplaceAllString(title, "")
	title = html.UnescapeString(title)
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLen {
		cut := maxTitleLen - 4
		// Back off to a rune boundary so the cap never splits a character.
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut] + "..."
	}
	return title
}

// headerLinks extracts WebSub hub and self URLs from HTTP Link headers.
func headerLinks(headers []string) ([]string, string) {
	var hubs []string
	var self string
	for _, header := range headers {
		for _, entry := range strings.Split(header, ",") {
			parts := strings.Split(entry, ";")
			if len(parts) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(parts[0]), "<>")
			if target == "" {
				continue
			}
			for _, param := range parts[1:] {
				key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
				if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
					continue
				}
				switch strings.Trim(strings.TrimSpace(value), `"'`) {
				case "hub":
					hubs = append(hubs, target)
				case "self":
					self = target
				}
			}
		}
	}
	return hubs, self
}

// websubLinks scans the raw body for link elements with rel=hub or
// rel=self.
func websubLinks(body string) ([]string, string) {
	var hubs []string
	var self string
	for _, tag := range linkTagRegex.FindAllString(body, -1) {
		relMatch := relAttrRegex.FindStringSubmatch(tag)
		hrefMatch := hrefAttrRegex.FindStringSubmatch(tag)
		if relMatch == nil || hrefMatch == nil {
			continue
		}
		switch strings.ToLower(relMatch[1]) {
		case "hub":
			hubs = append(hubs, hrefMatch[1])
		case "self":
			if self == "" {
				self = hrefMatch[1]
			}
		}
	}
	return hubs, self
}

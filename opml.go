package feedsearch

import (
	"encoding/xml"
	"time"
)

type opmlDoc struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    opmlHead `xml:"head"`
	Body    opmlBody `xml:"body"`
}

type opmlHead struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Type    string `xml:"type,attr"`
	Text    string `xml:"text,attr"`
	Title   string `xml:"title,attr,omitempty"`
	XMLURL  string `xml:"xmlUrl,attr"`
	HTMLURL string `xml:"htmlUrl,attr,omitempty"`
}

// OPML renders discovered feeds as an OPML 2.0 subscription list. The
// output is a pure function of the input: feeds appear in the order given,
// with no timestamp.
func OPML(feeds []FeedInfo) ([]byte, error) {
	return opml(feeds, "")
}

// OPMLWithDate is OPML with a dateCreated header, for callers that want a
// timestamped export.
func OPMLWithDate(feeds []FeedInfo, created time.Time) ([]byte, error) {
	return opml(feeds, created.UTC().Format(time.RFC1123Z))
}

func opml(feeds []FeedInfo, created string) ([]byte, error) {
	doc := opmlDoc{
		Version: "2.0",
		Head:    opmlHead{Title: "Feeds", DateCreated: created},
	}
	for _, feed := range feeds {
		title := feed.Title
		if title == "" {
			title = feed.URL
		}
		doc.Body.Outlines = append(doc.Body.Outlines, opmlOutline{
			Type:    "rss",
			Text:    title,
			Title:   feed.Title,
			XMLURL:  feed.URL,
			HTMLURL: feed.SiteURL,
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

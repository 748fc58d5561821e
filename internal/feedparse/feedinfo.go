// Package feedparse validates fetched bodies as RSS, Atom, or JSON Feed
// documents and extracts feed metadata.
package feedparse

import (
	"encoding/json"
	"time"
)

// FeedInfo describes one discovered feed. Field names follow the JSON
// serialization that downstream consumers expect.
type FeedInfo struct {
	Bozo           int       `json:"bozo"`
	ContentLength  int64     `json:"content_length"`
	ContentType    string    `json:"content_type"`
	Description    string    `json:"description"`
	Favicon        string    `json:"favicon"`
	FaviconDataURI string    `json:"favicon_data_uri"`
	Hubs           []string  `json:"hubs"`
	IsPodcast      bool      `json:"is_podcast"`
	IsPush         bool      `json:"is_push"`
	ItemCount      int       `json:"item_count"`
	LastUpdated    time.Time `json:"-"`
	Score          int       `json:"score"`
	SelfURL        string    `json:"self_url"`
	SiteName       string    `json:"site_name"`
	SiteURL        string    `json:"site_url"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Velocity       float64   `json:"velocity"`
	Version        string    `json:"version"`
}

// feedInfoAlias sheds FeedInfo's methods so marshalling it does not recurse.
type feedInfoAlias FeedInfo

// MarshalJSON renders LastUpdated as ISO 8601, or "" when the feed carries
// no usable entry dates.
func (f FeedInfo) MarshalJSON() ([]byte, error) {
	out := struct {
		feedInfoAlias
		LastUpdated string `json:"last_updated"`
	}{feedInfoAlias: feedInfoAlias(f)}
	if !f.LastUpdated.IsZero() {
		out.LastUpdated = f.LastUpdated.UTC().Format(time.RFC3339)
	}
	if out.Hubs == nil {
		out.Hubs = []string{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the serialized form, restoring LastUpdated from its
// ISO 8601 string.
func (f *FeedInfo) UnmarshalJSON(data []byte) error {
	var in struct {
		feedInfoAlias
		LastUpdated string `json:"last_updated"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*f = FeedInfo(in.feedInfoAlias)
	if in.LastUpdated != "" {
		if ts, err := time.Parse(time.RFC3339, in.LastUpdated); err == nil {
			f.LastUpdated = ts
		}
	}
	return nil
}

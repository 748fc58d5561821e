package sitemeta

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedsearch-crawler/feedsearch/internal/fetcher"
	"github.com/feedsearch-crawler/feedsearch/internal/frontier"
	"github.com/feedsearch-crawler/feedsearch/internal/urlutil"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewExtractor(urlutil.DefaultNormalizer(), log)
}

func htmlResponse(url, body string) *fetcher.Response {
	req := frontier.NewRequest(url, frontier.ParseSiteMeta, frontier.PriorityGeneric, 0)
	return &fetcher.Response{
		Request:     req,
		URL:         url,
		StatusCode:  200,
		Headers:     http.Header{},
		Body:        []byte(body),
		Text:        body,
		ContentType: "text/html",
		ErrorType:   fetcher.ErrorNone,
	}
}

func TestExtractSiteMeta(t *testing.T) {
	html := `<html><head>
		<title>Example Site</title>
		<meta name="description" content="A site about examples">
		<meta property="og:site_name" content="Example">
		<link rel="canonical" href="https://www.example.com/home">
		<link rel="shortcut icon" href="/favicon-short.ico">
		<link rel="icon" href="/favicon-plain.png">
	</head><body></body></html>`

	e := newTestExtractor(t)
	meta, icons := e.Extract(htmlResponse("https://example.com/", html))

	require.NotNil(t, meta)
	assert.Equal(t, "https://www.example.com/", meta.URL)
	assert.Equal(t, "example.com", meta.Host)
	assert.Equal(t, "Example", meta.SiteName)
	assert.Equal(t, "A site about examples", meta.Description)

	require.Len(t, icons, 3)
	assert.Equal(t, "https://example.com/favicon-short.ico", icons[0].URL)
	assert.Equal(t, 1, icons[0].Priority)
	assert.Equal(t, "https://example.com/favicon-plain.png", icons[1].URL)
	assert.Equal(t, "https://example.com/favicon.ico", icons[2].URL)
	assert.Equal(t, meta.Icon, icons[0].URL)
}

func TestExtractSiteNameFallsBackToTitle(t *testing.T) {
	html := `<html><head><title>Fallback Title</title></head><body></body></html>`

	e := newTestExtractor(t)
	meta, icons := e.Extract(htmlResponse("https://example.com/", html))

	require.NotNil(t, meta)
	assert.Equal(t, "Fallback Title", meta.SiteName)
	assert.Equal(t, "https://example.com/", meta.URL)

	// Only the conventional /favicon.ico remains.
	require.Len(t, icons, 1)
	assert.Equal(t, "https://example.com/favicon.ico", icons[0].URL)
}

func TestExtractOGURLOrigin(t *testing.T) {
	html := `<html><head>
		<meta property="og:url" content="https://canonical.example.org/deep/page">
	</head></html>`

	e := newTestExtractor(t)
	meta, _ := e.Extract(htmlResponse("https://example.com/", html))

	require.NotNil(t, meta)
	assert.Equal(t, "https://canonical.example.org/", meta.URL)
}

func TestExtractNilOnFailedResponse(t *testing.T) {
	e := newTestExtractor(t)

	resp := htmlResponse("https://example.com/", "<html></html>")
	resp.StatusCode = 500
	resp.ErrorType = fetcher.ErrorHTTP

	meta, icons := e.Extract(resp)
	assert.Nil(t, meta)
	assert.Nil(t, icons)
}

func TestDataURI(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("fakebody")...)
	uri := DataURI("image/png", png)
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, png, decoded)
}

func TestDataURIIco(t *testing.T) {
	ico := append([]byte{0x00, 0x00, 0x01, 0x00}, make([]byte, 16)...)
	uri := DataURI("application/octet-stream", ico)
	assert.True(t, strings.HasPrefix(uri, "data:image/x-icon;base64,"))
}

func TestDataURIRejectsNonImages(t *testing.T) {
	assert.Empty(t, DataURI("text/html", []byte("<html>not an icon</html>")))
	assert.Empty(t, DataURI("", nil))
}

func TestDataURISizeCap(t *testing.T) {
	big := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, maxDataURISize)...)
	assert.Empty(t, DataURI("image/png", big))
}

func TestDataURITrustsDeclaredImageType(t *testing.T) {
	// No known magic bytes, but the server declared an image type.
	uri := DataURI("image/webp", []byte("RIFFxxxxWEBP"))
	assert.True(t, strings.HasPrefix(uri, "data:image/webp;base64,"))
}

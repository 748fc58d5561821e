// Package urlutil provides URL canonicalization and utility functions.
package urlutil

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for URLs that cannot be canonicalized into an
// absolute HTTP(S) URL.
var ErrInvalidURL = errors.New("invalid url")

// Normalizer canonicalizes URLs before they enter the crawl queue.
type Normalizer struct {
	// Coerce scheme-less inputs to this scheme.
	DefaultScheme string

	// Remove fragment (#...)
	RemoveFragment bool

	// Lowercase scheme and host
	LowercaseSchemeHost bool

	// Remove default ports (80 for http, 443 for https)
	RemoveDefaultPort bool
}

// DefaultNormalizer returns a normalizer with default settings.
func DefaultNormalizer() *Normalizer {
	return &Normalizer{
		DefaultScheme:       "https",
		RemoveFragment:      true,
		LowercaseSchemeHost: true,
		RemoveDefaultPort:   true,
	}
}

// Normalize canonicalizes a user-supplied URL string. Bare hosts are coerced
// to "<scheme>://host/". Non-HTTP(S) schemes and hosts without a dot (other
// than localhost) are rejected.
func (n *Normalizer) Normalize(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", ErrInvalidURL
	}

	// A bare host such as "example.com" parses as a path. Coerce it so the
	// host ends up in the right place.
	if !strings.Contains(raw, "//") && !strings.HasPrefix(raw, "/") {
		raw = n.DefaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}

	if u.Scheme == "" {
		u.Scheme = n.DefaultScheme
	}

	return n.normalizeURL(u)
}

// Resolve canonicalizes a possibly relative href against a base URL.
func (n *Normalizer) Resolve(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", ErrInvalidURL
	}

	refURL, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", ErrInvalidURL
	}

	resolved := baseURL.ResolveReference(refURL)
	if resolved.Scheme == "" {
		resolved.Scheme = n.DefaultScheme
	}

	return n.normalizeURL(resolved)
}

func (n *Normalizer) normalizeURL(u *url.URL) (string, error) {
	if n.LowercaseSchemeHost {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}

	host := u.Hostname()
	if host == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(host, ".") && host != "localhost" {
		return "", ErrInvalidURL
	}

	if n.RemoveDefaultPort {
		if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
			u.Host = strings.TrimSuffix(u.Host, ":80")
		} else if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
			u.Host = strings.TrimSuffix(u.Host, ":443")
		}
	}

	if n.RemoveFragment {
		u.Fragment = ""
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// StripQuery removes the query string from a canonical URL. Used as the
// duplicate-filter fingerprint so that querystring variants of the same page
// are fetched only once.
func StripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}

// Origin returns "scheme://host[:port]" of a URL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}
	return u.Scheme + "://" + u.Host, nil
}

// ExtractHost extracts the lowercased host (without port) from a URL.
func ExtractHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}

// HostPort extracts the lowercased host including any explicit port.
func HostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}

// IsSameHost checks if two URLs have the same host.
func IsSameHost(url1, url2 string) bool {
	host1, err1 := ExtractHost(url1)
	host2, err2 := ExtractHost(url2)
	if err1 != nil || err2 != nil {
		return false
	}
	return host1 == host2
}

// IsSubdomainOf reports whether host is the same as, or a subdomain of,
// parent. The www prefix is ignored on both sides.
func IsSubdomainOf(host, parent string) bool {
	host = strings.TrimPrefix(host, "www.")
	parent = strings.TrimPrefix(parent, "www.")
	if host == parent {
		return true
	}
	return strings.HasSuffix(host, "."+parent)
}

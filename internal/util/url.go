// url.go — URL helpers: origin extraction and relative resolution.
package util

import (
	"fmt"
	"net/url"
	"strings"
)

// ExtractOrigin extracts the origin (scheme://host[:port]) from a URL.
// Returns empty string for data: URLs and malformed URLs; blob: URLs yield
// their nested origin.
func ExtractOrigin(rawURL string) string {
	if strings.HasPrefix(rawURL, "data:") {
		return ""
	}
	rawURL = strings.TrimPrefix(rawURL, "blob:")

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// ResolveReference resolves ref against base. An empty ref yields base.
func ResolveReference(base *url.URL, ref string) (*url.URL, error) {
	if ref == "" {
		u := *base
		return &u, nil
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ref, err)
	}
	return base.ResolveReference(parsed), nil
}

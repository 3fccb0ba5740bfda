package parse

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize canonicalizes a URL for deduplication by removing its fragment.
// Everything else, including the query string, case and ports, is kept
// verbatim. Input that does not parse as a URL is still cut at the first '#'.
func Normalize(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// ParseAbsolute parses a URL string with the stricter url.ParseRequestURI and
// requires an http(s) scheme and a host. Used to validate seed URLs.
func ParseAbsolute(rawURL string) (*url.URL, error) {
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %q", parsed.Scheme, rawURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("missing host in %q", rawURL)
	}
	return parsed, nil
}

package util

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// NormaliseDomain removes http/https prefix and www. from domain
func NormaliseDomain(domain string) string {
	// Remove http:// or https:// prefix if present
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")

	// Remove www. prefix if present
	domain = strings.TrimPrefix(domain, "www.")

	// Remove trailing slash if present
	domain = strings.TrimSuffix(domain, "/")

	return domain
}

// NormaliseURL validates a URL, defaults a missing scheme to https:// and
// strips the fragment. The normalised form is the dedup key for the frontier
// and visited set, so equal pages must normalise identically. An explicit
// http:// scheme is kept: rewriting it would point the frontier at pages the
// site may not serve.
func NormaliseURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	// Add https:// prefix if no scheme present
	if !strings.HasPrefix(rawURL, "https://") && !strings.HasPrefix(rawURL, "http://") {
		rawURL = "https://" + rawURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Debug().Str("url", rawURL).Err(err).Msg("Invalid URL format")
		return ""
	}

	// Fragments never change the fetched document
	parsedURL.Fragment = ""

	// Lowercase the host; paths stay case-sensitive
	parsedURL.Host = strings.ToLower(parsedURL.Host)

	// Trailing slash differences are the same page
	if len(parsedURL.Path) > 1 {
		parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")
	}

	return parsedURL.String()
}

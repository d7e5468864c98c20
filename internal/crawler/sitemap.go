package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/util"
)

// sitemapIndex represents a sitemap index XML structure
type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// urlSet represents a sitemap URL set XML structure
type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// maxSitemapBytes bounds how much sitemap XML is read per document.
const maxSitemapBytes = 10 << 20

// FetchSitemap fetches <site>/sitemap.xml and returns the listed URLs.
// Sitemap indexes are followed one level deep; sub-sitemap failures are
// logged and skipped rather than failing the whole seed.
func (s *Strategy) FetchSitemap(ctx context.Context, siteURL string) ([]string, error) {
	base, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid site url: %w", err)
	}

	sitemapURL := base.Scheme + "://" + base.Host + "/sitemap.xml"

	content, err := s.fetchXML(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	// A sitemap index points at sub-sitemaps instead of page URLs
	var index sitemapIndex
	if err := xml.Unmarshal(content, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, sm := range index.Sitemaps {
			subContent, err := s.fetchXML(ctx, strings.TrimSpace(sm.Loc))
			if err != nil {
				log.Debug().Err(err).Str("sitemap", sm.Loc).Msg("Failed to fetch sub-sitemap, skipping")
				continue
			}
			urls = append(urls, parseURLSet(subContent)...)
		}
		return urls, nil
	}

	return parseURLSet(content), nil
}

func (s *Strategy) fetchXML(ctx context.Context, fetchURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	client := &http.Client{Timeout: s.config.DefaultTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", fetchURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap fetch returned status %d for %s", resp.StatusCode, fetchURL)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read sitemap body: %w", err)
	}

	return content, nil
}

func parseURLSet(content []byte) []string {
	var set urlSet
	if err := xml.Unmarshal(content, &set); err != nil {
		log.Debug().Err(err).Msg("Failed to parse sitemap urlset")
		return nil
	}

	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if normalised := util.NormaliseURL(strings.TrimSpace(u.Loc)); normalised != "" {
			urls = append(urls, normalised)
		}
	}

	return urls
}

package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/opsforge-io/harrier/internal/jobs"
	"github.com/opsforge-io/harrier/internal/runner"
	"github.com/opsforge-io/harrier/internal/util"
)

// Strategy is the bundled colly-based crawl strategy. It fetches frontier
// batches, extracts same-host links for the frontier, and reports per-URL
// outcomes. Fetch failures are results, never batch errors.
type Strategy struct {
	config  *Config
	limiter *rate.Limiter
}

// New creates a crawl strategy. A nil config uses defaults.
func New(config *Config) *Strategy {
	if config == nil {
		config = DefaultConfig()
	}

	return &Strategy{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
	}
}

// SeedURLs derives the initial frontier from the payload: the entry URL,
// plus the sitemap's URLs when the payload asks for sitemap seeding.
func (s *Strategy) SeedURLs(ctx context.Context, payload json.RawMessage) ([]string, error) {
	p, err := ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	seeds := []string{p.URL}

	if p.UseSitemap {
		sitemapURLs, err := s.FetchSitemap(ctx, p.URL)
		if err != nil {
			// No sitemap is not an error; the entry URL alone seeds the crawl
			log.Debug().Err(err).Str("url", p.URL).Msg("Sitemap seeding failed, using entry URL only")
		} else {
			log.Info().
				Str("url", p.URL).
				Int("sitemap_urls", len(sitemapURLs)).
				Msg("Seeded frontier from sitemap")
			seeds = append(seeds, sitemapURLs...)
		}
	}

	// Normalise and dedupe while preserving order
	seen := make(map[string]struct{}, len(seeds))
	out := make([]string, 0, len(seeds))
	for _, raw := range seeds {
		u := util.NormaliseURL(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	return out, nil
}

// CrawlBatch fetches one frontier batch. Links are followed only within the
// payload's host and depth budget; everything else is discarded here so the
// frontier never accumulates URLs the strategy would refuse to fetch.
func (s *Strategy) CrawlBatch(ctx context.Context, payload json.RawMessage, batch []jobs.FrontierEntry) ([]runner.PageResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	p, err := ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	rootHost, err := hostOf(p.URL)
	if err != nil {
		return nil, fmt.Errorf("payload url has no host: %w", err)
	}

	maxDepth := p.MaxDepth
	if maxDepth == 0 {
		maxDepth = s.config.MaxDepth
	}

	depthByURL := make(map[string]int, len(batch))
	for _, entry := range batch {
		depthByURL[entry.URL] = entry.Depth
	}

	var mu sync.Mutex
	results := make(map[string]runner.PageResult, len(batch))

	collector := s.newCollector(p)

	collector.OnResponse(func(r *colly.Response) {
		pageURL := r.Request.URL.String()
		result := runner.PageResult{
			URL:        normaliseResultURL(pageURL, depthByURL),
			StatusCode: r.StatusCode,
		}

		if isHTML(r.Headers.Get("Content-Type")) && len(r.Body) <= s.config.MaxBodyBytes {
			title, links := s.extractLinks(r.Request.URL, r.Body, rootHost)
			result.Title = title

			depth := depthByURL[result.URL]
			if depth+1 <= maxDepth {
				result.Links = links
			}
		}

		mu.Lock()
		results[result.URL] = result
		mu.Unlock()
	})

	collector.OnError(func(r *colly.Response, err error) {
		pageURL := r.Request.URL.String()
		result := runner.PageResult{
			URL:        normaliseResultURL(pageURL, depthByURL),
			StatusCode: r.StatusCode,
			Error:      err.Error(),
		}

		mu.Lock()
		results[result.URL] = result
		mu.Unlock()
	})

	for _, entry := range batch {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := collector.Visit(entry.URL); err != nil {
			mu.Lock()
			results[entry.URL] = runner.PageResult{URL: entry.URL, Error: err.Error()}
			mu.Unlock()
		}
	}
	collector.Wait()

	// One result per batch entry, in batch order. Entries colly never
	// reported (e.g. context cancelled mid-flight) come back as errors.
	out := make([]runner.PageResult, 0, len(batch))
	for _, entry := range batch {
		if res, ok := results[entry.URL]; ok {
			out = append(out, res)
		} else {
			out = append(out, runner.PageResult{URL: entry.URL, Error: "no response recorded"})
		}
	}

	return out, nil
}

// newCollector builds a collector tuned to one payload
func (s *Strategy) newCollector(p *Payload) *colly.Collector {
	parallelism := p.MaxConcurrent
	if parallelism <= 0 {
		parallelism = s.config.MaxConcurrency
	}

	c := colly.NewCollector(
		colly.UserAgent(s.config.UserAgent),
		colly.Async(true),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(s.config.DefaultTimeout)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		RandomDelay: time.Second / time.Duration(s.config.RateLimit),
	})

	return c
}

// extractLinks parses an HTML body for its title and same-host links
func (s *Strategy) extractLinks(base *url.URL, body []byte, rootHost string) (string, []string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Debug().Err(err).Str("url", base.String()).Msg("Failed to parse HTML body")
		return "", nil
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""

		link := util.NormaliseURL(resolved.String())
		if link == "" {
			return
		}

		linkHost, err := hostOf(link)
		if err != nil || linkHost != rootHost {
			return
		}

		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	return title, links
}

// normaliseResultURL maps a fetched URL back to the frontier entry that
// requested it. Colly reports the URL it fetched, which may differ from the
// frontier key only by normalisation.
func normaliseResultURL(fetched string, depthByURL map[string]int) string {
	if _, ok := depthByURL[fetched]; ok {
		return fetched
	}
	if n := util.NormaliseURL(fetched); n != "" {
		if _, ok := depthByURL[n]; ok {
			return n
		}
	}
	return fetched
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www."), nil
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

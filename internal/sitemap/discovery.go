package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds sitemap discovery configuration.
type Config struct {
	BaseURL     string
	SitemapURLs []string
	Timeout     time.Duration
	UserAgent   string
}

// Discovery finds article URLs by fetching the site's sitemap files.
type Discovery struct {
	httpClient  *http.Client
	baseURL     string
	sitemapURLs []string
	userAgent   string
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Discovery {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Discovery{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		sitemapURLs: cfg.SitemapURLs,
		userAgent:   cfg.UserAgent,
		logger:      logger.With("component", "sitemap"),
	}
}

// Entry is one <url> (or nested <sitemap>) element from a sitemap document.
type Entry struct {
	Loc     string
	LastMod *time.Time
}

// sitemapDoc covers both document shapes: a urlset carries <url> children,
// a sitemap index carries <sitemap> children. The root name is irrelevant
// to xml.Unmarshal, so one struct decodes either.
type sitemapDoc struct {
	URLs     []xmlEntry `xml:"url"`
	Sitemaps []xmlEntry `xml:"sitemap"`
}

type xmlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// DiscoverAll returns every article URL listed across the configured
// sitemaps, in sitemap order, deduplicated first-seen. A sitemap that fails
// to fetch or parse is logged and skipped; the call only errors when every
// sitemap failed.
func (d *Discovery) DiscoverAll(ctx context.Context) ([]string, error) {
	entries, err := d.discover(ctx)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.Loc)
	}
	return urls, nil
}

// DiscoverForDate returns article URLs whose <lastmod> date equals the
// target date (YYYY-MM-DD). Entries without a lastmod are excluded.
func (d *Discovery) DiscoverForDate(ctx context.Context, date string) ([]string, error) {
	entries, err := d.discover(ctx)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, e := range entries {
		if e.LastMod != nil && e.LastMod.UTC().Format("2006-01-02") == date {
			urls = append(urls, e.Loc)
		}
	}
	return urls, nil
}

// Slug derives the stable article identifier from its URL: the path with the
// base URL prefix and surrounding slashes stripped.
func (d *Discovery) Slug(url string) string {
	return strings.Trim(strings.TrimPrefix(url, d.baseURL), "/")
}

func (d *Discovery) discover(ctx context.Context) ([]Entry, error) {
	var (
		entries []Entry
		seen    = make(map[string]struct{})
		failed  int
	)

	for _, sitemapURL := range d.sitemapURLs {
		fetched, err := d.fetchSitemap(ctx, sitemapURL)
		if err != nil {
			failed++
			d.logger.Warn("sitemap fetch failed, skipping",
				"url", sitemapURL,
				"error", err,
			)
			continue
		}

		kept := 0
		for _, e := range fetched {
			if !d.isArticleURL(e.Loc) {
				continue
			}
			if _, ok := seen[e.Loc]; ok {
				continue
			}
			seen[e.Loc] = struct{}{}
			entries = append(entries, e)
			kept++
		}

		d.logger.Debug("fetched sitemap",
			"url", sitemapURL,
			"entries", len(fetched),
			"articles", kept,
		)
	}

	if failed == len(d.sitemapURLs) && failed > 0 {
		return nil, fmt.Errorf("all %d sitemaps failed", failed)
	}

	d.logger.Info("discovered article urls", "count", len(entries))
	return entries, nil
}

func (d *Discovery) fetchSitemap(ctx context.Context, url string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	// Nested index entries are emitted like any other URL; the article
	// filter rejects them (they end in .xml). No recursive fetch.
	raw := append(doc.URLs, doc.Sitemaps...)

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		entry := Entry{Loc: strings.TrimSpace(e.Loc)}
		if e.LastMod != "" {
			if t := parseLastMod(e.LastMod); t != nil {
				entry.LastMod = t
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseLastMod(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Section and utility pages that must never be treated as articles.
var denyFragments = []string{
	"/category/",
	"/tag/",
	"/author/",
	"/page/",
	"/sitemap",
	".xml",
}

var denyPaths = map[string]struct{}{
	"/apps":             {},
	"/resources":        {},
	"/reports":          {},
	"/join":             {},
	"/about":            {},
	"/advertise":        {},
	"/formats":          {},
	"/privacy-policy":   {},
	"/terms-of-service": {},
	"/mysge":            {},
}

func (d *Discovery) isArticleURL(url string) bool {
	if !strings.HasPrefix(url, d.baseURL) {
		return false
	}

	path := strings.TrimPrefix(url, d.baseURL)
	if path == "" || path == "/" {
		return false
	}

	lower := strings.ToLower(path)
	for _, frag := range denyFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}

	if _, ok := denyPaths[strings.TrimRight(lower, "/")]; ok {
		return false
	}

	return true
}

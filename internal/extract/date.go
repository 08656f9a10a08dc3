package extract

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

var publishedMetaSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:published_time"]`,
	`meta[name="pubdate"]`,
	`meta[name="date"]`,
}

var textDateRe = regexp.MustCompile(
	`\b(\d{4}-\d{2}-\d{2})|((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\w*\s+\d{1,2},\s+\d{4})\b`,
)

// extractPublishedAt walks the publication-date chain: state values, JSON-LD,
// meta tags, <time> elements, and finally a date-shaped string anywhere in
// the article body. Unparseable candidates are logged and the chain moves on.
func (e *Extractor) extractPublishedAt(p *page) *time.Time {
	for _, candidate := range e.dateCandidates(p) {
		if t := parseDate(candidate); t != nil {
			return t
		}
		e.logger.Debug("unparseable date candidate", "url", p.url, "value", candidate)
	}
	return nil
}

func (e *Extractor) dateCandidates(p *page) []string {
	var candidates []string
	push := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			candidates = append(candidates, s)
		}
	}

	push(p.stateString("publishedAt", "createdAt", "date"))

	p.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		push(jsonLDDate(sel.Text()))
	})

	for _, selector := range publishedMetaSelectors {
		push(metaContent(p.doc, selector))
	}

	p.doc.Find("time").Each(func(_ int, sel *goquery.Selection) {
		if dt, ok := sel.Attr("datetime"); ok {
			push(dt)
			return
		}
		push(sel.Text())
	})

	body := p.doc.Find("article").First()
	if body.Length() == 0 {
		body = p.doc.Selection
	}
	push(textDateRe.FindString(body.Text()))

	return candidates
}

func jsonLDDate(raw string) string {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ""
	}

	var objects []map[string]any
	switch v := payload.(type) {
	case map[string]any:
		objects = append(objects, v)
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				if m, ok := item.(map[string]any); ok {
					objects = append(objects, m)
				}
			}
		}
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				objects = append(objects, m)
			}
		}
	}

	for _, obj := range objects {
		for _, key := range []string{"datePublished", "publishedDate"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}

	if t, err := dateparse.ParseAny(s); err == nil {
		return &t
	}
	return nil
}

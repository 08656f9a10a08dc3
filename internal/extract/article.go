package extract

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sge_scraper/internal/domain"
)

// Extractor turns a rendered page into a domain article. Every field is
// resolved through an ordered chain of strategies: the embedded state first,
// then DOM selectors, then meta tags; the first non-empty value wins.
type Extractor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger.With("component", "extract")}
}

func (e *Extractor) Extract(rendered *domain.RenderedPage) (*domain.Article, error) {
	p, err := newPage(rendered)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rendered.URL, err)
	}

	article := &domain.Article{
		URL:           p.url,
		SourceID:      extractSourceID(p),
		Title:         firstOf(p, titleChain, "Untitled"),
		Subtitle:      optional(firstOf(p, subtitleChain, "")),
		Category:      optional(firstOf(p, categoryChain, "")),
		FeaturedImage: optional(firstOf(p, featuredImageChain, "")),
		ReadTime:      optional(firstOf(p, readTimeChain, "")),
		Tags:          extractTags(p),
		RawState:      rendered.State,
	}

	markup, text := extractContent(p)
	article.ContentHTML = optional(markup)
	article.ContentText = optional(text)

	name, email := extractAuthor(p)
	article.Author = optional(name)
	article.AuthorEmail = optional(email)

	if t := e.extractPublishedAt(p); t != nil {
		article.PublishedAt = t
	}

	article.SocialContents = extractSocial(p)

	return article, nil
}

type strategy func(*page) string

func firstOf(p *page, chain []strategy, fallback string) string {
	for _, fn := range chain {
		if v := strings.TrimSpace(fn(p)); v != "" {
			return v
		}
	}
	return fallback
}

var titleChain = []strategy{
	func(p *page) string { return p.stateString("title") },
	func(p *page) string { return p.doc.Find("h1").First().Text() },
	func(p *page) string { return p.doc.Find("title").First().Text() },
}

var subtitleChain = []strategy{
	func(p *page) string { return p.stateString("excerpt", "subtitle") },
	func(p *page) string { return metaContent(p.doc, `meta[name="description"]`) },
}

// The content selectors run most-specific first; the generic article and
// main fallbacks only fire on unusual layouts.
var contentSelectors = []string{
	"article .content",
	".article-content",
	".post-content",
	"article",
	"main .content",
	".entry-content",
}

// extractContent resolves the article body in both forms: the source HTML and
// its flattened text. The embedded state carries the body as an HTML string;
// the DOM fallback keeps the matched container's markup.
func extractContent(p *page) (markup, text string) {
	if raw := p.stateString("content", "contentRendered", "contentHtml", "body", "html"); raw != "" {
		return raw, textFromHTML(raw)
	}

	for _, sel := range contentSelectors {
		found := p.doc.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		if text := selectionText(found); text != "" {
			markup, _ := goquery.OuterHtml(found)
			return markup, text
		}
	}
	return "", ""
}

// extractSourceID pulls the CMS identifier out of the embedded state. The
// orchestrator falls back to the URL slug when no id is present.
func extractSourceID(p *page) string {
	if p.post == nil {
		return ""
	}
	switch id := p.post["id"].(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatInt(int64(id), 10)
	}
	if id, ok := p.post["sgeId"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

var categoryChain = []strategy{
	func(p *page) string {
		if p.post == nil {
			return ""
		}
		switch cat := p.post["category"].(type) {
		case string:
			return cat
		case map[string]any:
			if name, ok := cat["name"].(string); ok && name != "" {
				return name
			}
			if title, ok := cat["title"].(string); ok {
				return title
			}
		}
		return ""
	},
	func(p *page) string { return p.doc.Find(`a[href*="/category/"]`).First().Text() },
}

var featuredImageChain = []strategy{
	func(p *page) string {
		if p.post == nil {
			return ""
		}
		switch img := p.post["featuredImage"].(type) {
		case string:
			return img
		case map[string]any:
			if u, ok := img["url"].(string); ok && u != "" {
				return u
			}
			if src, ok := img["src"].(string); ok {
				return src
			}
		}
		return ""
	},
	func(p *page) string { return metaContent(p.doc, `meta[property="og:image"]`) },
}

var readTimeChain = []strategy{
	func(p *page) string {
		if p.post == nil {
			return ""
		}
		switch rt := p.post["readTime"].(type) {
		case string:
			return rt
		case float64:
			return fmt.Sprintf("%d min", int(rt))
		}
		if rt, ok := p.post["readingTime"].(string); ok {
			return rt
		}
		return ""
	},
	func(p *page) string { return p.doc.Find(".read-time, .reading-time").First().Text() },
}

func extractAuthor(p *page) (name, email string) {
	if p.post != nil {
		switch a := p.post["author"].(type) {
		case string:
			name = a
		case map[string]any:
			if n, ok := a["name"].(string); ok && n != "" {
				name = n
			} else if n, ok := a["displayName"].(string); ok {
				name = n
			}
			if e, ok := a["email"].(string); ok {
				email = e
			}
		}
	}
	if name == "" {
		name = strings.TrimSpace(p.doc.Find(`.author-name, .author, [rel="author"]`).First().Text())
	}
	return name, email
}

func extractTags(p *page) []string {
	var tags []string
	seen := make(map[string]struct{})

	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	if p.post != nil {
		if raw, ok := p.post["tags"].([]any); ok {
			for _, item := range raw {
				switch t := item.(type) {
				case string:
					add(t)
				case map[string]any:
					if name, ok := t["name"].(string); ok {
						add(name)
					} else if label, ok := t["label"].(string); ok {
						add(label)
					}
				}
			}
		}
	}

	p.doc.Find(`a[href*="/tag/"]`).Each(func(_ int, sel *goquery.Selection) {
		add(sel.Text())
	})

	return tags
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}

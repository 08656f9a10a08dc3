package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"sge_scraper/internal/domain"
)

// page bundles the three views the extractors read from: the parsed DOM, the
// post object out of the embedded Next.js state, and the raw HTML for
// regex scans.
type page struct {
	url  string
	html string
	doc  *goquery.Document
	post map[string]any
}

func newPage(rendered *domain.RenderedPage) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return &page{
		url:  rendered.URL,
		html: rendered.HTML,
		doc:  doc,
		post: postFromState(rendered.State),
	}, nil
}

// postFromState digs props.pageProps.post (or .article) out of the raw
// __NEXT_DATA__ payload. Returns nil when anything along the path is missing.
func postFromState(state json.RawMessage) map[string]any {
	if len(state) == 0 {
		return nil
	}

	var root map[string]any
	if err := json.Unmarshal(state, &root); err != nil {
		return nil
	}

	props, _ := root["props"].(map[string]any)
	pageProps, _ := props["pageProps"].(map[string]any)
	if pageProps == nil {
		return nil
	}

	if post, ok := pageProps["post"].(map[string]any); ok {
		return post
	}
	if article, ok := pageProps["article"].(map[string]any); ok {
		return article
	}
	return nil
}

// stateString returns the first non-empty string value among the given keys.
// A value of shape {"rendered": "..."} is unwrapped.
func (p *page) stateString(keys ...string) string {
	if p.post == nil {
		return ""
	}
	for _, key := range keys {
		if s := stringOrRendered(p.post[key]); s != "" {
			return s
		}
	}
	return ""
}

func stringOrRendered(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		if r, ok := val["rendered"].(string); ok {
			return strings.TrimSpace(r)
		}
	}
	return ""
}

// textFromHTML flattens an HTML fragment to plain text, joining block
// segments with newlines.
func textFromHTML(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	var parts []string
	for _, n := range nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, "\n")
}

func selectionText(sel *goquery.Selection) string {
	var parts []string
	for _, n := range sel.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, "\n")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

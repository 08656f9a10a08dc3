package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sge_scraper/internal/domain"
)

var (
	tiktokVideoRe = regexp.MustCompile(`https?://(?:www\.)?tiktok\.com/@[\w.-]+/video/\d+`)
	tiktokUserRe  = regexp.MustCompile(`tiktok\.com/@([\w.-]+)`)

	instagramPostRe = regexp.MustCompile(`https?://(?:www\.)?instagram\.com/(?:reel|p|tv)/[\w-]+`)

	tweetURLRe  = regexp.MustCompile(`https?://(?:www\.)?(?:twitter\.com|x\.com)/\w+/status/\d+`)
	tweetUserRe = regexp.MustCompile(`(?:twitter\.com|x\.com)/(\w+)/status/`)

	youtubeIDPatterns = []struct {
		re    *regexp.Regexp
		short bool
	}{
		{regexp.MustCompile(`youtube\.com/embed/([\w-]{11})`), false},
		{regexp.MustCompile(`youtube\.com/watch\?v=([\w-]{11})`), false},
		{regexp.MustCompile(`youtu\.be/([\w-]{11})`), false},
		{regexp.MustCompile(`youtube\.com/shorts/([\w-]{11})`), true},
	}
)

const maxCaptionLen = 500

// extractSocial scans the page for embedded social items, platform by
// platform in a fixed order. Gated embeds often exist only inside the state
// payload's content HTML, so every strategy runs over the rendered DOM and
// the state content alike: structural embeds, anchor links, then a raw-text
// scan over the combined blob. A shared per-platform seen set keeps positions
// dense and collapses duplicates to the first strategy that found them.
func extractSocial(p *page) []domain.SocialContent {
	c := &collector{seen: make(map[domain.Platform]map[string]struct{})}

	docs := []*goquery.Document{p.doc}
	blob := p.html
	if raw := p.stateString("content", "contentRendered", "contentHtml", "body", "html"); raw != "" {
		blob += "\n" + raw
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			docs = append(docs, doc)
		}
	}

	c.tiktok(docs, blob)
	c.instagram(docs, blob)
	c.twitter(docs, blob)
	c.youtube(docs, blob)
	c.screenshots(docs)

	return c.items
}

type collector struct {
	items []domain.SocialContent
	seen  map[domain.Platform]map[string]struct{}
}

// mark records a key for a platform; returns false when already seen.
func (c *collector) mark(platform domain.Platform, key string) bool {
	set, ok := c.seen[platform]
	if !ok {
		set = make(map[string]struct{})
		c.seen[platform] = set
	}
	if _, dup := set[key]; dup {
		return false
	}
	set[key] = struct{}{}
	return true
}

func (c *collector) add(item domain.SocialContent) {
	item.Position = len(c.items)
	c.items = append(c.items, item)
}

// embedMarkup serializes a structural embed element so the original markup
// survives alongside the parsed fields.
func embedMarkup(sel *goquery.Selection) *string {
	markup, err := goquery.OuterHtml(sel)
	if err != nil {
		return nil
	}
	return optional(markup)
}

func clipCaption(text string) *string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) > maxCaptionLen {
		text = text[:maxCaptionLen]
	}
	return &text
}

func (c *collector) tiktok(docs []*goquery.Document, blob string) {
	add := func(url string, caption, markup *string) {
		url = strings.TrimSpace(url)
		if url == "" || !c.mark(domain.PlatformTikTok, url) {
			return
		}
		item := domain.SocialContent{
			Platform:    domain.PlatformTikTok,
			ContentType: "video",
			URL:         url,
			Caption:     caption,
			EmbedHTML:   markup,
		}
		if m := tiktokUserRe.FindStringSubmatch(url); m != nil {
			item.Username = optional(m[1])
		}
		c.add(item)
	}

	for _, doc := range docs {
		doc.Find("blockquote.tiktok-embed").Each(func(_ int, sel *goquery.Selection) {
			markup := embedMarkup(sel)
			if cite, ok := sel.Attr("cite"); ok && cite != "" {
				add(cite, nil, markup)
				return
			}
			if id, ok := sel.Attr("data-video-id"); ok && id != "" {
				add("https://www.tiktok.com/video/"+id, nil, markup)
			}
		})
	}

	for _, doc := range docs {
		doc.Find(`a[href*="tiktok.com"]`).Each(func(_ int, sel *goquery.Selection) {
			href := sel.AttrOr("href", "")
			if strings.Contains(href, "/video/") {
				add(href, clipCaption(sel.Text()), nil)
			}
		})
	}

	for _, url := range tiktokVideoRe.FindAllString(blob, -1) {
		add(url, nil, nil)
	}
}

func (c *collector) instagram(docs []*goquery.Document, blob string) {
	add := func(url string, caption, markup *string) {
		url = strings.TrimSpace(url)
		if url == "" || !c.mark(domain.PlatformInstagram, url) {
			return
		}
		contentType := "post"
		if strings.Contains(url, "/reel/") || strings.Contains(url, "/tv/") {
			contentType = "video"
		}
		item := domain.SocialContent{
			Platform:    domain.PlatformInstagram,
			ContentType: contentType,
			URL:         url,
			Caption:     caption,
			EmbedHTML:   markup,
		}
		if user := instagramUsername(url); user != "" {
			item.Username = optional(user)
		}
		c.add(item)
	}

	for _, doc := range docs {
		doc.Find("blockquote.instagram-media").Each(func(_ int, sel *goquery.Selection) {
			markup := embedMarkup(sel)
			if link, ok := sel.Attr("data-instgrm-permalink"); ok && link != "" {
				add(link, nil, markup)
				return
			}
			if href, ok := sel.Find("a").First().Attr("href"); ok {
				add(href, nil, markup)
			}
		})
	}

	for _, doc := range docs {
		doc.Find(`a[href*="instagram.com"]`).Each(func(_ int, sel *goquery.Selection) {
			href := sel.AttrOr("href", "")
			if strings.Contains(href, "/p/") || strings.Contains(href, "/reel/") || strings.Contains(href, "/tv/") {
				add(href, clipCaption(sel.Text()), nil)
			}
		})
	}

	for _, url := range instagramPostRe.FindAllString(blob, -1) {
		add(url, nil, nil)
	}
}

// instagramUsername pulls the account out of profile-prefixed URLs like
// instagram.com/somebody/reel/abc. Canonical shortcode URLs have no account
// segment, so most items come back without one.
func instagramUsername(url string) string {
	idx := strings.Index(url, "instagram.com/")
	if idx < 0 {
		return ""
	}
	path := url[idx+len("instagram.com/"):]
	for _, segment := range strings.Split(path, "/") {
		switch segment {
		case "", "p", "reel", "tv", "stories":
			return ""
		default:
			if strings.ContainsAny(segment, "?#") {
				return ""
			}
			// Only a profile-first URL reaches here.
			rest := path[strings.Index(path, segment)+len(segment):]
			if strings.Contains(rest, "/p/") || strings.Contains(rest, "/reel/") || strings.Contains(rest, "/tv/") {
				return segment
			}
			return ""
		}
	}
	return ""
}

func (c *collector) twitter(docs []*goquery.Document, blob string) {
	add := func(url string, caption, markup *string) {
		url = strings.TrimSpace(url)
		if url == "" || !c.mark(domain.PlatformTwitter, url) {
			return
		}
		item := domain.SocialContent{
			Platform:    domain.PlatformTwitter,
			ContentType: "tweet",
			URL:         url,
			Caption:     caption,
			EmbedHTML:   markup,
		}
		if m := tweetUserRe.FindStringSubmatch(url); m != nil {
			item.Username = optional(m[1])
		}
		c.add(item)
	}

	for _, doc := range docs {
		doc.Find("blockquote.twitter-tweet").Each(func(_ int, sel *goquery.Selection) {
			var tweetURL string
			sel.Find(`a[href*="/status/"]`).Each(func(_ int, a *goquery.Selection) {
				tweetURL = a.AttrOr("href", tweetURL)
			})
			if tweetURL != "" {
				add(tweetURL, clipCaption(sel.Text()), embedMarkup(sel))
			}
		})
	}

	for _, doc := range docs {
		doc.Find(`iframe[src*="platform.twitter.com"], iframe[src*="platform.x.com"]`).Each(func(_ int, sel *goquery.Selection) {
			if src := sel.AttrOr("src", ""); src != "" {
				add(src, nil, embedMarkup(sel))
			}
		})
	}

	for _, doc := range docs {
		doc.Find(`a[href*="twitter.com"], a[href*="x.com"]`).Each(func(_ int, sel *goquery.Selection) {
			href := sel.AttrOr("href", "")
			if tweetURLRe.MatchString(href) {
				add(tweetURLRe.FindString(href), clipCaption(sel.Text()), nil)
			}
		})
	}

	for _, url := range tweetURLRe.FindAllString(blob, -1) {
		add(url, nil, nil)
	}
}

func (c *collector) youtube(docs []*goquery.Document, blob string) {
	addID := func(id string, isShort bool, caption, markup *string) {
		if id == "" || !c.mark(domain.PlatformYouTube, id) {
			return
		}
		contentType := "video"
		if isShort {
			contentType = "short"
		}
		c.add(domain.SocialContent{
			Platform:     domain.PlatformYouTube,
			ContentType:  contentType,
			URL:          "https://www.youtube.com/watch?v=" + id,
			EmbedURL:     optional("https://www.youtube.com/embed/" + id),
			EmbedHTML:    markup,
			Caption:      caption,
			ThumbnailURL: optional("https://img.youtube.com/vi/" + id + "/maxresdefault.jpg"),
		})
	}

	for _, doc := range docs {
		doc.Find(`iframe[src*="youtube.com"], iframe[src*="youtu.be"]`).Each(func(_ int, sel *goquery.Selection) {
			if id, isShort := youtubeVideoID(sel.AttrOr("src", "")); id != "" {
				addID(id, isShort, nil, embedMarkup(sel))
			}
		})
	}

	for _, doc := range docs {
		doc.Find(`a[href*="youtube.com"], a[href*="youtu.be"]`).Each(func(_ int, sel *goquery.Selection) {
			if id, isShort := youtubeVideoID(sel.AttrOr("href", "")); id != "" {
				addID(id, isShort, clipCaption(sel.Text()), nil)
			}
		})
	}

	for _, pat := range youtubeIDPatterns {
		for _, m := range pat.re.FindAllStringSubmatch(blob, -1) {
			addID(m[1], pat.short, nil, nil)
		}
	}
}

func youtubeVideoID(s string) (id string, short bool) {
	for _, p := range youtubeIDPatterns {
		if m := p.re.FindStringSubmatch(s); m != nil {
			return m[1], p.short
		}
	}
	return "", false
}

// screenshots covers platforms with no embeddable player: articles include
// them as plain images whose alt text or filename names the platform.
func (c *collector) screenshots(docs []*goquery.Document) {
	for _, doc := range docs {
		doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
			src := sel.AttrOr("src", "")
			alt := sel.AttrOr("alt", "")
			haystack := strings.ToLower(src + " " + alt)

			var platform domain.Platform
			switch {
			case strings.Contains(haystack, "facebook"):
				platform = domain.PlatformFacebook
			case strings.Contains(haystack, "linkedin"):
				platform = domain.PlatformLinkedIn
			default:
				return
			}

			if src == "" || !c.mark(platform, src) {
				return
			}

			item := domain.SocialContent{
				Platform:    platform,
				ContentType: "screenshot",
				URL:         src,
			}
			if alt != "" {
				item.Caption = optional(alt)
			}
			c.add(item)
		})
	}
}

package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sge_scraper/internal/domain"
)

type ArticleExtractTestSuite struct {
	suite.Suite
	extractor *Extractor
}

func (s *ArticleExtractTestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.extractor = New(logger)
}

func TestArticleExtractTestSuite(t *testing.T) {
	suite.Run(t, new(ArticleExtractTestSuite))
}

func stateWithPost(post map[string]any) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"props": map[string]any{
			"pageProps": map[string]any{"post": post},
		},
	})
	return raw
}

func (s *ArticleExtractTestSuite) extract(html string, state json.RawMessage) *domain.Article {
	article, err := s.extractor.Extract(&domain.RenderedPage{
		URL:   "https://www.socialgrowthengineers.com/test-post",
		HTML:  html,
		State: state,
	})
	s.Require().NoError(err)
	return article
}

func (s *ArticleExtractTestSuite) TestTitle_FromState() {
	article := s.extract(
		`<html><body><h1>DOM Title</h1></body></html>`,
		stateWithPost(map[string]any{"title": "State Title"}),
	)
	s.Equal("State Title", article.Title)
}

func (s *ArticleExtractTestSuite) TestTitle_FallsBackToHeading() {
	article := s.extract(
		`<html><head><title>Doc Title</title></head><body><h1> DOM Title </h1></body></html>`,
		nil,
	)
	s.Equal("DOM Title", article.Title)
}

func (s *ArticleExtractTestSuite) TestTitle_FallsBackToDocTitle() {
	article := s.extract(
		`<html><head><title>Doc Title</title></head><body><p>no heading</p></body></html>`,
		nil,
	)
	s.Equal("Doc Title", article.Title)
}

func (s *ArticleExtractTestSuite) TestTitle_DefaultsToUntitled() {
	article := s.extract(`<html><body></body></html>`, nil)
	s.Equal("Untitled", article.Title)
}

func (s *ArticleExtractTestSuite) TestSubtitle_StateThenMeta() {
	article := s.extract(
		`<html><head><meta name="description" content="Meta subtitle"></head><body></body></html>`,
		stateWithPost(map[string]any{"excerpt": "State subtitle"}),
	)
	s.Require().NotNil(article.Subtitle)
	s.Equal("State subtitle", *article.Subtitle)

	article = s.extract(
		`<html><head><meta name="description" content="Meta subtitle"></head><body></body></html>`,
		nil,
	)
	s.Require().NotNil(article.Subtitle)
	s.Equal("Meta subtitle", *article.Subtitle)
}

func (s *ArticleExtractTestSuite) TestContent_FromStateKeepsBothForms() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"content": "<p>First para</p><p>Second para</p>"}),
	)
	s.Require().NotNil(article.ContentHTML)
	s.Equal("<p>First para</p><p>Second para</p>", *article.ContentHTML)
	s.Require().NotNil(article.ContentText)
	s.Equal("First para\nSecond para", *article.ContentText)
}

func (s *ArticleExtractTestSuite) TestContent_UnwrapsRendered() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{
			"content": map[string]any{"rendered": "<p>Rendered body</p>"},
		}),
	)
	s.Require().NotNil(article.ContentText)
	s.Equal("Rendered body", *article.ContentText)
}

func (s *ArticleExtractTestSuite) TestContent_FromDOMSelectors() {
	article := s.extract(
		`<html><body><div class="article-content"><p>From the DOM</p><script>ignored()</script></div></body></html>`,
		nil,
	)
	s.Require().NotNil(article.ContentText)
	s.Equal("From the DOM", *article.ContentText)
	s.Require().NotNil(article.ContentHTML)
	s.Contains(*article.ContentHTML, `class="article-content"`)
}

func (s *ArticleExtractTestSuite) TestSourceID_FromStateNumericID() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"id": float64(12345), "title": "T"}),
	)
	s.Equal("12345", article.SourceID)
}

func (s *ArticleExtractTestSuite) TestSourceID_FromStateStringID() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"id": " abc-123 "}),
	)
	s.Equal("abc-123", article.SourceID)
}

func (s *ArticleExtractTestSuite) TestSourceID_FallsBackToSgeID() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"sgeId": "sge-99"}),
	)
	s.Equal("sge-99", article.SourceID)
}

func (s *ArticleExtractTestSuite) TestSourceID_EmptyWithoutState() {
	article := s.extract(`<html><body><h1>No State</h1></body></html>`, nil)
	s.Empty(article.SourceID)
}

func (s *ArticleExtractTestSuite) TestRawStateRetained() {
	state := stateWithPost(map[string]any{"title": "T"})
	article := s.extract(`<html><body></body></html>`, state)
	s.Equal(state, article.RawState)
}

func (s *ArticleExtractTestSuite) TestCategory_ObjectAndLink() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"category": map[string]any{"name": "Growth"}}),
	)
	s.Require().NotNil(article.Category)
	s.Equal("Growth", *article.Category)

	article = s.extract(
		`<html><body><a href="/category/strategy">Strategy</a></body></html>`,
		nil,
	)
	s.Require().NotNil(article.Category)
	s.Equal("Strategy", *article.Category)
}

func (s *ArticleExtractTestSuite) TestTags_StateAndDOMDeduplicated() {
	article := s.extract(
		`<html><body><a href="/tag/tiktok">tiktok</a><a href="/tag/reels">reels</a></body></html>`,
		stateWithPost(map[string]any{
			"tags": []any{"tiktok", map[string]any{"name": "growth"}},
		}),
	)
	s.Equal([]string{"tiktok", "growth", "reels"}, article.Tags)
}

func (s *ArticleExtractTestSuite) TestAuthor_StateObjectWithEmail() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{
			"author": map[string]any{"name": "Jamie Doe", "email": "jamie@example.com"},
		}),
	)
	s.Require().NotNil(article.Author)
	s.Equal("Jamie Doe", *article.Author)
	s.Require().NotNil(article.AuthorEmail)
	s.Equal("jamie@example.com", *article.AuthorEmail)
}

func (s *ArticleExtractTestSuite) TestAuthor_FromDOM() {
	article := s.extract(
		`<html><body><span class="author-name">Alex Writer</span></body></html>`,
		nil,
	)
	s.Require().NotNil(article.Author)
	s.Equal("Alex Writer", *article.Author)
}

func (s *ArticleExtractTestSuite) TestFeaturedImage_StateThenOGImage() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{
			"featuredImage": map[string]any{"url": "https://cdn.example.com/hero.jpg"},
		}),
	)
	s.Require().NotNil(article.FeaturedImage)
	s.Equal("https://cdn.example.com/hero.jpg", *article.FeaturedImage)

	article = s.extract(
		`<html><head><meta property="og:image" content="https://cdn.example.com/og.jpg"></head><body></body></html>`,
		nil,
	)
	s.Require().NotNil(article.FeaturedImage)
	s.Equal("https://cdn.example.com/og.jpg", *article.FeaturedImage)
}

func (s *ArticleExtractTestSuite) TestPublishedAt_FromState() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"publishedAt": "2026-08-20T10:00:00Z"}),
	)
	s.Require().NotNil(article.PublishedAt)
	s.Equal(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), article.PublishedAt.UTC())
}

func (s *ArticleExtractTestSuite) TestPublishedAt_FromJSONLD() {
	html := `<html><head><script type="application/ld+json">{"@type":"Article","datePublished":"2026-08-19"}</script></head><body></body></html>`
	article := s.extract(html, nil)
	s.Require().NotNil(article.PublishedAt)
	s.Equal("2026-08-19", article.PublishedAt.Format("2006-01-02"))
}

func (s *ArticleExtractTestSuite) TestPublishedAt_FromMetaTag() {
	html := `<html><head><meta property="article:published_time" content="2026-08-18T08:00:00Z"></head><body></body></html>`
	article := s.extract(html, nil)
	s.Require().NotNil(article.PublishedAt)
	s.Equal("2026-08-18", article.PublishedAt.Format("2006-01-02"))
}

func (s *ArticleExtractTestSuite) TestPublishedAt_FromTimeElement() {
	html := `<html><body><time datetime="2026-08-17T12:00:00Z">August 17</time></body></html>`
	article := s.extract(html, nil)
	s.Require().NotNil(article.PublishedAt)
	s.Equal("2026-08-17", article.PublishedAt.Format("2006-01-02"))
}

func (s *ArticleExtractTestSuite) TestPublishedAt_FromBodyText() {
	html := `<html><body><article><p>Published on Aug 16, 2026 by the team.</p></article></body></html>`
	article := s.extract(html, nil)
	s.Require().NotNil(article.PublishedAt)
	s.Equal("2026-08-16", article.PublishedAt.Format("2006-01-02"))
}

func (s *ArticleExtractTestSuite) TestPublishedAt_UnparseableIsAbsent() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"publishedAt": "not a date at all %%"}),
	)
	s.Nil(article.PublishedAt)
}

func (s *ArticleExtractTestSuite) TestReadTime_NumberFormatted() {
	article := s.extract(
		`<html><body></body></html>`,
		stateWithPost(map[string]any{"readTime": float64(7)}),
	)
	s.Require().NotNil(article.ReadTime)
	s.Equal("7 min", *article.ReadTime)
}

func (s *ArticleExtractTestSuite) TestStatePrefersPostOverArticleKey() {
	raw, _ := json.Marshal(map[string]any{
		"props": map[string]any{
			"pageProps": map[string]any{
				"article": map[string]any{"title": "Article Key Title"},
			},
		},
	})
	article := s.extract(`<html><body></body></html>`, raw)
	s.Equal("Article Key Title", article.Title)
}

func (s *ArticleExtractTestSuite) TestMalformedStateIgnored() {
	article := s.extract(
		fmt.Sprintf(`<html><body><h1>%s</h1></body></html>`, "Recovered Title"),
		json.RawMessage(`{"props": nonsense`),
	)
	s.Equal("Recovered Title", article.Title)
}

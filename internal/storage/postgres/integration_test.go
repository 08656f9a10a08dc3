//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"sge_scraper/internal/domain"
	"sge_scraper/testdata/utils"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_articles.up.sql"),
			filepath.Join(migrationsPath, "002_create_social_contents.up.sql"),
			filepath.Join(migrationsPath, "003_create_scrape_sessions.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM social_contents")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM articles")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM scrape_sessions")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestArticleStore_Upsert_Insert() {
	store := NewArticleStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	article := &domain.Article{
		SourceID:      "src-1",
		Slug:          "test-article",
		URL:           "https://example.com/test-article",
		Title:         "Test Article",
		Subtitle:      utils.Ptr("Test Subtitle"),
		ContentHTML:   utils.Ptr("<p>Test Body</p>"),
		ContentText:   utils.Ptr("Test Body"),
		Category:      utils.Ptr("growth"),
		Author:        utils.Ptr("Test Author"),
		AuthorEmail:   utils.Ptr("author@example.com"),
		FeaturedImage: utils.Ptr("https://example.com/image.jpg"),
		ReadTime:      utils.Ptr("5 min"),
		PublishedAt:   utils.Ptr(now),
		Tags:          []string{"tag1", "tag2"},
		RawState:      []byte(`{"props":{"pageProps":{"post":{"id":"src-1"}}}}`),
	}

	id, isNew, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.Greater(id, int64(0))
	s.True(isNew)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM articles WHERE slug = $1", "test-article")
	s.NoError(err)
	s.Equal(1, count)

	var rawID string
	err = s.db.GetContext(s.ctx, &rawID, "SELECT raw_state->'props'->'pageProps'->'post'->>'id' FROM articles WHERE id = $1", id)
	s.NoError(err)
	s.Equal("src-1", rawID)
}

func (s *PostgresIntegrationSuite) TestArticleStore_Upsert_UpdateKeepsID() {
	store := NewArticleStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	article := &domain.Article{
		SourceID:    "src-2",
		Slug:        "test-article",
		URL:         "https://example.com/test-article",
		Title:       "Original Title",
		PublishedAt: utils.Ptr(now),
	}
	id1, isNew, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.True(isNew)

	article.Title = "Updated Title"
	id2, isNew, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.False(isNew)
	s.Equal(id1, id2)

	var title string
	err = s.db.GetContext(s.ctx, &title, "SELECT title FROM articles WHERE id = $1", id1)
	s.NoError(err)
	s.Equal("Updated Title", title)
}

func (s *PostgresIntegrationSuite) TestArticleStore_Upsert_KeyedBySourceID() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		SourceID: "cms-42",
		Slug:     "original-slug",
		URL:      "https://example.com/original-slug",
		Title:    "Same Post",
	}
	id1, isNew, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.True(isNew)

	// The site renamed the URL; the CMS id stays the same.
	article.Slug = "renamed-slug"
	article.URL = "https://example.com/renamed-slug"
	id2, isNew, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.False(isNew)
	s.Equal(id1, id2)

	var slug string
	err = s.db.GetContext(s.ctx, &slug, "SELECT slug FROM articles WHERE id = $1", id1)
	s.NoError(err)
	s.Equal("renamed-slug", slug)
}

func (s *PostgresIntegrationSuite) TestArticleStore_Upsert_NullableFields() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		SourceID: "bare-article",
		Slug:     "bare-article",
		URL:      "https://example.com/bare-article",
		Title:    "Untitled",
	}

	id, isNew, err := store.Upsert(s.ctx, article)
	s.NoError(err)
	s.True(isNew)

	var subtitle *string
	err = s.db.GetContext(s.ctx, &subtitle, "SELECT subtitle FROM articles WHERE id = $1", id)
	s.NoError(err)
	s.Nil(subtitle)
}

func (s *PostgresIntegrationSuite) TestArticleStore_ExistingSlugs() {
	store := NewArticleStore(s.db)

	for _, slug := range []string{"first", "second", "third"} {
		article := &domain.Article{
			SourceID: slug,
			Slug:     slug,
			URL:      "https://example.com/" + slug,
			Title:    "Article",
		}
		_, _, err := store.Upsert(s.ctx, article)
		s.NoError(err)
	}

	slugs, err := store.ExistingSlugs(s.ctx)
	s.NoError(err)
	s.Len(slugs, 3)
	s.Contains(slugs, "first")
	s.Contains(slugs, "second")
	s.Contains(slugs, "third")
	s.NotContains(slugs, "fourth")
}

func (s *PostgresIntegrationSuite) TestArticleStore_ReplaceSocialContents() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		SourceID: "social-article",
		Slug:     "social-article",
		URL:      "https://example.com/social-article",
		Title:    "Social Article",
	}
	articleID, _, err := store.Upsert(s.ctx, article)
	s.NoError(err)

	items := []domain.SocialContent{
		{
			Platform:    domain.PlatformTikTok,
			ContentType: "video",
			URL:         "https://www.tiktok.com/@creator/video/123",
			Username:    utils.Ptr("creator"),
			Position:    0,
		},
		{
			Platform:    domain.PlatformYouTube,
			ContentType: "video",
			URL:         "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			EmbedURL:    utils.Ptr("https://www.youtube.com/embed/dQw4w9WgXcQ"),
			EmbedHTML:   utils.Ptr(`<iframe src="https://www.youtube.com/embed/dQw4w9WgXcQ"></iframe>`),
			Position:    1,
		},
	}
	err = store.ReplaceSocialContents(s.ctx, articleID, items)
	s.NoError(err)

	saved, err := store.GetSocialContents(s.ctx, articleID)
	s.NoError(err)
	s.Len(saved, 2)
	s.Equal(domain.PlatformTikTok, saved[0].Platform)
	s.Equal(domain.PlatformYouTube, saved[1].Platform)
	s.Require().NotNil(saved[0].Username)
	s.Equal("creator", *saved[0].Username)
	s.Require().NotNil(saved[1].EmbedHTML)
	s.Contains(*saved[1].EmbedHTML, "<iframe")
}

func (s *PostgresIntegrationSuite) TestArticleStore_ReplaceSocialContents_ReplacesOld() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		SourceID: "social-article",
		Slug:     "social-article",
		URL:      "https://example.com/social-article",
		Title:    "Social Article",
	}
	articleID, _, err := store.Upsert(s.ctx, article)
	s.NoError(err)

	first := []domain.SocialContent{
		{Platform: domain.PlatformTwitter, ContentType: "tweet", URL: "https://x.com/u/status/1", Position: 0},
		{Platform: domain.PlatformTwitter, ContentType: "tweet", URL: "https://x.com/u/status/2", Position: 1},
	}
	err = store.ReplaceSocialContents(s.ctx, articleID, first)
	s.NoError(err)

	second := []domain.SocialContent{
		{Platform: domain.PlatformInstagram, ContentType: "post", URL: "https://instagram.com/p/abc", Position: 0},
	}
	err = store.ReplaceSocialContents(s.ctx, articleID, second)
	s.NoError(err)

	saved, err := store.GetSocialContents(s.ctx, articleID)
	s.NoError(err)
	s.Len(saved, 1)
	s.Equal(domain.PlatformInstagram, saved[0].Platform)
}

func (s *PostgresIntegrationSuite) TestArticleStore_ReplaceSocialContents_Empty() {
	store := NewArticleStore(s.db)

	article := &domain.Article{
		SourceID: "social-article",
		Slug:     "social-article",
		URL:      "https://example.com/social-article",
		Title:    "Social Article",
	}
	articleID, _, err := store.Upsert(s.ctx, article)
	s.NoError(err)

	items := []domain.SocialContent{
		{Platform: domain.PlatformTwitter, ContentType: "tweet", URL: "https://x.com/u/status/1", Position: 0},
	}
	err = store.ReplaceSocialContents(s.ctx, articleID, items)
	s.NoError(err)

	err = store.ReplaceSocialContents(s.ctx, articleID, nil)
	s.NoError(err)

	saved, err := store.GetSocialContents(s.ctx, articleID)
	s.NoError(err)
	s.Len(saved, 0)
}

func (s *PostgresIntegrationSuite) TestSessionStore_CreateAndSave() {
	store := NewSessionStore(s.db)

	session, err := store.Create(s.ctx, "2026-08-20")
	s.NoError(err)
	s.Greater(session.ID, int64(0))
	s.Equal(domain.SessionRunning, session.Status)
	s.Equal("2026-08-20", session.TargetDate)

	finished := time.Now().Truncate(time.Microsecond)
	session.Status = domain.SessionCompleted
	session.Found = 6
	session.Scraped = 5
	session.New = 3
	session.Updated = 1
	session.Skipped = 1
	session.FinishedAt = &finished

	err = store.Save(s.ctx, session)
	s.NoError(err)

	var status string
	err = s.db.GetContext(s.ctx, &status, "SELECT status FROM scrape_sessions WHERE id = $1", session.ID)
	s.NoError(err)
	s.Equal("completed", status)

	var found int
	err = s.db.GetContext(s.ctx, &found, "SELECT articles_found FROM scrape_sessions WHERE id = $1", session.ID)
	s.NoError(err)
	s.Equal(6, found)
}

func (s *PostgresIntegrationSuite) TestSessionStore_LatestCompletedForDate_None() {
	store := NewSessionStore(s.db)

	session, err := store.LatestCompletedForDate(s.ctx, "2026-08-20")
	s.NoError(err)
	s.Nil(session)
}

func (s *PostgresIntegrationSuite) TestSessionStore_LatestCompletedForDate_IgnoresNonCompleted() {
	store := NewSessionStore(s.db)

	running, err := store.Create(s.ctx, "2026-08-20")
	s.NoError(err)
	s.NotNil(running)

	failed, err := store.Create(s.ctx, "2026-08-20")
	s.NoError(err)
	failed.Status = domain.SessionFailed
	err = store.Save(s.ctx, failed)
	s.NoError(err)

	session, err := store.LatestCompletedForDate(s.ctx, "2026-08-20")
	s.NoError(err)
	s.Nil(session)

	completed, err := store.Create(s.ctx, "2026-08-20")
	s.NoError(err)
	completed.Status = domain.SessionCompleted
	completed.New = 2
	err = store.Save(s.ctx, completed)
	s.NoError(err)

	session, err = store.LatestCompletedForDate(s.ctx, "2026-08-20")
	s.NoError(err)
	s.Require().NotNil(session)
	s.Equal(completed.ID, session.ID)
	s.Equal(2, session.New)
}

func (s *PostgresIntegrationSuite) TestSessionStore_LatestCompletedForDate_IgnoresZeroSuccess() {
	store := NewSessionStore(s.db)

	// Completed in name only: every article failed, nothing was persisted.
	// Such a session must not make the next run skip the date.
	barren, err := store.Create(s.ctx, "2026-08-20")
	s.NoError(err)
	barren.Status = domain.SessionCompleted
	barren.Found = 3
	barren.Scraped = 3
	barren.Failed = 3
	err = store.Save(s.ctx, barren)
	s.NoError(err)

	session, err := store.LatestCompletedForDate(s.ctx, "2026-08-20")
	s.NoError(err)
	s.Nil(session)

	fruitful, err := store.Create(s.ctx, "2026-08-20")
	s.NoError(err)
	fruitful.Status = domain.SessionCompleted
	fruitful.Found = 3
	fruitful.Updated = 1
	err = store.Save(s.ctx, fruitful)
	s.NoError(err)

	session, err = store.LatestCompletedForDate(s.ctx, "2026-08-20")
	s.NoError(err)
	s.Require().NotNil(session)
	s.Equal(fruitful.ID, session.ID)
	s.Equal(3, session.Found)
}

func (s *PostgresIntegrationSuite) TestSessionStore_LatestCompletedForDate_OtherDate() {
	store := NewSessionStore(s.db)

	other, err := store.Create(s.ctx, "2026-08-19")
	s.NoError(err)
	other.Status = domain.SessionCompleted
	other.New = 1
	err = store.Save(s.ctx, other)
	s.NoError(err)

	session, err := store.LatestCompletedForDate(s.ctx, "2026-08-20")
	s.NoError(err)
	s.Nil(session)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	store := NewArticleStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		article := &domain.Article{
			SourceID: "tx-article",
			Slug:     "tx-article",
			URL:      "https://example.com/tx-article",
			Title:    "Transaction Article",
		}
		id, _, err := store.Upsert(ctx, article)
		if err != nil {
			return err
		}
		return store.ReplaceSocialContents(ctx, id, []domain.SocialContent{
			{Platform: domain.PlatformYouTube, ContentType: "video", URL: "https://www.youtube.com/watch?v=abc12345678", Position: 0},
		})
	})
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM articles WHERE slug = $1", "tx-article")
	s.NoError(err)
	s.Equal(1, count)

	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM social_contents")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	store := NewArticleStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		article := &domain.Article{
			SourceID: "rollback-article",
			Slug:     "rollback-article",
			URL:      "https://example.com/rollback-article",
			Title:    "Should Rollback",
		}
		if _, _, err := store.Upsert(ctx, article); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM articles WHERE slug = $1", "rollback-article")
	s.NoError(err)
	s.Equal(0, count)
}

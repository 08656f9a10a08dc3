package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"sge_scraper/internal/domain"
)

// Discovery finds article URLs for the site.
type Discovery interface {
	DiscoverAll(ctx context.Context) ([]string, error)
	DiscoverForDate(ctx context.Context, date string) ([]string, error)
	Slug(url string) string
}

// Renderer produces the fully rendered page for a URL.
type Renderer interface {
	Render(ctx context.Context, url string) (*domain.RenderedPage, error)
}

// Extractor turns a rendered page into a domain article, social items
// included.
type Extractor interface {
	Extract(page *domain.RenderedPage) (*domain.Article, error)
}

// Authenticator answers whether a usable login session exists. The detail
// string carries the email on success and the reason on failure.
type Authenticator interface {
	HasValidSession() (bool, string)
}

type ArticleStore interface {
	Upsert(ctx context.Context, article *domain.Article) (int64, bool, error)
	ReplaceSocialContents(ctx context.Context, articleID int64, items []domain.SocialContent) error
	ExistingSlugs(ctx context.Context) (map[string]struct{}, error)
}

type SessionStore interface {
	Create(ctx context.Context, targetDate string) (*domain.ScrapeSession, error)
	Save(ctx context.Context, session *domain.ScrapeSession) error
	LatestCompletedForDate(ctx context.Context, targetDate string) (*domain.ScrapeSession, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, article *domain.Article, isNew bool) error
	Close() error
}

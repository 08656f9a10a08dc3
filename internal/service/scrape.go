package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sge_scraper/internal/config"
	"sge_scraper/internal/domain"
)

// ScrapeService orchestrates a full per-date scrape: discovery, dedup,
// render, extract, persist. One run at a time; a second caller gets a
// skipped result instead of queueing.
type ScrapeService struct {
	discovery Discovery
	renderer  Renderer
	extractor Extractor
	auth      Authenticator
	articles  ArticleStore
	sessions  SessionStore
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	config    config.ScrapeConfig

	mu sync.Mutex
}

func NewScrapeService(
	discovery Discovery,
	renderer Renderer,
	extractor Extractor,
	auth Authenticator,
	articles ArticleStore,
	sessions SessionStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.ScrapeConfig,
) *ScrapeService {
	return &ScrapeService{
		discovery: discovery,
		renderer:  renderer,
		extractor: extractor,
		auth:      auth,
		articles:  articles,
		sessions:  sessions,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("component", "scrape"),
		config:    cfg,
	}
}

// Run executes one scrape for the target date. Without Force, a date that
// already has a completed session returns immediately with no browser work.
func (s *ScrapeService) Run(ctx context.Context, opts domain.RunOptions) (*domain.ScrapeResult, error) {
	if !s.mu.TryLock() {
		return &domain.ScrapeResult{
			Status:     domain.RunSkipped,
			TargetDate: opts.TargetDate,
			Message:    "a scrape is already running",
		}, nil
	}
	defer s.mu.Unlock()

	targetDate := opts.TargetDate
	if targetDate == "" {
		targetDate = time.Now().UTC().Format("2006-01-02")
	}

	s.logger.Info("starting scrape",
		"target_date", targetDate,
		"limit", opts.Limit,
		"force", opts.Force,
	)

	if !opts.Force {
		existing, err := s.sessions.LatestCompletedForDate(ctx, targetDate)
		if err != nil {
			return nil, fmt.Errorf("check completed sessions: %w", err)
		}
		if existing != nil {
			s.logger.Info("date already scraped, skipping",
				"target_date", targetDate,
				"session_id", existing.ID,
			)
			return &domain.ScrapeResult{
				Status:     domain.RunSkipped,
				TargetDate: targetDate,
				Message:    "already scraped for this date",
				Session:    existing,
			}, nil
		}
	}

	urls, validateDates, err := s.discoverURLs(ctx, targetDate)
	if err != nil {
		return nil, err
	}

	urls, err = s.filterAndLimit(ctx, urls, opts)
	if err != nil {
		return nil, err
	}

	if ok, detail := s.auth.HasValidSession(); !ok {
		s.logger.Warn("no usable login session", "detail", detail)
		return &domain.ScrapeResult{
			Status:     domain.RunAuthRequired,
			TargetDate: targetDate,
			Message:    detail,
		}, nil
	}

	session, err := s.sessions.Create(ctx, targetDate)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Found = len(urls)

	result := s.scrapeAll(ctx, session, urls, targetDate, validateDates)

	finished := time.Now()
	session.FinishedAt = &finished
	if err := s.sessions.Save(ctx, session); err != nil {
		return result, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("scrape finished",
		"target_date", targetDate,
		"status", session.Status,
		"found", session.Found,
		"scraped", session.Scraped,
		"new", session.New,
		"updated", session.Updated,
		"skipped", session.Skipped,
		"failed", session.Failed,
	)

	return result, nil
}

// discoverURLs prefers the date-filtered sitemap view; when a date yields
// nothing (sparse lastmod data), it falls back to the full listing and lets
// per-article date validation sort it out.
func (s *ScrapeService) discoverURLs(ctx context.Context, targetDate string) ([]string, bool, error) {
	urls, err := s.discovery.DiscoverForDate(ctx, targetDate)
	if err != nil {
		return nil, false, fmt.Errorf("discover urls: %w", err)
	}
	if len(urls) > 0 {
		return urls, false, nil
	}

	s.logger.Info("no sitemap entries for date, falling back to full discovery",
		"target_date", targetDate,
	)
	urls, err = s.discovery.DiscoverAll(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("discover urls: %w", err)
	}
	return urls, true, nil
}

func (s *ScrapeService) filterAndLimit(ctx context.Context, urls []string, opts domain.RunOptions) ([]string, error) {
	if !opts.Force {
		existing, err := s.articles.ExistingSlugs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load existing slugs: %w", err)
		}

		filtered := urls[:0]
		for _, url := range urls {
			if _, ok := existing[s.discovery.Slug(url)]; !ok {
				filtered = append(filtered, url)
			}
		}
		urls = filtered
	}

	if opts.Limit > 0 && len(urls) > opts.Limit {
		urls = urls[:opts.Limit]
	}
	return urls, nil
}

func (s *ScrapeService) scrapeAll(ctx context.Context, session *domain.ScrapeSession, urls []string, targetDate string, validateDates bool) *domain.ScrapeResult {
	for i, url := range urls {
		if ctx.Err() != nil {
			msg := ctx.Err().Error()
			session.Error = &msg
			session.Status = domain.SessionFailed
			return &domain.ScrapeResult{
				Status:     domain.RunFailed,
				TargetDate: targetDate,
				Message:    msg,
				Session:    session,
			}
		}

		// The session can be cleared or expire underneath a long run;
		// stop rather than hammering login walls.
		if ok, detail := s.auth.HasValidSession(); !ok {
			s.logger.Warn("login session lost mid-run", "detail", detail)
			session.Status = domain.SessionBlocked
			session.Error = &detail
			return &domain.ScrapeResult{
				Status:     domain.RunAuthRequired,
				TargetDate: targetDate,
				Message:    detail,
				Session:    session,
			}
		}

		session.Scraped++
		s.scrapeOne(ctx, session, url, targetDate, validateDates)

		if s.config.ArticleDelay > 0 && i < len(urls)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(s.config.ArticleDelay):
			}
		}
	}

	session.Status = domain.SessionCompleted
	return &domain.ScrapeResult{
		Status:     domain.RunCompleted,
		TargetDate: targetDate,
		Message:    fmt.Sprintf("%d articles saved", session.Success()),
		Session:    session,
	}
}

func (s *ScrapeService) scrapeOne(ctx context.Context, session *domain.ScrapeSession, url, targetDate string, validateDate bool) {
	article, err := s.renderAndExtract(ctx, url)
	if err != nil {
		session.Failed++
		s.logger.Error("article scrape failed", "url", url, "error", err)
		return
	}

	if validateDate && !publishedOn(article, targetDate) {
		session.Skipped++
		s.logger.Debug("article not published on target date, skipping",
			"url", url,
			"target_date", targetDate,
		)
		return
	}

	isNew, err := s.saveArticle(ctx, article)
	if err != nil {
		session.Failed++
		s.logger.Error("article save failed", "url", url, "error", err)
		return
	}

	if isNew {
		session.New++
	} else {
		session.Updated++
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, article, isNew); err != nil {
			s.logger.Warn("publish failed", "slug", article.Slug, "error", err)
		}
	}
}

func (s *ScrapeService) renderAndExtract(ctx context.Context, url string) (*domain.Article, error) {
	page, err := s.renderer.Render(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	article, err := s.extractor.Extract(page)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	article.Slug = s.discovery.Slug(url)
	if article.SourceID == "" {
		article.SourceID = article.Slug
	}
	return article, nil
}

func (s *ScrapeService) saveArticle(ctx context.Context, article *domain.Article) (bool, error) {
	var isNew bool
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		id, created, err := s.articles.Upsert(txCtx, article)
		if err != nil {
			return fmt.Errorf("upsert article: %w", err)
		}
		article.ID = id
		isNew = created

		if err := s.articles.ReplaceSocialContents(txCtx, id, article.SocialContents); err != nil {
			return fmt.Errorf("replace social contents: %w", err)
		}
		return nil
	})
	return isNew, err
}

// ScrapeSingle renders and extracts one URL. With persist it also saves and
// publishes; with a target date it validates the publication date first.
func (s *ScrapeService) ScrapeSingle(ctx context.Context, url, targetDate string, persist bool) (*domain.Article, error) {
	if ok, detail := s.auth.HasValidSession(); !ok {
		return nil, fmt.Errorf("auth required: %s", detail)
	}

	article, err := s.renderAndExtract(ctx, url)
	if err != nil {
		return nil, err
	}

	if targetDate != "" && !publishedOn(article, targetDate) {
		return nil, fmt.Errorf("article not published on %s", targetDate)
	}

	if persist {
		isNew, err := s.saveArticle(ctx, article)
		if err != nil {
			return nil, err
		}
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, article, isNew); err != nil {
				s.logger.Warn("publish failed", "slug", article.Slug, "error", err)
			}
		}
	}

	return article, nil
}

// StatusForDate reports the last completed scrape for a date.
func (s *ScrapeService) StatusForDate(ctx context.Context, targetDate string) (*domain.ScrapeResult, error) {
	session, err := s.sessions.LatestCompletedForDate(ctx, targetDate)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	if session == nil {
		return &domain.ScrapeResult{
			Status:     domain.RunSkipped,
			TargetDate: targetDate,
			Message:    "no completed scrape for this date",
		}, nil
	}
	return &domain.ScrapeResult{
		Status:     domain.RunCompleted,
		TargetDate: targetDate,
		Message:    fmt.Sprintf("%d articles saved", session.Success()),
		Session:    session,
	}, nil
}

// publishedOn reports whether an article belongs to the target date. An
// article with no resolvable date passes: absence cannot disprove the date,
// and dropping it would silently lose content.
func publishedOn(article *domain.Article, targetDate string) bool {
	if article.PublishedAt == nil {
		return true
	}
	return article.PublishedAt.UTC().Format("2006-01-02") == targetDate
}

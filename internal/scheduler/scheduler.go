package scheduler

import (
	"context"
	"log/slog"
	"time"

	"sge_scraper/internal/domain"
)

// Scraper defines the interface for scrape operations.
type Scraper interface {
	Run(ctx context.Context, opts domain.RunOptions) (*domain.ScrapeResult, error)
}

type Scheduler struct {
	scraper    Scraper
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(scraper Scraper, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scraper:    scraper,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runScrape(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runScrape(ctx)
		}
	}
}

func (s *Scheduler) runScrape(ctx context.Context) {
	scrapeCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	// Each tick scrapes today's articles. Earlier dates are reachable
	// through the one-shot CLI mode.
	opts := domain.RunOptions{
		TargetDate: time.Now().UTC().Format("2006-01-02"),
	}

	result, err := s.scraper.Run(scrapeCtx, opts)
	if err != nil {
		s.logger.Error("scrape failed", "error", err)
		return
	}
	if result.Status == domain.RunAuthRequired {
		s.logger.Warn("scrape needs a fresh login session", "detail", result.Message)
	}
}

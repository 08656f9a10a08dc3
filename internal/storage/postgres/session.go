package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"sge_scraper/internal/domain"
)

type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create opens a new running session row for the target date.
func (s *SessionStore) Create(ctx context.Context, targetDate string) (*domain.ScrapeSession, error) {
	ex := GetExecutor(ctx, s.db)

	session := &domain.ScrapeSession{
		TargetDate: targetDate,
		Status:     domain.SessionRunning,
		StartedAt:  time.Now(),
	}

	err := ex.QueryRowxContext(ctx,
		`INSERT INTO scrape_sessions (target_date, status, started_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		session.TargetDate, session.Status, session.StartedAt,
	).Scan(&session.ID)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Save writes the session's current counters and status back to its row.
func (s *SessionStore) Save(ctx context.Context, session *domain.ScrapeSession) error {
	ex := GetExecutor(ctx, s.db)

	_, err := ex.ExecContext(ctx,
		`UPDATE scrape_sessions SET
			status = $1,
			articles_found = $2,
			scraped = $3,
			new_articles = $4,
			updated_articles = $5,
			skipped = $6,
			failed = $7,
			error = $8,
			finished_at = $9
		 WHERE id = $10`,
		session.Status,
		session.Found,
		session.Scraped,
		session.New,
		session.Updated,
		session.Skipped,
		session.Failed,
		session.Error,
		session.FinishedAt,
		session.ID,
	)
	return err
}

// LatestCompletedForDate returns the most recent completed session for the
// date, or nil when the date has never completed. A session counts only when
// it actually persisted something: a completed run where every article failed
// must not block the next attempt.
func (s *SessionStore) LatestCompletedForDate(ctx context.Context, targetDate string) (*domain.ScrapeSession, error) {
	ex := GetExecutor(ctx, s.db)

	var session domain.ScrapeSession
	err := sqlx.GetContext(ctx, ex, &session,
		`SELECT id, target_date, status, articles_found, scraped, new_articles,
			updated_articles, skipped, failed, error, started_at, finished_at
		 FROM scrape_sessions
		 WHERE target_date = $1 AND status = $2
		   AND new_articles + updated_articles > 0
		 ORDER BY started_at DESC
		 LIMIT 1`,
		targetDate, domain.SessionCompleted,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

package domain

import "time"

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	// SessionBlocked means the run stopped because the login session expired
	// mid-way. Terminal, so the row is never left open.
	SessionBlocked SessionStatus = "blocked"
)

// ScrapeSession is the durable record of one scrape run for one target date.
// Found is the number of URLs that entered the run after discovery and
// filtering, so New+Updated+Skipped+Failed never exceeds it.
type ScrapeSession struct {
	ID         int64         `db:"id"`
	TargetDate string        `db:"target_date"` // YYYY-MM-DD
	Status     SessionStatus `db:"status"`
	Found      int           `db:"articles_found"`
	Scraped    int           `db:"scraped"`
	New        int           `db:"new_articles"`
	Updated    int           `db:"updated_articles"`
	Skipped    int           `db:"skipped"`
	Failed     int           `db:"failed"`
	Error      *string       `db:"error"`
	StartedAt  time.Time     `db:"started_at"`
	FinishedAt *time.Time    `db:"finished_at"`
}

// Success is the number of articles persisted during the run.
func (s *ScrapeSession) Success() int {
	return s.New + s.Updated
}

type RunStatus string

const (
	RunSkipped      RunStatus = "skipped"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
	RunAuthRequired RunStatus = "auth_required"
)

// ScrapeResult is what a caller gets back from a scrape run or a status query.
type ScrapeResult struct {
	Status     RunStatus
	TargetDate string
	Message    string
	Session    *ScrapeSession
}

// RunOptions controls one orchestrated scrape run.
type RunOptions struct {
	TargetDate string // YYYY-MM-DD, defaults to today
	Limit      int    // 0 means unlimited
	Force      bool   // re-scrape even when a completed session exists
}

package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sge_scraper/internal/browser"
	"sge_scraper/internal/config"
)

// Session metadata file names inside the session directory.
const (
	loginStateFile  = "login_state.json"
	sessionDataFile = "session_data.json"
)

type State string

const (
	StateNone        State = "none"
	StatePending     State = "pending"
	StateEstablished State = "established"
)

// loginState is the persisted record of a code request that has not been
// verified yet.
type loginState struct {
	Email       string    `json:"email"`
	RequestedAt time.Time `json:"requested_at"`
}

// sessionData describes an established session and when it stops being
// trusted.
type sessionData struct {
	Email     string    `json:"email"`
	Method    string    `json:"method"` // "code", "cookies" or "tokens"
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Status is the caller-visible view of the auth state machine.
type Status struct {
	State       State
	Email       string
	ExpiresAt   *time.Time
	RequestedAt *time.Time
}

// Manager owns the login session files and the browser login flows. The
// state machine is entirely file-backed, so every process sharing the
// session directory sees the same state.
type Manager struct {
	cfg        config.AuthConfig
	site       config.SiteConfig
	browserCfg config.BrowserConfig
	dir        string
	logger     *slog.Logger
	loginSlots chan struct{}
}

func NewManager(cfg config.AuthConfig, site config.SiteConfig, browserCfg config.BrowserConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		site:       site,
		browserCfg: browserCfg,
		dir:        browserCfg.SessionDir,
		logger:     logger.With("component", "auth"),
		loginSlots: make(chan struct{}, cfg.LoginWorkers),
	}
}

// Status reports the current state: an unexpired pending code request wins
// over nothing, an unexpired established session wins over both.
func (m *Manager) Status() Status {
	if data, err := m.readSessionData(); err == nil && data != nil {
		if time.Now().Before(data.ExpiresAt) {
			return Status{
				State:     StateEstablished,
				Email:     data.Email,
				ExpiresAt: &data.ExpiresAt,
			}
		}
	}

	if pending, err := m.readLoginState(); err == nil && pending != nil {
		if time.Since(pending.RequestedAt) <= m.cfg.PendingTTL {
			return Status{
				State:       StatePending,
				Email:       pending.Email,
				RequestedAt: &pending.RequestedAt,
			}
		}
	}

	return Status{State: StateNone}
}

// HasValidSession is the cheap pre-scrape check: no browser work, just the
// session file and the clock.
func (m *Manager) HasValidSession() (bool, string) {
	data, err := m.readSessionData()
	if err != nil {
		return false, fmt.Sprintf("session unreadable: %v", err)
	}
	if data == nil {
		return false, "no login session"
	}
	if !time.Now().Before(data.ExpiresAt) {
		return false, fmt.Sprintf("session for %s expired at %s", data.Email, data.ExpiresAt.Format(time.RFC3339))
	}
	return true, data.Email
}

// ImportCookies establishes a session from externally captured cookies.
// Each cookie needs at least a name and value; domain and path default to
// the site.
func (m *Manager) ImportCookies(cookies []browser.Cookie, email string) error {
	if len(cookies) == 0 {
		return errors.New("no cookies supplied")
	}

	domain := siteDomain(m.site.BaseURL)
	state := &browser.StorageState{}
	for _, c := range cookies {
		if c.Name == "" || c.Value == "" {
			return fmt.Errorf("cookie missing name or value")
		}
		if c.Domain == "" {
			c.Domain = domain
		}
		if c.Path == "" {
			c.Path = "/"
		}
		state.Cookies = append(state.Cookies, c)
	}

	if err := browser.SaveState(filepath.Join(m.dir, browser.StorageStateFile), state); err != nil {
		return err
	}

	now := time.Now()
	if err := m.writeSessionData(&sessionData{
		Email:     email,
		Method:    "cookies",
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
	}); err != nil {
		return err
	}

	m.clearLoginState()
	m.logger.Info("session established from imported cookies",
		"cookies", len(state.Cookies),
		"email", email,
	)
	return nil
}

// ImportTokens establishes a session from an access/refresh token pair. The
// tokens land in localStorage for the site origin; the session expiry and,
// when not supplied, the email come from the access token's JWT claims.
func (m *Manager) ImportTokens(accessToken, refreshToken, email string) error {
	if accessToken == "" {
		return errors.New("access token required")
	}

	claimEmail, exp := decodeJWTClaims(accessToken)
	if email == "" {
		email = claimEmail
	}

	entries := []browser.NameValue{{Name: "access_token", Value: accessToken}}
	if refreshToken != "" {
		entries = append(entries, browser.NameValue{Name: "refresh_token", Value: refreshToken})
	}

	state := &browser.StorageState{
		Origins: []browser.Origin{{Origin: m.site.BaseURL, LocalStorage: entries}},
	}
	if err := browser.SaveState(filepath.Join(m.dir, browser.StorageStateFile), state); err != nil {
		return err
	}

	now := time.Now()
	expiresAt := now.Add(m.cfg.SessionTTL)
	if exp != nil {
		expiresAt = *exp
	}

	if err := m.writeSessionData(&sessionData{
		Email:     email,
		Method:    "tokens",
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return err
	}

	m.clearLoginState()
	m.logger.Info("session established from imported tokens",
		"email", email,
		"expires_at", expiresAt,
	)
	return nil
}

// ClearSession removes every site session file. TikTok files are untouched.
func (m *Manager) ClearSession() error {
	for _, name := range []string{loginStateFile, sessionDataFile, browser.StorageStateFile} {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	m.logger.Info("session cleared")
	return nil
}

func (m *Manager) readLoginState() (*loginState, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, loginStateFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state loginState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *Manager) writeLoginState(state *loginState) error {
	return writeJSON(filepath.Join(m.dir, loginStateFile), state)
}

func (m *Manager) clearLoginState() {
	_ = os.Remove(filepath.Join(m.dir, loginStateFile))
}

func (m *Manager) readSessionData() (*sessionData, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, sessionDataFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (m *Manager) writeSessionData(data *sessionData) error {
	return writeJSON(filepath.Join(m.dir, sessionDataFile), data)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func siteDomain(baseURL string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")
	return "." + strings.TrimPrefix(host, "www.")
}

// decodeJWTClaims pulls the email and expiry out of a JWT payload without
// verifying the signature; the token is only used to stamp local metadata.
func decodeJWTClaims(token string) (email string, exp *time.Time) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return "", nil
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil
	}

	var claims struct {
		Email string  `json:"email"`
		Exp   float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", nil
	}

	if claims.Exp > 0 {
		t := time.Unix(int64(claims.Exp), 0)
		exp = &t
	}
	return claims.Email, exp
}

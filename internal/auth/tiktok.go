package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sge_scraper/internal/browser"
)

const tiktokSessionFile = "tiktok_session.json"

// tiktokSession tracks the secondary TikTok login used when rendering pages
// with TikTok embeds that require an account. It lives next to the site
// session but expires on its own schedule.
type tiktokSession struct {
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	StorageStateExists bool      `json:"storage_state_exists"`
}

// TikTokSessionStatus reports whether a usable TikTok session exists.
func (m *Manager) TikTokSessionStatus() (bool, string) {
	data, err := os.ReadFile(filepath.Join(m.dir, tiktokSessionFile))
	if os.IsNotExist(err) {
		return false, "no tiktok session"
	}
	if err != nil {
		return false, fmt.Sprintf("tiktok session unreadable: %v", err)
	}

	var session tiktokSession
	if err := json.Unmarshal(data, &session); err != nil {
		return false, fmt.Sprintf("tiktok session corrupt: %v", err)
	}

	if !session.StorageStateExists {
		return false, "tiktok storage state missing"
	}
	if !time.Now().Before(session.ExpiresAt) {
		return false, fmt.Sprintf("tiktok session expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}
	return true, fmt.Sprintf("valid until %s", session.ExpiresAt.Format(time.RFC3339))
}

// ImportTikTokCookies stores externally captured TikTok cookies as the
// secondary session.
func (m *Manager) ImportTikTokCookies(cookies []browser.Cookie) error {
	if len(cookies) == 0 {
		return errors.New("no cookies supplied")
	}

	for i := range cookies {
		if cookies[i].Name == "" || cookies[i].Value == "" {
			return errors.New("cookie missing name or value")
		}
		if cookies[i].Domain == "" {
			cookies[i].Domain = ".tiktok.com"
		}
		if cookies[i].Path == "" {
			cookies[i].Path = "/"
		}
	}

	state := &browser.StorageState{Cookies: cookies}
	if err := browser.SaveState(filepath.Join(m.dir, browser.TikTokStorageStateFile), state); err != nil {
		return err
	}

	now := time.Now()
	session := tiktokSession{
		CreatedAt:          now,
		ExpiresAt:          now.Add(m.cfg.TikTokSessionTTL),
		StorageStateExists: true,
	}
	if err := writeJSON(filepath.Join(m.dir, tiktokSessionFile), &session); err != nil {
		return err
	}

	m.logger.Info("tiktok session established", "cookies", len(cookies), "expires_at", session.ExpiresAt)
	return nil
}

// ClearTikTokSession removes the TikTok session pair only.
func (m *Manager) ClearTikTokSession() error {
	for _, name := range []string{tiktokSessionFile, browser.TikTokStorageStateFile} {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	m.logger.Info("tiktok session cleared")
	return nil
}

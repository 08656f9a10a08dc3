package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Storage-state file names inside the session directory. The TikTok pair is
// kept separate so clearing the site session leaves it intact.
const (
	StorageStateFile       = "storage_state.json"
	TikTokStorageStateFile = "tiktok_storage_state.json"
)

// StorageState is the persisted browser session: cookies plus localStorage
// per origin.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

type Origin struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadState reads a storage-state file. A missing file is not an error; it
// returns (nil, nil).
func LoadState(path string) (*StorageState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read storage state: %w", err)
	}

	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse storage state: %w", err)
	}
	return &state, nil
}

func SaveState(path string, state *StorageState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write storage state: %w", err)
	}
	return nil
}

// applyCookies installs the persisted cookies into the browser before
// navigation. localStorage entries are applied separately after navigation
// because they are scoped to a loaded origin.
func applyCookies(state *StorageState) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range state.Cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				t := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				param = param.WithExpires(&t)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// ApplyLocalStorage writes the persisted localStorage entries for the given
// origin into the current page. Must run after navigating to that origin.
func ApplyLocalStorage(state *StorageState, origin string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, o := range state.Origins {
			if o.Origin != origin {
				continue
			}
			for _, item := range o.LocalStorage {
				script := fmt.Sprintf("localStorage.setItem(%q, %q)", item.Name, item.Value)
				if err := chromedp.Evaluate(script, nil).Do(ctx); err != nil {
					return fmt.Errorf("set localStorage %s: %w", item.Name, err)
				}
			}
		}
		return nil
	})
}

// CaptureState reads the browser's current cookies and the loaded page's
// localStorage into a StorageState.
func CaptureState(ctx context.Context, origin string) (*StorageState, error) {
	state := &StorageState{}

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		for _, c := range cookies {
			state.Cookies = append(state.Cookies, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: c.SameSite.String(),
			})
		}

		var entries [][]string
		script := `JSON.parse(JSON.stringify(Object.entries(localStorage)))`
		if err := chromedp.Evaluate(script, &entries).Do(ctx); err != nil {
			return fmt.Errorf("read localStorage: %w", err)
		}
		if len(entries) > 0 {
			o := Origin{Origin: origin}
			for _, e := range entries {
				if len(e) == 2 {
					o.LocalStorage = append(o.LocalStorage, NameValue{Name: e[0], Value: e[1]})
				}
			}
			state.Origins = append(state.Origins, o)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return state, nil
}

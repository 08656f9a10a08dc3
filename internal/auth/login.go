package auth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"sge_scraper/internal/browser"
)

// RequestCode opens the login page, submits the email, and records the
// pending state once the site confirms a code was sent.
func (m *Manager) RequestCode(ctx context.Context, email string) error {
	if email == "" {
		return errors.New("email required")
	}

	err := m.withLoginBrowser(ctx, func(tabCtx context.Context) error {
		if err := chromedp.Run(tabCtx, chromedp.Navigate(m.site.LoginURL)); err != nil {
			return fmt.Errorf("open login page: %w", err)
		}

		if err := m.submitEmail(tabCtx, email); err != nil {
			return err
		}

		if msg := m.errorText(tabCtx); msg != "" {
			return fmt.Errorf("login page rejected email: %s", msg)
		}

		if !m.onCodePage(tabCtx) {
			return errors.New("code entry page never appeared")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.writeLoginState(&loginState{Email: email, RequestedAt: time.Now()}); err != nil {
		return fmt.Errorf("record pending login: %w", err)
	}

	m.logger.Info("login code requested", "email", email)
	return nil
}

// VerifyCode replays the email step, enters the one-time code, and persists
// the browser session on success. Fails when the pending request is older
// than the pending TTL.
func (m *Manager) VerifyCode(ctx context.Context, code string) error {
	if code == "" {
		return errors.New("code required")
	}

	pending, err := m.readLoginState()
	if err != nil {
		return fmt.Errorf("read pending login: %w", err)
	}
	if pending == nil {
		return errors.New("no pending login, request a code first")
	}
	if time.Since(pending.RequestedAt) > m.cfg.PendingTTL {
		m.clearLoginState()
		return errors.New("login request expired, request a new code")
	}

	err = m.withLoginBrowser(ctx, func(tabCtx context.Context) error {
		if err := chromedp.Run(tabCtx, chromedp.Navigate(m.site.LoginURL)); err != nil {
			return fmt.Errorf("open login page: %w", err)
		}

		if err := m.submitEmail(tabCtx, pending.Email); err != nil {
			return err
		}

		if err := m.submitCode(tabCtx, code); err != nil {
			return err
		}

		if msg := m.errorText(tabCtx); msg != "" {
			return fmt.Errorf("code rejected: %s", msg)
		}

		if !m.isLoggedIn(tabCtx) {
			return errors.New("login did not complete")
		}

		state, err := browser.CaptureState(tabCtx, m.site.BaseURL)
		if err != nil {
			return fmt.Errorf("capture session: %w", err)
		}
		return browser.SaveState(filepath.Join(m.dir, browser.StorageStateFile), state)
	})
	if err != nil {
		return err
	}

	now := time.Now()
	if err := m.writeSessionData(&sessionData{
		Email:     pending.Email,
		Method:    "code",
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
	}); err != nil {
		return fmt.Errorf("record session: %w", err)
	}

	m.clearLoginState()
	m.logger.Info("login completed", "email", pending.Email)
	return nil
}

// withLoginBrowser runs fn inside a fresh browser behind the login
// semaphore, so at most LoginWorkers flows run at once.
func (m *Manager) withLoginBrowser(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case m.loginSlots <- struct{}{}:
		defer func() { <-m.loginSlots }()
	case <-ctx.Done():
		return ctx.Err()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, browser.AllocatorOptions(m.browserCfg)...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, m.cfg.LoginTimeout)
	defer cancelTimeout()

	return fn(tabCtx)
}

func (m *Manager) submitEmail(ctx context.Context, email string) error {
	sel, err := m.findFirst(ctx, m.cfg.Selectors.EmailInputs)
	if err != nil {
		return fmt.Errorf("email input not found: %w", err)
	}

	if err := chromedp.Run(ctx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, email, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}

	return m.clickSubmit(ctx)
}

func (m *Manager) submitCode(ctx context.Context, code string) error {
	sel, err := m.findCodeInput(ctx)
	if err != nil {
		return err
	}

	if err := chromedp.Run(ctx,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, code, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill code: %w", err)
	}

	if err := m.clickSubmit(ctx); err != nil {
		return err
	}

	// Give the site a moment to process the code before checking state.
	return chromedp.Run(ctx, chromedp.Sleep(2*time.Second))
}

// findCodeInput tries the configured selectors, then falls back to the
// first visible input that is not the email field.
func (m *Manager) findCodeInput(ctx context.Context) (string, error) {
	if sel, err := m.findFirst(ctx, m.cfg.Selectors.CodeInputs); err == nil {
		return sel, nil
	}

	var sel string
	script := `(() => {
		const inputs = Array.from(document.querySelectorAll('input')).filter(i =>
			i.type !== 'email' && i.type !== 'hidden' && i.type !== 'submit' && i.offsetParent !== null);
		if (!inputs.length) return '';
		inputs[0].setAttribute('data-code-input', '1');
		return 'input[data-code-input="1"]';
	})()`
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &sel)); err != nil {
		return "", fmt.Errorf("scan for code input: %w", err)
	}
	if sel == "" {
		return "", errors.New("code input not found")
	}
	return sel, nil
}

func (m *Manager) clickSubmit(ctx context.Context) error {
	sel, err := m.findFirst(ctx, m.cfg.Selectors.SubmitButtons)
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if err := chromedp.Run(ctx,
		chromedp.Click(sel, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	return nil
}

// findFirst polls the selector list until one matches, retrying briefly to
// ride out client-side rendering.
func (m *Manager) findFirst(ctx context.Context, selectors []string) (string, error) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		for _, sel := range selectors {
			var present bool
			script := fmt.Sprintf("document.querySelector(%q) !== null", sel)
			if err := chromedp.Run(ctx, chromedp.Evaluate(script, &present)); err != nil {
				return "", err
			}
			if present {
				return sel, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("none of %d selectors matched", len(selectors))
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// onCodePage reports whether the page is asking for the one-time code: a
// code input exists, or the page text says to check the inbox.
func (m *Manager) onCodePage(ctx context.Context) bool {
	if _, err := m.findCodeInput(ctx); err == nil {
		return true
	}

	var text string
	if err := chromedp.Run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range []string{"verification", "code", "check your email"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (m *Manager) errorText(ctx context.Context) string {
	for _, sel := range m.cfg.Selectors.ErrorRegions {
		var text string
		script := fmt.Sprintf(`(() => { const el = document.querySelector(%q); return el ? el.textContent.trim() : ''; })()`, sel)
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &text)); err != nil {
			continue
		}
		if text != "" {
			return text
		}
	}
	return ""
}

// isLoggedIn checks the configured markers, logout controls, and finally
// whether the browser moved off the login route.
func (m *Manager) isLoggedIn(ctx context.Context) bool {
	if _, err := m.findFirst(ctx, m.cfg.Selectors.LoggedInMarkers); err == nil {
		return true
	}

	var hasLogout bool
	script := `(() => {
		const nodes = Array.from(document.querySelectorAll('button, a'));
		return nodes.some(n => /\b(logout|log out|sign out)\b/i.test(n.textContent));
	})()`
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &hasLogout)); err == nil && hasLogout {
		return true
	}

	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err == nil {
		if !strings.Contains(location, "/login") && !strings.Contains(location, "/signin") {
			return true
		}
	}
	return false
}

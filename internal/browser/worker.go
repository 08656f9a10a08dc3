package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"sge_scraper/internal/config"
	"sge_scraper/internal/domain"
)

// Selectors the render waits on before snapshotting the DOM. Both waits are
// best effort: a page without them still renders, just without the extra
// settle time.
const (
	contentSelector = "article, .article-content, .post-content, main"
	stateElementID  = "__NEXT_DATA__"
)

// networkIdleQuiet is how long the network must stay silent before a page
// counts as settled.
const networkIdleQuiet = 500 * time.Millisecond

// AllocatorOptions builds the Chrome launch options shared by the render
// worker and the login flows.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	return opts
}

type renderRequest struct {
	ctx  context.Context
	url  string
	resp chan renderResponse
}

type renderResponse struct {
	page *domain.RenderedPage
	err  error
}

// Worker owns the single shared browser. All renders funnel through one
// goroutine, so at most one page is rendering at any time regardless of how
// many callers are queued.
type Worker struct {
	cfg      config.BrowserConfig
	logger   *slog.Logger
	requests chan renderRequest
}

func NewWorker(cfg config.BrowserConfig, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		logger:   logger.With("component", "browser"),
		requests: make(chan renderRequest),
	}
}

// Start launches the browser and serves render requests until ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) error {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, AllocatorOptions(w.cfg)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// Launch up front so the first render doesn't pay the startup cost.
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	w.logger.Info("browser worker started", "headless", w.cfg.Headless)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("browser worker stopped")
			return ctx.Err()
		case req := <-w.requests:
			page, err := w.render(browserCtx, req.url)
			select {
			case req.resp <- renderResponse{page: page, err: err}:
			case <-req.ctx.Done():
			}
		}
	}
}

// Render queues a page render and waits for the result.
func (w *Worker) Render(ctx context.Context, url string) (*domain.RenderedPage, error) {
	req := renderRequest{ctx: ctx, url: url, resp: make(chan renderResponse, 1)}

	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp.page, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) render(browserCtx context.Context, url string) (*domain.RenderedPage, error) {
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, w.cfg.PageTimeout)
	defer cancelTimeout()

	start := time.Now()

	actions := []chromedp.Action{network.Enable()}
	if state, err := LoadState(filepath.Join(w.cfg.SessionDir, StorageStateFile)); err == nil && state != nil {
		actions = append(actions, applyCookies(state))
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, fmt.Errorf("prepare tab: %w", err)
	}

	if err := w.navigateAndSettle(tabCtx, url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	w.bestEffortWait(tabCtx, w.cfg.ContentWait, chromedp.WaitVisible(contentSelector, chromedp.ByQuery))
	w.bestEffortWait(tabCtx, w.cfg.StateWait, chromedp.Poll(
		fmt.Sprintf("!!document.getElementById(%q)", stateElementID), nil,
	))

	var html, rawState string
	err := chromedp.Run(tabCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(
			`(() => { const el = document.getElementById(%q); return el ? el.textContent : ''; })()`,
			stateElementID,
		), &rawState),
	)
	if err != nil {
		return nil, fmt.Errorf("capture page %s: %w", url, err)
	}

	page := &domain.RenderedPage{URL: url, HTML: html}
	if json.Valid([]byte(rawState)) && rawState != "" {
		page.State = json.RawMessage(rawState)
	}

	w.logger.Debug("rendered page",
		"url", url,
		"bytes", len(html),
		"has_state", page.State != nil,
		"duration", time.Since(start),
	)

	return page, nil
}

// navigateAndSettle navigates and waits for the network to go quiet. When
// the network never settles within the idle window, it falls back to plain
// DOM readiness.
func (w *Worker) navigateAndSettle(ctx context.Context, url string) error {
	idle := make(chan struct{})
	var (
		mu       sync.Mutex
		inflight = make(map[network.RequestID]struct{})
		timer    *time.Timer
		closed   bool
	)

	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(networkIdleQuiet, func() {
			mu.Lock()
			defer mu.Unlock()
			if !closed && len(inflight) == 0 {
				closed = true
				close(idle)
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			mu.Lock()
			inflight[e.RequestID] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
		case *network.EventLoadingFinished:
			mu.Lock()
			delete(inflight, e.RequestID)
			if len(inflight) == 0 {
				arm()
			}
			mu.Unlock()
		case *network.EventLoadingFailed:
			mu.Lock()
			delete(inflight, e.RequestID)
			if len(inflight) == 0 {
				arm()
			}
			mu.Unlock()
		}
	})

	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}

	mu.Lock()
	if len(inflight) == 0 {
		arm()
	}
	mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-time.After(w.cfg.NetworkIdleWait):
		w.logger.Debug("network never settled, falling back to dom readiness", "url", url)
		return chromedp.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) bestEffortWait(ctx context.Context, timeout time.Duration, action chromedp.Action) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, action); err != nil {
		w.logger.Debug("best-effort wait gave up", "error", err)
	}
}

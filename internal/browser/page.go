package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/nao1215/shopwalk/internal/filter"
	"github.com/nao1215/shopwalk/internal/proxy"
)

// ErrClosed is returned when a closed Page is used.
var ErrClosed = errors.New("browser page is closed")

// Page is one Chrome tab in its own browser process.
type Page struct {
	// ctx is the tab's chromedp context.
	ctx context.Context

	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	// mainFrame is the tab's top-level frame ID.
	mainFrame cdp.FrameID

	// proxy is the egress proxy, nil for direct.
	proxy *proxy.Descriptor

	// profileDir is removed on Close when set.
	profileDir string

	logger *slog.Logger

	// exec sends a DevTools command without blocking the caller.
	exec func(name string, action chromedp.Action)

	mu       sync.Mutex
	pageURL  string
	session  *filter.Session
	fetching bool
	closed   bool
}

// Open launches Chrome with opts and returns its first tab.
// When the proxy has credentials, proxy auth challenges are answered
// immediately, before any filter is installed.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}

	flags, err := opts.flags()
	if err != nil {
		return nil, fmt.Errorf("invalid browser options: %w", err)
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range flags {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	allocOpts = append(allocOpts, chromedp.WindowSize(opts.windowSize()))
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	var profileDir string
	if opts.ProfileRoot != "" {
		profileDir, err = newProfileDir(opts.ProfileRoot)
		if err != nil {
			return nil, err
		}
		allocOpts = append(allocOpts, chromedp.UserDataDir(profileDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("devtools error: " + fmt.Sprintf(format, args...))
		}),
	)

	p := &Page{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		proxy:       opts.Proxy,
		profileDir:  profileDir,
		logger:      logger,
	}

	// The first Run starts the browser and attaches to the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		if profileDir != "" {
			_ = os.RemoveAll(profileDir)
		}
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	c := chromedp.FromContext(tabCtx)
	p.mainFrame = cdp.FrameID(c.Target.TargetID)
	execCtx := cdp.WithExecutor(tabCtx, c.Target)
	p.exec = func(name string, action chromedp.Action) {
		go func() {
			if err := action.Do(execCtx); err != nil && execCtx.Err() == nil {
				logger.Debug("devtools command failed", "command", name, "error", err)
			}
		}()
	}

	chromedp.ListenTarget(tabCtx, p.onEvent)

	if p.proxy != nil && p.proxy.HasCredentials() {
		if err := p.enableFetch(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	logger.Debug("browser started", "proxy", proxyID(p.proxy), "headless", opts.Headless)
	return p, nil
}

// Install attaches a filter session. Every request is paused and handed to
// the session in delivery order. Without Install no request is paused
// unless the proxy needs credentials.
func (p *Page) Install(ctx context.Context, session *filter.Session) error {
	p.mu.Lock()
	p.session = session
	p.mu.Unlock()

	return p.enableFetch(ctx)
}

// enableFetch turns on request interception once.
func (p *Page) enableFetch(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.fetching {
		p.mu.Unlock()
		return nil
	}
	p.fetching = true
	p.mu.Unlock()

	enable := fetch.Enable().WithPatterns([]*fetch.RequestPattern{
		{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
	})
	if p.proxy != nil && p.proxy.HasCredentials() {
		enable = enable.WithHandleAuthRequests(true)
	}

	if err := p.run(ctx, enable); err != nil {
		p.mu.Lock()
		p.fetching = false
		p.mu.Unlock()
		return fmt.Errorf("failed to enable request interception: %w", err)
	}
	return nil
}

// onEvent is the tab's event listener. It must not block.
func (p *Page) onEvent(ev any) {
	switch ev := ev.(type) {
	case *fetch.EventRequestPaused:
		p.handlePaused(ev)
	case *fetch.EventAuthRequired:
		p.exec("continue with auth", fetch.ContinueWithAuth(ev.RequestID, authResponse(ev.AuthChallenge, p.proxy)))
	case *page.EventFrameNavigated:
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		session := p.setPageURL(ev.Frame.URL)
		if session != nil && session.ObserveNavigation(ev.Frame.URL) {
			p.logger.Debug("navigation committed past landing page", "url", ev.Frame.URL)
		}
	}
}

// handlePaused decides one paused request.
func (p *Page) handlePaused(ev *fetch.EventRequestPaused) {
	url := ""
	if ev.Request != nil {
		url = ev.Request.URL
	}

	// A top-level document request is the page it will become.
	if ev.ResourceType == network.ResourceTypeDocument && ev.FrameID == p.mainFrame {
		p.setPageURL(url)
	}

	p.mu.Lock()
	session := p.session
	pageURL := p.pageURL
	p.mu.Unlock()

	req := &pausedRequest{
		id:      ev.RequestID,
		url:     url,
		kind:    KindFromCDP(ev.ResourceType),
		pageURL: pageURL,
		exec:    p.exec,
	}

	if session == nil {
		_ = req.Continue()
		return
	}
	session.Handle(req)
}

// setPageURL records the top-level page URL and returns the installed
// session, if any.
func (p *Page) setPageURL(url string) *filter.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageURL = url
	return p.session
}

// run executes actions on the tab, bounded by ctx as well as the tab's own
// lifetime. A cancelled ctx is reported as ctx.Err().
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the document body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Location returns the current page URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Title returns the current page title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var err error
	if p.ctx != nil {
		err = chromedp.Cancel(p.ctx)
	}
	if p.cancelTab != nil {
		p.cancelTab()
	}
	if p.cancelAlloc != nil {
		p.cancelAlloc()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	// cancelAlloc waits for Chrome to exit, so the profile is no longer in use.
	if p.profileDir != "" {
		if rmErr := os.RemoveAll(p.profileDir); rmErr != nil && err == nil {
			err = fmt.Errorf("failed to remove browser profile: %w", rmErr)
		}
	}
	return err
}

// proxyID names p for logs.
func proxyID(p *proxy.Descriptor) string {
	if p == nil {
		return "direct"
	}
	return p.ID
}

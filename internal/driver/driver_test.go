package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/shopwalk/internal/config"
	"github.com/nao1215/shopwalk/internal/filter"
	"github.com/nao1215/shopwalk/internal/proxy"
)

const (
	testLanding = "https://shop.example.com/"
	testSearch  = "https://shop.example.com/search?q={query}"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Queries = []string{"rice"}
	cfg.Timeout = 5 * time.Second
	cfg.Retries = 0
	cfg.Site = config.SiteConfig{LandingURL: testLanding, SearchURL: testSearch}
	return cfg
}

// fakePage simulates a storefront. Navigating to the landing page issues
// one image request through the installed filter.
type fakePage struct {
	mu          sync.Mutex
	location    string
	session     *filter.Session
	navigateErr error
	block       bool
	closed      bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.navigateErr != nil {
		return p.navigateErr
	}

	p.mu.Lock()
	p.location = url
	session := p.session
	p.mu.Unlock()

	if session != nil {
		session.ObserveNavigation(url)
		session.Decide("https://shop.example.com/banner.jpg", filter.KindImage, url)
	}
	return nil
}

func (p *fakePage) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *fakePage) Title(context.Context) (string, error) {
	return "Search results", nil
}

func (p *fakePage) Install(_ context.Context, s *filter.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeOpener hands out pages and records the proxy of each open.
type fakeOpener struct {
	mu      sync.Mutex
	proxies []string
	pages   []*fakePage
	// failFor lists proxy IDs whose open fails.
	failFor map[string]bool
	newPage func() *fakePage
}

func (o *fakeOpener) Open(_ context.Context, p *proxy.Descriptor) (Page, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := "direct"
	if p != nil {
		id = p.ID
	}
	o.proxies = append(o.proxies, id)

	if o.failFor[id] {
		return nil, errors.New("connection refused")
	}

	page := &fakePage{}
	if o.newPage != nil {
		page = o.newPage()
	}
	o.pages = append(o.pages, page)
	return page, nil
}

func newDriver(t *testing.T, cfg *config.Config, reg *proxy.Registry, opener Opener) *Driver {
	t.Helper()
	d, err := New(cfg, reg, opener, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func twoProxies() *proxy.Registry {
	return proxy.NewRegistry([]proxy.Descriptor{
		{ID: "p1", Name: "first", Server: "http://10.0.0.1:3128"},
		{ID: "p2", Name: "second", Server: "http://10.0.0.2:3128"},
	}, proxy.WithLogger(quietLogger()))
}

func TestRunSession(t *testing.T) {
	t.Parallel()

	t.Run("direct session without optimization", func(t *testing.T) {
		t.Parallel()

		opener := &fakeOpener{}
		d := newDriver(t, testConfig(), nil, opener)

		record := d.RunSession(t.Context(), "green tea")

		if !record.Succeeded() {
			t.Fatalf("session failed: %s", record.Error)
		}
		if record.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", record.Attempts)
		}
		if record.Proxy != nil {
			t.Errorf("Proxy = %+v, want nil", record.Proxy)
		}
		if record.Optimized {
			t.Error("Optimized should be false")
		}
		if record.FinalURL != "https://shop.example.com/search?q=green+tea" {
			t.Errorf("FinalURL = %q", record.FinalURL)
		}
		if record.Title != "Search results" {
			t.Errorf("Title = %q", record.Title)
		}
		if strings.Join(record.Steps, ",") != "landing,search,capture" {
			t.Errorf("Steps = %v", record.Steps)
		}
		if !opener.pages[0].closed {
			t.Error("page should be closed after the session")
		}
		if opener.proxies[0] != "direct" {
			t.Errorf("opened with %q, want direct", opener.proxies[0])
		}
	})

	t.Run("optimization blocks landing images and ends on the results page", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Optimize = true
		d := newDriver(t, cfg, nil, &fakeOpener{})

		record := d.RunSession(t.Context(), "rice")

		if !record.Succeeded() {
			t.Fatalf("session failed: %s", record.Error)
		}
		if !record.Optimized {
			t.Fatal("Optimized should be true")
		}
		if record.Filter.State != filter.StatePassthrough {
			t.Errorf("State = %v, want passthrough", record.Filter.State)
		}
		if record.Filter.Blocked != 1 {
			t.Errorf("Blocked = %d, want 1 (landing image)", record.Filter.Blocked)
		}
		if record.Filter.Allowed != 1 {
			t.Errorf("Allowed = %d, want 1 (results image)", record.Filter.Allowed)
		}
	})

	t.Run("optimization ends on results served from the landing path", func(t *testing.T) {
		t.Parallel()

		cf := &config.File{Defaults: config.SiteConfig{SearchURL: "https://shop.example.com/?s={query}"}}
		site, _ := cf.GetSiteConfig("")
		cfg := testConfig()
		cfg.Optimize = true
		cfg.Site = site
		d := newDriver(t, cfg, nil, &fakeOpener{})

		record := d.RunSession(t.Context(), "rice")

		if !record.Succeeded() {
			t.Fatalf("session failed: %s", record.Error)
		}
		if record.Filter.State != filter.StatePassthrough {
			t.Errorf("State = %v, want passthrough", record.Filter.State)
		}
		if record.Filter.Blocked != 1 || record.Filter.Allowed != 1 {
			t.Errorf("Blocked = %d, Allowed = %d, want 1 and 1", record.Filter.Blocked, record.Filter.Allowed)
		}
	})

	t.Run("retry moves to the next proxy in sequential mode", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ProxyMode = proxy.ModeSequential
		cfg.Retries = 1
		opener := &fakeOpener{failFor: map[string]bool{"p1": true}}
		d := newDriver(t, cfg, twoProxies(), opener)

		record := d.RunSession(t.Context(), "rice")

		if !record.Succeeded() {
			t.Fatalf("session failed: %s", record.Error)
		}
		if record.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", record.Attempts)
		}
		if record.Proxy == nil || record.Proxy.ID != "p2" {
			t.Errorf("Proxy = %+v, want p2", record.Proxy)
		}
		if strings.Join(opener.proxies, ",") != "p1,p2" {
			t.Errorf("opened with %v, want p1,p2", opener.proxies)
		}
	})

	t.Run("all attempts failing records the last error", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Retries = 2
		opener := &fakeOpener{newPage: func() *fakePage {
			return &fakePage{navigateErr: errors.New("net::ERR_TUNNEL_CONNECTION_FAILED")}
		}}
		d := newDriver(t, cfg, nil, opener)

		record := d.RunSession(t.Context(), "rice")

		if record.Succeeded() {
			t.Fatal("session should fail")
		}
		if record.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", record.Attempts)
		}
		if !strings.Contains(record.Error, "ERR_TUNNEL_CONNECTION_FAILED") {
			t.Errorf("Error = %q", record.Error)
		}
		for i, p := range opener.pages {
			if !p.closed {
				t.Errorf("page %d not closed", i)
			}
		}
	})

	t.Run("attempt timeout marks the record timed out", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Timeout = 50 * time.Millisecond
		opener := &fakeOpener{newPage: func() *fakePage { return &fakePage{block: true} }}
		d := newDriver(t, cfg, nil, opener)

		record := d.RunSession(t.Context(), "rice")

		if !record.TimedOut {
			t.Errorf("TimedOut = false, error %q", record.Error)
		}
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Retries = 3
		opener := &fakeOpener{}
		d := newDriver(t, cfg, nil, opener)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		record := d.RunSession(ctx, "rice")

		if record.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", record.Attempts)
		}
		if !record.TimedOut {
			t.Error("TimedOut should be true for a cancelled session")
		}
	})

	t.Run("unknown proxy id connects directly", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ProxyMode = "nope"
		opener := &fakeOpener{}
		d := newDriver(t, cfg, twoProxies(), opener)

		record := d.RunSession(t.Context(), "rice")

		if record.Proxy != nil {
			t.Errorf("Proxy = %+v, want nil", record.Proxy)
		}
		if opener.proxies[0] != "direct" {
			t.Errorf("opened with %q, want direct", opener.proxies[0])
		}
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("invalid pattern is rejected", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Optimize = true
		cfg.Site.LandingPattern = "("
		if _, err := New(cfg, nil, &fakeOpener{}, WithLogger(quietLogger())); err == nil {
			t.Error("New() should fail for an invalid pattern")
		}
	})

	t.Run("optimization without any page pattern is rejected", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Optimize = true
		cfg.Site = config.SiteConfig{}
		if _, err := New(cfg, nil, &fakeOpener{}, WithLogger(quietLogger())); !errors.Is(err, filter.ErrNoPattern) {
			t.Errorf("New() error = %v, want ErrNoPattern", err)
		}
	})

	t.Run("patterns are not compiled without optimization", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Site.LandingPattern = "("
		if _, err := New(cfg, nil, &fakeOpener{}, WithLogger(quietLogger())); err != nil {
			t.Errorf("New() error = %v", err)
		}
	})

	t.Run("opener func adapts a function", func(t *testing.T) {
		t.Parallel()

		called := false
		var o Opener = OpenerFunc(func(context.Context, *proxy.Descriptor) (Page, error) {
			called = true
			return &fakePage{}, nil
		})
		if _, err := o.Open(t.Context(), nil); err != nil || !called {
			t.Errorf("Open() = %v, called %v", err, called)
		}
	})
}

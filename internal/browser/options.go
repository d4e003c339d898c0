package browser

import (
	"fmt"
	"os"

	"github.com/nao1215/shopwalk/internal/proxy"
)

// Default window size. Storefronts switch to their mobile layout below
// roughly 1024 pixels.
const (
	DefaultWindowWidth  = 1366
	DefaultWindowHeight = 900
)

// Options configures a browser launch.
type Options struct {
	// Headless runs Chrome without a window.
	Headless bool

	// UserAgent overrides Chrome's user agent when set.
	UserAgent string

	// Proxy routes all traffic through the descriptor's server. Nil means
	// a direct connection.
	Proxy *proxy.Descriptor

	// WindowWidth and WindowHeight set the viewport. Zero means default.
	WindowWidth  int
	WindowHeight int

	// ExecPath is the Chrome binary. Empty lets chromedp search for it.
	ExecPath string

	// ProfileRoot is the directory that holds one throwaway Chrome profile
	// per launch. The profile is removed on Close. Empty leaves the profile
	// to chromedp's own temporary directory.
	ProfileRoot string

	// ExtraFlags are passed to Chrome as --name=value (or --name for true).
	ExtraFlags map[string]any
}

// WithProxy returns a copy of o routed through p.
func (o Options) WithProxy(p *proxy.Descriptor) Options {
	o.Proxy = p
	return o
}

// flags returns the Chrome flags for o on top of chromedp's defaults.
// The proxy server never carries credentials.
func (o Options) flags() (map[string]any, error) {
	flags := map[string]any{
		"headless": o.Headless,
	}
	if o.Headless {
		flags["hide-scrollbars"] = true
		flags["mute-audio"] = true
	}

	if o.Proxy != nil {
		server, err := o.Proxy.BrowserServer()
		if err != nil {
			return nil, err
		}
		flags["proxy-server"] = server
		// Loopback stays direct so local tooling keeps working.
		flags["proxy-bypass-list"] = "<-loopback>"
	}

	for k, v := range o.ExtraFlags {
		if k == "proxy-server" {
			continue
		}
		flags[k] = v
	}

	return flags, nil
}

// windowSize returns the configured viewport, falling back to defaults.
func (o Options) windowSize() (int, int) {
	w, h := o.WindowWidth, o.WindowHeight
	if w <= 0 {
		w = DefaultWindowWidth
	}
	if h <= 0 {
		h = DefaultWindowHeight
	}
	return w, h
}

// newProfileDir creates a fresh profile directory below root, readable only
// by the current user.
func newProfileDir(root string) (string, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return "", fmt.Errorf("failed to create profile root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "session-")
	if err != nil {
		return "", fmt.Errorf("failed to create browser profile: %w", err)
	}
	return dir, nil
}

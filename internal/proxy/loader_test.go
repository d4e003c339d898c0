package proxy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeFile writes content to a file in a fresh temp directory.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// TestLoadFile tests the strict loader.
func TestLoadFile(t *testing.T) {
	t.Parallel()

	t.Run("parses a yaml mapping with a proxies key", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "proxies.yaml", `
proxies:
  - id: p1
    name: First
    server: http://10.0.0.1:8080
    username: user
    password: secret
  - id: p2
    name: Second
    server: socks5://10.0.0.2:1080
    active: false
`)

		descs, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(descs) != 2 {
			t.Fatalf("expected 2 descriptors, got %d", len(descs))
		}
		if descs[0].Username != "user" || descs[0].Password != "secret" {
			t.Errorf("expected credentials to be loaded, got %+v", descs[0])
		}
		if descs[1].IsActive() {
			t.Error("expected p2 to be inactive")
		}
	})

	t.Run("parses a json document", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "proxies.json", `{"proxies":[{"id":"p1","name":"First","server":"10.0.0.1:3128","active":true}]}`)

		descs, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(descs) != 1 || descs[0].ID != "p1" {
			t.Errorf("expected [p1], got %+v", descs)
		}
	})

	t.Run("parses a bare top-level list", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "list.yaml", `
- id: p1
  server: 10.0.0.1:8080
- id: p2
  server: 10.0.0.2:8080
`)

		descs, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(descs) != 2 {
			t.Errorf("expected 2 descriptors, got %d", len(descs))
		}
	})

	t.Run("empty document yields no descriptors", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "empty.yaml", "")

		descs, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(descs) != 0 {
			t.Errorf("expected no descriptors, got %d", len(descs))
		}
	})

	t.Run("missing file returns ErrConfigNotFound", func(t *testing.T) {
		t.Parallel()

		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("malformed document returns an error", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "bad.yaml", "proxies: [ {id: p1, server: ")

		if _, err := LoadFile(path); err == nil {
			t.Error("expected a parse error")
		}
	})

	t.Run("scalar document returns an error", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "scalar.yaml", "just a string")

		if _, err := LoadFile(path); err == nil {
			t.Error("expected an error for a scalar document")
		}
	})
}

// TestLoad tests the forgiving loader used at startup.
func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("active descriptors form the pool", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "proxies.yaml", `
proxies:
  - {id: p1, name: One, server: 10.0.0.1:8080}
  - {id: p2, name: Two, server: 10.0.0.2:8080, active: false}
  - {id: p3, name: Three, server: 10.0.0.3:8080, active: true}
`)

		r := Load(path, WithLogger(discardLogger()))
		if r.Len() != 2 {
			t.Fatalf("expected 2 proxies, got %d", r.Len())
		}
		d, _ := r.Select(ModeSequential)
		if d.ID != "p1" {
			t.Errorf("expected p1 first, got %s", d.ID)
		}
		d, _ = r.Select(ModeSequential)
		if d.ID != "p3" {
			t.Errorf("expected p3 second, got %s", d.ID)
		}
	})

	t.Run("portless and socks4 servers stay in the pool", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "proxies.yaml", `
proxies:
  - {id: p1, server: proxy.example.com}
  - {id: p2, server: "socks4://10.0.0.2:1080"}
  - {id: p3, server: "socks5h://10.0.0.3"}
  - {id: p4, server: "ftp://10.0.0.4:21"}
`)

		r := Load(path, WithLogger(discardLogger()))
		if r.Len() != 3 {
			t.Fatalf("expected 3 proxies, got %d", r.Len())
		}
		d, ok := r.Select("p3")
		if !ok {
			t.Fatal("expected p3 in the pool")
		}
		if got, err := d.BrowserServer(); err != nil || got != "socks5://10.0.0.3:1080" {
			t.Errorf("expected socks5://10.0.0.3:1080, got %q (%v)", got, err)
		}
	})

	t.Run("missing file degrades to an empty pool", func(t *testing.T) {
		t.Parallel()

		r := Load(filepath.Join(t.TempDir(), "missing.yaml"), WithLogger(discardLogger()))
		if r.Len() != 0 {
			t.Errorf("expected empty pool, got %d", r.Len())
		}
		if _, ok := r.Select(ModeSequential); ok {
			t.Error("expected no proxy from empty pool")
		}
	})

	t.Run("malformed file degrades to an empty pool", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "bad.yaml", "proxies: {{{")

		r := Load(path, WithLogger(discardLogger()))
		if r.Len() != 0 {
			t.Errorf("expected empty pool, got %d", r.Len())
		}
	})

	t.Run("empty path degrades to an empty pool", func(t *testing.T) {
		t.Parallel()

		r := Load("", WithLogger(discardLogger()))
		if r.Len() != 0 {
			t.Errorf("expected empty pool, got %d", r.Len())
		}
	})
}

// TestDescriptorEndpoint tests server address normalization.
func TestDescriptorEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		server     string
		wantScheme string
		wantHost   string
		wantErr    error
	}{
		{name: "bare host and port defaults to http", server: "10.0.0.1:8080", wantScheme: "http", wantHost: "10.0.0.1:8080"},
		{name: "explicit https", server: "https://proxy.example.com:443", wantScheme: "https", wantHost: "proxy.example.com:443"},
		{name: "socks5 with uppercase scheme", server: "SOCKS5://10.0.0.2:1080", wantScheme: "socks5", wantHost: "10.0.0.2:1080"},
		{name: "userinfo is dropped", server: "http://u:p@10.0.0.3:3128", wantScheme: "http", wantHost: "10.0.0.3:3128"},
		{name: "ipv6 host", server: "[::1]:8080", wantScheme: "http", wantHost: "[::1]:8080"},
		{name: "missing port defaults by scheme", server: "10.0.0.1", wantScheme: "http", wantHost: "10.0.0.1:80"},
		{name: "https without port", server: "https://proxy.example.com", wantScheme: "https", wantHost: "proxy.example.com:443"},
		{name: "socks4 is accepted", server: "socks4://10.0.0.4:1080", wantScheme: "socks4", wantHost: "10.0.0.4:1080"},
		{name: "socks4 without port", server: "socks4://10.0.0.4", wantScheme: "socks4", wantHost: "10.0.0.4:1080"},
		{name: "socks5h is reported as socks5", server: "socks5h://10.0.0.5:1080", wantScheme: "socks5", wantHost: "10.0.0.5:1080"},
		{name: "empty port", server: "http://10.0.0.1:", wantErr: ErrInvalidServer},
		{name: "missing host", server: "http://:3128", wantErr: ErrInvalidServer},
		{name: "empty server", server: "  ", wantErr: ErrInvalidServer},
		{name: "unsupported scheme", server: "ftp://10.0.0.1:21", wantErr: ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := Descriptor{ID: "x", Server: tt.server}
			scheme, host, err := d.Endpoint()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if scheme != tt.wantScheme || host != tt.wantHost {
				t.Errorf("expected %s %s, got %s %s", tt.wantScheme, tt.wantHost, scheme, host)
			}
		})
	}

	t.Run("BrowserServer never contains credentials", func(t *testing.T) {
		t.Parallel()

		d := Descriptor{ID: "x", Server: "http://u:p@10.0.0.3:3128", Username: "u", Password: "p"}
		got, err := d.BrowserServer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "http://10.0.0.3:3128" {
			t.Errorf("expected http://10.0.0.3:3128, got %s", got)
		}
	})

	t.Run("Summary strips embedded userinfo", func(t *testing.T) {
		t.Parallel()

		d := Descriptor{ID: "x", Server: "socks5://u:p@10.0.0.3:1080"}
		if got := d.Summary().Server; got != "socks5://10.0.0.3:1080" {
			t.Errorf("expected socks5://10.0.0.3:1080, got %s", got)
		}
	})

	t.Run("Credentials fall back to embedded userinfo", func(t *testing.T) {
		t.Parallel()

		d := Descriptor{ID: "x", Server: "http://bob:pw@10.0.0.3:3128"}
		user, pass := d.Credentials()
		if user != "bob" || pass != "pw" || !d.HasCredentials() {
			t.Errorf("expected bob/pw, got %s/%s", user, pass)
		}

		d.Username, d.Password = "alice", "secret"
		user, pass = d.Credentials()
		if user != "alice" || pass != "secret" {
			t.Errorf("expected explicit fields to win, got %s/%s", user, pass)
		}

		if (Descriptor{ID: "y", Server: "10.0.0.4:3128"}).HasCredentials() {
			t.Error("expected no credentials")
		}
	})
}

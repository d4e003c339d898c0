package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Supported proxy schemes.
const (
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeSOCKS4 = "socks4"
	SchemeSOCKS5 = "socks5"

	// SchemeSOCKS5H is accepted as an alias of socks5. Chrome already
	// resolves host names on the proxy for socks5.
	SchemeSOCKS5H = "socks5h"
)

// defaultPorts are used when Server names no port, as Chrome does.
var defaultPorts = map[string]string{
	SchemeHTTP:   "80",
	SchemeHTTPS:  "443",
	SchemeSOCKS4: "1080",
	SchemeSOCKS5: "1080",
}

// Descriptor is a named egress-routing configuration a session may be bound to.
// Descriptors are created at load time and never mutated afterwards; they are
// passed around by value.
type Descriptor struct {
	// ID is the unique identifier used for pinned selection.
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable label shown in listings and reports.
	Name string `yaml:"name" json:"name"`

	// Server is the proxy address, either "host[:port]" or
	// "scheme://host[:port]". A bare host is treated as an HTTP proxy and a
	// missing port defaults to the scheme's well-known port.
	Server string `yaml:"server" json:"server"`

	// Username and Password are optional proxy credentials.
	// They are never part of Server and never passed on a command line.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Active marks the descriptor as usable. A missing flag means active.
	Active *bool `yaml:"active,omitempty" json:"active,omitempty"`
}

// Summary is the read-only projection of a Descriptor used for diagnostics.
// It deliberately carries no credentials.
type Summary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Server string `json:"server"`
}

// IsActive reports whether the descriptor takes part in selection.
func (d Descriptor) IsActive() bool {
	return d.Active == nil || *d.Active
}

// HasCredentials reports whether the proxy requires authentication.
func (d Descriptor) HasCredentials() bool {
	user, pass := d.Credentials()
	return user != "" || pass != ""
}

// Credentials returns the proxy username and password. Explicit fields win;
// otherwise userinfo embedded in Server is used.
func (d Descriptor) Credentials() (username, password string) {
	if d.Username != "" || d.Password != "" {
		return d.Username, d.Password
	}
	if !strings.Contains(d.Server, "@") || !strings.Contains(d.Server, "://") {
		return "", ""
	}
	u, err := url.Parse(d.Server)
	if err != nil || u.User == nil {
		return "", ""
	}
	password, _ = u.User.Password()
	return u.User.Username(), password
}

// Summary returns the diagnostic projection of the descriptor.
// Userinfo embedded in Server is stripped.
func (d Descriptor) Summary() Summary {
	return Summary{ID: d.ID, Name: d.Name, Server: stripUserinfo(d.Server)}
}

// stripUserinfo removes "user:pass@" from a scheme://host:port address.
func stripUserinfo(server string) string {
	if !strings.Contains(server, "@") || !strings.Contains(server, "://") {
		return server
	}
	u, err := url.Parse(server)
	if err != nil || u.User == nil {
		return server
	}
	u.User = nil
	return u.String()
}

// Endpoint splits Server into its scheme and host:port.
// A missing scheme defaults to http, socks5h is reported as socks5 and a
// missing port defaults to 80, 443 or 1080 by scheme.
func (d Descriptor) Endpoint() (scheme, hostPort string, err error) {
	server := strings.TrimSpace(d.Server)
	if server == "" {
		return "", "", ErrInvalidServer
	}

	if !strings.Contains(server, "://") {
		server = SchemeHTTP + "://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidServer, d.Server)
	}

	scheme = strings.ToLower(u.Scheme)
	if scheme == SchemeSOCKS5H {
		scheme = SchemeSOCKS5
	}
	defaultPort, ok := defaultPorts[scheme]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	host, port := u.Hostname(), u.Port()
	if host == "" || strings.HasSuffix(u.Host, ":") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidServer, d.Server)
	}
	if port == "" {
		port = defaultPort
	}

	return scheme, net.JoinHostPort(host, port), nil
}

// BrowserServer returns the value for Chrome's --proxy-server flag,
// "scheme://host:port". Userinfo embedded in Server is dropped.
func (d Descriptor) BrowserServer() (string, error) {
	scheme, hostPort, err := d.Endpoint()
	if err != nil {
		return "", err
	}
	return scheme + "://" + hostPort, nil
}

// Validate checks that the descriptor can be selected and used.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidServer)
	}
	_, _, err := d.Endpoint()
	return err
}

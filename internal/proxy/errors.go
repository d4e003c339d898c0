package proxy

import "errors"

// Proxy configuration errors.
// These are only surfaced by the strict loader (LoadFile). Load absorbs them
// and degrades to an empty pool.
var (
	// ErrConfigNotFound is returned when the proxy document does not exist.
	ErrConfigNotFound = errors.New("proxy configuration file not found")

	// ErrInvalidServer is returned when a descriptor's server address cannot
	// be parsed as host:port or scheme://host:port.
	ErrInvalidServer = errors.New("invalid proxy server address")

	// ErrUnsupportedScheme is returned when a descriptor's server uses a scheme
	// other than http, https or socks5.
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
)

// Package egress checks that proxies from the pool can actually carry
// traffic before a browser is pointed at them.
//
// A probe speaks the proxy's own protocol: a SOCKS5 handshake (with
// username/password authentication when configured) followed by a CONNECT
// to the target, or an HTTP CONNECT request for http and https proxies.
// Reaching the proxy is not enough; the proxy must agree to open a tunnel.
package egress

package egress

import "errors"

// Proxy connectivity errors.
//
// Design decision: We define specific errors rather than wrapping all
// failures generically, so callers can tell a dead proxy (cannot connect)
// from a misconfigured one (wrong protocol, rejected credentials).
var (
	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// can be established.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout talking to proxy")

	// ErrProxyRejected is returned when the proxy speaks the expected
	// protocol but refuses the credentials or the tunnel.
	ErrProxyRejected = errors.New("proxy rejected the tunnel")

	// ErrProxyWrongProtocol is returned when the proxy answers with something
	// other than the protocol its scheme names.
	ErrProxyWrongProtocol = errors.New("proxy does not speak the configured protocol")

	// ErrInvalidTarget is returned when the probe target is not host:port.
	ErrInvalidTarget = errors.New("invalid probe target: expected host:port")
)

// Status represents the result of probing a proxy.
type Status int

const (
	// StatusOK indicates the proxy opened a tunnel to the target.
	StatusOK Status = iota

	// StatusCannotConnect indicates the proxy is unreachable or misconfigured.
	StatusCannotConnect

	// StatusTimeout indicates the proxy did not answer in time.
	StatusTimeout

	// StatusRejected indicates the proxy refused authentication or the tunnel.
	StatusRejected

	// StatusWrongProtocol indicates the proxy speaks a different protocol.
	StatusWrongProtocol
)

// String returns a human-readable description of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCannotConnect:
		return "cannot connect"
	case StatusTimeout:
		return "timeout"
	case StatusRejected:
		return "rejected"
	case StatusWrongProtocol:
		return "wrong protocol"
	default:
		return "unknown"
	}
}

// Error returns the appropriate error for this status, or nil if OK.
func (s Status) Error() error {
	switch s {
	case StatusOK:
		return nil
	case StatusCannotConnect:
		return ErrProxyCannotConnect
	case StatusTimeout:
		return ErrProxyTimeout
	case StatusRejected:
		return ErrProxyRejected
	case StatusWrongProtocol:
		return ErrProxyWrongProtocol
	default:
		return errors.New("unknown proxy status")
	}
}

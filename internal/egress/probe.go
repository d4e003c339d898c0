package egress

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	xproxy "golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/shopwalk/internal/proxy"
)

// DefaultTimeout bounds one probe, including the proxy handshake.
const DefaultTimeout = 10 * time.Second

// DefaultTarget is the tunnel destination used when none is given.
const DefaultTarget = "example.com:443"

// Result is the outcome of probing one proxy.
type Result struct {
	// Proxy identifies the probed proxy.
	Proxy proxy.Summary `json:"proxy"`

	// Status is the probe outcome.
	Status Status `json:"-"`

	// StatusText is Status rendered for reports.
	StatusText string `json:"status"`

	// Latency is the time until the tunnel was confirmed or refused.
	Latency time.Duration `json:"latency"`

	// Detail is the underlying error message, empty on success.
	Detail string `json:"detail,omitempty"`
}

// Prober checks proxies.
//
// Design decision: The probe only confirms that a tunnel opens. It does not
// send traffic through the tunnel, because the target site may be the very
// thing the proxy is meant to reach anonymously.
type Prober struct {
	// timeout bounds each probe.
	timeout time.Duration

	// tlsConfig is used for https proxies. Nil means system defaults.
	tlsConfig *tls.Config

	// logger is used for debug output.
	logger *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithTimeout sets the per-probe timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTLSConfig sets the TLS configuration for https proxies.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(p *Prober) {
		p.tlsConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// NewProber creates a Prober.
func NewProber(opts ...Option) *Prober {
	p := &Prober{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Check probes d and returns the detailed result.
func (p *Prober) Check(ctx context.Context, d proxy.Descriptor, target string) Result {
	start := time.Now()
	status, err := p.probe(ctx, d, target)

	r := Result{
		Proxy:      d.Summary(),
		Status:     status,
		StatusText: status.String(),
		Latency:    time.Since(start),
	}
	if err != nil {
		r.Detail = err.Error()
	}

	p.logger.Debug("proxy probed",
		"proxy", d.ID,
		"status", status.String(),
		"latency", r.Latency,
		"error", err,
	)
	return r
}

// Probe checks d and returns only the status.
func (p *Prober) Probe(ctx context.Context, d proxy.Descriptor, target string) Status {
	status, _ := p.probe(ctx, d, target)
	return status
}

// probe dispatches on the proxy scheme.
func (p *Prober) probe(ctx context.Context, d proxy.Descriptor, target string) (Status, error) {
	if target == "" {
		target = DefaultTarget
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		return StatusCannotConnect, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	scheme, hostPort, err := d.Endpoint()
	if err != nil {
		return StatusCannotConnect, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch scheme {
	case proxy.SchemeSOCKS5:
		return p.probeSOCKS5(ctx, d, hostPort, target)
	case proxy.SchemeSOCKS4:
		return p.probeSOCKS4(ctx, d, hostPort, target)
	default:
		return p.probeHTTP(ctx, d, scheme, hostPort, target)
	}
}

// trackingDialer records whether the TCP connection to the proxy succeeded,
// so handshake failures can be told apart from unreachable proxies.
type trackingDialer struct {
	dialer    net.Dialer
	connected atomic.Bool
}

// Dial implements proxy.Dialer.
func (t *trackingDialer) Dial(network, addr string) (net.Conn, error) {
	return t.DialContext(context.Background(), network, addr)
}

// DialContext implements proxy.ContextDialer.
func (t *trackingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err == nil {
		t.connected.Store(true)
	}
	return conn, err
}

// probeSOCKS5 runs a SOCKS5 handshake and CONNECT through x/net/proxy.
func (p *Prober) probeSOCKS5(ctx context.Context, d proxy.Descriptor, hostPort, target string) (Status, error) {
	var auth *xproxy.Auth
	if d.HasCredentials() {
		user, pass := d.Credentials()
		auth = &xproxy.Auth{User: user, Password: pass}
	}

	forward := &trackingDialer{}
	dialer, err := xproxy.SOCKS5("tcp", hostPort, auth, forward)
	if err != nil {
		return StatusCannotConnect, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	cd, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return StatusCannotConnect, errors.New("SOCKS5 dialer does not support contexts")
	}

	conn, err := cd.DialContext(ctx, "tcp", target)
	if err != nil {
		return classify(ctx, err, forward.connected.Load(), classifySOCKS5), err
	}
	_ = conn.Close()
	return StatusOK, nil
}

// classifySOCKS5 maps a handshake error from a reachable proxy to a status.
func classifySOCKS5(err error) Status {
	msg := err.Error()
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		strings.Contains(msg, "unexpected protocol version"),
		strings.Contains(msg, "unknown address type"):
		return StatusWrongProtocol
	default:
		// Authentication failures and CONNECT reply codes.
		return StatusRejected
	}
}

// SOCKS4 reply codes.
const (
	socks4Granted  = 0x5a
	socks4Rejected = 0x5b
)

// probeSOCKS4 runs a SOCKS4a CONNECT. x/net/proxy only speaks SOCKS5, and
// the request is a single fixed-layout frame. The username, if any, is sent
// as the SOCKS4 user ID; SOCKS4 has no passwords.
func (p *Prober) probeSOCKS4(ctx context.Context, d proxy.Descriptor, hostPort, target string) (Status, error) {
	host, portStr, _ := net.SplitHostPort(target)
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return StatusCannotConnect, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	forward := &trackingDialer{}
	conn, err := forward.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return classify(ctx, err, false, nil), err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	user, _ := d.Credentials()
	req := []byte{0x04, 0x01, byte(port >> 8), byte(port)}
	if ip := net.ParseIP(host).To4(); ip != nil {
		req = append(req, ip...)
		req = append(req, user...)
		req = append(req, 0)
	} else {
		// 0.0.0.x asks the proxy to resolve the host name that follows.
		req = append(req, 0, 0, 0, 1)
		req = append(req, user...)
		req = append(req, 0)
		req = append(req, host...)
		req = append(req, 0)
	}

	if _, err := conn.Write(req); err != nil {
		return classify(ctx, err, true, func(error) Status { return StatusCannotConnect }), err
	}

	reply := make([]byte, 8)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return classify(ctx, err, true, func(error) Status { return StatusWrongProtocol }), err
	}

	switch {
	case reply[0] != 0x00:
		return StatusWrongProtocol, fmt.Errorf("%w: reply version %d", ErrProxyWrongProtocol, reply[0])
	case reply[1] == socks4Granted:
		return StatusOK, nil
	case reply[1] >= socks4Rejected && reply[1] <= 0x5d:
		return StatusRejected, fmt.Errorf("%w: SOCKS4 code %#x", ErrProxyRejected, reply[1])
	default:
		return StatusWrongProtocol, fmt.Errorf("%w: SOCKS4 code %#x", ErrProxyWrongProtocol, reply[1])
	}
}

// probeHTTP sends an HTTP CONNECT request, over TLS for https proxies.
func (p *Prober) probeHTTP(ctx context.Context, d proxy.Descriptor, scheme, hostPort, target string) (Status, error) {
	forward := &trackingDialer{}
	conn, err := forward.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return classify(ctx, err, false, nil), err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if scheme == proxy.SchemeHTTPS {
		cfg := p.tlsConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" {
			host, _, _ := net.SplitHostPort(hostPort)
			cfg.ServerName = host
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return classify(ctx, err, true, func(error) Status { return StatusWrongProtocol }), err
		}
		conn = tlsConn
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if d.HasCredentials() {
		user, pass := d.Credentials()
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+token)
	}

	if err := req.Write(conn); err != nil {
		return classify(ctx, err, true, func(error) Status { return StatusCannotConnect }), err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return classify(ctx, err, true, func(error) Status { return StatusWrongProtocol }), err
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusRejected, fmt.Errorf("%w: %s", ErrProxyRejected, resp.Status)
	}
	return StatusOK, nil
}

// classify maps err to a status. Timeouts win; errors before the proxy
// accepted a TCP connection mean it cannot be reached; anything else is
// left to the protocol-specific classifier.
func classify(ctx context.Context, err error, connected bool, protocol func(error) Status) Status {
	if isTimeout(ctx, err) {
		return StatusTimeout
	}
	if !connected || protocol == nil {
		return StatusCannotConnect
	}
	return protocol(err)
}

// isTimeout reports whether err comes from an expired deadline.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// CheckAll probes every descriptor with at most concurrency probes in
// flight and returns the results in input order.
func (p *Prober) CheckAll(ctx context.Context, descs []proxy.Descriptor, target string, concurrency int) []Result {
	results := make([]Result, len(descs))
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, d := range descs {
		g.Go(func() error {
			results[i] = p.Check(gctx, d, target)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

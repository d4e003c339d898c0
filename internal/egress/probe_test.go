package egress

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/nao1215/shopwalk/internal/proxy"
)

// startServer runs handle for every accepted connection and returns the
// listener address.
func startServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	return ln.Addr().String()
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// fakeSOCKS5 is a minimal SOCKS5 server. When user is set it requires
// username/password authentication.
func fakeSOCKS5(user, pass string, reply byte) func(net.Conn) {
	return func(conn net.Conn) {
		buf := make([]byte, 512)

		// Greeting: version, method count, methods.
		if _, err := io.ReadFull(conn, buf[:2]); err != nil {
			return
		}
		if _, err := io.ReadFull(conn, buf[:buf[1]]); err != nil {
			return
		}

		if user == "" {
			_, _ = conn.Write([]byte{0x05, 0x00})
		} else {
			_, _ = conn.Write([]byte{0x05, 0x02})

			// Subnegotiation: version, ulen, user, plen, pass.
			if _, err := io.ReadFull(conn, buf[:2]); err != nil {
				return
			}
			u := make([]byte, buf[1])
			if _, err := io.ReadFull(conn, u); err != nil {
				return
			}
			if _, err := io.ReadFull(conn, buf[:1]); err != nil {
				return
			}
			pw := make([]byte, buf[0])
			if _, err := io.ReadFull(conn, pw); err != nil {
				return
			}
			if string(u) != user || string(pw) != pass {
				_, _ = conn.Write([]byte{0x01, 0x01})
				return
			}
			_, _ = conn.Write([]byte{0x01, 0x00})
		}

		// CONNECT: version, cmd, rsv, atyp=domain, len, name, port.
		if _, err := io.ReadFull(conn, buf[:5]); err != nil {
			return
		}
		if _, err := io.ReadFull(conn, buf[:int(buf[4])+2]); err != nil {
			return
		}
		_, _ = conn.Write([]byte{0x05, reply, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}
}

func newTestProber() *Prober {
	return NewProber(WithTimeout(2 * time.Second))
}

// TestProbeSOCKS5 tests the SOCKS5 probe.
func TestProbeSOCKS5(t *testing.T) {
	t.Parallel()

	t.Run("open tunnel is OK", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, fakeSOCKS5("", "", 0x00))
		d := proxy.Descriptor{ID: "s", Server: "socks5://" + addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusOK {
			t.Errorf("expected OK, got %s", got)
		}
	})

	t.Run("valid credentials are OK", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, fakeSOCKS5("bob", "hunter2", 0x00))
		d := proxy.Descriptor{ID: "s", Server: "socks5://" + addr, Username: "bob", Password: "hunter2"}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusOK {
			t.Errorf("expected OK, got %s", got)
		}
	})

	t.Run("wrong credentials are rejected", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, fakeSOCKS5("bob", "hunter2", 0x00))
		d := proxy.Descriptor{ID: "s", Server: "socks5://" + addr, Username: "bob", Password: "wrong"}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusRejected {
			t.Errorf("expected rejected, got %s", got)
		}
	})

	t.Run("refused connect is rejected", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, fakeSOCKS5("", "", 0x02))
		d := proxy.Descriptor{ID: "s", Server: "socks5://" + addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusRejected {
			t.Errorf("expected rejected, got %s", got)
		}
	})

	t.Run("http server on a socks5 address is wrong protocol", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, func(conn net.Conn) {
			_, _ = conn.Read(make([]byte, 64))
			_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		})
		d := proxy.Descriptor{ID: "s", Server: "socks5://" + addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusWrongProtocol {
			t.Errorf("expected wrong protocol, got %s", got)
		}
	})
}

// fakeSOCKS4 is a minimal SOCKS4a server. It grants the tunnel only when
// the request names wantHost and wantUser.
func fakeSOCKS4(wantHost, wantUser string) func(net.Conn) {
	return func(conn net.Conn) {
		r := bufio.NewReader(conn)

		// Version, command, port, address.
		head := make([]byte, 8)
		if _, err := io.ReadFull(r, head); err != nil {
			return
		}
		user, err := r.ReadString(0)
		if err != nil {
			return
		}
		host := net.IP(head[4:8]).String()
		if head[4] == 0 && head[5] == 0 && head[6] == 0 && head[7] != 0 {
			if host, err = r.ReadString(0); err != nil {
				return
			}
			host = host[:len(host)-1]
		}

		code := byte(0x5a)
		if head[0] != 0x04 || host != wantHost || user[:len(user)-1] != wantUser {
			code = 0x5b
		}
		_, _ = conn.Write([]byte{0x00, code, 0, 0, 0, 0, 0, 0})
	}
}

// TestSOCKS4Tunnel tests SOCKS4 tunnel checks.
func TestSOCKS4Tunnel(t *testing.T) {
	t.Parallel()

	t.Run("host name target is resolved by the proxy", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, fakeSOCKS4("shop.example.com", ""))
		d := proxy.Descriptor{ID: "s4", Server: "socks4://" + addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusOK {
			t.Errorf("expected OK, got %s", got)
		}
	})

	t.Run("ipv4 target and user id are sent", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, fakeSOCKS4("192.0.2.10", "bob"))
		d := proxy.Descriptor{ID: "s4", Server: "socks4://" + addr, Username: "bob"}
		if got := newTestProber().Probe(context.Background(), d, "192.0.2.10:443"); got != StatusOK {
			t.Errorf("expected OK, got %s", got)
		}
	})

	t.Run("refused request is rejected", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, fakeSOCKS4("other.example.com", ""))
		d := proxy.Descriptor{ID: "s4", Server: "socks4://" + addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusRejected {
			t.Errorf("expected rejected, got %s", got)
		}
	})

	t.Run("http server on a socks4 address is wrong protocol", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, func(conn net.Conn) {
			_, _ = conn.Read(make([]byte, 64))
			_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		})
		d := proxy.Descriptor{ID: "s4", Server: "socks4://" + addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusWrongProtocol {
			t.Errorf("expected wrong protocol, got %s", got)
		}
	})
}

// TestProbeHTTP tests the HTTP CONNECT probe.
func TestProbeHTTP(t *testing.T) {
	t.Parallel()

	t.Run("200 is OK", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, func(conn net.Conn) {
			if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
				return
			}
			_, _ = conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
		})
		d := proxy.Descriptor{ID: "h", Server: addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusOK {
			t.Errorf("expected OK, got %s", got)
		}
	})

	t.Run("credentials are sent as basic auth", func(t *testing.T) {
		t.Parallel()

		want := base64.StdEncoding.EncodeToString([]byte("bob:hunter2"))
		addr := startServer(t, func(conn net.Conn) {
			req, err := http.ReadRequest(bufio.NewReader(conn))
			if err != nil {
				return
			}
			if req.Header.Get("Proxy-Authorization") != "Basic "+want {
				_, _ = conn.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
				return
			}
			_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
		})

		ok := proxy.Descriptor{ID: "h", Server: "http://" + addr, Username: "bob", Password: "hunter2"}
		if got := newTestProber().Probe(context.Background(), ok, "shop.example.com:443"); got != StatusOK {
			t.Errorf("expected OK, got %s", got)
		}

		bad := proxy.Descriptor{ID: "h", Server: "http://" + addr}
		if got := newTestProber().Probe(context.Background(), bad, "shop.example.com:443"); got != StatusRejected {
			t.Errorf("expected rejected, got %s", got)
		}
	})

	t.Run("non-http answer is wrong protocol", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, func(conn net.Conn) {
			_, _ = conn.Read(make([]byte, 1024))
			_, _ = conn.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
		})
		d := proxy.Descriptor{ID: "h", Server: addr}
		if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusWrongProtocol {
			t.Errorf("expected wrong protocol, got %s", got)
		}
	})

	t.Run("silent proxy times out", func(t *testing.T) {
		t.Parallel()

		addr := startServer(t, func(conn net.Conn) {
			_, _ = io.Copy(io.Discard, conn)
		})
		d := proxy.Descriptor{ID: "h", Server: addr}
		p := NewProber(WithTimeout(200 * time.Millisecond))
		if got := p.Probe(context.Background(), d, "shop.example.com:443"); got != StatusTimeout {
			t.Errorf("expected timeout, got %s", got)
		}
	})
}

// TestProbeUnreachable tests failures before any handshake.
func TestProbeUnreachable(t *testing.T) {
	t.Parallel()

	t.Run("closed port cannot connect", func(t *testing.T) {
		t.Parallel()

		for _, scheme := range []string{"http", "socks5"} {
			d := proxy.Descriptor{ID: "x", Server: scheme + "://" + closedAddr(t)}
			if got := newTestProber().Probe(context.Background(), d, "shop.example.com:443"); got != StatusCannotConnect {
				t.Errorf("%s: expected cannot connect, got %s", scheme, got)
			}
		}
	})

	t.Run("invalid server cannot connect", func(t *testing.T) {
		t.Parallel()

		d := proxy.Descriptor{ID: "x", Server: "ftp://10.0.0.1:21"}
		if got := newTestProber().Probe(context.Background(), d, ""); got != StatusCannotConnect {
			t.Errorf("expected cannot connect, got %s", got)
		}
	})

	t.Run("invalid target is reported", func(t *testing.T) {
		t.Parallel()

		d := proxy.Descriptor{ID: "x", Server: "10.0.0.1:3128"}
		r := newTestProber().Check(context.Background(), d, "no-port")
		if r.Status != StatusCannotConnect || r.Detail == "" {
			t.Errorf("expected cannot connect with detail, got %+v", r)
		}
	})
}

// TestCheckAll tests concurrent probing.
func TestCheckAll(t *testing.T) {
	t.Parallel()

	okAddr := startServer(t, fakeSOCKS5("", "", 0x00))
	descs := []proxy.Descriptor{
		{ID: "ok", Server: "socks5://" + okAddr},
		{ID: "down", Server: "socks5://" + closedAddr(t)},
		{ID: "ok2", Server: "socks5://" + okAddr},
	}

	results := newTestProber().CheckAll(context.Background(), descs, "shop.example.com:443", 2)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []Status{StatusOK, StatusCannotConnect, StatusOK}
	for i, r := range results {
		if r.Proxy.ID != descs[i].ID {
			t.Errorf("result %d: expected proxy %s, got %s", i, descs[i].ID, r.Proxy.ID)
		}
		if r.Status != want[i] {
			t.Errorf("result %d: expected %s, got %s", i, want[i], r.Status)
		}
		if r.StatusText != want[i].String() {
			t.Errorf("result %d: expected status text %q, got %q", i, want[i].String(), r.StatusText)
		}
	}
}

// TestStatusError tests the status to error mapping.
func TestStatusError(t *testing.T) {
	t.Parallel()

	if StatusOK.Error() != nil {
		t.Error("expected nil error for OK")
	}
	tests := map[Status]error{
		StatusCannotConnect: ErrProxyCannotConnect,
		StatusTimeout:       ErrProxyTimeout,
		StatusRejected:      ErrProxyRejected,
		StatusWrongProtocol: ErrProxyWrongProtocol,
	}
	for s, want := range tests {
		if !errors.Is(s.Error(), want) {
			t.Errorf("%s: expected %v, got %v", s, want, s.Error())
		}
	}
	if Status(99).String() != "unknown" {
		t.Error("expected unknown status name")
	}
}

package tor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

// startSOCKS5 runs a minimal no-auth SOCKS5 proxy that supports CONNECT.
func startSOCKS5(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock proxy: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS5(conn)
		}
	}()
	return ln.Addr().String()
}

func serveSOCKS5(conn net.Conn) {
	defer conn.Close()

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, hdr[1])); err != nil {
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}
	var host string
	switch req[3] {
	case 0x01:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 0x03:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	portBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBytes); err != nil {
		return
	}
	port := int(portBytes[0])<<8 | int(portBytes[1])

	target, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), time.Second)
	if err != nil {
		_, _ = conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer target.Close()
	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0, 0}); err != nil {
		return
	}
	go func() { _, _ = io.Copy(target, conn) }()
	_, _ = io.Copy(conn, target)
}

// closedAddress returns a loopback address nothing listens on.
func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("valid address", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient("127.0.0.1:9050", 30*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !client.Proxied() || client.ProxyAddress() != "127.0.0.1:9050" {
			t.Errorf("unexpected client state: proxied=%v address=%q", client.Proxied(), client.ProxyAddress())
		}
	})

	invalid := []string{"", "127.0.0.1", ":9050", "127.0.0.1:0", "127.0.0.1:65536", "127.0.0.1:port"}
	for _, addr := range invalid {
		t.Run("rejects "+strconv.Quote(addr), func(t *testing.T) {
			t.Parallel()
			if _, err := NewClient(addr, time.Second); !errors.Is(err, ErrInvalidProxyAddress) {
				t.Errorf("expected ErrInvalidProxyAddress, got %v", err)
			}
		})
	}

	t.Run("direct client is not proxied", func(t *testing.T) {
		t.Parallel()
		if NewDirectClient(time.Second).Proxied() {
			t.Error("direct client reported a proxy")
		}
	})
}

func TestCheckConnection(t *testing.T) {
	t.Parallel()

	t.Run("OK against a SOCKS5 server", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(startSOCKS5(t), 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusOK {
			t.Errorf("expected OK, got %v", status)
		}
	})

	t.Run("CannotConnect when nothing listens", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(closedAddress(t), 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusCannotConnect {
			t.Errorf("expected CannotConnect, got %v", status)
		}
	})

	t.Run("WrongType for an HTTP server", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatal(err)
		}
		defer ln.Close()
		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			_, _ = conn.Read(make([]byte, 3))
			_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		}()

		client, err := NewClient(ln.Addr().String(), 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if status := client.CheckConnection(context.Background()); status != ProxyStatusWrongType {
			t.Errorf("expected WrongType, got %v", status)
		}
	})

	t.Run("direct client is always OK", func(t *testing.T) {
		t.Parallel()
		if status := NewDirectClient(time.Second).CheckConnection(context.Background()); status != ProxyStatusOK {
			t.Errorf("expected OK, got %v", status)
		}
	})
}

func TestDialContext(t *testing.T) {
	t.Parallel()

	t.Run("reaches the target through the proxy", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("through the proxy"))
		}))
		defer srv.Close()

		client, err := NewClient(startSOCKS5(t), 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		conn, err := client.DialContext(context.Background(), "tcp", srv.Listener.Addr().String())
		if err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		defer conn.Close()

		if _, err := conn.Write([]byte("GET / HTTP/1.0\r\nHost: x\r\n\r\n")); err != nil {
			t.Fatal(err)
		}
		resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "through the proxy" {
			t.Errorf("unexpected body %q", body)
		}
	})

	t.Run("unreachable proxy is reported as such", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(closedAddress(t), 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		_, err = client.DialContext(context.Background(), "tcp", "forum.example:80")
		if !errors.Is(err, ErrProxyCannotConnect) {
			t.Errorf("expected ErrProxyCannotConnect, got %v", err)
		}
	})

	t.Run("unreachable target is not a proxy failure", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(startSOCKS5(t), 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		_, err = client.DialContext(context.Background(), "tcp", closedAddress(t))
		if err == nil {
			t.Fatal("expected an error")
		}
		if errors.Is(err, ErrProxyCannotConnect) {
			t.Errorf("target failure misreported as proxy failure: %v", err)
		}
	})
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	t.Run("does not follow redirects", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}))
		defer srv.Close()

		resp, err := NewDirectClient(5*time.Second).NewHTTPClient("", nil).Get(srv.URL) //nolint:noctx // test code
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusFound {
			t.Errorf("expected 302, got %d", resp.StatusCode)
		}
	})

	t.Run("injects cookie and headers", func(t *testing.T) {
		t.Parallel()
		got := make(chan http.Header, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			got <- r.Header.Clone()
		}))
		defer srv.Close()

		hc := NewDirectClient(5*time.Second).NewHTTPClient("sid=abc", map[string]string{"X-Forum": "f1"})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Cookie", "lang=en")
		resp, err := hc.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		h := <-got
		gotCookie, gotHeader := h.Get("Cookie"), h.Get("X-Forum")
		if !strings.Contains(gotCookie, "lang=en") || !strings.Contains(gotCookie, "sid=abc") {
			t.Errorf("expected both cookies, got %q", gotCookie)
		}
		if gotHeader != "f1" {
			t.Errorf("expected X-Forum header, got %q", gotHeader)
		}
	})
}

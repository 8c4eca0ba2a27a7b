package kiosk

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/kioskpush/internal/display"
)

func testServiceConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.NodeID = "kiosk.test"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.InfoText = "ready"
	cfg.NoDefaultText = "no default"
	cfg.Session.ReadTimeout = 2 * time.Second
	cfg.Session.WriteTimeout = 2 * time.Second
	return cfg
}

func startKiosk(t *testing.T, cfg ServiceConfig) (*Service, string) {
	t.Helper()
	svc := NewServiceWithConfig(cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve exit err: %v", err)
		}
		svc.Display().Close()
	})
	return svc, ln.Addr().String()
}

// exchange writes each chunk, half-closes and returns everything the
// kiosk wrote back before closing.
func exchange(t *testing.T, addr string, chunks ...[]byte) string {
	t.Helper()
	out, err := tryExchange(addr, chunks...)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return out
}

func tryExchange(addr string, chunks ...[]byte) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	for _, chunk := range chunks {
		if _, err := conn.Write(chunk); err != nil {
			return "", err
		}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(conn)
	if err != nil && !isReset(err) {
		return string(out), err
	}
	return string(out), nil
}

func isReset(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}

func split(b []byte, size int) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		n := min(size, len(b))
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}

func waitForState(t *testing.T, m *display.Machine, within time.Duration, ok func(display.State) bool) display.State {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if st := m.Current(); ok(st) {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	st := m.Current()
	t.Fatalf("state condition not reached within %s: %+v", within, st.Summary())
	return st
}

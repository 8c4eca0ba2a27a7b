package sender

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/kioskpush/internal/display"
	"github.com/danmuck/kioskpush/internal/imagecodec"
	"github.com/danmuck/kioskpush/internal/kiosk"
	"github.com/danmuck/kioskpush/internal/testutil/imagetest"
	"github.com/danmuck/kioskpush/internal/testutil/testlog"
)

func startKiosk(t *testing.T) (*kiosk.Service, string) {
	t.Helper()
	cfg := kiosk.DefaultServiceConfig()
	cfg.NodeID = "kiosk.sender-test"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.InfoText = "ready"
	cfg.Session.ReadTimeout = 2 * time.Second
	cfg.Session.WriteTimeout = 2 * time.Second
	svc := kiosk.NewServiceWithConfig(cfg)

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
		<-done
		svc.Display().Close()
	})
	return svc, ln.Addr().String()
}

func testClient() *Client {
	cfg := DefaultConfig()
	cfg.Session.ConnectTimeout = time.Second
	cfg.Session.ReadTimeout = 2 * time.Second
	cfg.Session.WriteTimeout = 2 * time.Second
	return NewClient(cfg)
}

func writePhoto(t *testing.T, seed uint8) (string, []byte) {
	t.Helper()
	data := imagetest.PatternPNG(t, 20, 12, seed)
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	return path, data
}

func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestSendShowsStaticAndReceivesOK(t *testing.T) {
	testlog.Start(t)

	svc, addr := startKiosk(t)
	path, _ := writePhoto(t, 1)
	p, err := OpenPayload(path, 0)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	if p.Format != "png" || p.Width != 20 || p.Height != 12 {
		t.Fatalf("unexpected payload probe: %+v", p)
	}

	res := testClient().Send(context.Background(), Target{Addr: addr, Name: "lobby"}, p)
	if res.Err != nil || !res.Ack {
		t.Fatalf("send failed: %+v", res)
	}
	if res.Bytes != p.Size {
		t.Fatalf("sent %d bytes, want %d", res.Bytes, p.Size)
	}

	st := svc.Display().Current()
	want, _, err := imagecodec.LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Kind != display.KindStatic || !imagetest.SamePixels(st.Image, want) {
		t.Fatalf("display not showing sent image: %+v", st.Summary())
	}
}

func TestSendWithDurationShowsTimed(t *testing.T) {
	testlog.Start(t)

	svc, addr := startKiosk(t)
	path, _ := writePhoto(t, 2)
	p, err := OpenPayload(path, 30)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	if got := p.Command().Kind.String(); got != "SEND_PHOTO_WITH_TIMER" {
		t.Fatalf("unexpected command kind: %s", got)
	}
	res := testClient().Send(context.Background(), Target{Addr: addr}, p)
	if res.Err != nil || !res.Ack {
		t.Fatalf("send failed: %+v", res)
	}
	if st := svc.Display().Current(); st.Kind != display.KindTimed {
		t.Fatalf("expected timed display: %+v", st.Summary())
	}
}

func TestSendAllCollectsEveryResult(t *testing.T) {
	testlog.Start(t)

	svcA, addrA := startKiosk(t)
	svcB, addrB := startKiosk(t)
	path, _ := writePhoto(t, 3)
	p, err := OpenPayload(path, 0)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}

	targets := []Target{
		{Addr: addrA, Name: "a"},
		{Addr: deadAddr(t), Name: "gone"},
		{Addr: addrB, Name: "b"},
	}
	results := testClient().SendAll(context.Background(), targets, p)
	if len(results) != len(targets) {
		t.Fatalf("got %d results, want %d", len(results), len(targets))
	}
	for i, res := range results {
		if res.Target != targets[i] {
			t.Fatalf("result %d out of order: %+v", i, res.Target)
		}
	}
	if !results[0].Ack || !results[2].Ack {
		t.Fatalf("healthy targets not acked: %+v %+v", results[0], results[2])
	}
	var sendErr *SendError
	if !errors.As(results[1].Err, &sendErr) || sendErr.Op != "connect" || !errors.Is(results[1].Err, ErrConnect) {
		t.Fatalf("expected connect SendError, got %v", results[1].Err)
	}
	if sendErr.Target.Name != "gone" {
		t.Fatalf("error lost target identity: %+v", sendErr.Target)
	}
	for _, svc := range []*kiosk.Service{svcA, svcB} {
		if st := svc.Display().Current(); st.Kind != display.KindStatic {
			t.Fatalf("kiosk not updated: %+v", st.Summary())
		}
	}
}

// fakeKiosk reads the whole upload then answers with reply, or stays
// silent when reply is empty.
func fakeKiosk(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
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
				_, _ = io.Copy(io.Discard, conn)
				if reply == "" {
					time.Sleep(time.Second)
					return
				}
				_, _ = io.WriteString(conn, reply)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestSendReportsRejection(t *testing.T) {
	testlog.Start(t)

	path, _ := writePhoto(t, 4)
	p, err := OpenPayload(path, 0)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	res := testClient().Send(context.Background(), Target{Addr: fakeKiosk(t, "ERR\n")}, p)
	if res.Ack || !errors.Is(res.Err, ErrRejected) {
		t.Fatalf("expected rejection, got %+v", res)
	}
}

func TestSendAckTimeout(t *testing.T) {
	testlog.Start(t)

	path, _ := writePhoto(t, 5)
	p, err := OpenPayload(path, 0)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Session.ReadTimeout = 100 * time.Millisecond
	res := NewClient(cfg).Send(context.Background(), Target{Addr: fakeKiosk(t, "")}, p)
	if !errors.Is(res.Err, ErrSendTimeout) {
		t.Fatalf("expected ErrSendTimeout, got %v", res.Err)
	}
}

func TestSendWithoutWaitingForAck(t *testing.T) {
	testlog.Start(t)

	path, _ := writePhoto(t, 6)
	p, err := OpenPayload(path, 0)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	cfg := DefaultConfig()
	cfg.WaitAck = false
	res := NewClient(cfg).Send(context.Background(), Target{Addr: fakeKiosk(t, "")}, p)
	if res.Err != nil || res.Ack {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestShowDefaultAndStatus(t *testing.T) {
	testlog.Start(t)

	svc, addr := startKiosk(t)
	svc.Display().ShowStatic(imagetest.Pattern(4, 4, 1))
	client := testClient()
	target := Target{Addr: addr}

	results := client.ShowDefaultAll(context.Background(), []Target{target})
	if results[0].Err != nil {
		t.Fatalf("show default: %v", results[0].Err)
	}
	st, err := client.Status(context.Background(), target)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Node != "kiosk.sender-test" || st.Display.Kind != "info" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestConnectRetriesThenFails(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 3
	cfg.Session.Backoff.InitialDelay = 5 * time.Millisecond
	cfg.Session.Backoff.MaxDelay = 10 * time.Millisecond
	err := NewClient(cfg).SendShowDefault(context.Background(), Target{Addr: deadAddr(t)}).Err
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if !strings.Contains(err.Error(), "connect") {
		t.Fatalf("error does not name the failing step: %v", err)
	}
}

func TestOpenPayloadRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenPayload(path, 0); !errors.Is(err, imagecodec.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
	if _, err := OpenPayload(filepath.Join(t.TempDir(), "missing.png"), 0); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestAddressAppliesDefaultPort(t *testing.T) {
	c := NewClient(Config{Port: 5123})
	cases := []struct {
		in   string
		want string
	}{
		{"10.0.0.7", "10.0.0.7:5123"},
		{"10.0.0.7:6000", "10.0.0.7:6000"},
		{" kiosk.local ", "kiosk.local:5123"},
		{"::1", "[::1]:5123"},
		{"[::1]:7000", "[::1]:7000"},
	}
	for _, tc := range cases {
		if got := c.address(Target{Addr: tc.in}); got != tc.want {
			t.Fatalf("address(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
	if got := NewClient(Config{}).address(Target{Addr: "h"}); got != "h:"+strconv.Itoa(DefaultPort) {
		t.Fatalf("default port not applied: %s", got)
	}
}

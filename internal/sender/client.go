package sender

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/kioskpush/internal/display"
	"github.com/danmuck/kioskpush/internal/logging"
	"github.com/danmuck/kioskpush/internal/observability"
	"github.com/danmuck/kioskpush/internal/protocol/frame"
	"github.com/danmuck/kioskpush/internal/protocol/session"
	"golang.org/x/sync/errgroup"
)

const DefaultPort = 5000

var (
	ErrConnect     = errors.New("sender: connect failed")
	ErrSendTimeout = errors.New("sender: timed out")
	ErrRejected    = errors.New("sender: kiosk answered ERR")
)

// Target is one kiosk endpoint. Addr may omit the port.
type Target struct {
	Addr string
	Name string
}

func (t Target) String() string {
	if strings.TrimSpace(t.Name) == "" {
		return t.Addr
	}
	return fmt.Sprintf("%s(%s)", t.Name, t.Addr)
}

// SendError carries the target and failing step of one send.
type SendError struct {
	Target Target
	Op     string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sender: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one send. Ack is true only when the kiosk
// answered OK.
type Result struct {
	Target  Target
	Ack     bool
	Bytes   int64
	Elapsed time.Duration
	Err     error
}

// Status is the kiosk's GET_STATUS reply.
type Status struct {
	Node    string          `json:"node"`
	Uptime  string          `json:"uptime"`
	Display display.Summary `json:"display"`
}

type Config struct {
	Session            session.Config
	Port               int
	WaitAck            bool
	MaxConnectAttempts int
	Parallelism        int
}

func DefaultConfig() Config {
	return Config{
		Session:            session.DefaultConfig(),
		Port:               DefaultPort,
		WaitAck:            true,
		MaxConnectAttempts: 1,
		Parallelism:        8,
	}
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = 1
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Client{cfg: cfg}
}

// Send streams p to target and reports the outcome.
func (c *Client) Send(ctx context.Context, target Target, p Payload) Result {
	start := time.Now()
	res := Result{Target: target}
	res.Ack, res.Bytes, res.Err = c.send(ctx, target, p)
	res.Elapsed = time.Since(start)
	observability.RecordSend(outcomeFor(res))
	if res.Err != nil {
		logging.Warnf("sender.Client.send failed target=%q err=%v", target.String(), res.Err)
	} else {
		logging.Infof("sender.Client.send done target=%q bytes=%d ack=%t elapsed=%s", target.String(), res.Bytes, res.Ack, res.Elapsed)
	}
	return res
}

func (c *Client) send(ctx context.Context, target Target, p Payload) (bool, int64, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return false, 0, &SendError{Target: target, Op: "open", Err: err}
	}
	defer f.Close()

	conn, err := c.connect(ctx, target)
	if err != nil {
		return false, 0, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	w := &deadlineWriter{conn: conn, timeout: c.cfg.Session.WriteTimeout}
	if err := frame.WriteCommand(w, p.Command()); err != nil {
		return false, 0, c.fail(ctx, target, "command", err)
	}
	n, err := io.CopyN(w, f, p.Size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("file shrank to %d of %d bytes: %w", n, p.Size, io.ErrUnexpectedEOF)
		}
		return false, n, c.fail(ctx, target, "stream", err)
	}
	if err := closeWrite(conn); err != nil {
		return false, n, c.fail(ctx, target, "close-write", err)
	}
	if !c.cfg.WaitAck {
		return false, n, nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Session.ReadTimeout))
	ok, err := frame.ReadAck(conn)
	if err != nil {
		return false, n, c.fail(ctx, target, "ack", err)
	}
	if !ok {
		return false, n, &SendError{Target: target, Op: "ack", Err: ErrRejected}
	}
	return true, n, nil
}

// SendShowDefault asks target to revert to its default image. The kiosk
// sends no ack; with WaitAck the call waits for the kiosk to close.
func (c *Client) SendShowDefault(ctx context.Context, target Target) Result {
	start := time.Now()
	res := Result{Target: target}
	res.Err = c.showDefault(ctx, target)
	res.Elapsed = time.Since(start)
	observability.RecordSend(outcomeFor(res))
	if res.Err != nil {
		logging.Warnf("sender.Client.showDefault failed target=%q err=%v", target.String(), res.Err)
	}
	return res
}

func (c *Client) showDefault(ctx context.Context, target Target) error {
	conn, err := c.connect(ctx, target)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	w := &deadlineWriter{conn: conn, timeout: c.cfg.Session.WriteTimeout}
	if err := frame.WriteCommand(w, frame.ShowDefault()); err != nil {
		return c.fail(ctx, target, "command", err)
	}
	if err := closeWrite(conn); err != nil {
		return c.fail(ctx, target, "close-write", err)
	}
	if !c.cfg.WaitAck {
		return nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Session.ReadTimeout))
	if _, err := io.Copy(io.Discard, conn); err != nil {
		return c.fail(ctx, target, "drain", err)
	}
	return nil
}

// Status queries target with GET_STATUS.
func (c *Client) Status(ctx context.Context, target Target) (Status, error) {
	conn, err := c.connect(ctx, target)
	if err != nil {
		return Status{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	w := &deadlineWriter{conn: conn, timeout: c.cfg.Session.WriteTimeout}
	if err := frame.WriteCommand(w, frame.Command{Kind: frame.KindGetStatus, Keyword: frame.KeywordGetStatus}); err != nil {
		return Status{}, c.fail(ctx, target, "command", err)
	}
	_ = closeWrite(conn)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Session.ReadTimeout))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Status{}, c.fail(ctx, target, "status", err)
	}
	var st Status
	if err := json.Unmarshal(line, &st); err != nil {
		return Status{}, &SendError{Target: target, Op: "status", Err: err}
	}
	return st, nil
}

// SendAll sends p to every target with at most Parallelism in flight and
// returns one Result per target in input order.
func (c *Client) SendAll(ctx context.Context, targets []Target, p Payload) []Result {
	return c.each(ctx, targets, func(ctx context.Context, t Target) Result {
		return c.Send(ctx, t, p)
	})
}

// ShowDefaultAll is SendShowDefault fanned out like SendAll.
func (c *Client) ShowDefaultAll(ctx context.Context, targets []Target) []Result {
	return c.each(ctx, targets, c.SendShowDefault)
}

func (c *Client) each(ctx context.Context, targets []Target, fn func(context.Context, Target) Result) []Result {
	results := make([]Result, len(targets))
	var g errgroup.Group
	g.SetLimit(c.cfg.Parallelism)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			results[i] = fn(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Client) connect(ctx context.Context, target Target) (net.Conn, error) {
	addr := c.address(target)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		logging.Debugf("sender.Client.connect attempt=%d addr=%q err=%v", attempt, addr, err)
		if attempt >= c.cfg.MaxConnectAttempts || ctx.Err() != nil {
			if isTimeout(err) {
				err = fmt.Errorf("%w: %w: %w", ErrConnect, ErrSendTimeout, err)
			} else {
				err = fmt.Errorf("%w: %w", ErrConnect, err)
			}
			return nil, &SendError{Target: target, Op: "connect", Err: err}
		}
		if werr := session.WaitBackoff(ctx, c.cfg.Session.Backoff, attempt, rng); werr != nil {
			return nil, &SendError{Target: target, Op: "connect", Err: fmt.Errorf("%w: %w", ErrConnect, werr)}
		}
	}
}

func (c *Client) address(target Target) string {
	addr := strings.TrimSpace(target.Addr)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(c.cfg.Port))
}

func (c *Client) fail(ctx context.Context, target Target, op string, err error) error {
	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	} else if isTimeout(err) {
		err = fmt.Errorf("%w: %w", ErrSendTimeout, err)
	}
	return &SendError{Target: target, Op: op, Err: err}
}

// deadlineWriter refreshes the write deadline before every write so slow
// links stream large files without one deadline covering the whole copy.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.conn.Write(p)
}

func closeWrite(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func outcomeFor(res Result) string {
	switch {
	case res.Err == nil && res.Ack:
		return observability.OutcomeOK
	case res.Err == nil:
		return observability.OutcomeNoAck
	case errors.Is(res.Err, ErrRejected):
		return observability.OutcomeRejected
	case errors.Is(res.Err, ErrSendTimeout):
		return observability.OutcomeTimeout
	default:
		return observability.OutcomeErr
	}
}

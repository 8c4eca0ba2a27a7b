package kiosk

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"os"
	"time"

	"github.com/danmuck/kioskpush/internal/display"
	"github.com/danmuck/kioskpush/internal/imagecodec"
	"github.com/danmuck/kioskpush/internal/logging"
	"github.com/danmuck/kioskpush/internal/observability"
	"github.com/danmuck/kioskpush/internal/protocol/frame"
	"github.com/google/uuid"
)

// conn is one accepted socket moving through
// AwaitCommand -> Dispatch -> AwaitPayload -> ApplyState -> SendAck -> Closed.
type conn struct {
	svc    *Service
	raw    net.Conn
	lr     *frame.LineReader
	id     string
	remote string
}

// statusReply answers GET_STATUS.
type statusReply struct {
	Node    string          `json:"node"`
	Uptime  string          `json:"uptime"`
	Display display.Summary `json:"display"`
}

// handleConn runs one connection to completion. The socket is closed on
// every path and panics stay inside this goroutine.
func (s *Service) handleConn(raw net.Conn) {
	c := &conn{
		svc:    s,
		raw:    raw,
		lr:     frame.NewLineReader(newIdleReader(raw, s.cfg.Session.ReadTimeout, s.cfg.TransferTimeout)),
		id:     uuid.NewString(),
		remote: raw.RemoteAddr().String(),
	}
	release := observability.TrackConnection()
	defer release()
	defer raw.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("kiosk.conn panic transfer=%s remote=%q panic=%v", c.id, c.remote, r)
			observability.RecordTransfer("PANIC", observability.OutcomeErr)
		}
	}()

	cmd, err := c.lr.ReadCommand()
	if err != nil {
		c.abort("read command", err)
		observability.RecordTransfer("NONE", outcomeFor(err))
		return
	}
	logging.Debugf("kiosk.conn command transfer=%s remote=%q keyword=%q malformed=%v", c.id, c.remote, cmd.Keyword, cmd.Malformed())
	outcome := c.dispatch(cmd)
	observability.RecordTransfer(cmd.Kind.String(), outcome)
}

func (c *conn) dispatch(cmd frame.Command) string {
	switch {
	case cmd.Kind == frame.KindShowDefault && !cmd.Malformed():
		st := c.svc.display.ShowDefault()
		logging.Infof("kiosk.conn show default transfer=%s remote=%q state=%s", c.id, c.remote, st.Kind)
		return observability.OutcomeNoAck
	case cmd.Kind == frame.KindGetStatus:
		return c.writeStatus()
	case cmd.Kind == frame.KindGetScreenshot:
		logging.Infof("kiosk.conn reserved command transfer=%s remote=%q keyword=%s", c.id, c.remote, cmd.Keyword)
		return observability.OutcomeNoAck
	case cmd.HasPayload():
		return c.receivePhoto(cmd)
	case cmd.DeclaresLength():
		logging.Warnf("kiosk.conn rejected unknown command transfer=%s remote=%q line=%q", c.id, c.remote, cmd.Raw)
		c.writeAck(false)
		return observability.OutcomeRejected
	default:
		return c.receiveLegacy(cmd)
	}
}

func (c *conn) receivePhoto(cmd frame.Command) string {
	res, err := c.decode(c.lr, int64(cmd.Length))
	if err != nil {
		return c.fail(cmd.Keyword, err)
	}

	if cmd.Kind == frame.KindSendPhotoWithTimer && cmd.DurationSeconds > 0 {
		d := secondsToDuration(cmd.DurationSeconds)
		st := c.svc.display.ShowTimed(res.Image, d, c.svc.DefaultImage())
		logging.Infof(
			"kiosk.conn timed image transfer=%s remote=%q bytes=%d format=%s spilled=%v duration=%s seq=%d",
			c.id, c.remote, res.Bytes, res.Format, res.Spilled, d, st.Seq,
		)
	} else {
		st := c.svc.display.ShowStatic(res.Image)
		logging.Infof(
			"kiosk.conn static image transfer=%s remote=%q bytes=%d format=%s spilled=%v seq=%d",
			c.id, c.remote, res.Bytes, res.Format, res.Spilled, st.Seq,
		)
	}
	c.writeAck(true)
	return observability.OutcomeOK
}

// receiveLegacy treats the consumed line plus the rest of the stream as
// one bare image. A line with nothing after it closes without an ack.
func (c *conn) receiveLegacy(cmd frame.Command) string {
	head := bytes.Clone(c.lr.Consumed())
	eof, err := c.lr.AtEOF()
	if err != nil {
		c.abort("legacy peek", err)
		return outcomeFor(err)
	}
	if eof {
		logging.Warnf("kiosk.conn unusable command transfer=%s remote=%q line=%q err=%v", c.id, c.remote, truncate(cmd.Raw, 64), cmd.Err)
		return observability.OutcomeClosed
	}

	logging.Infof("kiosk.conn legacy stream transfer=%s remote=%q keyword=%q", c.id, c.remote, truncate(cmd.Keyword, 32))
	res, err := c.decode(io.MultiReader(bytes.NewReader(head), c.lr), 0)
	if err != nil {
		return c.fail("LEGACY", err)
	}
	st := c.svc.display.ShowStatic(res.Image)
	logging.Infof("kiosk.conn legacy image transfer=%s remote=%q bytes=%d format=%s seq=%d", c.id, c.remote, res.Bytes, res.Format, st.Seq)
	c.writeAck(true)
	return observability.OutcomeOK
}

func (c *conn) decode(r io.Reader, length int64) (imagecodec.Result, error) {
	start := time.Now()
	res, err := c.svc.decoder.Decode(r, length)
	spilled := res.Spilled || length > c.svc.decoder.Threshold
	observability.RecordDecode(res.Bytes, spilled, err == nil, time.Since(start))
	return res, err
}

// fail applies the fallback display and sends ERR, unless the payload
// timed out, in which case the connection is reset without an ack.
func (c *conn) fail(keyword string, err error) string {
	if isTimeout(err) {
		c.abort("read payload", err)
		return observability.OutcomeTimeout
	}
	st := c.svc.display.ShowDefault()
	logging.Warnf("kiosk.conn transfer failed transfer=%s remote=%q keyword=%q state=%s err=%v", c.id, c.remote, keyword, st.Kind, err)
	c.writeAck(false)
	return observability.OutcomeErr
}

// abort ends the connection without an ack. Timeouts reset the socket.
func (c *conn) abort(stage string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logging.Debugf("kiosk.conn peer closed transfer=%s remote=%q stage=%q", c.id, c.remote, stage)
	case isTimeout(err):
		logging.Warnf("kiosk.conn read timeout transfer=%s remote=%q stage=%q", c.id, c.remote, stage)
		if tcp, ok := c.raw.(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
	default:
		logging.Warnf("kiosk.conn read failed transfer=%s remote=%q stage=%q err=%v", c.id, c.remote, stage, err)
	}
}

func outcomeFor(err error) string {
	if isTimeout(err) {
		return observability.OutcomeTimeout
	}
	return observability.OutcomeClosed
}

func (c *conn) writeAck(ok bool) {
	_ = c.raw.SetWriteDeadline(time.Now().Add(c.svc.cfg.Session.WriteTimeout))
	if err := frame.WriteAck(c.raw, ok); err != nil {
		logging.Warnf("kiosk.conn ack write failed transfer=%s remote=%q ok=%v err=%v", c.id, c.remote, ok, err)
	}
}

func (c *conn) writeStatus() string {
	reply := statusReply{
		Node:    c.svc.cfg.NodeID,
		Uptime:  time.Since(c.svc.started).Round(time.Second).String(),
		Display: c.svc.display.Current().Summary(),
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		logging.Errorf("kiosk.conn status encode failed transfer=%s err=%v", c.id, err)
		return observability.OutcomeErr
	}
	_ = c.raw.SetWriteDeadline(time.Now().Add(c.svc.cfg.Session.WriteTimeout))
	if _, err := c.raw.Write(append(payload, '\n')); err != nil {
		logging.Warnf("kiosk.conn status write failed transfer=%s remote=%q err=%v", c.id, c.remote, err)
		return observability.OutcomeErr
	}
	return observability.OutcomeOK
}

// idleReader refreshes the read deadline before every read so a payload
// that keeps arriving is never cut off, while a stall longer than idle or a
// transfer running past the overall cap still times out.
type idleReader struct {
	conn     net.Conn
	idle     time.Duration
	deadline time.Time
}

func newIdleReader(conn net.Conn, idle, total time.Duration) *idleReader {
	r := &idleReader{conn: conn, idle: idle}
	if total > 0 {
		r.deadline = time.Now().Add(total)
	}
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	next := time.Now().Add(r.idle)
	if !r.deadline.IsZero() && next.After(r.deadline) {
		next = r.deadline
	}
	_ = r.conn.SetReadDeadline(next)
	return r.conn.Read(p)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func secondsToDuration(sec uint64) time.Duration {
	if sec > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(sec) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

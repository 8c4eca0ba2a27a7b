package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	KeywordShowDefault        = "SHOW_DEFAULT"
	KeywordSendPhoto          = "SEND_PHOTO"
	KeywordSendPhotoWithTimer = "SEND_PHOTO_WITH_TIMER"
	KeywordGetStatus          = "GET_STATUS"
	KeywordGetScreenshot      = "GET_SCREENSHOT"

	AckOK  = "OK"
	AckERR = "ERR"

	// MaxLineBytes bounds a single command line. Longer lines are
	// surfaced as unknown commands so legacy streams can still be decoded.
	MaxLineBytes = 4 * 1024

	fieldSep = ":"
)

var (
	ErrMalformedCommand = errors.New("frame: malformed command line")
	ErrLineTooLong      = errors.New("frame: command line too long")
	ErrInvalidAck       = errors.New("frame: invalid ack line")
)

// Kind tags a decoded command line.
type Kind int

const (
	KindUnknown Kind = iota
	KindShowDefault
	KindSendPhoto
	KindSendPhotoWithTimer
	KindGetStatus
	KindGetScreenshot
)

func (k Kind) String() string {
	switch k {
	case KindShowDefault:
		return KeywordShowDefault
	case KindSendPhoto:
		return KeywordSendPhoto
	case KindSendPhotoWithTimer:
		return KeywordSendPhotoWithTimer
	case KindGetStatus:
		return KeywordGetStatus
	case KindGetScreenshot:
		return KeywordGetScreenshot
	default:
		return "UNKNOWN"
	}
}

// Command is one decoded command line.
//
// Err is set when the keyword was recognized but its fields were not
// (wrong count, non-numeric). Kind and Keyword stay populated so callers
// can still decide between rejection and legacy fallback.
type Command struct {
	Kind            Kind
	Keyword         string
	Raw             string
	Length          uint32
	DurationSeconds uint64
	Err             error
}

// Malformed reports whether the line could not be fully parsed.
func (c Command) Malformed() bool {
	return c.Err != nil
}

// HasPayload reports whether a well-formed command declares a byte payload.
func (c Command) HasPayload() bool {
	if c.Err != nil {
		return false
	}
	return c.Kind == KindSendPhoto || c.Kind == KindSendPhotoWithTimer
}

// LineReader reads command lines and then exact payload bytes from the
// same buffered source, so nothing buffered past the line is lost.
type LineReader struct {
	r        *bufio.Reader
	consumed []byte
}

func NewLineReader(r io.Reader) *LineReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &LineReader{r: br}
}

// Read implements io.Reader over the remaining stream.
func (l *LineReader) Read(p []byte) (int, error) {
	return l.r.Read(p)
}

// Consumed returns the exact bytes taken by the last ReadCommand,
// terminator included.
func (l *LineReader) Consumed() []byte {
	return l.consumed
}

// AtEOF reports whether the stream has no further bytes. It blocks until
// one byte is available or the stream ends.
func (l *LineReader) AtEOF() (bool, error) {
	_, err := l.r.Peek(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// ReadCommand reads one line terminated by "\n", "\r\n" or a lone "\r".
// A byte following a lone "\r" is pushed back for later reads.
// io.EOF is returned only when the stream ends before any byte.
func (l *LineReader) ReadCommand() (Command, error) {
	line, err := l.readLine()
	if err != nil {
		if errors.Is(err, ErrLineTooLong) {
			return Command{Kind: KindUnknown, Raw: string(line), Err: err}, nil
		}
		return Command{}, err
	}
	return ParseCommand(string(line)), nil
}

func (l *LineReader) readLine() ([]byte, error) {
	l.consumed = l.consumed[:0]
	var line []byte
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(l.consumed) == 0 {
					return nil, io.EOF
				}
				return line, nil
			}
			return nil, err
		}
		l.consumed = append(l.consumed, b)
		switch b {
		case '\n':
			return line, nil
		case '\r':
			next, err := l.r.ReadByte()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return line, nil
				}
				return nil, err
			}
			if next == '\n' {
				l.consumed = append(l.consumed, next)
			} else if err := l.r.UnreadByte(); err != nil {
				return nil, err
			}
			return line, nil
		}
		line = append(line, b)
		if len(line) > MaxLineBytes {
			return line, ErrLineTooLong
		}
	}
}

// ParseCommand decodes one line without its terminator.
func ParseCommand(line string) Command {
	fields := strings.Split(line, fieldSep)
	cmd := Command{Keyword: fields[0], Raw: line}
	args := fields[1:]

	switch cmd.Keyword {
	case KeywordShowDefault:
		cmd.Kind = KindShowDefault
		if len(args) != 0 {
			cmd.Err = fmt.Errorf("%w: %s takes no fields", ErrMalformedCommand, cmd.Keyword)
		}
	case KeywordGetStatus:
		cmd.Kind = KindGetStatus
	case KeywordGetScreenshot:
		cmd.Kind = KindGetScreenshot
	case KeywordSendPhoto:
		cmd.Kind = KindSendPhoto
		if len(args) != 1 {
			cmd.Err = fmt.Errorf("%w: %s wants 1 field, got %d", ErrMalformedCommand, cmd.Keyword, len(args))
			return cmd
		}
		cmd.Length, cmd.Err = parseLength(args[0])
	case KeywordSendPhotoWithTimer:
		cmd.Kind = KindSendPhotoWithTimer
		if len(args) != 2 {
			cmd.Err = fmt.Errorf("%w: %s wants 2 fields, got %d", ErrMalformedCommand, cmd.Keyword, len(args))
			return cmd
		}
		if cmd.Length, cmd.Err = parseLength(args[0]); cmd.Err != nil {
			return cmd
		}
		cmd.DurationSeconds, cmd.Err = parseDuration(args[1])
	default:
		cmd.Kind = KindUnknown
		if len(args) > 0 {
			if n, err := parseLength(args[0]); err == nil {
				cmd.Length = n
			}
		}
	}
	return cmd
}

// DeclaresLength reports whether an unknown command still carried a
// parseable length field, which makes it a rejection rather than a
// legacy image stream.
func (c Command) DeclaresLength() bool {
	if c.Kind != KindUnknown {
		return false
	}
	fields := strings.Split(c.Raw, fieldSep)
	if len(fields) < 2 {
		return false
	}
	_, err := parseLength(fields[1])
	return err == nil
}

func parseLength(raw string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: length %q", ErrMalformedCommand, raw)
	}
	return uint32(n), nil
}

func parseDuration(raw string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrMalformedCommand, raw)
	}
	return n, nil
}

// FormatCommand renders the command line including its "\n" terminator.
func FormatCommand(c Command) string {
	switch c.Kind {
	case KindShowDefault:
		return KeywordShowDefault + "\n"
	case KindSendPhoto:
		return fmt.Sprintf("%s:%d\n", KeywordSendPhoto, c.Length)
	case KindSendPhotoWithTimer:
		return fmt.Sprintf("%s:%d:%d\n", KeywordSendPhotoWithTimer, c.Length, c.DurationSeconds)
	case KindGetStatus:
		return KeywordGetStatus + "\n"
	case KindGetScreenshot:
		return KeywordGetScreenshot + "\n"
	default:
		return c.Raw + "\n"
	}
}

func WriteCommand(w io.Writer, c Command) error {
	_, err := io.WriteString(w, FormatCommand(c))
	return err
}

func SendPhoto(length uint32) Command {
	return Command{Kind: KindSendPhoto, Keyword: KeywordSendPhoto, Length: length}
}

func SendPhotoWithTimer(length uint32, seconds uint64) Command {
	return Command{Kind: KindSendPhotoWithTimer, Keyword: KeywordSendPhotoWithTimer, Length: length, DurationSeconds: seconds}
}

func ShowDefault() Command {
	return Command{Kind: KindShowDefault, Keyword: KeywordShowDefault}
}

func WriteAck(w io.Writer, ok bool) error {
	line := AckERR
	if ok {
		line = AckOK
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}

// ReadAck reads one "OK"/"ERR" line.
func ReadAck(r io.Reader) (bool, error) {
	lr := NewLineReader(r)
	line, err := lr.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, fmt.Errorf("%w: %w", ErrInvalidAck, io.ErrUnexpectedEOF)
		}
		return false, err
	}
	switch strings.TrimSpace(string(line)) {
	case AckOK:
		return true, nil
	case AckERR:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidAck, string(line))
	}
}

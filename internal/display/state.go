package display

import (
	"image"
	"time"
)

// Kind identifies the active display variant.
type Kind int

const (
	KindInfo Kind = iota
	KindStatic
	KindTimed
)

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindStatic:
		return "static"
	case KindTimed:
		return "timed"
	default:
		return "unknown"
	}
}

// State is one committed display value. States are never mutated after
// commit; Seq identifies the commit.
type State struct {
	Kind      Kind
	Text      string
	Image     image.Image
	Fallback  image.Image
	Deadline  time.Time
	Seq       uint64
	ChangedAt time.Time
}

// Summary is the JSON shape of a State for status endpoints.
type Summary struct {
	Kind        string     `json:"kind"`
	Seq         uint64     `json:"seq"`
	Text        string     `json:"text,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	HasFallback bool       `json:"has_fallback,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ChangedAt   time.Time  `json:"changed_at"`
}

func (s State) Summary() Summary {
	out := Summary{
		Kind:        s.Kind.String(),
		Seq:         s.Seq,
		Text:        s.Text,
		HasFallback: s.Fallback != nil,
		ChangedAt:   s.ChangedAt,
	}
	if s.Image != nil {
		b := s.Image.Bounds()
		out.Width, out.Height = b.Dx(), b.Dy()
	}
	if s.Kind == KindTimed && !s.Deadline.IsZero() {
		d := s.Deadline
		out.Deadline = &d
	}
	return out
}

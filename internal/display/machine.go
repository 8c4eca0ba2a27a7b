package display

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInfoText      = "Waiting for image..."
	DefaultNoDefaultText = "No default image configured"
)

// DefaultImageFunc returns the configured default image or nil.
type DefaultImageFunc func() image.Image

// Config wires the machine's collaborators.
type Config struct {
	// InfoText is the initial state and the revert target when a timed
	// image has no fallback.
	InfoText string
	// NoDefaultText is shown by ShowDefault when no default image exists.
	NoDefaultText string
	DefaultImage  DefaultImageFunc
	Clock         Clock
	// OnCommit runs under the machine lock after every commit. It must not
	// call back into the machine.
	OnCommit func(State)
}

// Machine serializes every display transition through one mutex and
// publishes each committed State as an immutable snapshot.
type Machine struct {
	cfg Config

	mu      sync.Mutex
	seq     uint64
	pending Timer
	subs    map[uint64]chan State
	nextSub uint64
	closed  bool

	current atomic.Pointer[State]
}

func NewMachine(cfg Config) *Machine {
	if cfg.InfoText == "" {
		cfg.InfoText = DefaultInfoText
	}
	if cfg.NoDefaultText == "" {
		cfg.NoDefaultText = DefaultNoDefaultText
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	m := &Machine{
		cfg:  cfg,
		subs: make(map[uint64]chan State),
	}
	m.mu.Lock()
	m.commitLocked(State{Kind: KindInfo, Text: cfg.InfoText})
	m.mu.Unlock()
	return m
}

// Current returns the last committed state without taking the write lock.
func (m *Machine) Current() State {
	return *m.current.Load()
}

// ShowInfo cancels any pending revert and shows text.
func (m *Machine) ShowInfo(text string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	return m.commitLocked(State{Kind: KindInfo, Text: text})
}

// ShowStatic cancels any pending revert and shows img indefinitely.
// A nil img shows the info text instead.
func (m *Machine) ShowStatic(img image.Image) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	if img == nil {
		return m.commitLocked(State{Kind: KindInfo, Text: m.cfg.InfoText})
	}
	return m.commitLocked(State{Kind: KindStatic, Image: img})
}

// ShowTimed shows img until d elapses, then reverts to fallback (or the
// info text when fallback is nil). d <= 0 behaves like ShowStatic.
func (m *Machine) ShowTimed(img image.Image, d time.Duration, fallback image.Image) State {
	if d <= 0 || img == nil {
		return m.ShowStatic(img)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	st := m.commitLocked(State{
		Kind:     KindTimed,
		Image:    img,
		Fallback: fallback,
		Deadline: m.cfg.Clock.Now().Add(d),
	})
	if m.closed {
		return st
	}
	seq := st.Seq
	m.pending = m.cfg.Clock.AfterFunc(d, func() { m.revert(seq) })
	return st
}

// ShowDefault shows the default image if one is configured, else the
// no-default text. Safe to call from any state.
func (m *Machine) ShowDefault() State {
	if m.cfg.DefaultImage != nil {
		if img := m.cfg.DefaultImage(); img != nil {
			return m.ShowStatic(img)
		}
	}
	return m.ShowInfo(m.cfg.NoDefaultText)
}

// DefaultImage returns the configured default image or nil.
func (m *Machine) DefaultImage() image.Image {
	if m.cfg.DefaultImage == nil {
		return nil
	}
	return m.cfg.DefaultImage()
}

// revert fires at a timed state's deadline. It only applies when the
// timed state that scheduled it is still the active one.
func (m *Machine) revert(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.current.Load()
	if m.closed || cur.Seq != seq || cur.Kind != KindTimed {
		return
	}
	m.pending = nil
	if cur.Fallback != nil {
		m.commitLocked(State{Kind: KindStatic, Image: cur.Fallback})
		return
	}
	m.commitLocked(State{Kind: KindInfo, Text: m.cfg.InfoText})
}

func (m *Machine) cancelLocked() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

func (m *Machine) commitLocked(st State) State {
	m.seq++
	st.Seq = m.seq
	st.ChangedAt = m.cfg.Clock.Now()
	m.current.Store(&st)
	for _, ch := range m.subs {
		publish(ch, st)
	}
	if m.cfg.OnCommit != nil {
		m.cfg.OnCommit(st)
	}
	return st
}

// publish delivers st keeping only the newest undelivered state.
func publish(ch chan State, st State) {
	select {
	case <-ch:
	default:
	}
	ch <- st
}

// Subscribe returns a channel that always holds the most recent state not
// yet received. The current state is delivered immediately.
func (m *Machine) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan State, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- *m.current.Load()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Close stops the pending timer and ends all subscriptions. Show* calls
// after Close still update Current but schedule nothing.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cancelLocked()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

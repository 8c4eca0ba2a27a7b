package display

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/kioskpush/internal/testutil/imagetest"
	"github.com/danmuck/kioskpush/internal/testutil/testlog"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func newTestMachine(t *testing.T, defaultImg image.Image) (*Machine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := NewMachine(Config{
		InfoText:      "ready",
		NoDefaultText: "no default",
		DefaultImage:  func() image.Image { return defaultImg },
		Clock:         clock,
	})
	t.Cleanup(m.Close)
	return m, clock
}

func TestMachineStartsInInfo(t *testing.T) {
	testlog.Start(t)

	m, _ := newTestMachine(t, nil)
	st := m.Current()
	if st.Kind != KindInfo || st.Text != "ready" || st.Seq != 1 {
		t.Fatalf("unexpected initial state: %+v", st.Summary())
	}
}

func TestShowTimedRevertsToFallback(t *testing.T) {
	testlog.Start(t)

	m, clock := newTestMachine(t, nil)
	img := imagetest.Pattern(4, 4, 1)
	fallback := imagetest.Pattern(2, 2, 2)

	timed := m.ShowTimed(img, 2*time.Second, fallback)
	if timed.Kind != KindTimed || !timed.Deadline.Equal(clock.Now().Add(2*time.Second)) {
		t.Fatalf("unexpected timed state: %+v", timed.Summary())
	}

	clock.Advance(time.Second)
	if st := m.Current(); st.Seq != timed.Seq || st.Kind != KindTimed {
		t.Fatalf("reverted too early: %+v", st.Summary())
	}

	clock.Advance(2 * time.Second)
	st := m.Current()
	if st.Kind != KindStatic || st.Image != image.Image(fallback) {
		t.Fatalf("expected static fallback, got %+v", st.Summary())
	}
}

func TestShowTimedWithoutFallbackRevertsToInfo(t *testing.T) {
	testlog.Start(t)

	m, clock := newTestMachine(t, nil)
	m.ShowTimed(imagetest.Pattern(4, 4, 1), 2*time.Second, nil)
	clock.Advance(3 * time.Second)
	st := m.Current()
	if st.Kind != KindInfo || st.Text != "ready" {
		t.Fatalf("expected info revert, got %+v", st.Summary())
	}
}

func TestNewerCommandSupersedesPendingRevert(t *testing.T) {
	testlog.Start(t)

	m, clock := newTestMachine(t, nil)
	m.ShowTimed(imagetest.Pattern(4, 4, 1), 10*time.Second, imagetest.Pattern(2, 2, 2))
	clock.Advance(time.Second)

	shown := m.ShowDefault()
	if shown.Kind != KindInfo || shown.Text != "no default" {
		t.Fatalf("unexpected default state: %+v", shown.Summary())
	}

	clock.Advance(20 * time.Second)
	if st := m.Current(); st.Seq != shown.Seq {
		t.Fatalf("spontaneous revert after supersession: %+v", st.Summary())
	}
}

func TestStaleRevertIsNoOp(t *testing.T) {
	testlog.Start(t)

	m, _ := newTestMachine(t, nil)
	timed := m.ShowTimed(imagetest.Pattern(4, 4, 1), time.Minute, nil)
	static := m.ShowStatic(imagetest.Pattern(3, 3, 3))

	// A timer that lost the Stop race still fires with its old identity.
	m.revert(timed.Seq)
	if st := m.Current(); st.Seq != static.Seq || st.Kind != KindStatic {
		t.Fatalf("stale revert mutated state: %+v", st.Summary())
	}
}

func TestShowTimedNonPositiveDurationIsStatic(t *testing.T) {
	testlog.Start(t)

	m, clock := newTestMachine(t, nil)
	st := m.ShowTimed(imagetest.Pattern(4, 4, 1), 0, imagetest.Pattern(2, 2, 2))
	if st.Kind != KindStatic {
		t.Fatalf("expected static, got %+v", st.Summary())
	}
	if len(clock.timers) != 0 {
		t.Fatalf("no timer may be scheduled for zero duration")
	}
}

func TestShowDefaultIdempotentWithoutDefaultImage(t *testing.T) {
	testlog.Start(t)

	m, _ := newTestMachine(t, nil)
	prior := []func(){
		func() {},
		func() { m.ShowStatic(imagetest.Pattern(2, 2, 0)) },
		func() { m.ShowTimed(imagetest.Pattern(2, 2, 0), time.Hour, nil) },
		func() { m.ShowInfo("custom") },
		func() { m.ShowDefault() },
	}
	for i, setup := range prior {
		setup()
		st := m.ShowDefault()
		if st.Kind != KindInfo || st.Text != "no default" {
			t.Fatalf("case %d: expected info no-default, got %+v", i, st.Summary())
		}
	}
}

func TestShowDefaultUsesDefaultImage(t *testing.T) {
	testlog.Start(t)

	def := imagetest.Pattern(5, 5, 5)
	m, _ := newTestMachine(t, def)
	st := m.ShowDefault()
	if st.Kind != KindStatic || st.Image != image.Image(def) {
		t.Fatalf("expected static default image, got %+v", st.Summary())
	}
}

func TestShowStaticNilShowsInfo(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	if st := m.ShowStatic(nil); st.Kind != KindInfo || st.Text != "ready" {
		t.Fatalf("unexpected state: %+v", st.Summary())
	}
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	testlog.Start(t)

	m, _ := newTestMachine(t, nil)
	ch, cancel := m.Subscribe()
	defer cancel()

	first := <-ch
	if first.Kind != KindInfo {
		t.Fatalf("expected current state first, got %+v", first.Summary())
	}

	m.ShowInfo("a")
	m.ShowInfo("b")
	last := m.ShowInfo("c")

	got := <-ch
	if got.Seq != last.Seq || got.Text != "c" {
		t.Fatalf("expected latest state, got %+v", got.Summary())
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	m, clock := newTestMachine(t, nil)
	ch, _ := m.Subscribe()
	<-ch
	m.ShowTimed(imagetest.Pattern(2, 2, 0), time.Second, nil)
	m.Close()
	for range ch {
	}
	before := m.Current()
	clock.Advance(time.Minute)
	if m.Current().Seq != before.Seq {
		t.Fatalf("timer fired after close")
	}
}

func TestConcurrentShowsNeverExposeTornState(t *testing.T) {
	testlog.Start(t)

	m := NewMachine(Config{})
	defer m.Close()
	img := imagetest.Pattern(2, 2, 0)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				st := m.Current()
				switch st.Kind {
				case KindInfo:
					if st.Image != nil {
						t.Errorf("info state carries image: %+v", st.Summary())
					}
				case KindStatic:
					if st.Image == nil {
						t.Errorf("static state without image: %+v", st.Summary())
					}
				case KindTimed:
					if st.Image == nil || st.Deadline.IsZero() {
						t.Errorf("torn timed state: %+v", st.Summary())
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < 8; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				switch (w + i) % 4 {
				case 0:
					m.ShowInfo("x")
				case 1:
					m.ShowStatic(img)
				case 2:
					m.ShowTimed(img, time.Millisecond, nil)
				default:
					m.ShowDefault()
				}
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	final := m.ShowInfo("final")
	if cur := m.Current(); cur.Seq < final.Seq {
		t.Fatalf("state regressed: cur=%d final=%d", cur.Seq, final.Seq)
	}
}

func TestRealClockTimedRevert(t *testing.T) {
	testlog.Start(t)

	m := NewMachine(Config{InfoText: "idle"})
	defer m.Close()
	m.ShowTimed(imagetest.Pattern(2, 2, 0), 50*time.Millisecond, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := m.Current(); st.Kind == KindInfo && st.Text == "idle" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed state never reverted: %+v", m.Current().Summary())
}

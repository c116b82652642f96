package smoothing

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/arcasmooth/internal/diagnostics"
	"github.com/coreman2200/arcasmooth/internal/rgb"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recorder captures every frame the engine writes.
type recorder struct {
	mu     sync.Mutex
	frames []rgb.Frame
}

func (r *recorder) Write(f rgb.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f.Clone())
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// reds returns the R channel of pixel 0 of every written frame.
func (r *recorder) reds() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.frames))
	for i, f := range r.frames {
		out[i] = int(f[0].R)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock, *recorder) {
	t.Helper()
	clk := newFakeClock()
	rec := &recorder{}
	base := []Option{WithClock(clk.Now), WithExternalTicks(), WithLogger(zerolog.Nop())}
	e := New(rec, append(base, opts...)...)
	e.SetEnable(true)
	t.Cleanup(func() { _ = e.Close() })
	return e, clk, rec
}

func gray(n int, v uint8) rgb.Frame {
	f := rgb.Black(n)
	f.Fill(rgb.Color{R: v, G: v, B: v})
	return f
}

// tickEvery advances the clock by d and ticks, n times.
func tickEvery(e *Engine, clk *fakeClock, d time.Duration, n int) {
	for i := 0; i < n; i++ {
		clk.Advance(d)
		e.Tick()
	}
}

func TestBlackToWhiteAt40Hz(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	require.NoError(t, e.Ingest(gray(1, 255)))

	tickEvery(e, clk, 25*time.Millisecond, 8)
	assert.Equal(t, []int{31, 87, 150, 202, 235, 250, 254, 255}, rec.reds())
	for i, v := range rec.reds()[:7] {
		assert.Less(t, v, 255, "tick %d reached target before deadline", i+1)
	}

	// Converged and no continuous output: further ticks write nothing.
	tickEvery(e, clk, 25*time.Millisecond, 3)
	assert.Equal(t, 8, rec.count())
}

func TestConvergesWithoutOvershoot(t *testing.T) {
	pairs := [][2]uint8{{0, 255}, {255, 0}, {10, 11}, {200, 13}, {77, 77}, {1, 254}}
	for _, kind := range []Type{Linear, Alternative} {
		for _, p := range pairs {
			e, clk, rec := newTestEngine(t)
			id := e.AddFullConfig(Config{SettlingTime: 130 * time.Millisecond, UpdateInterval: 10 * time.Millisecond, Type: kind})
			require.True(t, e.SelectConfig(id, false))

			require.NoError(t, e.Ingest(gray(2, p[0])))
			tickEvery(e, clk, 200*time.Millisecond, 1)
			rec.reset()

			require.NoError(t, e.Ingest(gray(2, p[1])))
			tickEvery(e, clk, 7*time.Millisecond, 30)

			lo, hi := int(min(p[0], p[1])), int(max(p[0], p[1]))
			last := int(p[0])
			for _, v := range rec.reds() {
				assert.GreaterOrEqual(t, v, lo, "%s %v", kind, p)
				assert.LessOrEqual(t, v, hi, "%s %v", kind, p)
				if p[1] >= p[0] {
					assert.GreaterOrEqual(t, v, last, "%s %v not monotonic", kind, p)
				} else {
					assert.LessOrEqual(t, v, last, "%s %v not monotonic", kind, p)
				}
				last = v
			}
			if p[0] != p[1] {
				require.NotEmpty(t, rec.reds())
				assert.Equal(t, int(p[1]), last, "%s %v did not converge", kind, p)
			}
		}
	}
}

func TestSelectCurrentIsNoop(t *testing.T) {
	run := func(sel func(*Engine)) []int {
		e, clk, rec := newTestEngine(t)
		require.NoError(t, e.Ingest(gray(1, 255)))
		tickEvery(e, clk, 25*time.Millisecond, 2)
		sel(e)
		tickEvery(e, clk, 25*time.Millisecond, 6)
		return rec.reds()
	}
	plain := run(func(*Engine) {})
	same := run(func(e *Engine) { assert.True(t, e.SelectConfig(0, false)) })
	assert.Equal(t, plain, same)

	forced := run(func(e *Engine) { assert.True(t, e.SelectConfig(0, true)) })
	require.Len(t, forced, 8)
	// Forcing re-anchors the window at 50ms: p = 25/200 at the next tick.
	assert.Equal(t, 108, forced[2])
	assert.Less(t, forced[7], 255, "deadline moved to 250ms")
	assert.Equal(t, 255, plain[7])
}

func TestAddSelectRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t)

	id := e.AddConfig(100, 20, false)
	assert.Equal(t, 1, id)
	assert.True(t, e.SelectConfig(id, false))
	cur, cfg := e.CurrentConfig()
	assert.Equal(t, id, cur)
	assert.Equal(t, 100*time.Millisecond, cfg.SettlingTime)
	assert.Equal(t, 50*time.Millisecond, cfg.UpdateInterval)
	assert.False(t, cfg.DirectMode)

	assert.Equal(t, 0, e.AddConfig(100, 0, false), "invalid frequency falls back to 0")
	assert.Equal(t, 0, e.AddConfig(100, -5, true))

	assert.False(t, e.SelectConfig(42, false))
	cur, cfg = e.CurrentConfig()
	assert.Equal(t, 0, cur)
	assert.Equal(t, DefaultConfig(), cfg)

	assert.Equal(t, id, e.UpdateConfig(id, 300, 40, true))
	require.True(t, e.SelectConfig(id, true))
	_, cfg = e.CurrentConfig()
	assert.Equal(t, 300*time.Millisecond, cfg.SettlingTime)
	assert.Equal(t, 25*time.Millisecond, cfg.UpdateInterval)
	assert.True(t, cfg.DirectMode)
}

func TestPixelCountBoundary(t *testing.T) {
	e, clk, rec := newTestEngine(t)

	assert.ErrorIs(t, e.Ingest(nil), ErrEmptyFrame)
	require.NoError(t, e.Ingest(gray(3, 90)))

	err := e.Ingest(gray(4, 10))
	require.ErrorIs(t, err, ErrPixelCountMismatch)
	assert.Contains(t, err.Error(), "got 4, want 3")

	tickEvery(e, clk, 300*time.Millisecond, 1)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, gray(3, 90), rec.frames[0], "rejected frame must not leak into the target")

	s := e.Snapshot()
	assert.Equal(t, 3, s.Pixels)
	assert.Equal(t, uint64(1), s.Rejected)
	assert.Equal(t, uint64(1), s.FramesIn)

	err = e.IngestStaggered(gray(3, 1), []time.Duration{time.Millisecond})
	assert.ErrorIs(t, err, ErrPixelCountMismatch)
}

func TestIngestWhileInactive(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.SetPause(true)
	assert.True(t, e.Paused())
	assert.False(t, e.Enabled())
	assert.ErrorIs(t, e.Ingest(gray(1, 1)), ErrInactive)

	e.SetPause(false)
	require.NoError(t, e.Ingest(gray(1, 1)))

	e.SetEnable(false)
	assert.ErrorIs(t, e.Ingest(gray(1, 1)), ErrInactive)
	assert.ErrorIs(t, e.Ingest(nil), ErrInactive, "inactive wins over an empty frame")
}

func TestIngestStaggeredDeadlines(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	require.NoError(t, e.IngestStaggered(gray(2, 255), []time.Duration{0, 200 * time.Millisecond}))

	tickEvery(e, clk, 25*time.Millisecond, 8)
	require.Equal(t, 8, rec.count())
	for i, f := range rec.frames {
		assert.Equal(t, uint8(255), f[0].R, "pixel 0 settles at once, tick %d", i)
	}
	assert.Equal(t, uint8(31), rec.frames[0][1].R)
	assert.Equal(t, uint8(254), rec.frames[6][1].R)
	assert.Equal(t, uint8(255), rec.frames[7][1].R, "pixel 1 lands on its own deadline")
}

func TestDisableMidInterpolation(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	require.NoError(t, e.Ingest(gray(1, 255)))
	tickEvery(e, clk, 25*time.Millisecond, 4)
	require.Equal(t, []int{31, 87, 150, 202}, rec.reds())

	e.SetEnable(false)
	s := e.Snapshot()
	assert.False(t, s.Enabled)
	assert.Zero(t, s.Queued)

	tickEvery(e, clk, 25*time.Millisecond, 2)
	assert.Equal(t, 4, rec.count(), "disabled engine wrote a frame")

	e.SetEnable(true)
	tickEvery(e, clk, 25*time.Millisecond, 2)
	assert.Equal(t, 4, rec.count(), "nothing pending after re-enable")

	rec.reset()
	require.NoError(t, e.Ingest(gray(1, 255)))
	tickEvery(e, clk, 25*time.Millisecond, 1)
	assert.Equal(t, []int{31}, rec.reds(), "re-enable starts from black")
}

func TestDirectModePassthrough(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	id := e.AddConfig(500, 40, true)
	require.True(t, e.SelectConfig(id, false))

	a := rgb.Frame{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}}
	b := rgb.Frame{{R: 200, G: 100, B: 50}, {R: 9, G: 8, B: 7}}
	require.NoError(t, e.Ingest(a))
	require.NoError(t, e.Ingest(b))

	tickEvery(e, clk, 25*time.Millisecond, 1)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, b, rec.frames[0], "newest pending frame wins, unmodified")

	tickEvery(e, clk, 25*time.Millisecond, 3)
	assert.Equal(t, 1, rec.count())
}

func TestOutputDelayQueue(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	c := DefaultConfig()
	c.OutputDelay = 50 * time.Millisecond
	require.True(t, e.SelectConfig(e.AddFullConfig(c), false))
	assert.Equal(t, 2, e.Snapshot().QueueDepth)

	require.NoError(t, e.Ingest(gray(1, 255)))
	tickEvery(e, clk, 25*time.Millisecond, 2)
	assert.Zero(t, rec.count())
	assert.Equal(t, 2, e.Snapshot().Queued)

	tickEvery(e, clk, 25*time.Millisecond, 2)
	assert.Equal(t, []int{31, 87}, rec.reds(), "frames leave the queue oldest first")

	e.SetPause(true)
	assert.Zero(t, e.Snapshot().Queued, "pause drains without forwarding")
	assert.Equal(t, 2, rec.count())
}

func TestContinuousOutput(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	require.NoError(t, e.Ingest(gray(1, 40)))
	tickEvery(e, clk, 250*time.Millisecond, 1)
	require.Equal(t, 1, rec.count())

	tickEvery(e, clk, 25*time.Millisecond, 3)
	assert.Equal(t, 1, rec.count(), "idle ticks are skipped")

	e.SetContinuousOutput(true)
	tickEvery(e, clk, 25*time.Millisecond, 3)
	assert.Equal(t, []int{40, 40, 40, 40}, rec.reds())
}

func TestAntiFlickerDamping(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	id := e.AddFullConfig(Config{
		UpdateInterval:       25 * time.Millisecond,
		DirectMode:           true,
		AntiFlickerThreshold: 10,
		AntiFlickerStep:      2,
		AntiFlickerTimeout:   100 * time.Millisecond,
	})
	require.True(t, e.SelectConfig(id, false))

	require.NoError(t, e.Ingest(gray(1, 100)))
	e.Tick()
	for _, v := range []uint8{104, 100, 104} {
		clk.Advance(25 * time.Millisecond)
		require.NoError(t, e.Ingest(gray(1, v)))
		e.Tick()
	}
	tickEvery(e, clk, 25*time.Millisecond, 6)

	assert.Equal(t, []int{100, 100, 100, 100, 102, 102, 102, 102, 104}, rec.reds())

	// Large change on a settled pixel jumps straight through.
	clk.Advance(25 * time.Millisecond)
	require.NoError(t, e.Ingest(gray(1, 200)))
	e.Tick()
	reds := rec.reds()
	assert.Equal(t, 200, reds[len(reds)-1])
}

func TestWatchdogDiagnostic(t *testing.T) {
	var mu sync.Mutex
	var codes []string
	sink := func(d diagnostics.Diagnostic) {
		mu.Lock()
		codes = append(codes, d.Code)
		mu.Unlock()
	}
	e, clk, _ := newTestEngine(t, WithWatchdogTicks(3), WithDiagnostics(sink))
	require.NoError(t, e.Ingest(gray(1, 5)))

	tickEvery(e, clk, 25*time.Millisecond, 3)
	assert.Empty(t, codes)
	tickEvery(e, clk, 25*time.Millisecond, 3)
	assert.Equal(t, []string{diagnostics.CodeStall}, codes, "one diagnostic per stall")

	s := e.Snapshot()
	assert.True(t, s.Stalled)
	assert.Equal(t, 3, s.Watchdog)

	require.NoError(t, e.Ingest(gray(1, 6)))
	assert.Equal(t, []string{diagnostics.CodeStall, diagnostics.CodeStallCleared}, codes)
	assert.False(t, e.Snapshot().Stalled)
}

func TestDeviceFailureIsCountedNotFatal(t *testing.T) {
	var calls atomic.Int32
	dev := DeviceFunc(func(rgb.Frame) error {
		if calls.Add(1) <= 2 {
			return errors.New("bus error")
		}
		return nil
	})
	var codes []string
	clk := newFakeClock()
	e := New(dev, WithClock(clk.Now), WithExternalTicks(), WithLogger(zerolog.Nop()),
		WithDiagnostics(func(d diagnostics.Diagnostic) { codes = append(codes, d.Code) }))
	e.SetEnable(true)
	defer e.Close()

	require.NoError(t, e.Ingest(gray(1, 255)))
	tickEvery(e, clk, 25*time.Millisecond, 4)

	s := e.Snapshot()
	assert.Equal(t, uint64(2), s.WriteErrors)
	assert.Equal(t, uint64(2), s.FramesOut)
	assert.Equal(t, []string{diagnostics.CodeDeviceWrite, diagnostics.CodeDeviceHealthy}, codes)
}

func TestPausedConfigSelection(t *testing.T) {
	e, _, _ := newTestEngine(t)
	c := DefaultConfig()
	c.Pause = true
	id := e.AddFullConfig(c)

	require.True(t, e.SelectConfig(id, false))
	assert.True(t, e.Paused())
	assert.False(t, e.Enabled())

	require.True(t, e.SelectConfig(0, false))
	assert.False(t, e.Paused())
	assert.True(t, e.Enabled())
}

func TestComponentStateChange(t *testing.T) {
	e, _, _ := newTestEngine(t)

	assert.False(t, e.ComponentStateChange(ComponentLEDDevice, false))
	assert.True(t, e.Enabled())

	assert.True(t, e.ComponentStateChange(ComponentSmoothing, false))
	assert.False(t, e.Enabled())

	assert.True(t, e.ComponentStateChange(ParseComponent("all"), true))
	assert.True(t, e.Enabled())
}

func TestSchedulerDrivesTicks(t *testing.T) {
	rec := &recorder{}
	e := New(rec, WithLogger(zerolog.Nop()))
	id := e.AddConfig(30, 200, false)
	require.True(t, e.SelectConfig(id, false))
	e.SetContinuousOutput(true)

	e.SetEnable(true)
	require.True(t, e.sched.running())
	require.NoError(t, e.Ingest(gray(4, 255)))

	require.Eventually(t, func() bool { return rec.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	e.SetEnable(false)
	assert.False(t, e.sched.running())
	n := rec.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, rec.count(), "ticks after a synchronous stop")
	assert.Greater(t, e.Snapshot().Ticks, uint64(0))
}

func TestSchedulerSkipsLateTicks(t *testing.T) {
	slow := DeviceFunc(func(rgb.Frame) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	e := New(slow, WithLogger(zerolog.Nop()))
	id := e.AddConfig(0, 200, false)
	require.True(t, e.SelectConfig(id, false))
	e.SetContinuousOutput(true)
	e.SetEnable(true)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.Ingest(gray(2, 9)))

	require.Eventually(t, func() bool { return e.Snapshot().SkippedTicks > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, e.Snapshot().Ticks, uint64(0))
}

func TestSelectRetunesRunningScheduler(t *testing.T) {
	rec := &recorder{}
	e := New(rec, WithLogger(zerolog.Nop()))
	fast := e.AddConfig(0, 200, false)
	slow := e.AddConfig(0, 2, false)
	require.True(t, e.SelectConfig(fast, false))
	e.SetContinuousOutput(true)
	e.SetEnable(true)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.Ingest(gray(1, 7)))
	require.Eventually(t, func() bool { return rec.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, e.SelectConfig(slow, false))
	assert.Equal(t, 500*time.Millisecond, e.sched.period())
	n := rec.count()
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, rec.count(), n+2, "ticker kept the old rate")

	require.True(t, e.SelectConfig(fast, false))
	assert.Equal(t, 5*time.Millisecond, e.sched.period())
	m := rec.count()
	require.Eventually(t, func() bool { return rec.count() >= m+5 }, time.Second, 5*time.Millisecond)
	assert.True(t, e.sched.running())
}

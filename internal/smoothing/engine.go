// Package smoothing turns irregular per-LED color updates into a steady,
// interpolated, flicker-damped stream written to an LED device at a fixed
// refresh interval.
//
// A producer calls Engine.Ingest with whole frames at whatever rate it has.
// On every scheduler tick the engine interpolates toward the latest target,
// damps small oscillations, and pushes the result through a delay line to the
// Device. One mutex serializes ingestion, configuration changes and ticks, so
// a tick never sees a half-applied config or a half-written frame.
package smoothing

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/arcasmooth/internal/diagnostics"
	"github.com/coreman2200/arcasmooth/internal/rgb"
)

var (
	// ErrInactive is returned by Ingest while the engine is disabled or paused.
	// It is a normal condition, not a failure.
	ErrInactive = errors.New("smoothing inactive")
	// ErrPixelCountMismatch rejects a frame whose length differs from the
	// session's first frame.
	ErrPixelCountMismatch = errors.New("pixel count mismatch")
	ErrEmptyFrame         = errors.New("empty frame")
)

// DefaultWatchdogTicks is how many ticks without input count as a stall.
const DefaultWatchdogTicks = 100

// Device receives finalized frames. Errors are logged and counted; the
// engine does not retry.
type Device interface {
	Write(frame rgb.Frame) error
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(rgb.Frame) error

func (f DeviceFunc) Write(frame rgb.Frame) error { return f(frame) }

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithDiagnostics(s diagnostics.Sink) Option {
	return func(e *Engine) { e.diag = s }
}

func WithWatchdogTicks(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.watchdogTicks = n
		}
	}
}

// WithExternalTicks leaves tick timing to the caller, who must call Tick.
func WithExternalTicks() Option {
	return func(e *Engine) { e.external = true }
}

// Engine owns the smoothing state shared by the producer and the tick loop.
type Engine struct {
	// ctl serializes enable/disable and config changes so that starting and
	// stopping the scheduler cannot interleave. Lock order: ctl, then mu.
	ctl sync.Mutex
	mu  sync.Mutex

	dev  Device
	log  zerolog.Logger
	now  func() time.Time
	diag diagnostics.Sink

	reg        *Registry
	cfg        Config
	af         antiFlicker
	continuous bool

	target     rgb.Frame
	previous   rgb.Frame
	emitted    rgb.Frame
	deadlines  []time.Time
	lastChange []time.Time
	marginal   []bool
	pending    rgb.Frame
	hasPending bool
	flush      bool
	holding    bool
	targetTime time.Time
	lastTick   time.Time

	enabled bool
	paused  bool

	queue    outputQueue
	sched    scheduler
	external bool

	watchdogTicks int
	idleTicks     int
	watchdog      int
	stalled       bool

	ticks       uint64
	framesIn    uint64
	rejected    uint64
	framesOut   atomic.Uint64
	writeErrors atomic.Uint64
	failing     atomic.Bool
}

// New builds a disabled engine with config 0 set to DefaultConfig.
func New(dev Device, opts ...Option) *Engine {
	e := &Engine{
		dev:           dev,
		log:           log.With().Str("component", "smoothing").Logger(),
		now:           time.Now,
		reg:           NewRegistry(),
		watchdogTicks: DefaultWatchdogTicks,
	}
	for _, o := range opts {
		o(e)
	}
	e.applyLocked(e.reg.Current())
	return e
}

// AddConfig registers a config and returns the id to pass to SelectConfig.
func (e *Engine) AddConfig(settlingMs int, freqHz float64, direct bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.reg.Add(settlingMs, freqHz, direct)
	if id == 0 {
		e.log.Warn().Float64("freq_hz", freqHz).Msg("invalid update frequency; config not added")
	}
	return id
}

// AddFullConfig registers a complete record, e.g. a paused config.
func (e *Engine) AddFullConfig(c Config) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.AddConfig(c)
}

// UpdateConfig retunes id in place (or adds it). Call SelectConfig with
// force=true afterwards when id is the current config.
func (e *Engine) UpdateConfig(id int, settlingMs int, freqHz float64, direct bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.Update(id, settlingMs, freqHz, direct)
}

// SelectConfig switches to id. Unknown ids fall back to config 0 and return
// false. Selecting the current id again is a no-op unless force is set.
func (e *Engine) SelectConfig(id int, force bool) bool {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectLocked(id, force)
}

func (e *Engine) selectLocked(id int, force bool) bool {
	before := e.reg.CurrentID()
	ok := e.reg.Select(id)
	if !ok {
		e.log.Warn().Int("config", id).Msg("unknown smoothing config; falling back to 0")
	}
	if e.reg.CurrentID() == before && !force {
		return ok
	}
	e.applyLocked(e.reg.Current())
	return ok
}

// applyLocked copies cfg into the running parameters, drains the queue and
// restarts the interpolation window from the current output.
func (e *Engine) applyLocked(cfg Config) {
	intervalChanged := cfg.UpdateInterval != e.cfg.UpdateInterval
	e.cfg = cfg
	e.af = antiFlickerFor(cfg)
	e.queue.depth = queueDepth(cfg.OutputDelay, cfg.UpdateInterval)
	e.clearQueuedLocked(true, false)
	if !cfg.DirectMode {
		e.hasPending = false
	}
	if len(e.target) > 0 {
		now := e.now()
		e.targetTime = now
		for i := range e.deadlines {
			e.deadlines[i] = now.Add(cfg.SettlingTime)
		}
		e.flush = true
	}
	e.paused = cfg.Pause
	if intervalChanged {
		e.sched.reset(cfg.UpdateInterval)
	}
	e.log.Info().
		Int("config", e.reg.CurrentID()).
		Dur("settling", cfg.SettlingTime).
		Dur("interval", cfg.UpdateInterval).
		Bool("direct", cfg.DirectMode).
		Str("type", cfg.Type.String()).
		Int("af_threshold", cfg.AntiFlickerThreshold).
		Int("queue_depth", e.queue.depth).
		Bool("paused", cfg.Pause).
		Msg("smoothing config applied")
}

// SetEnable starts or stops the tick loop. Disabling waits for an in-flight
// tick, then drops queued frames and clears the buffers to black.
func (e *Engine) SetEnable(enable bool) {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	e.setEnable(enable)
}

func (e *Engine) setEnable(enable bool) {
	if enable {
		e.mu.Lock()
		if e.enabled {
			e.mu.Unlock()
			return
		}
		e.enabled = true
		interval := e.cfg.UpdateInterval
		e.mu.Unlock()
		if !e.external {
			e.sched.start(interval, e.Tick)
		}
		e.log.Info().Dur("interval", interval).Msg("smoothing enabled")
		return
	}

	e.sched.halt()
	e.mu.Lock()
	was := e.enabled
	e.enabled = false
	e.clearQueuedLocked(false, true)
	e.mu.Unlock()
	if was {
		e.log.Info().Msg("smoothing disabled")
	}
}

// Enabled reports whether frames are being accepted and processed.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled && !e.paused
}

// Paused reports the pause flag, independent of enablement.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetPause halts processing without touching the buffers, so resuming picks
// up where the output was. Queued frames are dropped on pause.
func (e *Engine) SetPause(pause bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused == pause {
		return
	}
	e.paused = pause
	if pause {
		e.queue.clear()
	}
	e.log.Info().Bool("paused", pause).Msg("smoothing pause changed")
}

// SetContinuousOutput makes every tick write a frame even when nothing changed.
func (e *Engine) SetContinuousOutput(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.continuous = on
}

// Close stops the engine; it is SetEnable(false).
func (e *Engine) Close() error {
	e.SetEnable(false)
	return nil
}

// clearQueuedLocked drops queued frames without writing them. With
// deviceEnabled false the pending direct frame and flush state go as well;
// restarting zeroes every buffer so the next enable starts from black.
func (e *Engine) clearQueuedLocked(deviceEnabled, restarting bool) {
	e.queue.clear()
	if !deviceEnabled {
		e.hasPending = false
		e.flush = false
		e.holding = false
		e.idleTicks = 0
		e.stalled = false
	}
	if restarting {
		for i := range e.target {
			e.target[i] = rgb.Color{}
			e.previous[i] = rgb.Color{}
			e.emitted[i] = rgb.Color{}
			e.pending[i] = rgb.Color{}
			e.deadlines[i] = time.Time{}
			e.lastChange[i] = time.Time{}
			e.marginal[i] = false
		}
	}
}

package smoothing

import (
	"time"

	"github.com/coreman2200/arcasmooth/internal/diagnostics"
	"github.com/coreman2200/arcasmooth/internal/rgb"
)

// Tick runs one pass of smooth, anti-flicker and queue at the engine clock's
// current time. The scheduler calls it; with WithExternalTicks the owner does.
func (e *Engine) Tick() {
	e.mu.Lock()
	due := e.tickLocked(e.now())
	e.mu.Unlock()
	for _, f := range due {
		e.write(f)
	}
}

func (e *Engine) tickLocked(now time.Time) []rgb.Frame {
	if !e.enabled || e.paused || len(e.target) == 0 {
		return nil
	}
	e.ticks++
	e.lastTick = now
	e.watchdogLocked()

	changed := false
	if e.cfg.DirectMode {
		if e.hasPending {
			copy(e.target, e.pending)
			copy(e.previous, e.pending)
			e.hasPending = false
			e.flush = false
			changed = true
		}
	} else if e.flush {
		e.flush = interpolate(e.cfg.Type, e.previous, e.target, e.deadlines, e.targetTime, now)
		changed = true
	}
	if !changed && !e.holding && !e.continuous {
		return nil
	}

	if e.af.enabled() {
		e.holding = e.af.apply(e.emitted, e.previous, e.lastChange, e.marginal, now)
	} else {
		copy(e.emitted, e.previous)
		e.holding = false
	}
	return e.queueColorsLocked(e.emitted.Clone())
}

func (e *Engine) queueColorsLocked(f rgb.Frame) []rgb.Frame {
	return e.queue.push(f)
}

func (e *Engine) watchdogLocked() {
	e.idleTicks++
	if e.idleTicks <= e.watchdogTicks {
		return
	}
	e.watchdog++
	if e.stalled {
		return
	}
	e.stalled = true
	e.log.Warn().
		Int("idle_ticks", e.idleTicks).
		Dur("interval", e.cfg.UpdateInterval).
		Msg("no new frames from producer")
	e.diag.Emit(diagnostics.Diagnostic{
		Severity:     diagnostics.Warn,
		Code:         diagnostics.CodeStall,
		Summary:      "Frame producer stalled",
		Detail:       "Holding the last target; no corrective action taken",
		LikelyCauses: []string{"capture pipeline stopped", "producer disconnected"},
		Evidence:     map[string]any{"idle_ticks": e.idleTicks, "watchdog": e.watchdog},
	})
}

func (e *Engine) write(f rgb.Frame) {
	if e.dev == nil {
		return
	}
	if err := e.dev.Write(f); err != nil {
		e.writeErrors.Add(1)
		if e.failing.CompareAndSwap(false, true) {
			e.log.Error().Err(err).Int("pixels", len(f)).Msg("device write failed")
			e.diag.Emit(diagnostics.Diagnostic{
				Severity: diagnostics.Err,
				Code:     diagnostics.CodeDeviceWrite,
				Summary:  "LED device write failed",
				Detail:   err.Error(),
			})
		} else {
			e.log.Debug().Err(err).Msg("device write failed")
		}
		return
	}
	e.framesOut.Add(1)
	if e.failing.CompareAndSwap(true, false) {
		e.log.Info().Msg("device writes recovered")
		e.diag.Emit(diagnostics.Diagnostic{
			Severity: diagnostics.Info,
			Code:     diagnostics.CodeDeviceHealthy,
			Summary:  "LED device writes recovered",
		})
	}
}

// Stats is a point-in-time view of the engine for health reporting.
type Stats struct {
	Enabled          bool   `json:"enabled"`
	Paused           bool   `json:"paused"`
	ConfigID         int    `json:"config_id"`
	Type             string `json:"type"`
	SettlingMs       int64  `json:"settling_ms"`
	IntervalMs       int64  `json:"interval_ms"`
	DirectMode       bool   `json:"direct_mode"`
	ContinuousOutput bool   `json:"continuous_output"`
	Pixels           int    `json:"pixels"`
	Queued           int    `json:"queued"`
	QueueDepth       int    `json:"queue_depth"`
	Ticks            uint64 `json:"ticks"`
	SkippedTicks     uint64 `json:"skipped_ticks"`
	FramesIn         uint64 `json:"frames_in"`
	FramesOut        uint64 `json:"frames_out"`
	Rejected         uint64 `json:"rejected"`
	WriteErrors      uint64 `json:"write_errors"`
	Watchdog         int    `json:"watchdog"`
	Stalled          bool   `json:"stalled"`
}

func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Enabled:          e.enabled,
		Paused:           e.paused,
		ConfigID:         e.reg.CurrentID(),
		Type:             e.cfg.Type.String(),
		SettlingMs:       e.cfg.SettlingTime.Milliseconds(),
		IntervalMs:       e.cfg.UpdateInterval.Milliseconds(),
		DirectMode:       e.cfg.DirectMode,
		ContinuousOutput: e.continuous,
		Pixels:           len(e.target),
		Queued:           e.queue.len(),
		QueueDepth:       e.queue.depth,
		Ticks:            e.ticks,
		SkippedTicks:     e.sched.skipped.Load(),
		FramesIn:         e.framesIn,
		FramesOut:        e.framesOut.Load(),
		Rejected:         e.rejected,
		WriteErrors:      e.writeErrors.Load(),
		Watchdog:         e.watchdog,
		Stalled:          e.stalled,
	}
}

// CurrentConfig returns the selected id and its record.
func (e *Engine) CurrentConfig() (int, Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.CurrentID(), e.reg.Current()
}

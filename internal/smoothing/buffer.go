package smoothing

import (
	"fmt"
	"time"

	"github.com/coreman2200/arcasmooth/internal/diagnostics"
	"github.com/coreman2200/arcasmooth/internal/rgb"
)

// Ingest makes frame the new interpolation target. The first accepted frame
// fixes the pixel count for the rest of the session.
func (e *Engine) Ingest(frame rgb.Frame) error {
	return e.ingest(frame, nil)
}

// IngestStaggered is Ingest with a settling time per pixel instead of the
// config's uniform one. len(settle) must equal len(frame).
func (e *Engine) IngestStaggered(frame rgb.Frame, settle []time.Duration) error {
	if len(settle) != len(frame) {
		return fmt.Errorf("%w: %d settling times for %d pixels", ErrPixelCountMismatch, len(settle), len(frame))
	}
	return e.ingest(frame, settle)
}

func (e *Engine) ingest(frame rgb.Frame, settle []time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled || e.paused {
		return ErrInactive
	}
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if len(e.target) == 0 {
		e.resizeLocked(len(frame))
		e.log.Info().Int("pixels", len(frame)).Msg("frame buffers sized")
	} else if len(frame) != len(e.target) {
		e.rejected++
		if e.rejected == 1 {
			e.diag.Emit(diagnostics.Diagnostic{
				Severity: diagnostics.Warn,
				Code:     diagnostics.CodePixelCount,
				Summary:  "Frame rejected: pixel count differs from session",
				Evidence: map[string]any{"got": len(frame), "want": len(e.target)},
				SuggestedFixes: []string{
					"Check the producer's LED count matches the configured strip",
				},
			})
		}
		e.log.Debug().Int("got", len(frame)).Int("want", len(e.target)).Msg("frame rejected")
		return fmt.Errorf("%w: got %d, want %d", ErrPixelCountMismatch, len(frame), len(e.target))
	}

	e.framesIn++
	e.noteInputLocked()

	if e.cfg.DirectMode {
		copy(e.pending, frame)
		e.hasPending = true
		return nil
	}

	now := e.now()
	copy(e.target, frame)
	e.targetTime = now
	for i := range e.deadlines {
		d := e.cfg.SettlingTime
		if settle != nil {
			d = settle[i]
		}
		if d < 0 {
			d = 0
		}
		e.deadlines[i] = now.Add(d)
	}
	e.flush = true
	return nil
}

func (e *Engine) resizeLocked(n int) {
	e.target = rgb.Black(n)
	e.previous = rgb.Black(n)
	e.emitted = rgb.Black(n)
	e.pending = rgb.Black(n)
	e.deadlines = make([]time.Time, n)
	e.lastChange = make([]time.Time, n)
	e.marginal = make([]bool, n)
}

func (e *Engine) noteInputLocked() {
	e.idleTicks = 0
	if !e.stalled {
		return
	}
	e.stalled = false
	e.log.Info().Int("watchdog", e.watchdog).Msg("frame producer resumed")
	e.diag.Emit(diagnostics.Diagnostic{
		Severity: diagnostics.Info,
		Code:     diagnostics.CodeStallCleared,
		Summary:  "Frame producer resumed",
		Evidence: map[string]any{"watchdog": e.watchdog},
	})
}

package smoothing

import (
	"time"

	"github.com/coreman2200/arcasmooth/internal/rgb"
)

type antiFlicker struct {
	threshold int
	step      int
	timeout   time.Duration
}

func antiFlickerFor(c Config) antiFlicker {
	return antiFlicker{
		threshold: c.AntiFlickerThreshold,
		step:      c.AntiFlickerStep,
		timeout:   c.AntiFlickerTimeout,
	}
}

func (a antiFlicker) enabled() bool { return a.threshold > 0 }

// apply damps emitted toward next in place and reports whether any pixel is
// still held back from next.
//
// Changes smaller than the threshold are suppressed until timeout has passed
// since the pixel last changed. A suppressed pixel is marked marginal; marginal
// pixels, and small changes released by the timeout, move at most step per
// channel per call. Larger changes on settled pixels pass straight through.
func (a antiFlicker) apply(emitted, next rgb.Frame, lastChange []time.Time, marginal []bool, now time.Time) bool {
	holding := false
	for i := range emitted {
		cur, want := emitted[i], next[i]
		delta := rgb.MaxDelta(cur, want)
		if delta == 0 {
			marginal[i] = false
			continue
		}
		small := delta < a.threshold
		if small && now.Sub(lastChange[i]) < a.timeout {
			marginal[i] = true
			holding = true
			continue
		}
		if (small || marginal[i]) && a.step > 0 {
			cur = stepToward(cur, want, a.step)
			marginal[i] = true
		} else {
			cur = want
		}
		emitted[i] = cur
		lastChange[i] = now
		if cur == want {
			marginal[i] = false
		} else {
			holding = true
		}
	}
	return holding
}

func stepToward(cur, want rgb.Color, step int) rgb.Color {
	return rgb.Color{
		R: stepChannel(cur.R, want.R, step),
		G: stepChannel(cur.G, want.G, step),
		B: stepChannel(cur.B, want.B, step),
	}
}

func stepChannel(cur, want uint8, step int) uint8 {
	c, w := int(cur), int(want)
	switch {
	case w > c+step:
		return uint8(c + step)
	case w < c-step:
		return uint8(c - step)
	default:
		return want
	}
}

package smoothing

import (
	"time"

	"github.com/coreman2200/arcasmooth/internal/rgb"
)

// interpolate moves prev toward target in place and reports whether any pixel
// is still short of its deadline.
//
// Each pixel covers fraction p of its remaining distance, p being the elapsed
// share of [targetTime, deadline]. prev therefore tracks what was actually
// emitted, so retargeting or a config switch mid-transition continues from the
// visible color. At or after the deadline the pixel snaps to target exactly.
func interpolate(kind Type, prev, target rgb.Frame, deadlines []time.Time, targetTime, now time.Time) bool {
	eased := kind == Alternative
	pending := false
	for i := range prev {
		deadline := deadlines[i]
		if !now.Before(deadline) {
			prev[i] = target[i]
			continue
		}
		pending = true
		p := progress(targetTime, deadline, now)
		if eased {
			p = smoothstep(p)
		}
		prev[i] = rgb.Color{
			R: blend(prev[i].R, target[i].R, p),
			G: blend(prev[i].G, target[i].G, p),
			B: blend(prev[i].B, target[i].B, p),
		}
	}
	return pending
}

func progress(from, to, now time.Time) float64 {
	span := to.Sub(from)
	if span <= 0 {
		return 1
	}
	return clamp01(float64(now.Sub(from)) / float64(span))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// smoothstep 3x^2 - 2x^3
func smoothstep(x float64) float64 {
	return x * x * (3 - 2*x)
}

// blend truncates, which keeps the result between from and to.
func blend(from, to uint8, p float64) uint8 {
	v := float64(from) + p*(float64(to)-float64(from))
	return clamp255(int(v))
}

func clamp255(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Package pattern produces built-in test frames for bring-up without an
// external frame producer.
package pattern

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/arcasmooth/internal/layout"
	"github.com/coreman2200/arcasmooth/internal/rgb"
)

type Kind string

const (
	None       Kind = "none"
	Rainbow    Kind = "rainbow"
	IndexSweep Kind = "index_sweep"
	RGBTest    Kind = "rgb_channels"
	PlaneZ     Kind = "plane_z"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", None:
		return None, nil
	case Rainbow, IndexSweep, RGBTest, PlaneZ:
		return k, nil
	default:
		return None, fmt.Errorf("unknown pattern %q", s)
	}
}

type Runner struct {
	kind   Kind
	layout layout.Layout
	step   int
}

func NewRunner(kind Kind, l layout.Layout) *Runner {
	return &Runner{kind: kind, layout: l}
}

func (r *Runner) Reset() { r.step = 0 }

// Step fills f (len layout.Count()) with the next frame; false when the
// pattern is complete. Rainbow and RGBTest never complete.
func (r *Runner) Step(f rgb.Frame) bool {
	n := len(f)
	f.Fill(rgb.Color{})

	switch r.kind {
	case IndexSweep:
		if r.step >= n {
			return false
		}
		f[r.step] = rgb.Color{R: 255, G: 255, B: 255}
	case RGBTest:
		var c rgb.Color
		switch r.step % 3 {
		case 0:
			c.R = 255
		case 1:
			c.G = 255
		case 2:
			c.B = 255
		}
		f.Fill(c)
	case PlaneZ:
		if r.step >= r.layout.Dim.Z {
			return false
		}
		for i := range f {
			if _, _, z := r.layout.Coord(i); z == r.step {
				f[i] = rgb.Color{G: 255, B: 255} // cyan
			}
		}
	case Rainbow:
		for i := range f {
			h := math.Mod(float64(i)*360/float64(max(n, 1))+float64(r.step)*6, 360)
			cr, cg, cb := colorful.Hsv(h, 1, 1).RGB255()
			f[i] = rgb.Color{R: cr, G: cg, B: cb}
		}
	default:
		return false
	}
	r.step++
	return true
}

// Run steps the pattern at fps and hands every frame to sink until ctx ends,
// restarting finite patterns. Sink errors are logged and do not stop the run.
func (r *Runner) Run(ctx context.Context, fps float64, sink func(rgb.Frame) error) error {
	if r.kind == None {
		return nil
	}
	if fps <= 0 {
		return fmt.Errorf("pattern fps %v must be > 0", fps)
	}
	logger := log.With().Str("component", "pattern").Str("kind", string(r.kind)).Logger()
	logger.Info().Float64("fps", fps).Msg("pattern producer started")

	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()
	f := rgb.Black(r.layout.Count())
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pattern producer stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if !r.Step(f) {
				r.Reset()
				continue
			}
			if err := sink(f.Clone()); err != nil {
				logger.Debug().Err(err).Msg("frame not accepted")
			}
		}
	}
}

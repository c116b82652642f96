package led

import (
	"errors"

	"github.com/coreman2200/arcasmooth/internal/rgb"
)

// Driver abstracts an LED output sink.
type Driver interface {
	// Write pushes packed RGB bytes to hardware. len(rgb) must be 3*N.
	Write(rgb []byte) error
	// Close releases resources.
	Close() error
}

// Output feeds frames to a Driver in R,G,B wire order.
type Output struct {
	Driver Driver
}

func (o Output) Write(f rgb.Frame) error {
	return o.Driver.Write(f.Bytes())
}

// FrameWriter is anything that takes whole frames, e.g. Output or a preview.
type FrameWriter interface {
	Write(f rgb.Frame) error
}

// Tee writes every frame to each writer in order. All writers see the frame
// even when an earlier one fails; the errors are joined.
type Tee []FrameWriter

func (t Tee) Write(f rgb.Frame) error {
	var errs []error
	for _, w := range t {
		if err := w.Write(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

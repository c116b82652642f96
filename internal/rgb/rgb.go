package rgb

import "fmt"

// Color is one LED value, 8 bits per channel, no alpha.
type Color struct {
	R, G, B uint8
}

// Frame holds one Color per LED in strip order.
type Frame []Color

func (c Color) String() string {
	return fmt.Sprintf("(%d, %d, %d)", c.R, c.G, c.B)
}

// MaxDelta returns the largest per-channel absolute difference between a and b.
func MaxDelta(a, b Color) int {
	d := absDiff(a.R, b.R)
	if g := absDiff(a.G, b.G); g > d {
		d = g
	}
	if bb := absDiff(a.B, b.B); bb > d {
		d = bb
	}
	return d
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// Black returns an all-off frame of n LEDs.
func Black(n int) Frame {
	return make(Frame, n)
}

// Clone returns a copy that shares no memory with f.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// Equal reports whether both frames hold the same colors.
func (f Frame) Equal(o Frame) bool {
	if len(f) != len(o) {
		return false
	}
	for i := range f {
		if f[i] != o[i] {
			return false
		}
	}
	return true
}

// Fill sets every LED to c.
func (f Frame) Fill(c Color) {
	for i := range f {
		f[i] = c
	}
}

// Bytes packs the frame as R,G,B triplets, the layout LED drivers consume.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f)*3)
	for i, c := range f {
		out[i*3+0] = c.R
		out[i*3+1] = c.G
		out[i*3+2] = c.B
	}
	return out
}

// FromBytes unpacks R,G,B triplets. len(b) must be a multiple of 3.
func FromBytes(b []byte) (Frame, error) {
	if len(b)%3 != 0 {
		return nil, fmt.Errorf("rgb payload length %d is not a multiple of 3", len(b))
	}
	out := make(Frame, len(b)/3)
	for i := range out {
		out[i] = Color{R: b[i*3+0], G: b[i*3+1], B: b[i*3+2]}
	}
	return out, nil
}

package led

import (
	"fmt"
	"strings"
)

// minResetBytes keeps the latch low for well over 280µs at the usual
// 2.4–3.2 MHz clocks.
const minResetBytes = 128

// Encoder expands RGB bytes into a WS2812 bitstream for an SPI MOSI line.
// Every data bit becomes three SPI bits: 110 for one, 100 for zero, so each
// pixel takes 9 bytes on the wire, followed by a zero tail for the latch.
type Encoder struct {
	order      [3]byte
	lut        [256][3]byte
	resetBytes int
}

// NewEncoder builds an encoder for colorOrder ("GRB" when empty) with a latch
// tail sized for resetUs at speedHz.
func NewEncoder(colorOrder string, speedHz, resetUs int) (*Encoder, error) {
	if colorOrder == "" {
		colorOrder = "GRB"
	}
	colorOrder = strings.ToUpper(colorOrder)
	if len(colorOrder) != 3 || strings.Count(colorOrder, "R") != 1 ||
		strings.Count(colorOrder, "G") != 1 || strings.Count(colorOrder, "B") != 1 {
		return nil, fmt.Errorf("invalid color order %q", colorOrder)
	}
	e := &Encoder{
		order:      [3]byte{colorOrder[0], colorOrder[1], colorOrder[2]},
		resetBytes: resetBytesFor(speedHz, resetUs),
	}
	for v := 0; v < 256; v++ {
		out := uint32(0)
		for i := 7; i >= 0; i-- {
			if (v>>i)&1 == 1 {
				out = out<<3 | 0b110
			} else {
				out = out<<3 | 0b100
			}
		}
		e.lut[v] = [3]byte{byte(out >> 16), byte(out >> 8), byte(out)}
	}
	return e, nil
}

func resetBytesFor(speedHz, resetUs int) int {
	if speedHz <= 0 || resetUs <= 0 {
		return minResetBytes
	}
	n := (resetUs*(speedHz/1000) + 7999) / 8000
	if n < minResetBytes {
		n = minResetBytes
	}
	return n
}

// EncodedLen is the wire size for n pixels, latch included.
func (e *Encoder) EncodedLen(n int) int {
	return n*9 + e.resetBytes
}

// Encode writes the bitstream for rgb into dst, growing it when short, and
// returns the filled slice.
func (e *Encoder) Encode(dst, rgb []byte) []byte {
	n := len(rgb) / 3
	size := e.EncodedLen(n)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	for i := 0; i < n; i++ {
		px := rgb[i*3 : i*3+3]
		off := i * 9
		for c := 0; c < 3; c++ {
			enc := e.lut[e.channel(px, c)]
			copy(dst[off+c*3:off+c*3+3], enc[:])
		}
	}
	clear(dst[n*9:])
	return dst
}

func (e *Encoder) channel(px []byte, slot int) byte {
	switch e.order[slot] {
	case 'R':
		return px[0]
	case 'G':
		return px[1]
	default:
		return px[2]
	}
}

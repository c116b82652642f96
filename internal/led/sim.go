package led

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sim is a headless driver: it keeps the last frame and logs a compact
// summary (first LED and average) at trace level.
type Sim struct {
	mu     sync.Mutex
	count  int
	frames int
	last   []byte
	log    zerolog.Logger
}

func NewSim(count int) *Sim {
	return &Sim{count: count, log: log.With().Str("component", "sim").Logger()}
}

func (d *Sim) Write(rgb []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count > 0 && len(rgb) != d.count*3 {
		return fmt.Errorf("rgb length %d does not match count %d", len(rgb), d.count)
	}
	d.frames++
	d.last = append(d.last[:0], rgb...)

	if e := d.log.Trace(); e.Enabled() {
		var r, g, b int
		for i := 0; i+2 < len(rgb); i += 3 {
			r += int(rgb[i])
			g += int(rgb[i+1])
			b += int(rgb[i+2])
		}
		n := max(len(rgb)/3, 1)
		e.Int("frame", d.frames).
			Ints("avg", []int{r / n, g / n, b / n}).
			Bytes("first", rgb[:min(3, len(rgb))]).
			Msg("sim frame")
	}
	return nil
}

// Last returns a copy of the most recent frame.
func (d *Sim) Last() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.last...)
}

func (d *Sim) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

func (d *Sim) Close() error { return nil }

package smoothing

import (
	"math"
	"time"

	"github.com/coreman2200/arcasmooth/internal/rgb"
)

// outputQueue is the delay line in front of the device. It holds at most depth
// frames; anything older is handed back for writing.
type outputQueue struct {
	entries []rgb.Frame
	depth   int
}

func queueDepth(delay, interval time.Duration) int {
	if delay <= 0 || interval <= 0 {
		return 0
	}
	return int(math.Round(float64(delay) / float64(interval)))
}

// push takes ownership of f and returns the frames due for the device,
// oldest first.
func (q *outputQueue) push(f rgb.Frame) []rgb.Frame {
	q.entries = append(q.entries, f)
	var due []rgb.Frame
	for len(q.entries) > q.depth {
		due = append(due, q.entries[0])
		n := copy(q.entries, q.entries[1:])
		q.entries[n] = nil
		q.entries = q.entries[:n]
	}
	return due
}

func (q *outputQueue) len() int { return len(q.entries) }

func (q *outputQueue) clear() {
	for i := range q.entries {
		q.entries[i] = nil
	}
	q.entries = q.entries[:0]
}

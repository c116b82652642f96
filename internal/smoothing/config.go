package smoothing

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Type selects the progress curve used while interpolating toward a target.
type Type int

const (
	Linear Type = iota
	// Alternative eases in and out (smoothstep) but honours the same deadlines.
	Alternative
)

func (t Type) String() string {
	switch t {
	case Linear:
		return "linear"
	case Alternative:
		return "alternative"
	default:
		return "unknown"
	}
}

// ParseType accepts "linear" or "alternative" in any case. Empty means linear.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear, nil
	case "alternative":
		return Alternative, nil
	default:
		return Linear, fmt.Errorf("unknown smoothing type %q", s)
	}
}

const (
	DefaultSettlingTime   = 200 * time.Millisecond
	DefaultUpdateInterval = 25 * time.Millisecond
	minUpdateInterval     = time.Millisecond
)

// Config is one named smoothing setup. Id 0 of a Registry is the fallback.
type Config struct {
	Pause                bool
	SettlingTime         time.Duration
	UpdateInterval       time.Duration
	DirectMode           bool
	Type                 Type
	AntiFlickerThreshold int
	AntiFlickerStep      int
	AntiFlickerTimeout   time.Duration
	// OutputDelay is the device-side latency compensated by the output queue.
	OutputDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		SettlingTime:   DefaultSettlingTime,
		UpdateInterval: DefaultUpdateInterval,
		Type:           Linear,
	}
}

// intervalFromFrequency converts Hz to a whole-millisecond tick period.
// ok is false for frequencies that cannot drive a scheduler.
// MaxDurationMs bounds every millisecond setting. One hour keeps the
// conversion to time.Duration far from overflow.
const MaxDurationMs = 3_600_000

func intervalFromFrequency(hz float64) (time.Duration, bool) {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return 0, false
	}
	ms := math.Round(1000 / hz)
	if ms > MaxDurationMs {
		return 0, false
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minUpdateInterval {
		d = minUpdateInterval
	}
	return d, true
}

func settlingFromMs(ms int) time.Duration {
	if ms < 0 {
		return 0
	}
	if ms > MaxDurationMs {
		ms = MaxDurationMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) normalized() Config {
	if c.UpdateInterval < minUpdateInterval {
		c.UpdateInterval = minUpdateInterval
	}
	if c.SettlingTime < 0 {
		c.SettlingTime = 0
	}
	if c.OutputDelay < 0 {
		c.OutputDelay = 0
	}
	if c.AntiFlickerThreshold < 0 {
		c.AntiFlickerThreshold = 0
	}
	if c.AntiFlickerStep < 0 {
		c.AntiFlickerStep = 0
	}
	if c.AntiFlickerTimeout < 0 {
		c.AntiFlickerTimeout = 0
	}
	return c
}

// Registry is the ordered list of smoothing configs plus the current selection.
// It holds no runtime state and is not safe for concurrent use on its own;
// the Engine guards it.
type Registry struct {
	cfgs    []Config
	current int
}

func NewRegistry() *Registry {
	return &Registry{cfgs: []Config{DefaultConfig()}}
}

func (r *Registry) Len() int { return len(r.cfgs) }

func (r *Registry) Get(id int) (Config, bool) {
	if id < 0 || id >= len(r.cfgs) {
		return Config{}, false
	}
	return r.cfgs[id], true
}

func (r *Registry) CurrentID() int  { return r.current }
func (r *Registry) Current() Config { return r.cfgs[r.current] }

// NewConfig builds a record from the classic (settling, frequency, direct)
// triple. ok is false when freqHz cannot drive a scheduler.
func NewConfig(settlingMs int, freqHz float64, direct bool) (Config, bool) {
	interval, ok := intervalFromFrequency(freqHz)
	if !ok {
		return Config{}, false
	}
	c := DefaultConfig()
	c.SettlingTime = settlingFromMs(settlingMs)
	c.UpdateInterval = interval
	c.DirectMode = direct
	return c, true
}

// Add appends a config built by NewConfig. A non-positive frequency appends
// nothing and returns 0.
func (r *Registry) Add(settlingMs int, freqHz float64, direct bool) int {
	c, ok := NewConfig(settlingMs, freqHz, direct)
	if !ok {
		return 0
	}
	return r.AddConfig(c)
}

// AddConfig appends a full record and returns its id.
func (r *Registry) AddConfig(c Config) int {
	r.cfgs = append(r.cfgs, c.normalized())
	return len(r.cfgs) - 1
}

// Update overwrites settling, interval and direct mode of an existing id,
// keeping its other fields. Unknown ids behave as Add.
func (r *Registry) Update(id int, settlingMs int, freqHz float64, direct bool) int {
	if id < 0 || id >= len(r.cfgs) {
		return r.Add(settlingMs, freqHz, direct)
	}
	interval, ok := intervalFromFrequency(freqHz)
	if !ok {
		return 0
	}
	c := r.cfgs[id]
	c.SettlingTime = settlingFromMs(settlingMs)
	c.UpdateInterval = interval
	c.DirectMode = direct
	r.cfgs[id] = c.normalized()
	return id
}

// Put replaces the whole record at id, or appends when id is unknown.
func (r *Registry) Put(id int, c Config) int {
	if id < 0 || id >= len(r.cfgs) {
		return r.AddConfig(c)
	}
	r.cfgs[id] = c.normalized()
	return id
}

// Select makes id current. Unknown ids fall back to 0 and return false.
func (r *Registry) Select(id int) bool {
	if id < 0 || id >= len(r.cfgs) {
		r.current = 0
		return false
	}
	r.current = id
	return true
}

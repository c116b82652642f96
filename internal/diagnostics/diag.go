package diagnostics

import "time"

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

// Codes emitted by the smoothing pipeline and its collaborators.
const (
	CodeStall         = "SMOOTHING.STALL"
	CodeStallCleared  = "SMOOTHING.STALL_CLEARED"
	CodeDeviceWrite   = "DEVICE.WRITE_FAILED"
	CodeDeviceHealthy = "DEVICE.RECOVERED"
	CodePixelCount    = "INGEST.PIXEL_COUNT"
	CodeConfigRejects = "CONFIG.REJECTED"
)

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Sink receives diagnostics. Implementations must not block.
type Sink func(Diagnostic)

// Emit stamps d and forwards it when s is set.
func (s Sink) Emit(d Diagnostic) {
	if s == nil {
		return
	}
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	s(d)
}

package smoothing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/coreman2200/arcasmooth/internal/diagnostics"
)

// Settings is the external settings event. It always retunes config 0.
type Settings struct {
	Enable               bool    `json:"enable" yaml:"enable"`
	SettlingTimeMs       int     `json:"settling_time_ms" yaml:"settling_time_ms"`
	UpdateFrequencyHz    float64 `json:"update_frequency_hz" yaml:"update_frequency_hz"`
	UpdateIntervalMs     int     `json:"update_interval_ms,omitempty" yaml:"update_interval_ms,omitempty"`
	OutputDelayMs        int     `json:"output_delay_ms" yaml:"output_delay_ms"`
	AntiFlickerThreshold int     `json:"anti_flicker_threshold" yaml:"anti_flicker_threshold"`
	AntiFlickerStep      int     `json:"anti_flicker_step" yaml:"anti_flicker_step"`
	AntiFlickerTimeoutMs int     `json:"anti_flicker_timeout_ms" yaml:"anti_flicker_timeout_ms"`
	DirectMode           bool    `json:"direct_mode" yaml:"direct_mode"`
	Type                 string  `json:"type" yaml:"type"`
	ContinuousOutput     bool    `json:"continuous_output" yaml:"continuous_output"`
}

func DefaultSettings() Settings {
	return Settings{
		Enable:            true,
		SettlingTimeMs:    int(DefaultSettlingTime / time.Millisecond),
		UpdateFrequencyHz: float64(time.Second) / float64(DefaultUpdateInterval),
		Type:              Linear.String(),
	}
}

var ErrInvalidSettings = errors.New("invalid smoothing settings")

func checkMs(name string, v int) error {
	if v < 0 || v > MaxDurationMs {
		return fmt.Errorf("%s %d outside 0..%d", name, v, MaxDurationMs)
	}
	return nil
}

func (s Settings) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"settling_time_ms", s.SettlingTimeMs},
		{"update_interval_ms", s.UpdateIntervalMs},
		{"output_delay_ms", s.OutputDelayMs},
		{"anti_flicker_timeout_ms", s.AntiFlickerTimeoutMs},
	} {
		if err := checkMs(f.name, f.v); err != nil {
			errs = append(errs, err)
		}
	}
	if s.UpdateIntervalMs == 0 {
		if _, ok := intervalFromFrequency(s.UpdateFrequencyHz); !ok {
			errs = append(errs, fmt.Errorf("update_frequency_hz %v must be > 0 and at most one hour per tick", s.UpdateFrequencyHz))
		}
	} else if math.IsNaN(s.UpdateFrequencyHz) || s.UpdateFrequencyHz < 0 {
		errs = append(errs, fmt.Errorf("update_frequency_hz %v < 0", s.UpdateFrequencyHz))
	}
	if s.AntiFlickerThreshold < 0 || s.AntiFlickerThreshold > 255 {
		errs = append(errs, fmt.Errorf("anti_flicker_threshold %d outside 0..255", s.AntiFlickerThreshold))
	}
	if s.AntiFlickerStep < 0 || s.AntiFlickerStep > 255 {
		errs = append(errs, fmt.Errorf("anti_flicker_step %d outside 0..255", s.AntiFlickerStep))
	}
	if _, err := ParseType(s.Type); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

// Config converts validated settings to a registry record.
func (s Settings) Config() Config {
	c := DefaultConfig()
	c.SettlingTime = settlingFromMs(s.SettlingTimeMs)
	if s.UpdateIntervalMs > 0 {
		c.UpdateInterval = time.Duration(s.UpdateIntervalMs) * time.Millisecond
	} else if d, ok := intervalFromFrequency(s.UpdateFrequencyHz); ok {
		c.UpdateInterval = d
	}
	c.OutputDelay = time.Duration(s.OutputDelayMs) * time.Millisecond
	c.AntiFlickerThreshold = s.AntiFlickerThreshold
	c.AntiFlickerStep = s.AntiFlickerStep
	c.AntiFlickerTimeout = time.Duration(s.AntiFlickerTimeoutMs) * time.Millisecond
	c.DirectMode = s.DirectMode
	c.Type, _ = ParseType(s.Type)
	return c.normalized()
}

// SettingsFromConfig is the inverse of Settings.Config, used to report and
// persist the running config 0. The interval is only spelled out when the
// reported frequency does not reproduce it, so edits to the frequency of an
// echoed value still take effect.
func SettingsFromConfig(c Config, enable, continuous bool) Settings {
	hz := math.Round(float64(time.Second)/float64(c.UpdateInterval)*100) / 100
	intervalMs := 0
	if d, ok := intervalFromFrequency(hz); !ok || d != c.UpdateInterval {
		intervalMs = int(c.UpdateInterval / time.Millisecond)
	}
	return Settings{
		Enable:               enable,
		SettlingTimeMs:       int(c.SettlingTime / time.Millisecond),
		UpdateFrequencyHz:    hz,
		UpdateIntervalMs:     intervalMs,
		OutputDelayMs:        int(c.OutputDelay / time.Millisecond),
		AntiFlickerThreshold: c.AntiFlickerThreshold,
		AntiFlickerStep:      c.AntiFlickerStep,
		AntiFlickerTimeoutMs: int(c.AntiFlickerTimeout / time.Millisecond),
		DirectMode:           c.DirectMode,
		Type:                 c.Type.String(),
		ContinuousOutput:     continuous,
	}
}

// ApplySettings validates s, writes it into config 0, reapplies config 0 when
// it is the current one and finally honours s.Enable. Nothing changes when
// validation fails.
func (e *Engine) ApplySettings(s Settings) error {
	if err := s.Validate(); err != nil {
		e.log.Warn().Err(err).Msg("smoothing settings rejected")
		e.diag.Emit(diagnostics.Diagnostic{
			Severity: diagnostics.Warn,
			Code:     diagnostics.CodeConfigRejects,
			Summary:  "Smoothing settings rejected; running config unchanged",
			Evidence: map[string]any{"error": err.Error()},
		})
		return err
	}
	e.ctl.Lock()
	defer e.ctl.Unlock()

	e.mu.Lock()
	e.reg.Put(0, s.Config())
	e.continuous = s.ContinuousOutput
	if e.reg.CurrentID() == 0 {
		e.selectLocked(0, true)
	}
	e.mu.Unlock()

	e.setEnable(s.Enable)
	return nil
}

// Settings reports config 0 in settings form.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, _ := e.reg.Get(0)
	return SettingsFromConfig(c, e.enabled, e.continuous)
}

package smoothing

import "strings"

// Component names a pipeline stage whose activation can be toggled from the
// outside. Only ComponentAll and ComponentSmoothing concern the engine.
type Component string

const (
	ComponentAll       Component = "ALL"
	ComponentSmoothing Component = "SMOOTHING"
	ComponentLEDDevice Component = "LEDDEVICE"
)

func ParseComponent(s string) Component {
	return Component(strings.ToUpper(strings.TrimSpace(s)))
}

// ComponentStateChange enables or disables the engine when c is relevant and
// reports whether it was.
func (e *Engine) ComponentStateChange(c Component, active bool) bool {
	if c != ComponentAll && c != ComponentSmoothing {
		return false
	}
	e.log.Debug().Str("target", string(c)).Bool("active", active).Msg("component state change")
	e.SetEnable(active)
	return true
}

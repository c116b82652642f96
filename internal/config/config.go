package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coreman2200/arcasmooth/internal/smoothing"
)

type Dim struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

type SPI struct {
	Port    string `yaml:"port"`     // e.g. /dev/spidev0.0 or SPI0.0
	SpeedHz int    `yaml:"speed_hz"` // e.g. 2400000
	ResetUs int    `yaml:"reset_us"` // e.g. 300
}

type MQTT struct {
	Broker      string `yaml:"broker"` // tcp://host:1883; empty disables
	ClientID    string `yaml:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Profile is an extra smoothing config registered at startup next to the
// settings-driven config 0.
type Profile struct {
	Name        string  `yaml:"name"`
	SettlingMs  int     `yaml:"settling_ms"`
	FrequencyHz float64 `yaml:"frequency_hz"`
	Direct      bool    `yaml:"direct,omitempty"`
	Pause       bool    `yaml:"pause,omitempty"`
}

type Pattern struct {
	Name string  `yaml:"name"` // none | rainbow | index_sweep | rgb_channels | plane_z
	FPS  float64 `yaml:"fps"`
}

type Config struct {
	Driver     string `yaml:"driver"` // "spi" | "sim"
	ColorOrder string `yaml:"color_order"`
	Addr       string `yaml:"addr"`

	LEDs            int  `yaml:"leds,omitempty"`
	Dim             Dim  `yaml:"dim"`
	XFlipEveryRow   bool `yaml:"x_flip_every_row"`
	YFlipEveryPanel bool `yaml:"y_flip_every_panel"`

	Smoothing     smoothing.Settings `yaml:"smoothing"`
	Profiles      []Profile          `yaml:"profiles,omitempty"`
	ActiveProfile string             `yaml:"active_profile,omitempty"`
	WatchdogTicks int                `yaml:"watchdog_ticks,omitempty"`

	Pattern Pattern `yaml:"pattern"`
	SPI     SPI     `yaml:"spi,omitempty"`
	MQTT    MQTT    `yaml:"mqtt,omitempty"`
}

// Count is the strip length: LEDs when set, else the cube volume.
func (c *Config) Count() int {
	if c.LEDs > 0 {
		return c.LEDs
	}
	return c.Dim.X * c.Dim.Y * c.Dim.Z
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

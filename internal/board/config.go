package board

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes a board definition loaded from YAML.
type Config struct {
	Version int    `yaml:"version"`
	Name    string `yaml:"name"`

	Timer    TimerConfig    `yaml:"timer"`
	Watchdog WatchdogConfig `yaml:"watchdog"`

	LEDs     PioConfig `yaml:"leds"`
	Switches PioConfig `yaml:"switches"`
	Keys     PioConfig `yaml:"keys"`
}

// TimerConfig configures the private timer.
type TimerConfig struct {
	Load       uint32 `yaml:"load,omitempty"`
	AutoReload bool   `yaml:"autoReload,omitempty"`
}

// WatchdogConfig configures the watchdog countdown.
type WatchdogConfig struct {
	Timeout uint32 `yaml:"timeout,omitempty"`
}

// PioConfig configures one parallel I/O block.
type PioConfig struct {
	Width uint32 `yaml:"width,omitempty"`
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Name == "" {
		c.Name = "de1soc"
	}
	if c.Timer.Load == 0 {
		c.Timer.Load = 100
	}
	if c.Watchdog.Timeout == 0 {
		c.Watchdog.Timeout = 1000
	}
	if c.LEDs.Width == 0 {
		c.LEDs.Width = LEDWidth
	}
	if c.Switches.Width == 0 {
		c.Switches.Width = SwitchWidth
	}
	if c.Keys.Width == 0 {
		c.Keys.Width = KeyWidth
	}
}

// DefaultConfig returns the stock board definition.
func DefaultConfig() Config {
	var c Config
	c.normalize()
	c.Timer.AutoReload = true
	return c
}

// LoadConfig reads and validates a board definition file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("board: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a board definition from YAML.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("board: parse config: %w", err)
	}
	if c.Version > 1 {
		return Config{}, fmt.Errorf("board: unsupported config version %d", c.Version)
	}
	c.normalize()
	return c, nil
}

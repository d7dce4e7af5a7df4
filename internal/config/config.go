// Package config loads the blink-sensor configuration from a TOML or YAML
// file.
package config

import (
	"encoding"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/blink-sensor/internal/annotate"
	"github.com/sweeney/blink-sensor/internal/gpio"
	"github.com/sweeney/blink-sensor/internal/logic"
)

// Config is the configuration for the blink-sensor daemon.
type Config struct {
	Device    DeviceConfig    `toml:"device" yaml:"device"`
	Detection DetectionConfig `toml:"detection" yaml:"detection"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	MQTT      MQTTConfig      `toml:"mqtt" yaml:"mqtt"`
	HTTP      HTTPConfig      `toml:"http" yaml:"http"`
	GPIO      GPIOConfig      `toml:"gpio" yaml:"gpio"`
	Journal   JournalConfig   `toml:"journal" yaml:"journal"`
}

// DeviceConfig describes the headband and its serial bridge.
type DeviceConfig struct {
	// Path is the serial device, usually /dev/ttyUSB0 or /dev/ttyACM0.
	Path string `toml:"path" yaml:"path"`
	// Baud is the baud rate of the serial bridge.
	Baud int `toml:"baud" yaml:"baud"`
	// SampleRate is the nominal sampling rate in Hz.
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
	// Channels maps device channel index to label; position i is index i.
	Channels []string `toml:"channels" yaml:"channels"`
}

// DetectionConfig holds the blink detection parameters.
type DetectionConfig struct {
	Policy      string             `toml:"policy" yaml:"policy"`
	Threshold   float64            `toml:"threshold" yaml:"threshold"`
	Thresholds  map[string]float64 `toml:"thresholds" yaml:"thresholds"`
	MinDuration Duration           `toml:"min_duration" yaml:"min_duration"`
	// Monitor lists the channel labels analysed for blinks.
	Monitor []string `toml:"monitor" yaml:"monitor"`
}

// SessionConfig controls the recording session.
type SessionConfig struct {
	Warmup Duration `toml:"warmup" yaml:"warmup"`
	// Duration of analysis after warmup; 0 runs until interrupted.
	Duration      Duration `toml:"duration" yaml:"duration"`
	Poll          Duration `toml:"poll" yaml:"poll"`
	Heartbeat     Duration `toml:"heartbeat" yaml:"heartbeat"`
	MaxReadErrors int      `toml:"max_read_errors" yaml:"max_read_errors"`
	Annotations   string   `toml:"annotations" yaml:"annotations"`
	OutDir        string   `toml:"out_dir" yaml:"out_dir"`
}

// MQTTConfig configures the event publisher. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `toml:"broker" yaml:"broker"`
	ClientID string `toml:"client_id" yaml:"client_id"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// GPIOConfig configures the hardware trigger output.
type GPIOConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Pin        int      `toml:"pin" yaml:"pin"`
	PulseWidth Duration `toml:"pulse_width" yaml:"pulse_width"`
	// Markers selects which marker kinds pulse the line; empty pulses all.
	Markers string `toml:"markers" yaml:"markers"`
}

// JournalConfig configures the PostgreSQL annotation journal.
// An empty DSN disables it.
type JournalConfig struct {
	DSN string `toml:"dsn" yaml:"dsn"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	return Config{
		Device: DeviceConfig{
			Path:       "/dev/ttyUSB0",
			Baud:       115200,
			SampleRate: 250,
			Channels:   []string{"Fp1", "Fp2", "O1", "O2"},
		},
		Detection: DetectionConfig{
			Policy:      string(logic.PolicyRunLength),
			Threshold:   1000,
			MinDuration: Duration(100 * time.Millisecond),
			Monitor:     []string{"Fp1", "Fp2"},
		},
		Session: SessionConfig{
			Warmup:        Duration(3 * time.Second),
			Duration:      Duration(10 * time.Second),
			Poll:          Duration(time.Second),
			Heartbeat:     Duration(15 * time.Minute),
			MaxReadErrors: 5,
			Annotations:   string(annotate.ModeTick),
			OutDir:        ".",
		},
		// MQTT stays off until a broker is configured.
		MQTT: MQTTConfig{
			ClientID: "blink-sensor",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		GPIO: GPIOConfig{
			Pin:        gpio.DefaultPin,
			PulseWidth: Duration(gpio.DefaultPulseWidth),
		},
	}
}

// Load reads a configuration file on top of Defaults. The format is chosen
// by extension: .toml, or .yaml/.yml.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = FormatTOML
	case ".yaml", ".yml":
		format = FormatYAML
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	cfg, err := Parse(f, format)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return cfg, nil
}

// Format is a configuration file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// Parse decodes a configuration on top of Defaults.
func Parse(r io.Reader, format Format) (*Config, error) {
	cfg := Defaults()

	switch format {
	case FormatTOML:
		if err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !(c.Device.SampleRate > 0) {
		return errors.New("device.sample_rate must be positive")
	}
	if len(c.Device.Channels) == 0 {
		return errors.New("no device channels configured")
	}
	seen := make(map[string]bool, len(c.Device.Channels))
	for i, label := range c.Device.Channels {
		if label == "" {
			return fmt.Errorf("device channel %d has no label", i)
		}
		if seen[label] {
			return fmt.Errorf("device channel %q listed twice", label)
		}
		seen[label] = true
	}

	channels, err := c.Monitored()
	if err != nil {
		return err
	}
	if err := logic.ValidateConfig(c.DetectionConfig(), channels); err != nil {
		return errors.Wrap(err, "invalid detection config")
	}

	if c.Session.Poll <= 0 {
		return errors.New("session.poll must be positive")
	}
	if c.Session.Warmup < 0 || c.Session.Duration < 0 || c.Session.Heartbeat < 0 {
		return errors.New("session durations must not be negative")
	}
	if c.Session.MaxReadErrors < 1 {
		return errors.New("session.max_read_errors must be at least 1")
	}
	if _, err := c.AnnotationMode(); err != nil {
		return err
	}

	if c.GPIO.Enabled {
		if c.GPIO.Pin < 0 {
			return fmt.Errorf("invalid gpio.pin %d", c.GPIO.Pin)
		}
		if c.GPIO.PulseWidth <= 0 {
			return errors.New("gpio.pulse_width must be positive")
		}
		if _, err := c.TriggerKinds(); err != nil {
			return err
		}
	}

	return nil
}

// AnnotationMode returns the parsed session.annotations value.
func (c *Config) AnnotationMode() (annotate.Mode, error) {
	mode, err := annotate.ParseMode(c.Session.Annotations)
	if err != nil {
		return "", errors.Wrap(err, "invalid session.annotations")
	}
	return mode, nil
}

// TriggerKinds returns the marker kinds that pulse the GPIO line. nil means
// every marker pulses.
func (c *Config) TriggerKinds() ([]annotate.Kind, error) {
	if c.GPIO.Markers == "" {
		return nil, nil
	}
	mode, err := annotate.ParseMode(c.GPIO.Markers)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gpio.markers")
	}
	return mode.Kinds(), nil
}

// Monitored resolves the monitored labels to device channel indices.
func (c *Config) Monitored() ([]logic.Channel, error) {
	index := make(map[string]int, len(c.Device.Channels))
	for i, label := range c.Device.Channels {
		index[label] = i
	}

	channels := make([]logic.Channel, 0, len(c.Detection.Monitor))
	for _, label := range c.Detection.Monitor {
		i, ok := index[label]
		if !ok {
			return nil, fmt.Errorf("monitored channel %q is not a device channel", label)
		}
		channels = append(channels, logic.Channel{Label: label, Index: i})
	}
	return channels, nil
}

// DetectionConfig returns the detector parameters.
func (c *Config) DetectionConfig() logic.DetectionConfig {
	return logic.DetectionConfig{
		Policy:            logic.Policy(c.Detection.Policy),
		Threshold:         c.Detection.Threshold,
		ChannelThresholds: c.Detection.Thresholds,
		MinDuration:       c.Detection.MinDuration.Std(),
	}
}

// Duration is a duration that can be parsed from TOML and YAML strings
// such as "250ms".
type Duration time.Duration

var (
	_ encoding.TextUnmarshaler = (*Duration)(nil)
	_ encoding.TextMarshaler   = (*Duration)(nil)
	_ yaml.Unmarshaler         = (*Duration)(nil)
)

func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Package logic contains the pure blink detection logic.
// This package has NO external dependencies (no serial, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// Policy selects how a sustained above-threshold excursion is recognised.
type Policy string

const (
	// PolicyRunLength counts consecutive above-threshold samples and fires
	// when the run reaches the minimum duration at block end.
	PolicyRunLength Policy = "run-length"
	// PolicyDebounce fires on the rising edge of a block-level
	// "any sample above threshold" flag.
	PolicyDebounce Policy = "debounce"
)

// RunState is the per-channel state machine position.
type RunState string

const (
	StateBelow        RunState = "BELOW"
	StateAccumulating RunState = "ACCUMULATING"
	StateIdle         RunState = "IDLE"
	StateActive       RunState = "ACTIVE"
)

// Channel is a monitored electrode signal.
type Channel struct {
	Label string // e.g. "Fp1"
	Index int    // column of the channel in an acquisition frame
}

// DetectionConfig holds the immutable detection parameters of a session.
type DetectionConfig struct {
	Policy Policy
	// Threshold applies to every channel without an override.
	Threshold float64
	// ChannelThresholds overrides Threshold per channel label.
	ChannelThresholds map[string]float64
	MinDuration       time.Duration
}

// ThresholdFor returns the effective threshold of a channel.
func (c DetectionConfig) ThresholdFor(label string) float64 {
	if t, ok := c.ChannelThresholds[label]; ok {
		return t
	}
	return c.Threshold
}

// SampleBlock is one polling cycle worth of samples for a single channel.
type SampleBlock struct {
	Channel    string
	Samples    []float64
	SampleRate float64 // samples per second
	CapturedAt time.Time
}

// BlinkEvent is a single reported detection on one channel.
type BlinkEvent struct {
	Channel    string
	DetectedAt time.Time
}

// ChannelRunState tracks detection state for a single channel.
type ChannelRunState struct {
	// Consecutive above-threshold samples (run-length policy)
	Count int
	// Previous block-level flag (debounce policy)
	Active bool
	// Channel should not be analysed before this time (debounce policy)
	CooldownUntil time.Time
}

// EventCounts tracks the number of blinks per channel since startup.
type EventCounts struct {
	Total     int
	ByChannel map[string]int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

// ConfigError reports invalid detector construction parameters.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid detection config: %s: %s", e.Field, e.Reason)
}

// InvalidSampleRateError reports a non-positive or non-finite sample rate.
type InvalidSampleRateError struct {
	Channel string
	Rate    float64
}

func (e *InvalidSampleRateError) Error() string {
	return fmt.Sprintf("channel %s: invalid sample rate %v", e.Channel, e.Rate)
}

// InvalidInputError reports a malformed sample block.
type InvalidInputError struct {
	Channel string
	Reason  string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("channel %s: invalid input: %s", e.Channel, e.Reason)
}

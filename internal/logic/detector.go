package logic

import (
	"math"
	"time"
)

// Detector tracks per-channel state and detects blinks in streaming sample blocks.
type Detector struct {
	cfg           DetectionConfig
	policy        policy
	channels      []Channel
	states        map[string]*ChannelRunState
	startTime     time.Time
	counts        map[string]int
	total         int
	lastHeartbeat time.Time
}

// NewDetector creates a blink detector for the given channels.
// The startTime is used for calculating uptime in heartbeat events.
// Invalid parameters return a *ConfigError and no detector.
func NewDetector(cfg DetectionConfig, channels []Channel, startTime time.Time) (*Detector, error) {
	if err := ValidateConfig(cfg, channels); err != nil {
		return nil, err
	}

	var p policy
	switch cfg.Policy {
	case PolicyDebounce:
		p = debounce{minDuration: cfg.MinDuration}
	default:
		p = runLength{minDuration: cfg.MinDuration}
	}

	d := &Detector{
		cfg:           cfg,
		policy:        p,
		channels:      append([]Channel(nil), channels...),
		states:        make(map[string]*ChannelRunState, len(channels)),
		startTime:     startTime,
		counts:        make(map[string]int, len(channels)),
		lastHeartbeat: startTime,
	}
	for _, ch := range channels {
		d.states[ch.Label] = &ChannelRunState{}
	}
	return d, nil
}

// ValidateConfig checks detection parameters without building a detector.
// An empty Policy selects the run-length policy.
func ValidateConfig(cfg DetectionConfig, channels []Channel) error {
	switch cfg.Policy {
	case "", PolicyRunLength, PolicyDebounce:
	default:
		return &ConfigError{Field: "policy", Reason: "unknown policy " + string(cfg.Policy)}
	}
	if cfg.MinDuration <= 0 {
		return &ConfigError{Field: "min_duration", Reason: "must be > 0"}
	}
	if len(channels) == 0 {
		return &ConfigError{Field: "channels", Reason: "no channels to monitor"}
	}
	if !validThreshold(cfg.Threshold) {
		return &ConfigError{Field: "threshold", Reason: "must be > 0"}
	}
	for label, t := range cfg.ChannelThresholds {
		if !validThreshold(t) {
			return &ConfigError{Field: "threshold." + label, Reason: "must be > 0"}
		}
	}

	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch.Label == "" {
			return &ConfigError{Field: "channels", Reason: "empty channel label"}
		}
		if ch.Index < 0 {
			return &ConfigError{Field: "channels", Reason: "negative index for " + ch.Label}
		}
		if seen[ch.Label] {
			return &ConfigError{Field: "channels", Reason: "duplicate channel " + ch.Label}
		}
		seen[ch.Label] = true
	}
	return nil
}

func validThreshold(t float64) bool {
	return t > 0 && !math.IsInf(t, 1)
}

// ProcessBlock scans one block of samples and returns any blink events.
// At most one event is returned per call. A rejected block leaves the
// channel state untouched.
func (d *Detector) ProcessBlock(b SampleBlock) ([]BlinkEvent, error) {
	st, ok := d.states[b.Channel]
	if !ok {
		return nil, &InvalidInputError{Channel: b.Channel, Reason: "channel not monitored"}
	}
	if !(b.SampleRate > 0) || math.IsInf(b.SampleRate, 1) {
		return nil, &InvalidSampleRateError{Channel: b.Channel, Rate: b.SampleRate}
	}
	if len(b.Samples) == 0 {
		return nil, &InvalidInputError{Channel: b.Channel, Reason: "empty block"}
	}
	for _, x := range b.Samples {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, &InvalidInputError{Channel: b.Channel, Reason: "non-finite sample"}
		}
	}

	threshold := d.cfg.ThresholdFor(b.Channel)
	if !d.policy.scan(st, b.Samples, threshold, b.SampleRate, b.CapturedAt) {
		return nil, nil
	}

	d.counts[b.Channel]++
	d.total++
	return []BlinkEvent{{Channel: b.Channel, DetectedAt: b.CapturedAt}}, nil
}

// Ready reports whether the channel should be analysed at now.
// It is false while a debounce cooldown is running and for unknown channels.
func (d *Detector) Ready(channel string, now time.Time) bool {
	st, ok := d.states[channel]
	if !ok {
		return false
	}
	return !now.Before(st.CooldownUntil)
}

// State returns the state machine position of a channel.
func (d *Detector) State(channel string) RunState {
	st, ok := d.states[channel]
	if !ok {
		return ""
	}
	return d.policy.state(*st)
}

// RunState returns a copy of the raw per-channel state.
func (d *Detector) RunState(channel string) (ChannelRunState, bool) {
	st, ok := d.states[channel]
	if !ok {
		return ChannelRunState{}, false
	}
	return *st, true
}

// Reset returns every channel to its initial state for a new session.
// Blink counts are kept.
func (d *Detector) Reset() {
	for _, st := range d.states {
		*st = ChannelRunState{}
	}
}

// Channels returns the monitored channels in construction order.
func (d *Detector) Channels() []Channel {
	return append([]Channel(nil), d.channels...)
}

// Policy returns the active detection policy.
func (d *Detector) Policy() Policy {
	if d.cfg.Policy == "" {
		return PolicyRunLength
	}
	return d.cfg.Policy
}

// RequiredSamples returns the run length that fires a blink at the given rate.
func (d *Detector) RequiredSamples(sampleRate float64) int {
	return requiredSamples(d.cfg.MinDuration, sampleRate)
}

// EventCountsSnapshot returns a copy of the blink counts.
func (d *Detector) EventCountsSnapshot() EventCounts {
	by := make(map[string]int, len(d.channels))
	for _, ch := range d.channels {
		by[ch.Label] = d.counts[ch.Label]
	}
	return EventCounts{Total: d.total, ByChannel: by}
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.EventCountsSnapshot(),
	}
}

// Package status provides a thread-safe status tracker for the blink-sensor daemon.
// It is read by the HTTP handlers and the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/blink-sensor/internal/logic"
)

// Phase is the stage of the recording session.
type Phase string

const (
	PhaseWarmup    Phase = "WARMUP"
	PhaseAnalyzing Phase = "ANALYZING"
	PhaseStopped   Phase = "STOPPED"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs        int64
	MinDurationMs int64
	HeartbeatMs   int64
	Threshold     float64
	Policy        string
	Required      int // run length in samples that fires a blink
	Mode          string
	Device        string
	Broker        string
	HTTPPort      string
}

// ChannelStatus is the detection state of one monitored channel.
type ChannelStatus struct {
	Label string
	State logic.RunState
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Phase         Phase
	Channels      []ChannelStatus
	Counts        logic.EventCounts
	Annotation    int // index of the last marker, 0 if none
	Samples       int // sample instants recorded
	Dropped       int // malformed device lines discarded
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether detection is running.
func (s Snapshot) Ready() bool {
	return s.Phase == PhaseAnalyzing
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Phase:     PhaseWarmup,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets channel states, blink counts, the last marker index and the
// number of recorded samples. Called from runLoop on every tick.
func (t *Tracker) Update(channels []ChannelStatus, counts logic.EventCounts, annotation, samples int) {
	channels = append([]ChannelStatus(nil), channels...)
	by := make(map[string]int, len(counts.ByChannel))
	for k, v := range counts.ByChannel {
		by[k] = v
	}
	counts.ByChannel = by

	t.mu.Lock()
	t.snap.Channels = channels
	t.snap.Counts = counts
	t.snap.Annotation = annotation
	t.snap.Samples = samples
	t.mu.Unlock()
}

// SetDropped sets the number of malformed device lines discarded so far.
func (t *Tracker) SetDropped(n int) {
	t.mu.Lock()
	t.snap.Dropped = n
	t.mu.Unlock()
}

// SetPhase sets the session phase.
func (t *Tracker) SetPhase(p Phase) {
	t.mu.Lock()
	t.snap.Phase = p
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Phase         string            `json:"phase"`
	Ready         bool              `json:"ready"`
	Channels      map[string]string `json:"channels"`
	Annotation    int               `json:"annotation"`
	Samples       int               `json:"samples"`
	Dropped       int               `json:"dropped_lines"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	MQTT          MQTTStatus        `json:"mqtt"`
	Counts        CountsJSON        `json:"blink_counts"`
	Network       *NetworkJSON      `json:"network,omitempty"`
	Config        ConfigJSON        `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of blink counts.
type CountsJSON struct {
	Total     int            `json:"total"`
	ByChannel map[string]int `json:"by_channel"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs        int64   `json:"poll_ms"`
	MinDurationMs int64   `json:"min_duration_ms"`
	HeartbeatMs   int64   `json:"heartbeat_ms"`
	Threshold     float64 `json:"threshold"`
	Policy        string  `json:"policy"`
	Required      int     `json:"required_samples,omitempty"`
	Mode          string  `json:"annotation_mode"`
	Device        string  `json:"device,omitempty"`
	Broker        string  `json:"broker"`
	HTTPPort      string  `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	phase := string(snap.Phase)
	if phase == "" {
		phase = "UNKNOWN"
	}

	channels := make(map[string]string, len(snap.Channels))
	for _, c := range snap.Channels {
		state := string(c.State)
		if state == "" {
			state = "UNKNOWN"
		}
		channels[c.Label] = state
	}

	byChannel := make(map[string]int, len(snap.Counts.ByChannel))
	for k, v := range snap.Counts.ByChannel {
		byChannel[k] = v
	}

	return StatusInner{
		Phase:         phase,
		Ready:         snap.Ready(),
		Channels:      channels,
		Annotation:    snap.Annotation,
		Samples:       snap.Samples,
		Dropped:       snap.Dropped,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Total:     snap.Counts.Total,
			ByChannel: byChannel,
		},
		Config: ConfigJSON{
			PollMs:        snap.Config.PollMs,
			MinDurationMs: snap.Config.MinDurationMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Threshold:     snap.Config.Threshold,
			Policy:        snap.Config.Policy,
			Required:      snap.Config.Required,
			Mode:          snap.Config.Mode,
			Device:        snap.Config.Device,
			Broker:        snap.Config.Broker,
			HTTPPort:      snap.Config.HTTPPort,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

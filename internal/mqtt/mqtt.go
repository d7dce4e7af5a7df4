// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/blink-sensor/internal/annotate"
	"github.com/sweeney/blink-sensor/internal/logic"
)

// Topic is the MQTT topic for blink events.
const Topic = "eeg/blink-sensor/events"

// TopicAnnotations is the MQTT topic for recording annotations.
const TopicAnnotations = "eeg/blink-sensor/annotations"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "eeg/blink-sensor/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a blink event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.BlinkEvent) error

	// Annotate sends an annotation marker to the broker.
	Annotate(m annotate.Marker) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT", "DURATION" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// BlinkPayload represents the MQTT message payload for a blink event.
type BlinkPayload struct {
	Blink BlinkInner `json:"blink"`
}

// BlinkInner contains the blink event details.
type BlinkInner struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
}

// FormatPayload creates the JSON payload for a blink event.
func FormatPayload(event logic.BlinkEvent) ([]byte, error) {
	return json.Marshal(BlinkPayload{
		Blink: BlinkInner{
			Timestamp: event.DetectedAt.UTC().Format(time.RFC3339Nano),
			Channel:   event.Channel,
		},
	})
}

// AnnotationPayload represents the MQTT message payload for a marker.
type AnnotationPayload struct {
	Annotation AnnotationInner `json:"annotation"`
}

// AnnotationInner contains the marker details.
type AnnotationInner struct {
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FormatAnnotationPayload creates the JSON payload for a marker.
func FormatAnnotationPayload(m annotate.Marker) ([]byte, error) {
	return json.Marshal(AnnotationPayload{
		Annotation: AnnotationInner{
			Index:     m.Index,
			Kind:      string(m.Kind),
			Channel:   m.Channel,
			Timestamp: m.At.UTC().Format(time.RFC3339Nano),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Package gpio drives a hardware trigger line with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"time"

	"github.com/sweeney/blink-sensor/internal/annotate"
)

// Trigger emits short pulses on an output line so an external recorder can
// align annotations with its own samples.
type Trigger interface {
	// Pulse drives the line active for the configured width, then inactive.
	Pulse() error

	// Close releases GPIO resources.
	Close() error
}

// Defaults (BCM numbering)
const (
	DefaultPin        = 17
	DefaultPulseWidth = 10 * time.Millisecond
)

// TriggerSink adapts a Trigger to an annotation sink: every marker delivered
// produces one pulse.
type TriggerSink struct {
	Trigger Trigger
}

// Annotate pulses the trigger line.
func (s TriggerSink) Annotate(annotate.Marker) error {
	return s.Trigger.Pulse()
}

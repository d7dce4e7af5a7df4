// Package annotate numbers recording annotations and fans them out to sinks.
// An annotation is not a blink: the caller decides which ticks and blinks
// become markers through a Mode.
package annotate

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind says what produced a marker.
type Kind string

const (
	KindTick  Kind = "TICK"
	KindBlink Kind = "BLINK"
)

// Mode selects which occurrences become markers.
type Mode string

const (
	ModeTick  Mode = "tick"  // one marker per polling tick
	ModeBlink Mode = "blink" // one marker per blink event
	ModeBoth  Mode = "both"
)

// ParseMode validates a mode string. Empty selects ModeTick.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeTick, nil
	case ModeTick, ModeBlink, ModeBoth:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown annotation mode %q", s)
}

// Ticks reports whether polling ticks produce markers.
func (m Mode) Ticks() bool { return m == ModeTick || m == ModeBoth || m == "" }

// Blinks reports whether blink events produce markers.
func (m Mode) Blinks() bool { return m == ModeBlink || m == ModeBoth }

// Kinds returns the marker kinds selected by the mode.
func (m Mode) Kinds() []Kind {
	var kinds []Kind
	if m.Ticks() {
		kinds = append(kinds, KindTick)
	}
	if m.Blinks() {
		kinds = append(kinds, KindBlink)
	}
	return kinds
}

// Marker is a single annotation sent to the recording.
type Marker struct {
	Index   int
	Kind    Kind
	Channel string // blink markers only
	At      time.Time
}

// Label is the opaque string written to the recording.
func (m Marker) Label() string {
	return fmt.Sprint(m.Index)
}

// Counter hands out process-wide annotation indexes starting at 1.
// It is safe for concurrent use.
type Counter struct {
	mu   sync.Mutex
	next int
}

// NewCounter creates a counter whose first marker has index 1.
func NewCounter() *Counter {
	return &Counter{next: 1}
}

// Next returns a new marker with the next index.
func (c *Counter) Next(kind Kind, channel string, at time.Time) Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == 0 {
		c.next = 1
	}
	m := Marker{Index: c.next, Kind: kind, Channel: channel, At: at}
	c.next++
	return m
}

// Last returns the most recently issued index, 0 if none.
func (c *Counter) Last() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == 0 {
		return 0
	}
	return c.next - 1
}

// Sink receives markers.
type Sink interface {
	// Annotate delivers a marker. Returns error if delivery fails
	// (should not crash the process).
	Annotate(m Marker) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Marker) error

// Annotate calls f(m).
func (f SinkFunc) Annotate(m Marker) error { return f(m) }

// Sinks delivers every marker to each sink in order.
// All sinks are attempted; their errors are joined.
type Sinks []Sink

// Annotate delivers m to every sink.
func (s Sinks) Annotate(m Marker) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Annotate(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// KindFilter forwards only markers of the given kinds.
func KindFilter(sink Sink, kinds ...Kind) Sink {
	return SinkFunc(func(m Marker) error {
		for _, k := range kinds {
			if m.Kind == k {
				return sink.Annotate(m)
			}
		}
		return nil
	})
}

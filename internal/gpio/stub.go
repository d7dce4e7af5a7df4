//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealTrigger is not available on non-Linux platforms.
type RealTrigger struct{}

// NewRealTrigger returns an error on non-Linux platforms.
func NewRealTrigger(pin int, width time.Duration) (*RealTrigger, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Pulse is not implemented on non-Linux platforms.
func (r *RealTrigger) Pulse() error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealTrigger) Close() error {
	return nil
}

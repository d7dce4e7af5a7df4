//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealTrigger drives an output line on actual hardware using the Linux GPIO
// character device.
type RealTrigger struct {
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	width time.Duration
	sleep func(time.Duration)
}

// NewRealTrigger requests the given BCM pin as an output, initially low.
func NewRealTrigger(pin int, width time.Duration) (*RealTrigger, error) {
	chip, err := gpiocdev.NewChip("gpiochip0", gpiocdev.WithConsumer("blink-sensor"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request trigger pin %d: %w", pin, err)
	}

	return &RealTrigger{
		chip:  chip,
		line:  line,
		width: width,
		sleep: time.Sleep,
	}, nil
}

// Pulse drives the line high for the pulse width, then low.
// It blocks for the pulse width.
func (r *RealTrigger) Pulse() error {
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("set trigger high: %w", err)
	}
	r.sleep(r.width)
	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("set trigger low: %w", err)
	}
	return nil
}

// Close releases GPIO resources.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing so the line does not float into the recorder.
func (r *RealTrigger) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure trigger pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trigger pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

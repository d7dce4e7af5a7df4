package gpio

// FakeTrigger is a test double that counts pulses.
type FakeTrigger struct {
	// Pulses is the number of successful pulses.
	Pulses int

	// Closed tracks if Close was called
	Closed bool

	// PulseError, if set, will be returned by Pulse()
	PulseError error
}

// NewFakeTrigger creates a FakeTrigger.
func NewFakeTrigger() *FakeTrigger {
	return &FakeTrigger{}
}

// Pulse records a pulse.
func (f *FakeTrigger) Pulse() error {
	if f.PulseError != nil {
		return f.PulseError
	}
	f.Pulses++
	return nil
}

// Close marks the trigger as closed.
func (f *FakeTrigger) Close() error {
	f.Closed = true
	return nil
}

// Reset clears the pulse count.
func (f *FakeTrigger) Reset() {
	f.Pulses = 0
	f.Closed = false
	f.PulseError = nil
}

package acquire

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialConfig configures the serial bridge of the headband.
type SerialConfig struct {
	Device     string // e.g. /dev/ttyUSB0 or /dev/ttyACM0
	Baud       int
	SampleRate float64
	Channels   int
}

// OpenSerial opens the serial device and streams sample lines from it.
func OpenSerial(cfg SerialConfig) (*StreamSource, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}

	// Discard whatever the bridge sent before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset serial %s: %w", cfg.Device, err)
	}

	return NewStreamSource(port, StreamConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}), nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

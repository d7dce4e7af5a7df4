// Package acquire delivers per-tick blocks of multichannel samples.
// The real implementations read a line stream from a serial bridge or replay
// a saved recording. The fake implementation allows testing without hardware.
package acquire

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Source reads sample frames.
type Source interface {
	// Read returns every sample captured since the previous call.
	// Acquisition failures are returned, never swallowed.
	Read() (Frame, error)

	// Close releases the device.
	Close() error
}

// Frame is one polling cycle of samples for all device channels.
type Frame struct {
	CapturedAt time.Time
	SampleRate float64 // samples per second valid for this frame
	// Data[i] holds the samples of channel index i.
	Data [][]float64
}

// Samples returns the samples of channel index i, nil if absent.
func (f Frame) Samples(i int) []float64 {
	if i < 0 || i >= len(f.Data) {
		return nil
	}
	return f.Data[i]
}

// Len returns the number of sample instants in the frame.
func (f Frame) Len() int {
	if len(f.Data) == 0 {
		return 0
	}
	return len(f.Data[0])
}

var errEmptyLine = errors.New("empty line")

// ParseLine parses one sample instant: a comma, semicolon or whitespace
// separated list of numbers, one per channel index.
func ParseLine(line string) ([]float64, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, errEmptyLine
	}

	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// transpose turns sample rows into per-channel columns.
func transpose(rows [][]float64, width int) [][]float64 {
	data := make([][]float64, width)
	for i := range data {
		data[i] = make([]float64, 0, len(rows))
	}
	for _, row := range rows {
		for i := 0; i < width; i++ {
			data[i] = append(data[i], row[i])
		}
	}
	return data
}

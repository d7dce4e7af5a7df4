package acquire

import "errors"

// FakeSource is a test double that returns scripted frames.
type FakeSource struct {
	// Frames contains scripted frames to return.
	// Each call to Read() consumes the next frame.
	Frames []Frame

	// index tracks current position in Frames
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeSource creates a FakeSource with the given frames.
func NewFakeSource(frames []Frame) *FakeSource {
	return &FakeSource{Frames: frames}
}

// Read returns the next scripted frame.
// If frames are exhausted, returns the last frame repeatedly.
func (f *FakeSource) Read() (Frame, error) {
	if f.ReadError != nil {
		return Frame{}, f.ReadError
	}

	if len(f.Frames) == 0 {
		return Frame{}, errors.New("no frames configured")
	}

	frame := f.Frames[f.index]
	if f.index < len(f.Frames)-1 {
		f.index++
	}

	return frame, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the source to the beginning of frames.
func (f *FakeSource) Reset() {
	f.index = 0
	f.Closed = false
}

// Constant builds a frame where every channel holds n copies of its value.
func Constant(rate float64, n int, values ...float64) Frame {
	data := make([][]float64, len(values))
	for i, v := range values {
		data[i] = make([]float64, n)
		for j := range data[i] {
			data[i][j] = v
		}
	}
	return Frame{SampleRate: rate, Data: data}
}

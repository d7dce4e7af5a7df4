package annotate

// FakeSink records markers for test assertions.
type FakeSink struct {
	// Markers contains all markers that were delivered.
	Markers []Marker

	// Err, if set, will be returned by Annotate.
	Err error
}

// Annotate records the marker.
func (f *FakeSink) Annotate(m Marker) error {
	if f.Err != nil {
		return f.Err
	}
	f.Markers = append(f.Markers, m)
	return nil
}

// Reset clears recorded markers.
func (f *FakeSink) Reset() {
	f.Markers = nil
	f.Err = nil
}

// Package recording keeps the raw sample history of a session and writes it
// to disk when the session ends.
package recording

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sweeney/blink-sensor/internal/acquire"
	"github.com/sweeney/blink-sensor/internal/annotate"
)

// FileTimeLayout names recordings <YYYYMMDD_HHMM>-raw.csv.
const FileTimeLayout = "20060102_1504"

// Session accumulates frames and markers in memory.
// It is safe for concurrent use.
type Session struct {
	labels []string // channel labels in index order

	mu      sync.Mutex
	data    [][]float64
	rate    float64
	markers []annotate.Marker
	offsets []float64 // sample offset of each marker, in seconds
}

// NewSession creates a session for the given channel labels, in index order.
func NewSession(labels []string) *Session {
	return &Session{
		labels: append([]string(nil), labels...),
		data:   make([][]float64, len(labels)),
	}
}

// Append adds a frame to the history. Channels beyond the configured labels
// are ignored; missing channels are padded with zeros so columns stay aligned.
func (s *Session) Append(f acquire.Frame) {
	n := f.Len()
	if n == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f.SampleRate > 0 {
		s.rate = f.SampleRate
	}
	for i := range s.labels {
		col := f.Samples(i)
		if len(col) != n {
			col = make([]float64, n)
		}
		s.data[i] = append(s.data[i], col...)
	}
}

// Annotate stores a marker at the current end of the history.
func (s *Session) Annotate(m annotate.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = append(s.markers, m)
	s.offsets = append(s.offsets, s.secondsLocked())
	return nil
}

// Samples returns the number of sample instants recorded.
func (s *Session) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplesLocked()
}

// Markers returns a copy of the stored markers.
func (s *Session) Markers() []annotate.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]annotate.Marker(nil), s.markers...)
}

func (s *Session) samplesLocked() int {
	if len(s.data) == 0 {
		return 0
	}
	return len(s.data[0])
}

func (s *Session) secondsLocked() float64 {
	if s.rate <= 0 {
		return 0
	}
	return float64(s.samplesLocked()) / s.rate
}

// Save writes <YYYYMMDD_HHMM>-raw.csv and <YYYYMMDD_HHMM>-annotations.csv
// into dir and returns the path of the raw file.
func (s *Session) Save(dir string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	stamp := at.Format(FileTimeLayout)
	rawPath := filepath.Join(dir, stamp+"-raw.csv")
	if err := writeCSV(rawPath, s.rawRecords()); err != nil {
		return "", fmt.Errorf("write recording: %w", err)
	}

	annPath := filepath.Join(dir, stamp+"-annotations.csv")
	if err := writeCSV(annPath, s.annotationRecords()); err != nil {
		return "", fmt.Errorf("write annotations: %w", err)
	}

	return rawPath, nil
}

func (s *Session) rawRecords() [][]string {
	records := make([][]string, 0, s.samplesLocked()+1)
	records = append(records, append([]string{acquire.TimeColumn}, s.labels...))

	for j := 0; j < s.samplesLocked(); j++ {
		row := make([]string, 0, len(s.labels)+1)
		var t float64
		if s.rate > 0 {
			t = float64(j) / s.rate
		}
		row = append(row, strconv.FormatFloat(t, 'f', 6, 64))
		for i := range s.labels {
			row = append(row, strconv.FormatFloat(s.data[i][j], 'g', -1, 64))
		}
		records = append(records, row)
	}
	return records
}

func (s *Session) annotationRecords() [][]string {
	records := [][]string{{"index", "kind", "channel", acquire.TimeColumn, "timestamp"}}
	for i, m := range s.markers {
		records = append(records, []string{
			strconv.Itoa(m.Index),
			string(m.Kind),
			m.Channel,
			strconv.FormatFloat(s.offsets[i], 'f', 6, 64),
			m.At.UTC().Format(time.RFC3339Nano),
		})
	}
	return records
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

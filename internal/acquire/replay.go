package acquire

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"
)

// TimeColumn is the leading column of a saved recording.
const TimeColumn = "time_s"

// ReplaySource replays a saved recording at a fixed number of rows per Read.
type ReplaySource struct {
	r        *csv.Reader
	c        io.Closer
	rate     float64
	perRead  int
	labels   []string
	skipTime bool
	now      func() time.Time
}

// OpenReplay opens a recording CSV written by the recorder.
// Each Read returns round(rate * poll) rows.
func OpenReplay(path string, rate float64, poll time.Duration) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	src, err := NewReplaySource(f, rate, poll)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// NewReplaySource reads the header of rc and prepares the replay.
func NewReplaySource(rc io.ReadCloser, rate float64, poll time.Duration) (*ReplaySource, error) {
	if !(rate > 0) {
		return nil, fmt.Errorf("replay: invalid sample rate %v", rate)
	}
	perRead := int(math.Round(rate * poll.Seconds()))
	if perRead < 1 {
		perRead = 1
	}

	r := csv.NewReader(rc)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("replay: read header: %w", err)
	}

	s := &ReplaySource{
		r:       r,
		c:       rc,
		rate:    rate,
		perRead: perRead,
		now:     time.Now,
	}
	if len(header) > 0 && header[0] == TimeColumn {
		s.skipTime = true
		header = header[1:]
	}
	if len(header) == 0 {
		return nil, errors.New("replay: no channel columns")
	}
	s.labels = append([]string(nil), header...)
	return s, nil
}

// Labels returns the channel labels in index order.
func (s *ReplaySource) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Read returns the next rows of the recording, io.EOF once exhausted.
func (s *ReplaySource) Read() (Frame, error) {
	rows := make([][]float64, 0, s.perRead)
	for len(rows) < s.perRead {
		rec, err := s.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Frame{}, fmt.Errorf("replay: %w", err)
		}
		if s.skipTime {
			rec = rec[1:]
		}
		if len(rec) != len(s.labels) {
			return Frame{}, fmt.Errorf("replay: row has %d columns, want %d", len(rec), len(s.labels))
		}
		row := make([]float64, len(rec))
		for i, f := range rec {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Frame{}, fmt.Errorf("replay: column %s: %w", s.labels[i], err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return Frame{}, io.EOF
	}
	return Frame{
		CapturedAt: s.now(),
		SampleRate: s.rate,
		Data:       transpose(rows, len(s.labels)),
	}, nil
}

// Close closes the recording file.
func (s *ReplaySource) Close() error {
	return s.c.Close()
}

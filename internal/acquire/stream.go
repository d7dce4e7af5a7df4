package acquire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrMalformed is returned by Read when every line received since the
// previous call was dropped, typically a column count that does not match
// the device.
var ErrMalformed = errors.New("acquire: only malformed lines received")

// StreamConfig describes the line stream produced by the headband bridge.
type StreamConfig struct {
	SampleRate float64 // nominal device rate
	// Channels is the number of columns per line; 0 takes the width of the
	// first valid line.
	Channels int
}

// StreamSource accumulates lines from a reader in the background and hands
// them out one frame per Read.
type StreamSource struct {
	rc  io.ReadCloser
	cfg StreamConfig
	now func() time.Time

	mu      sync.Mutex
	rows    [][]float64
	width   int
	dropped int
	pending int // dropped since the last Read
	err     error

	done chan struct{}
}

// NewStreamSource starts reading lines from rc.
func NewStreamSource(rc io.ReadCloser, cfg StreamConfig) *StreamSource {
	s := &StreamSource{
		rc:    rc,
		cfg:   cfg,
		now:   time.Now,
		width: cfg.Channels,
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *StreamSource) run() {
	defer close(s.done)

	sc := bufio.NewScanner(s.rc)
	for sc.Scan() {
		row, err := ParseLine(sc.Text())
		if err == errEmptyLine {
			continue
		}

		s.mu.Lock()
		if s.width == 0 && err == nil {
			s.width = len(row)
		}
		if err != nil || len(row) != s.width {
			s.dropped++
			s.pending++
			if s.dropped == 1 {
				slog.Warn("acquire: dropping malformed line", "line", sc.Text())
			}
			s.mu.Unlock()
			continue
		}
		s.rows = append(s.rows, row)
		s.mu.Unlock()
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Read returns every row received since the previous call.
// A stream error is returned once the buffered rows have been handed out.
// If lines arrived but none of them parsed, Read returns ErrMalformed
// before any stream error.
func (s *StreamSource) Read() (Frame, error) {
	s.mu.Lock()
	rows := s.rows
	s.rows = nil
	pending := s.pending
	s.pending = 0
	width := s.width
	err := s.err
	s.mu.Unlock()

	if len(rows) == 0 && pending > 0 {
		return Frame{}, fmt.Errorf("%w (%d lines, want %d columns)", ErrMalformed, pending, width)
	}
	if len(rows) == 0 && err != nil {
		return Frame{}, err
	}

	return Frame{
		CapturedAt: s.now(),
		SampleRate: s.cfg.SampleRate,
		Data:       transpose(rows, width),
	}, nil
}

// Dropped returns the number of malformed lines discarded so far.
func (s *StreamSource) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the underlying reader and waits for the reader goroutine.
func (s *StreamSource) Close() error {
	err := s.rc.Close()
	<-s.done
	return err
}

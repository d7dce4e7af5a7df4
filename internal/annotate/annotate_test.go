package annotate

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCounterStartsAtOne(t *testing.T) {
	c := NewCounter()
	if c.Last() != 0 {
		t.Errorf("expected Last()=0 before any marker, got %d", c.Last())
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := c.Next(KindTick, "", now)
	if m.Index != 1 {
		t.Errorf("expected first index 1, got %d", m.Index)
	}
	if m.Label() != "1" {
		t.Errorf("expected label \"1\", got %q", m.Label())
	}
	if !m.At.Equal(now) {
		t.Errorf("unexpected marker time %v", m.At)
	}
}

func TestCounterSharedAcrossChannelsAndKinds(t *testing.T) {
	c := NewCounter()
	now := time.Now()

	got := []int{
		c.Next(KindTick, "", now).Index,
		c.Next(KindBlink, "Fp1", now).Index,
		c.Next(KindBlink, "Fp2", now).Index,
		c.Next(KindTick, "", now).Index,
	}
	for i, idx := range got {
		if idx != i+1 {
			t.Errorf("marker %d: expected index %d, got %d", i, i+1, idx)
		}
	}
	if c.Last() != 4 {
		t.Errorf("expected Last()=4, got %d", c.Last())
	}
}

func TestCounterZeroValue(t *testing.T) {
	var c Counter
	if idx := c.Next(KindTick, "", time.Now()).Index; idx != 1 {
		t.Errorf("zero-value counter: expected index 1, got %d", idx)
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter()
	var wg sync.WaitGroup
	seen := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next(KindTick, "", time.Now()).Index
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int]bool)
	for idx := range seen {
		if unique[idx] {
			t.Fatalf("duplicate index %d", idx)
		}
		unique[idx] = true
	}
	if c.Last() != 100 {
		t.Errorf("expected Last()=100, got %d", c.Last())
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeTick, false},
		{"tick", ModeTick, false},
		{"blink", ModeBlink, false},
		{"both", ModeBoth, false},
		{"never", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q): unexpected error state %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestModeSelectors(t *testing.T) {
	tests := []struct {
		mode   Mode
		ticks  bool
		blinks bool
	}{
		{ModeTick, true, false},
		{ModeBlink, false, true},
		{ModeBoth, true, true},
	}
	for _, tt := range tests {
		if tt.mode.Ticks() != tt.ticks {
			t.Errorf("%s.Ticks() = %v", tt.mode, tt.mode.Ticks())
		}
		if tt.mode.Blinks() != tt.blinks {
			t.Errorf("%s.Blinks() = %v", tt.mode, tt.mode.Blinks())
		}
		want := 0
		if tt.ticks {
			want++
		}
		if tt.blinks {
			want++
		}
		if got := len(tt.mode.Kinds()); got != want {
			t.Errorf("%s.Kinds() has %d kinds, want %d", tt.mode, got, want)
		}
	}
}

func TestSinksFanOut(t *testing.T) {
	a, b := &FakeSink{}, &FakeSink{}
	failing := &FakeSink{Err: errors.New("broker down")}
	sinks := Sinks{a, failing, nil, b}

	m := Marker{Index: 7, Kind: KindBlink, Channel: "Fp1"}
	err := sinks.Annotate(m)
	if err == nil || err.Error() != "broker down" {
		t.Errorf("expected joined error from failing sink, got %v", err)
	}
	if len(a.Markers) != 1 || len(b.Markers) != 1 {
		t.Fatalf("expected every healthy sink to receive the marker, got %d and %d", len(a.Markers), len(b.Markers))
	}
	if b.Markers[0] != m {
		t.Errorf("unexpected marker %+v", b.Markers[0])
	}
}

func TestKindFilter(t *testing.T) {
	inner := &FakeSink{}
	sink := KindFilter(inner, KindBlink)

	sink.Annotate(Marker{Index: 1, Kind: KindTick})
	sink.Annotate(Marker{Index: 2, Kind: KindBlink, Channel: "Fp2"})

	if len(inner.Markers) != 1 {
		t.Fatalf("expected 1 marker through filter, got %d", len(inner.Markers))
	}
	if inner.Markers[0].Index != 2 {
		t.Errorf("expected blink marker, got %+v", inner.Markers[0])
	}
}

func TestFakeSinkReset(t *testing.T) {
	f := &FakeSink{}
	f.Annotate(Marker{Index: 1})
	f.Err = errors.New("x")
	f.Reset()
	if len(f.Markers) != 0 || f.Err != nil {
		t.Error("expected reset to clear markers and error")
	}
}

package logic

import (
	"errors"
	"math"
	"testing"
	"time"
)

var (
	testStart    = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	testChannels = []Channel{{Label: "Fp1", Index: 0}, {Label: "Fp2", Index: 1}}
)

func TestNewDetector(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)
	if !d.startTime.Equal(testStart) {
		t.Errorf("expected startTime %v, got %v", testStart, d.startTime)
	}
	if !d.lastHeartbeat.Equal(testStart) {
		t.Errorf("expected lastHeartbeat %v, got %v", testStart, d.lastHeartbeat)
	}
	if len(d.Channels()) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(d.Channels()))
	}
	for _, ch := range testChannels {
		if s := d.State(ch.Label); s != StateBelow {
			t.Errorf("%s: expected BELOW initially, got %s", ch.Label, s)
		}
	}
}

func TestNewDetectorConfigErrors(t *testing.T) {
	valid := DetectionConfig{Threshold: 1000, MinDuration: 100 * time.Millisecond}

	tests := []struct {
		name     string
		mutate   func(*DetectionConfig)
		channels []Channel
		field    string
	}{
		{"zero threshold", func(c *DetectionConfig) { c.Threshold = 0 }, testChannels, "threshold"},
		{"negative threshold", func(c *DetectionConfig) { c.Threshold = -5 }, testChannels, "threshold"},
		{"NaN threshold", func(c *DetectionConfig) { c.Threshold = math.NaN() }, testChannels, "threshold"},
		{"zero override", func(c *DetectionConfig) { c.ChannelThresholds = map[string]float64{"Fp2": 0} }, testChannels, "threshold.Fp2"},
		{"zero duration", func(c *DetectionConfig) { c.MinDuration = 0 }, testChannels, "min_duration"},
		{"negative duration", func(c *DetectionConfig) { c.MinDuration = -time.Second }, testChannels, "min_duration"},
		{"unknown policy", func(c *DetectionConfig) { c.Policy = "adaptive" }, testChannels, "policy"},
		{"no channels", func(c *DetectionConfig) {}, nil, "channels"},
		{"duplicate channel", func(c *DetectionConfig) {}, []Channel{{Label: "Fp1"}, {Label: "Fp1", Index: 1}}, "channels"},
		{"negative index", func(c *DetectionConfig) {}, []Channel{{Label: "Fp1", Index: -1}}, "channels"},
		{"empty label", func(c *DetectionConfig) {}, []Channel{{Index: 0}}, "channels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			d, err := NewDetector(cfg, tt.channels, testStart)
			if d != nil {
				t.Error("expected no detector on config error")
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("field: got %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestBlockBelowThresholdNoEvents(t *testing.T) {
	for _, p := range []Policy{PolicyRunLength, PolicyDebounce} {
		t.Run(string(p), func(t *testing.T) {
			d := newTestDetector(t, p)
			events := mustProcess(t, d, block("Fp1", 20, 999, testStart))
			if len(events) != 0 {
				t.Errorf("expected no events, got %d", len(events))
			}
			want := StateBelow
			if p == PolicyDebounce {
				want = StateIdle
			}
			if s := d.State("Fp1"); s != want {
				t.Errorf("expected %s, got %s", want, s)
			}
		})
	}
}

func TestRunLengthExactMinimumFires(t *testing.T) {
	// threshold 1000, 100ms at 100Hz: ceil(D*R) = 10
	d := newTestDetector(t, PolicyRunLength)

	events := mustProcess(t, d, block("Fp1", 10, 1001, testStart))
	if len(events) != 1 {
		t.Fatalf("expected 1 event for exactly ceil(D*R) samples, got %d", len(events))
	}
	if events[0].Channel != "Fp1" {
		t.Errorf("expected channel Fp1, got %s", events[0].Channel)
	}
	if !events[0].DetectedAt.Equal(testStart) {
		t.Errorf("unexpected detection time: %v", events[0].DetectedAt)
	}
	if s := d.State("Fp1"); s != StateBelow {
		t.Errorf("expected counter reset to BELOW after firing, got %s", s)
	}
}

func TestRunLengthOneShortDoesNotFire(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	events := mustProcess(t, d, block("Fp1", 9, 1001, testStart))
	if len(events) != 0 {
		t.Fatalf("expected no events for ceil(D*R)-1 samples, got %d", len(events))
	}
	if s := d.State("Fp1"); s != StateAccumulating {
		t.Errorf("expected ACCUMULATING, got %s", s)
	}
	st, _ := d.RunState("Fp1")
	if st.Count != 9 {
		t.Errorf("expected count 9, got %d", st.Count)
	}
}

func TestRunLengthFractionalRequirement(t *testing.T) {
	// 105ms at 100Hz: ceil(10.5) = 11
	d, err := NewDetector(DetectionConfig{Threshold: 1000, MinDuration: 105 * time.Millisecond}, testChannels, testStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := d.RequiredSamples(100); n != 11 {
		t.Fatalf("expected 11 required samples, got %d", n)
	}
	if events := mustProcess(t, d, block("Fp1", 10, 1500, testStart)); len(events) != 0 {
		t.Errorf("expected no events for 10 samples, got %d", len(events))
	}
}

func TestRunLengthInterruptedRunResets(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	// 8 above, one exactly at threshold, 8 above: 16 above in total but never 10 in a row
	samples := append(repeat(1500, 8), 1000)
	samples = append(samples, repeat(-1500, 8)...)

	events := mustProcess(t, d, SampleBlock{Channel: "Fp1", Samples: samples, SampleRate: 100, CapturedAt: testStart})
	if len(events) != 0 {
		t.Fatalf("expected interrupted runs not to combine, got %d events", len(events))
	}
	st, _ := d.RunState("Fp1")
	if st.Count != 8 {
		t.Errorf("expected count 8 after the second sub-run, got %d", st.Count)
	}
}

func TestRunLengthAbsoluteValue(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	events := mustProcess(t, d, block("Fp1", 12, -1500, testStart))
	if len(events) != 1 {
		t.Errorf("expected negative excursion to fire, got %d events", len(events))
	}
}

func TestRunLengthRunSpansBlocks(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	if events := mustProcess(t, d, block("Fp1", 6, 1500, testStart)); len(events) != 0 {
		t.Fatalf("expected no events from first half, got %d", len(events))
	}
	events := mustProcess(t, d, block("Fp1", 6, 1500, testStart.Add(time.Second)))
	if len(events) != 1 {
		t.Fatalf("expected run carried across blocks to fire, got %d", len(events))
	}
	if !events[0].DetectedAt.Equal(testStart.Add(time.Second)) {
		t.Errorf("expected block-end detection time, got %v", events[0].DetectedAt)
	}
}

func TestRunLengthBlockEndStateOnly(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	// Long run that ends below threshold: block-granular policy misses it.
	samples := append(repeat(1500, 30), 0)
	events := mustProcess(t, d, SampleBlock{Channel: "Fp1", Samples: samples, SampleRate: 100, CapturedAt: testStart})
	if len(events) != 0 {
		t.Errorf("expected no events when the run ends inside the block, got %d", len(events))
	}
}

func TestRunLengthRefiresOnOngoingExcursion(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	for i := 0; i < 2; i++ {
		events := mustProcess(t, d, block("Fp1", 15, 1500, testStart.Add(time.Duration(i)*time.Second)))
		if len(events) != 1 {
			t.Errorf("block %d: expected 1 event, got %d", i, len(events))
		}
	}
}

func TestDebounceSustainedTrueNoRefire(t *testing.T) {
	d := newTestDetector(t, PolicyDebounce)

	events := mustProcess(t, d, block("Fp1", 5, 1500, testStart))
	if len(events) != 1 {
		t.Fatalf("expected 1 event on rising edge, got %d", len(events))
	}
	if s := d.State("Fp1"); s != StateActive {
		t.Errorf("expected ACTIVE, got %s", s)
	}

	events = mustProcess(t, d, block("Fp1", 5, 1500, testStart.Add(time.Second)))
	if len(events) != 0 {
		t.Errorf("expected no event on sustained true, got %d", len(events))
	}
}

func TestDebounceTwoRisingEdges(t *testing.T) {
	d := newTestDetector(t, PolicyDebounce)

	values := []float64{1500, 10, 1500}
	total := 0
	for i, v := range values {
		events := mustProcess(t, d, block("Fp1", 5, v, testStart.Add(time.Duration(i)*time.Second)))
		total += len(events)
	}
	if total != 2 {
		t.Errorf("expected 2 events for true/false/true, got %d", total)
	}
	if s := d.State("Fp1"); s != StateActive {
		t.Errorf("expected ACTIVE, got %s", s)
	}
}

func TestDebounceSingleSampleTriggers(t *testing.T) {
	d := newTestDetector(t, PolicyDebounce)

	samples := append(repeat(0, 50), 1001)
	events := mustProcess(t, d, SampleBlock{Channel: "Fp2", Samples: samples, SampleRate: 100, CapturedAt: testStart})
	if len(events) != 1 {
		t.Errorf("expected a single above-threshold sample to trigger, got %d events", len(events))
	}
}

func TestDebounceCooldown(t *testing.T) {
	d := newTestDetector(t, PolicyDebounce)

	if !d.Ready("Fp1", testStart) {
		t.Fatal("expected channel ready before any blink")
	}
	mustProcess(t, d, block("Fp1", 5, 1500, testStart))

	if d.Ready("Fp1", testStart.Add(99*time.Millisecond)) {
		t.Error("expected channel unavailable during cooldown")
	}
	if !d.Ready("Fp1", testStart.Add(100*time.Millisecond)) {
		t.Error("expected channel ready once cooldown elapsed")
	}
	if !d.Ready("Fp2", testStart) {
		t.Error("cooldown must not affect other channels")
	}
}

func TestRunLengthAlwaysReady(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)
	mustProcess(t, d, block("Fp1", 15, 1500, testStart))
	if !d.Ready("Fp1", testStart) {
		t.Error("run-length channels have no cooldown")
	}
	if d.Ready("O1", testStart) {
		t.Error("unknown channel should not be ready")
	}
}

func TestInvalidSampleRate(t *testing.T) {
	for _, rate := range []float64{0, -100, math.NaN(), math.Inf(1)} {
		d := newTestDetector(t, PolicyRunLength)
		mustProcess(t, d, block("Fp1", 5, 1500, testStart))
		before, _ := d.RunState("Fp1")

		b := block("Fp1", 10, 1500, testStart)
		b.SampleRate = rate
		events, err := d.ProcessBlock(b)

		var rerr *InvalidSampleRateError
		if !errors.As(err, &rerr) {
			t.Fatalf("rate %v: expected *InvalidSampleRateError, got %v", rate, err)
		}
		if len(events) != 0 {
			t.Errorf("rate %v: expected no events", rate)
		}
		after, _ := d.RunState("Fp1")
		if after != before {
			t.Errorf("rate %v: state mutated: before %+v after %+v", rate, before, after)
		}
	}
}

func TestInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		b    SampleBlock
	}{
		{"empty block", SampleBlock{Channel: "Fp1", SampleRate: 100}},
		{"unknown channel", block("O1", 10, 1500, testStart)},
		{"NaN sample", SampleBlock{Channel: "Fp1", Samples: []float64{1500, math.NaN()}, SampleRate: 100}},
		{"Inf sample", SampleBlock{Channel: "Fp1", Samples: []float64{math.Inf(-1)}, SampleRate: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, PolicyRunLength)
			mustProcess(t, d, block("Fp1", 5, 1500, testStart))

			_, err := d.ProcessBlock(tt.b)
			var ierr *InvalidInputError
			if !errors.As(err, &ierr) {
				t.Fatalf("expected *InvalidInputError, got %v", err)
			}

			// Rejected in full: the partial run must be intact.
			st, _ := d.RunState("Fp1")
			if st.Count != 5 {
				t.Errorf("expected count 5 after rejected block, got %d", st.Count)
			}
		})
	}
}

func TestDefaultScenario(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	events := mustProcess(t, d, block("Fp1", 15, 1500, testStart))
	if len(events) != 1 || events[0].Channel != "Fp1" {
		t.Errorf("expected 1 Fp1 event, got %v", events)
	}

	events = mustProcess(t, d, block("Fp2", 5, 1500, testStart))
	if len(events) != 0 {
		t.Errorf("expected 0 Fp2 events, got %d", len(events))
	}
}

func TestChannelThresholdOverride(t *testing.T) {
	cfg := DetectionConfig{
		Threshold:         1000,
		ChannelThresholds: map[string]float64{"Fp2": 2000},
		MinDuration:       100 * time.Millisecond,
	}
	d, err := NewDetector(cfg, testChannels, testStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if events := mustProcess(t, d, block("Fp1", 15, 1500, testStart)); len(events) != 1 {
		t.Errorf("Fp1: expected 1 event, got %d", len(events))
	}
	if events := mustProcess(t, d, block("Fp2", 15, 1500, testStart)); len(events) != 0 {
		t.Errorf("Fp2: expected override to suppress event, got %d", len(events))
	}
}

func TestChannelsIndependent(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	mustProcess(t, d, block("Fp1", 8, 1500, testStart))
	mustProcess(t, d, block("Fp2", 3, 0, testStart))

	if s := d.State("Fp1"); s != StateAccumulating {
		t.Errorf("Fp1: expected ACCUMULATING, got %s", s)
	}
	if s := d.State("Fp2"); s != StateBelow {
		t.Errorf("Fp2: expected BELOW, got %s", s)
	}
}

func TestReset(t *testing.T) {
	d := newTestDetector(t, PolicyDebounce)
	mustProcess(t, d, block("Fp1", 5, 1500, testStart))

	d.Reset()

	if s := d.State("Fp1"); s != StateIdle {
		t.Errorf("expected IDLE after reset, got %s", s)
	}
	if !d.Ready("Fp1", testStart) {
		t.Error("expected cooldown cleared after reset")
	}
	if d.EventCountsSnapshot().Total != 1 {
		t.Error("reset should keep blink counts")
	}
}

func TestPolicyDefault(t *testing.T) {
	d := newTestDetector(t, "")
	if d.Policy() != PolicyRunLength {
		t.Errorf("expected empty policy to select run-length, got %s", d.Policy())
	}
}

func TestRequiredSamples(t *testing.T) {
	tests := []struct {
		d    time.Duration
		rate float64
		want int
	}{
		{100 * time.Millisecond, 100, 10},
		{100 * time.Millisecond, 250, 25},
		{100 * time.Millisecond, 256, 26},
		{300 * time.Millisecond, 10, 3},
		{time.Millisecond, 100, 1},
	}
	for _, tt := range tests {
		if got := requiredSamples(tt.d, tt.rate); got != tt.want {
			t.Errorf("requiredSamples(%v, %v) = %d, want %d", tt.d, tt.rate, got, tt.want)
		}
	}
}

// Heartbeat tests

func TestEventCountsIncrementOnBlink(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	mustProcess(t, d, block("Fp1", 15, 1500, testStart))
	mustProcess(t, d, block("Fp1", 15, 1500, testStart.Add(time.Second)))
	mustProcess(t, d, block("Fp2", 15, 1500, testStart.Add(time.Second)))

	counts := d.EventCountsSnapshot()
	if counts.Total != 3 {
		t.Errorf("expected Total=3, got %d", counts.Total)
	}
	if counts.ByChannel["Fp1"] != 2 {
		t.Errorf("expected Fp1=2, got %d", counts.ByChannel["Fp1"])
	}
	if counts.ByChannel["Fp2"] != 1 {
		t.Errorf("expected Fp2=1, got %d", counts.ByChannel["Fp2"])
	}

	// Snapshot is a copy.
	counts.ByChannel["Fp1"] = 99
	if d.EventCountsSnapshot().ByChannel["Fp1"] != 2 {
		t.Error("snapshot shares state with detector")
	}
}

func TestCheckHeartbeatDisabledWithZeroInterval(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	if hb := d.CheckHeartbeat(testStart.Add(15*time.Minute), 0); hb != nil {
		t.Error("should not return heartbeat when interval is 0 (disabled)")
	}
	if hb := d.CheckHeartbeat(testStart.Add(15*time.Minute), -time.Minute); hb != nil {
		t.Error("should not return heartbeat when interval is negative")
	}
}

func TestCheckHeartbeatBeforeInterval(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	if hb := d.CheckHeartbeat(testStart.Add(14*time.Minute), 15*time.Minute); hb != nil {
		t.Error("should not return heartbeat before interval")
	}
}

func TestCheckHeartbeatUpdatesLastTime(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)

	t1 := testStart.Add(15 * time.Minute)
	hb := d.CheckHeartbeat(t1, 15*time.Minute)
	if hb == nil {
		t.Fatal("should return first heartbeat")
	}
	if hb.Uptime != 15*time.Minute {
		t.Errorf("expected uptime 15m, got %v", hb.Uptime)
	}
	if !hb.Timestamp.Equal(t1) {
		t.Errorf("expected timestamp %v, got %v", t1, hb.Timestamp)
	}

	if hb := d.CheckHeartbeat(t1.Add(time.Second), 15*time.Minute); hb != nil {
		t.Error("should not return heartbeat immediately after previous")
	}
	if hb := d.CheckHeartbeat(t1.Add(15*time.Minute), 15*time.Minute); hb == nil {
		t.Error("should return second heartbeat")
	}
}

func TestHeartbeatContainsEventCounts(t *testing.T) {
	d := newTestDetector(t, PolicyRunLength)
	mustProcess(t, d, block("Fp2", 15, 1500, testStart))

	hb := d.CheckHeartbeat(testStart.Add(time.Minute), time.Minute)
	if hb == nil {
		t.Fatal("should return heartbeat")
	}
	if hb.Counts.ByChannel["Fp2"] != 1 || hb.Counts.ByChannel["Fp1"] != 0 {
		t.Errorf("unexpected counts: %+v", hb.Counts)
	}
}

// newTestDetector creates a detector with the default scenario parameters:
// threshold 1000, min duration 100ms, channels Fp1 and Fp2.
func newTestDetector(t *testing.T, p Policy) *Detector {
	t.Helper()
	cfg := DetectionConfig{
		Policy:      p,
		Threshold:   1000,
		MinDuration: 100 * time.Millisecond,
	}
	d, err := NewDetector(cfg, testChannels, testStart)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func mustProcess(t *testing.T, d *Detector, b SampleBlock) []BlinkEvent {
	t.Helper()
	events, err := d.ProcessBlock(b)
	if err != nil {
		t.Fatalf("ProcessBlock(%s): %v", b.Channel, err)
	}
	return events
}

// block returns n samples of value v at 100Hz.
func block(channel string, n int, v float64, at time.Time) SampleBlock {
	return SampleBlock{Channel: channel, Samples: repeat(v, n), SampleRate: 100, CapturedAt: at}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

package logic

import (
	"math"
	"time"
)

// policy is a sustained-excursion strategy. scan receives a validated block,
// updates st and reports whether a blink fired.
type policy interface {
	scan(st *ChannelRunState, samples []float64, threshold, rate float64, at time.Time) bool
	state(st ChannelRunState) RunState
}

// runLength counts consecutive above-threshold samples across blocks.
// Emission is evaluated once at block end.
type runLength struct {
	minDuration time.Duration
}

func (p runLength) scan(st *ChannelRunState, samples []float64, threshold, rate float64, _ time.Time) bool {
	for _, x := range samples {
		if math.Abs(x) > threshold {
			st.Count++
		} else {
			st.Count = 0
		}
	}

	if st.Count >= requiredSamples(p.minDuration, rate) {
		st.Count = 0
		return true
	}
	return false
}

func (runLength) state(st ChannelRunState) RunState {
	if st.Count > 0 {
		return StateAccumulating
	}
	return StateBelow
}

// debounce fires on the rising edge of the block-level flag and arms a
// cooldown of minDuration.
type debounce struct {
	minDuration time.Duration
}

func (p debounce) scan(st *ChannelRunState, samples []float64, threshold, _ float64, at time.Time) bool {
	above := false
	for _, x := range samples {
		if math.Abs(x) > threshold {
			above = true
			break
		}
	}

	if !above {
		st.Active = false
		return false
	}
	if st.Active {
		return false
	}

	st.Active = true
	st.CooldownUntil = at.Add(p.minDuration)
	return true
}

func (debounce) state(st ChannelRunState) RunState {
	if st.Active {
		return StateActive
	}
	return StateIdle
}

// requiredSamples is ceil(minDuration * rate), never less than one.
// The epsilon keeps products like 0.1s * 100Hz from rounding up to 11.
func requiredSamples(minDuration time.Duration, rate float64) int {
	n := int(math.Ceil(minDuration.Seconds()*rate - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

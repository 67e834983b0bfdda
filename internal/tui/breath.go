package tui

import (
	"math"
	"time"
)

// Breath detection thresholds on the mic level. Two thresholds keep the
// state from flickering around a single level.
const (
	breathOnLevel  = 0.08
	breathOffLevel = 0.04

	// Phases longer than maxPhase are pauses, not breaths.
	maxPhase = 10 * time.Second

	// breathWindow is the number of recent phases the score looks at.
	breathWindow = 5
)

// breathMonitor follows the mic level and scores how even the user's breath
// phases are. It is a value type so it can live inside the Bubble Tea model.
type breathMonitor struct {
	breathing bool
	since     time.Time

	phases [breathWindow]time.Duration
	n      int
	score  int
}

func newBreathMonitor(at time.Time) breathMonitor {
	return breathMonitor{since: at, score: 100}
}

// observe feeds one volume level measured at at.
func (b *breathMonitor) observe(level float64, at time.Time) {
	switch {
	case !b.breathing && level > breathOnLevel:
		b.record(at.Sub(b.since))
		b.breathing = true
		b.since = at
	case b.breathing && level < breathOffLevel:
		b.record(at.Sub(b.since))
		b.breathing = false
		b.since = at
	}
}

func (b *breathMonitor) record(d time.Duration) {
	if d >= maxPhase {
		return
	}
	if b.n == breathWindow {
		copy(b.phases[:], b.phases[1:])
		b.n--
	}
	b.phases[b.n] = d
	b.n++
	if b.n > 2 {
		b.score = consistency(b.phases[:b.n])
	}
}

// consistency maps the standard deviation of phases to 0..100: identical
// phases score 100 and every 50ms of deviation costs one point.
func consistency(phases []time.Duration) int {
	var mean float64
	for _, p := range phases {
		mean += float64(p.Milliseconds())
	}
	mean /= float64(len(phases))

	var variance float64
	for _, p := range phases {
		d := float64(p.Milliseconds()) - mean
		variance += d * d
	}
	variance /= float64(len(phases))

	return int(math.Round(max(0, 100-math.Sqrt(variance)/50)))
}

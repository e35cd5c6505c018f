package transport

import (
	"math"

	"github.com/tiffz/chordloop/internal/clock"
	"github.com/tiffz/chordloop/internal/song"
)

// DefaultSafetyMargin is added when clamping an already-elapsed schedule
// target forward; the driver rejects start times in the past.
const DefaultSafetyMargin = 0.005 // seconds

// Transport is the single authority on "where are we in the loop". Position
// is always computed from the audio clock delta, never stepped by software
// timers, so it cannot drift.
type Transport struct {
	clk       clock.Clock
	playing   bool
	refTime   float64 // clock time of beat 0 of loop loopBase
	tempo     float64 // BPM
	loopBeats float64
	timeSig   song.TimeSignature

	// loopBase is the number of loops completed before the last reference
	// reset (tempo or loop-length change). LoopCount stays monotonic across
	// resets because of it.
	loopBase int
	lastLoop int
	onLoop   func(loop int)

	safety float64
}

func New(clk clock.Clock) *Transport {
	return &Transport{clk: clk, safety: DefaultSafetyMargin}
}

// OnLoop registers a callback fired exactly once per loop-boundary crossing,
// from whichever position query first observes the crossing.
func (t *Transport) OnLoop(fn func(loop int)) {
	t.onLoop = fn
}

func (t *Transport) Start(tempo, loopBeats float64, ts song.TimeSignature) {
	if tempo <= 0 {
		tempo = 120
	}
	if loopBeats <= 0 {
		loopBeats = ts.BeatsPerMeasure()
	}
	t.tempo = tempo
	t.loopBeats = loopBeats
	t.timeSig = ts
	t.refTime = t.clk.Now()
	t.loopBase = 0
	t.lastLoop = 0
	t.playing = true
}

func (t *Transport) Stop() {
	t.playing = false
}

func (t *Transport) Playing() bool { return t.playing }

func (t *Transport) Tempo() float64 {
	if !t.playing {
		return 0
	}
	return t.tempo
}

func (t *Transport) LoopBeats() float64 { return t.loopBeats }

func (t *Transport) TimeSignature() song.TimeSignature { return t.timeSig }

// totalBeats is the beat count elapsed since the last reference reset.
func (t *Transport) totalBeats() float64 {
	b := (t.clk.Now() - t.refTime) * t.tempo / 60.0
	if b < 0 {
		return 0
	}
	return b
}

// PositionBeats returns the current position within the loop, in
// [0, loopBeats). Crossing into a new loop fires the OnLoop callback once
// per crossing. Returns 0 while stopped.
func (t *Transport) PositionBeats() float64 {
	if !t.playing {
		return 0
	}
	total := t.totalBeats()
	loop := t.loopBase + int(total/t.loopBeats)
	for l := t.lastLoop + 1; l <= loop; l++ {
		t.lastLoop = l
		if t.onLoop != nil {
			t.onLoop(l)
		}
	}
	return math.Mod(total, t.loopBeats)
}

// LoopCount returns completed loops since Start. Derived from the clock, so
// it can never desync from the audible position.
func (t *Transport) LoopCount() int {
	if !t.playing {
		return 0
	}
	return t.loopBase + int(t.totalBeats()/t.loopBeats)
}

// SetTempo changes the tempo while keeping the instantaneous beat position
// and loop count unchanged: the reference time is recomputed so that the
// position before and after the call are identical.
func (t *Transport) SetTempo(bpm float64) {
	if bpm <= 0 || !t.playing {
		return
	}
	pos := t.PositionBeats()
	loops := t.LoopCount()
	t.tempo = bpm
	t.refTime = t.clk.Now() - pos*60.0/bpm
	t.loopBase = loops
	t.lastLoop = loops
}

// SetLoopBeats changes the loop length. The position is carried over,
// clamped into the new loop.
func (t *Transport) SetLoopBeats(beats float64) {
	if beats <= 0 || !t.playing {
		return
	}
	pos := t.PositionBeats()
	loops := t.LoopCount()
	if pos >= beats {
		pos = math.Mod(pos, beats)
	}
	t.loopBeats = beats
	t.refTime = t.clk.Now() - pos*60.0/t.tempo
	t.loopBase = loops
	t.lastLoop = loops
}

func (t *Transport) SetTimeSignature(ts song.TimeSignature) {
	t.timeSig = ts
}

// BeatToTime converts a beat position in an absolute loop index to clock
// time. Track scheduling uses it to turn near-future beats into exact
// driver timestamps.
func (t *Transport) BeatToTime(beat float64, loop int) float64 {
	if !t.playing {
		return 0
	}
	rel := float64(loop - t.loopBase)
	return t.refTime + (rel*t.loopBeats+beat)*60.0/t.tempo
}

// NextMeasureBoundary returns the smallest measure-aligned beat at or after
// the current position, together with the loop index it falls in. Disruptive
// changes are deferred to it.
func (t *Transport) NextMeasureBoundary() (float64, int) {
	if !t.playing {
		return 0, 0
	}
	measure := t.timeSig.BeatsPerMeasure()
	pos := t.PositionBeats()
	loop := t.LoopCount()
	b := math.Ceil(pos/measure) * measure
	if b >= t.loopBeats {
		return 0, loop + 1
	}
	return b, loop
}

// SafeTime clamps a computed schedule target forward to now plus a small
// margin. A time already in the past is never handed to the renderer.
func (t *Transport) SafeTime(at float64) float64 {
	if min := t.clk.Now() + t.safety; at < min {
		return min
	}
	return at
}

// Package track converts a static note-event list into instrument calls for
// whatever beat window the engine asks for, exactly once per loop pass.
package track

import (
	"github.com/viterin/vek/vek32"

	"github.com/tiffz/chordloop/internal/instrument"
	"github.com/tiffz/chordloop/internal/mix"
	"github.com/tiffz/chordloop/internal/song"
	"github.com/tiffz/chordloop/internal/transport"
)

const (
	swapFadeSec   = 0.03
	volRampFrames = 1024
)

// Track owns the sorted events of one musical voice and the instrument that
// renders them. Scheduling is idempotent per loop index: the
// (scheduledUpTo, lastLoopScheduled) cursor guarantees an event reaches the
// instrument at most once per loop, regardless of how often overlapping
// windows are requested.
type Track struct {
	name   string
	inst   instrument.Instrument
	events []song.NoteEvent

	scheduledUpTo float64
	lastLoop      int

	muted  bool
	volume float64
	gain   *mix.Ramp

	// fading holds replaced instruments until their release tails finish.
	fading []instrument.Instrument
}

func New(name string, inst instrument.Instrument, events []song.NoteEvent) *Track {
	t := &Track{
		name:   name,
		inst:   inst,
		volume: 1,
		gain:   mix.NewRamp(1),
	}
	t.SetEvents(events)
	return t
}

func (t *Track) Name() string { return t.name }

func (t *Track) Instrument() instrument.Instrument { return t.inst }

func (t *Track) Events() []song.NoteEvent { return t.events }

// SetEvents replaces the event list and makes every event eligible for
// scheduling again.
func (t *Track) SetEvents(events []song.NoteEvent) {
	t.events = append([]song.NoteEvent(nil), events...)
	song.SortEvents(t.events)
	t.ResetScheduling()
}

// ResetScheduling forces the next scheduling call to treat all events as
// unscheduled. Used after suspend recovery and after instrument swaps.
func (t *Track) ResetScheduling() {
	t.scheduledUpTo = 0
	t.lastLoop = -1
}

// ScheduleRange delivers every not-yet-scheduled event with beat in
// [from, to) of the given loop to the instrument, converting beats to
// absolute clock time through the transport and beat durations to seconds at
// the current tempo. A failure to place one note never aborts the rest of
// the pass; the instrument degrades internally instead of erroring.
func (t *Track) ScheduleRange(from, to float64, tr *transport.Transport, loop int) {
	if t.inst == nil || len(t.events) == 0 || loop < t.lastLoop {
		return
	}
	tempo := tr.Tempo()
	if tempo <= 0 {
		return
	}
	secPerBeat := 60.0 / tempo
	for _, ev := range t.events {
		if ev.Beat < from || ev.Beat >= to {
			continue
		}
		if loop == t.lastLoop && ev.Beat < t.scheduledUpTo {
			continue
		}
		when := tr.SafeTime(tr.BeatToTime(ev.Beat, loop))
		for _, n := range ev.Notes {
			t.inst.PlayNote(n.Frequency, when, n.Beats*secPerBeat, n.Velocity)
		}
	}
	if loop > t.lastLoop {
		t.lastLoop = loop
		t.scheduledUpTo = to
	} else if to > t.scheduledUpTo {
		t.scheduledUpTo = to
	}
}

func (t *Track) SetMuted(muted bool) {
	t.muted = muted
	t.gain.SetTarget(t.effectiveGain(), volRampFrames)
}

func (t *Track) Muted() bool { return t.muted }

// SetVolume ramps the track gain to v; never a step, so no clicks.
func (t *Track) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	t.volume = v
	t.gain.SetTarget(t.effectiveGain(), volRampFrames)
}

func (t *Track) Volume() float64 { return t.volume }

func (t *Track) effectiveGain() float64 {
	if t.muted {
		return 0
	}
	return t.volume
}

// SetInstrument swaps the bound instrument: the old one fades out briefly
// and keeps rendering until its tail is silent, the new one takes over for
// future notes, and the scheduling cursor resets so upcoming events are
// re-delivered to the replacement.
func (t *Track) SetInstrument(inst instrument.Instrument) {
	if t.inst != nil {
		t.inst.StopAll(swapFadeSec)
		t.fading = append(t.fading, t.inst)
	}
	t.inst = inst
	t.ResetScheduling()
}

// Render mixes this track's output for the absolute frame window into dst.
// scratch must be at least as long as dst.
func (t *Track) Render(dst []float32, fromFrame int64, scratch []float32) {
	scratch = scratch[:len(dst)]
	vek32.Zeros_Into(scratch, len(scratch))
	if t.inst != nil {
		t.inst.Render(scratch, fromFrame)
	}
	for i := 0; i < len(t.fading); {
		f := t.fading[i]
		f.Render(scratch, fromFrame)
		if f.ActiveVoices() == 0 {
			f.Dispose()
			t.fading = append(t.fading[:i], t.fading[i+1:]...)
			continue
		}
		i++
	}
	for i := 0; i+1 < len(scratch); i += 2 {
		g := t.gain.Next()
		scratch[i] *= g
		scratch[i+1] *= g
	}
	vek32.Add_Inplace(dst, scratch)
}

// ActiveEvents reports the indices of events whose sounding window contains
// the given beat position. Drives highlighting in the presentation layer.
func (t *Track) ActiveEvents(pos float64) []int {
	var out []int
	for i, ev := range t.events {
		var longest float64
		for _, n := range ev.Notes {
			if n.Beats > longest {
				longest = n.Beats
			}
		}
		if pos >= ev.Beat && pos < ev.Beat+longest {
			out = append(out, i)
		}
	}
	return out
}

// Close stops sound and releases the owned instruments.
func (t *Track) Close() {
	if t.inst != nil {
		t.inst.StopAll(swapFadeSec)
		t.inst.Dispose()
		t.inst = nil
	}
	for _, f := range t.fading {
		f.Dispose()
	}
	t.fading = nil
}

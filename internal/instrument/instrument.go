// Package instrument holds the closed set of note renderers. An instrument
// receives notes at exact future clock times and renders them on demand; the
// engine never touches the driver directly.
//
// Methods are not internally synchronized: the owning engine serializes all
// calls (scheduling and rendering run under one lock).
package instrument

// Kind selects one of the known instrument variants. The set is closed;
// there is no runtime plugin discovery.
type Kind string

const (
	KindHarmonic Kind = "harmonic"
	KindBasic    Kind = "basic"
	KindSampled  Kind = "sampled"
)

// Instrument renders single voiced notes into sound at given absolute times.
//
// PlayNote schedules one note: startTime is in clock seconds, duration in
// seconds, velocity in 0..1. Render mixes the frames of the absolute window
// [fromFrame, fromFrame+len(dst)/2) additively into dst (stereo interleaved).
// StopAll fades everything currently sounding over fadeSec. Calls on a
// disposed instrument are no-ops.
type Instrument interface {
	PlayNote(freq, startTime, durationSec, velocity float64)
	StopAll(fadeSec float64)
	Render(dst []float32, fromFrame int64)
	ActiveVoices() int
	Dispose()
}

// velAmp maps velocity 0..1 to an amplitude that keeps quiet notes audible.
func velAmp(velocity float64) float64 {
	if velocity < 0 {
		velocity = 0
	}
	if velocity > 1 {
		velocity = 1
	}
	return 0.2 + 0.8*velocity
}

// fadeScale computes the StopAll fade factor for a frame, 1 before the fade
// starts, 0 once it has run out.
func fadeScale(frame, fadeStart, fadeFrames int64) float64 {
	if fadeStart < 0 || frame < fadeStart {
		return 1
	}
	if fadeFrames <= 0 || frame >= fadeStart+fadeFrames {
		return 0
	}
	return 1 - float64(frame-fadeStart)/float64(fadeFrames)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

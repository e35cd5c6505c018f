package lfo

import "math"

const (
	WaveSine = iota
	WaveTriangle
)

// LFO is a low-frequency oscillator used for slow amplitude wobble on
// sustained notes. One instance per voice; phase advances only while the
// voice renders, so windows stay continuous.
type LFO struct {
	depth    float64
	rateHz   float64
	waveform int
	phase    float64 // [0, 1)
}

func (l *LFO) Set(depth, rateHz float64, waveform int) {
	l.depth = depth
	l.rateHz = rateHz
	if waveform != WaveSine && waveform != WaveTriangle {
		waveform = WaveSine
	}
	l.waveform = waveform
}

func (l *LFO) Active() bool {
	return l.depth != 0 && l.rateHz != 0
}

// Sample advances the oscillator by one frame and returns a value in
// [-depth, +depth]. Inactive oscillators return 0 and do not advance.
func (l *LFO) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate <= 0 {
		return 0
	}
	var v float64
	switch l.waveform {
	case WaveTriangle:
		if l.phase < 0.5 {
			v = 4.0*l.phase - 1.0
		} else {
			v = 3.0 - 4.0*l.phase
		}
	default:
		v = math.Sin(2 * math.Pi * l.phase)
	}
	l.phase += l.rateHz / sampleRate
	for l.phase >= 1.0 {
		l.phase -= 1.0
	}
	return v * l.depth
}

func (l *LFO) Reset() {
	l.phase = 0
}

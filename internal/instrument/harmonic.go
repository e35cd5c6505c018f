package instrument

import (
	"math"
	"math/rand"

	"github.com/tiffz/chordloop/internal/lfo"
)

const twoPi = math.Pi * 2

// envFloor is the smallest envelope target. Ramps never aim at exactly zero;
// some envelope primitives are undefined there.
const envFloor = 0.0008

// wobbleMinSec is the duration above which a sustained note gets a slow
// amplitude wobble so the sustain does not sound static.
const wobbleMinSec = 1.5

// HarmonicParams tunes the oscillator-stack synthesizer.
type HarmonicParams struct {
	Polyphony  int
	Partials   int     // number of stacked partials (max 6)
	AttackSec  float64
	DecaySec   float64
	SustainLvl float64
	ReleaseSec float64
	DetuneCents float64 // random per-voice partial detune spread
	WobbleDepth float64
	WobbleHz    float64
}

func DefaultHarmonicParams() HarmonicParams {
	return HarmonicParams{
		Polyphony:   32,
		Partials:    4,
		AttackSec:   0.008,
		DecaySec:    0.09,
		SustainLvl:  0.72,
		ReleaseSec:  0.12,
		DetuneCents: 3,
		WobbleDepth: 0.05,
		WobbleHz:    4.2,
	}
}

// Harmonic stacks sine partials at integer-ish frequency ratios of the
// fundamental. Higher partials are quieter and decay faster; each voice gets
// a small random detune so repeated notes never sound sterile.
type Harmonic struct {
	sampleRate float64
	params     HarmonicParams
	voices     []hvoice
	disposed   bool
}

type hpartial struct {
	ratio float64
	gain  float64
	decay float64 // amplitude decay rate per second
	phase float64
}

type hvoice struct {
	active     bool
	freq       float64
	velocity   float64
	startFrame int64
	durFrames  int64
	partials   [6]hpartial
	numPartials int
	wobble     lfo.LFO
	fadeStart  int64 // -1 when not fading
	fadeFrames int64
}

func NewHarmonic(sampleRate int, params HarmonicParams) *Harmonic {
	if params.Polyphony <= 0 {
		params.Polyphony = 32
	}
	if params.Partials <= 0 || params.Partials > 6 {
		params.Partials = 4
	}
	return &Harmonic{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]hvoice, params.Polyphony),
	}
}

func (h *Harmonic) PlayNote(freq, startTime, durationSec, velocity float64) {
	if h.disposed || freq <= 0 || durationSec <= 0 {
		return
	}
	v := &h.voices[h.stealVoice()]
	*v = hvoice{
		active:      true,
		freq:        freq,
		velocity:    clamp(velocity, 0, 1),
		startFrame:  int64(startTime * h.sampleRate),
		durFrames:   int64(durationSec * h.sampleRate),
		numPartials: h.params.Partials,
		fadeStart:   -1,
	}
	for i := 0; i < v.numPartials; i++ {
		n := float64(i + 1)
		// Integer-ish ratios: a few cents of random stretch per partial.
		detune := 1 + (rand.Float64()*2-1)*h.params.DetuneCents/1200.0*n
		v.partials[i] = hpartial{
			ratio: n * detune,
			gain:  1.0 / n,
			decay: 0.25 + 0.9*(n-1),
		}
	}
	if durationSec > wobbleMinSec {
		v.wobble.Set(h.params.WobbleDepth, h.params.WobbleHz, lfo.WaveSine)
	}
}

func (h *Harmonic) stealVoice() int {
	oldest := 0
	var oldestStart int64 = math.MaxInt64
	for i := range h.voices {
		if !h.voices[i].active {
			return i
		}
		if h.voices[i].startFrame < oldestStart {
			oldestStart = h.voices[i].startFrame
			oldest = i
		}
	}
	return oldest
}

func (h *Harmonic) StopAll(fadeSec float64) {
	if h.disposed {
		return
	}
	fadeFrames := int64(fadeSec * h.sampleRate)
	if fadeFrames < 1 {
		fadeFrames = 1
	}
	for i := range h.voices {
		if h.voices[i].active && h.voices[i].fadeStart < 0 {
			h.voices[i].fadeStart = -2 // resolved to the window start on next Render
			h.voices[i].fadeFrames = fadeFrames
		}
	}
}

func (h *Harmonic) Render(dst []float32, fromFrame int64) {
	if h.disposed {
		return
	}
	frames := len(dst) / 2
	attack := h.params.AttackSec * h.sampleRate
	decay := h.params.DecaySec * h.sampleRate
	release := int64(h.params.ReleaseSec * h.sampleRate)
	for i := range h.voices {
		v := &h.voices[i]
		if !v.active {
			continue
		}
		if v.fadeStart == -2 {
			v.fadeStart = fromFrame
		}
		end := v.startFrame + v.durFrames + release
		if v.fadeStart >= 0 && v.fadeStart+v.fadeFrames < end {
			end = v.fadeStart + v.fadeFrames
		}
		if fromFrame >= end {
			v.active = false
			continue
		}
		amp := velAmp(v.velocity) * 0.5
		for f := 0; f < frames; f++ {
			frame := fromFrame + int64(f)
			if frame < v.startFrame || frame >= end {
				continue
			}
			rel := float64(frame - v.startFrame)
			env := adsr(rel, attack, decay, h.params.SustainLvl, float64(v.durFrames), float64(release))
			if v.wobble.Active() && rel > attack+decay {
				env *= 1 + v.wobble.Sample(h.sampleRate)
			}
			env *= fadeScale(frame, v.fadeStart, v.fadeFrames)
			t := rel / h.sampleRate
			var sig float64
			for p := 0; p < v.numPartials; p++ {
				pt := &v.partials[p]
				sig += math.Sin(pt.phase) * pt.gain * math.Exp(-pt.decay*t)
				pt.phase += twoPi * v.freq * pt.ratio / h.sampleRate
				if pt.phase > twoPi {
					pt.phase -= twoPi
				}
			}
			s := float32(sig * env * amp)
			dst[f*2] += s
			dst[f*2+1] += s
		}
	}
}

// adsr is a straight-line attack/decay/sustain/release envelope. Every ramp
// targets at least envFloor, never exactly zero.
func adsr(rel, attack, decay, sustain, durFrames, releaseFrames float64) float64 {
	if sustain < envFloor {
		sustain = envFloor
	}
	var base float64
	switch {
	case rel < attack:
		base = envFloor + (1-envFloor)*(rel/attack)
	case rel < attack+decay:
		base = 1 - (1-sustain)*((rel-attack)/decay)
	default:
		base = sustain
	}
	// The release ramp multiplies the base shape, so notes shorter than the
	// attack+decay span still close without a step.
	if rel > durFrames {
		f := 1 - (rel-durFrames)/releaseFrames
		if f < 0 {
			f = 0
		}
		base *= f
	}
	if base < envFloor {
		base = envFloor
	}
	return base
}

func (h *Harmonic) ActiveVoices() int {
	n := 0
	for i := range h.voices {
		if h.voices[i].active {
			n++
		}
	}
	return n
}

func (h *Harmonic) Dispose() {
	h.disposed = true
	for i := range h.voices {
		h.voices[i].active = false
	}
}

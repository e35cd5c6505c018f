package instrument

import "math"

// Waveform selects the Basic synthesizer's oscillator shape.
type Waveform string

const (
	WaveSine     Waveform = "sine"
	WaveTriangle Waveform = "triangle"
	WaveSquare   Waveform = "square"
	WaveSawtooth Waveform = "sawtooth"
)

// baseGain balances perceived loudness across waveform families; square and
// saw carry far more energy than a sine at the same amplitude.
var baseGain = map[Waveform]float64{
	WaveSine:     0.90,
	WaveTriangle: 0.80,
	WaveSquare:   0.30,
	WaveSawtooth: 0.40,
}

// Basic is the simple single-oscillator synthesizer: one waveform, a short
// attack, then an exponential-style decay toward near-silence.
type Basic struct {
	sampleRate float64
	wave       Waveform
	gain       float64
	voices     []bvoice
	disposed   bool
}

type bvoice struct {
	active     bool
	freq       float64
	velocity   float64
	phase      float64
	startFrame int64
	durFrames  int64
	fadeStart  int64
	fadeFrames int64
}

const basicAttackSec = 0.004

func NewBasic(sampleRate int, wave Waveform) *Basic {
	g, ok := baseGain[wave]
	if !ok {
		wave = WaveSine
		g = baseGain[WaveSine]
	}
	return &Basic{
		sampleRate: float64(sampleRate),
		wave:       wave,
		gain:       g,
		voices:     make([]bvoice, 24),
	}
}

func (b *Basic) Waveform() Waveform { return b.wave }

func (b *Basic) PlayNote(freq, startTime, durationSec, velocity float64) {
	if b.disposed || freq <= 0 || durationSec <= 0 {
		return
	}
	slot := 0
	var oldest int64 = math.MaxInt64
	for i := range b.voices {
		if !b.voices[i].active {
			slot = i
			oldest = -1
			break
		}
		if b.voices[i].startFrame < oldest {
			oldest = b.voices[i].startFrame
			slot = i
		}
	}
	b.voices[slot] = bvoice{
		active:     true,
		freq:       freq,
		velocity:   clamp(velocity, 0, 1),
		startFrame: int64(startTime * b.sampleRate),
		durFrames:  int64(durationSec * b.sampleRate),
		fadeStart:  -1,
	}
}

func (b *Basic) StopAll(fadeSec float64) {
	if b.disposed {
		return
	}
	fadeFrames := int64(fadeSec * b.sampleRate)
	if fadeFrames < 1 {
		fadeFrames = 1
	}
	for i := range b.voices {
		if b.voices[i].active && b.voices[i].fadeStart < 0 {
			b.voices[i].fadeStart = -2
			b.voices[i].fadeFrames = fadeFrames
		}
	}
}

func (b *Basic) Render(dst []float32, fromFrame int64) {
	if b.disposed {
		return
	}
	frames := len(dst) / 2
	attack := basicAttackSec * b.sampleRate
	for i := range b.voices {
		v := &b.voices[i]
		if !v.active {
			continue
		}
		if v.fadeStart == -2 {
			v.fadeStart = fromFrame
		}
		end := v.startFrame + v.durFrames
		if v.fadeStart >= 0 && v.fadeStart+v.fadeFrames < end {
			end = v.fadeStart + v.fadeFrames
		}
		if fromFrame >= end {
			v.active = false
			continue
		}
		amp := velAmp(v.velocity) * b.gain
		for f := 0; f < frames; f++ {
			frame := fromFrame + int64(f)
			if frame < v.startFrame || frame >= end {
				continue
			}
			rel := float64(frame - v.startFrame)
			env := 1.0
			if rel < attack {
				env = rel / attack
			} else {
				// Exponential decay reaching roughly -35 dB at note end.
				env = math.Exp(-4.0 * (rel - attack) / float64(v.durFrames))
			}
			env *= fadeScale(frame, v.fadeStart, v.fadeFrames)
			s := float32(b.sample(v.phase) * env * amp)
			dst[f*2] += s
			dst[f*2+1] += s
			v.phase += v.freq / b.sampleRate
			if v.phase >= 1 {
				v.phase -= 1
			}
		}
	}
}

// sample evaluates the waveform at phase in [0, 1).
func (b *Basic) sample(phase float64) float64 {
	switch b.wave {
	case WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveSawtooth:
		return 2*phase - 1
	default:
		return math.Sin(twoPi * phase)
	}
}

func (b *Basic) ActiveVoices() int {
	n := 0
	for i := range b.voices {
		if b.voices[i].active {
			n++
		}
	}
	return n
}

func (b *Basic) Dispose() {
	b.disposed = true
	for i := range b.voices {
		b.voices[i].active = false
	}
}

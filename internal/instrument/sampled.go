package instrument

import (
	"log"
	"math"
	"sync"

	"github.com/tiffz/chordloop/internal/samples"
	"github.com/tiffz/chordloop/internal/song"
)

// loudLayerVelocity is the velocity at and above which the loud recording
// layer is selected.
const loudLayerVelocity = 0.6

const (
	sampledAttackSec  = 0.002
	sampledReleaseSec = 0.07
)

// Sampled plays recorded audio. It selects the loudness layer matching the
// requested velocity, the nearest recorded pitch within that layer, and
// pitch-shifts by adjusting playback rate. The sample set is owned by the
// store and may be shared across instances and playback sessions.
type Sampled struct {
	sampleRate float64
	store      *samples.Store
	voices     []svoice
	warnOnce   sync.Once
	disposed   bool
}

type svoice struct {
	active     bool
	data       []float32
	pos        float64 // fractional frame position into data
	rate       float64
	velocity   float64
	startFrame int64
	durFrames  int64
	fadeStart  int64
	fadeFrames int64
}

func NewSampled(sampleRate int, store *samples.Store) *Sampled {
	return &Sampled{
		sampleRate: float64(sampleRate),
		store:      store,
		voices:     make([]svoice, 32),
	}
}

func (s *Sampled) Store() *samples.Store { return s.store }

func (s *Sampled) PlayNote(freq, startTime, durationSec, velocity float64) {
	if s.disposed || freq <= 0 || durationSec <= 0 {
		return
	}
	if s.store == nil || s.store.State() != samples.StateLoaded {
		s.warnOnce.Do(func() {
			log.Printf("chordloop: sampled instrument not loaded; dropping notes")
		})
		return
	}
	layer := samples.LayerSoft
	if velocity >= loudLayerVelocity {
		layer = samples.LayerLoud
	}
	sm, ok := s.store.Nearest(layer, song.FreqToMIDI(freq))
	if !ok {
		return
	}
	slot := 0
	var oldest int64 = math.MaxInt64
	for i := range s.voices {
		if !s.voices[i].active {
			slot = i
			oldest = -1
			break
		}
		if s.voices[i].startFrame < oldest {
			oldest = s.voices[i].startFrame
			slot = i
		}
	}
	s.voices[slot] = svoice{
		active:     true,
		data:       sm.Data,
		rate:       freq / song.MIDIToFreq(sm.Note),
		velocity:   clamp(velocity, 0, 1),
		startFrame: int64(startTime * s.sampleRate),
		durFrames:  int64(durationSec * s.sampleRate),
		fadeStart:  -1,
	}
}

func (s *Sampled) StopAll(fadeSec float64) {
	if s.disposed {
		return
	}
	fadeFrames := int64(fadeSec * s.sampleRate)
	if fadeFrames < 1 {
		fadeFrames = 1
	}
	for i := range s.voices {
		if s.voices[i].active && s.voices[i].fadeStart < 0 {
			s.voices[i].fadeStart = -2
			s.voices[i].fadeFrames = fadeFrames
		}
	}
}

func (s *Sampled) Render(dst []float32, fromFrame int64) {
	if s.disposed {
		return
	}
	frames := len(dst) / 2
	attack := sampledAttackSec * s.sampleRate
	release := int64(sampledReleaseSec * s.sampleRate)
	for i := range s.voices {
		v := &s.voices[i]
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
		amp := velAmp(v.velocity)
		for f := 0; f < frames; f++ {
			frame := fromFrame + int64(f)
			if frame < v.startFrame || frame >= end {
				continue
			}
			l, r, ok := v.sampleAt()
			if !ok {
				v.active = false
				break
			}
			rel := float64(frame - v.startFrame)
			env := 1.0
			if rel < attack {
				env = rel / attack
			} else if over := rel - float64(v.durFrames); over > 0 {
				env = 1 - over/float64(release)
				if env < 0 {
					env = 0
				}
			}
			env *= fadeScale(frame, v.fadeStart, v.fadeFrames)
			dst[f*2] += l * float32(env*amp)
			dst[f*2+1] += r * float32(env*amp)
			v.pos += v.rate
		}
	}
}

// sampleAt reads the current stereo frame with linear interpolation.
func (v *svoice) sampleAt() (float32, float32, bool) {
	idx := int(v.pos)
	if (idx+1)*2+1 >= len(v.data) {
		return 0, 0, false
	}
	frac := float32(v.pos - float64(idx))
	l := v.data[idx*2]*(1-frac) + v.data[(idx+1)*2]*frac
	r := v.data[idx*2+1]*(1-frac) + v.data[(idx+1)*2+1]*frac
	return l, r, true
}

func (s *Sampled) ActiveVoices() int {
	n := 0
	for i := range s.voices {
		if s.voices[i].active {
			n++
		}
	}
	return n
}

func (s *Sampled) Dispose() {
	// The store outlives the instrument: sample sets are expensive to load
	// and shared across playback sessions.
	s.disposed = true
	for i := range s.voices {
		s.voices[i].active = false
	}
}

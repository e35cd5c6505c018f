// Package audio adapts a pull-model sample source to the platform audio
// driver. The stream reader is also where hardware time is born: every frame
// the driver pulls advances the engine's frame clock.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource produces stereo interleaved float32 frames on demand.
type SampleSource interface {
	Process(dst []float32)
}

// Output is a running audio sink. Pause suspends the driver pull (and with
// it the frame clock); Play resumes it.
type Output interface {
	Play()
	Pause()
	Close() error
}

// Factory builds an Output for a source. onFrames is invoked with the number
// of frames consumed on every driver pull. Swappable so tests and offline
// rendering run without a device.
type Factory func(sampleRate int, source SampleSource, onFrames func(int)) (Output, error)

// StreamReader adapts a SampleSource to the io.Reader the driver consumes:
// 8 bytes per frame, two little-endian float32 channels.
type StreamReader struct {
	mu       sync.Mutex
	source   SampleSource
	onFrames func(int)
	buf      []float32
}

func NewStreamReader(source SampleSource, onFrames func(int)) *StreamReader {
	return &StreamReader{source: source, onFrames: onFrames}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	if r.onFrames != nil {
		r.onFrames(frames)
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

var (
	contextOnce sync.Once
	context     *ebitaudio.Context
	contextRate int
)

// sharedContext returns the process-wide driver context. The driver only
// supports one sample rate per process.
func sharedContext(sampleRate int) (*ebitaudio.Context, error) {
	contextOnce.Do(func() {
		contextRate = sampleRate
		context = ebitaudio.NewContext(sampleRate)
	})
	if contextRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", contextRate, sampleRate)
	}
	return context, nil
}

type output struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

// NewOutput is the default Factory, backed by the platform driver.
func NewOutput(sampleRate int, source SampleSource, onFrames func(int)) (Output, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, onFrames)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	// Keep the driver-side buffer short; scheduling headroom comes from the
	// engine lookahead, not from driver latency.
	pl.SetBufferSize(50 * time.Millisecond)
	return &output{player: pl, reader: reader}, nil
}

func (o *output) Play()  { o.player.Play() }
func (o *output) Pause() { o.player.Pause() }

func (o *output) Close() error {
	o.player.Pause()
	o.player.Close()
	return o.reader.Close()
}

package clock

import "sync/atomic"

// Clock is a source of audio-hardware time in seconds. Playback position is
// always derived from it; nothing in the engine accumulates relative delays.
type Clock interface {
	Now() float64
}

// FrameClock counts frames consumed by the audio driver. The stream reader
// advances it as the driver pulls data, so Now reflects the hardware render
// position rather than wall time.
type FrameClock struct {
	sampleRate float64
	frames     atomic.Int64
}

func NewFrameClock(sampleRate int) *FrameClock {
	return &FrameClock{sampleRate: float64(sampleRate)}
}

// Advance records that the driver consumed n more frames.
func (c *FrameClock) Advance(n int) {
	c.frames.Add(int64(n))
}

func (c *FrameClock) Frames() int64 {
	return c.frames.Load()
}

func (c *FrameClock) Now() float64 {
	return float64(c.frames.Load()) / c.sampleRate
}

func (c *FrameClock) SampleRate() int {
	return int(c.sampleRate)
}

// Manual is a hand-advanced clock for tests.
type Manual struct {
	t float64
}

func (m *Manual) Now() float64 { return m.t }

func (m *Manual) Set(t float64) { m.t = t }

func (m *Manual) Advance(dt float64) { m.t += dt }

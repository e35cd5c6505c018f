package chordloop

import (
	"encoding/binary"
	"io"
	"math"

	intaudio "github.com/tiffz/chordloop/internal/audio"
)

// renderChunk is the offline block size in frames. Small enough that the
// scheduler runs far more often than the lookahead window requires.
const renderChunk = 512

type discardOutput struct{}

func (discardOutput) Play()        {}
func (discardOutput) Pause()       {}
func (discardOutput) Close() error { return nil }

// RenderSamples plays the config for the given duration without an audio
// device and returns the stereo interleaved float32 result. The clock is
// advanced synchronously, so rendering runs as fast as the synthesis allows.
func RenderSamples(cfg Config, seconds float64, opts ...Option) ([]float32, error) {
	var advance func(int)
	factory := func(sampleRate int, source intaudio.SampleSource, onFrames func(int)) (intaudio.Output, error) {
		advance = onFrames
		return discardOutput{}, nil
	}
	e := New(append(append([]Option(nil), opts...), WithOutputFactory(factory))...)
	if err := e.Start(cfg, nil); err != nil {
		return nil, err
	}
	defer e.Stop()

	totalFrames := int(seconds * float64(e.opts.sampleRate))
	if totalFrames < 0 {
		totalFrames = 0
	}
	out := make([]float32, 0, totalFrames*2)
	if advance == nil {
		// Empty content: Start was a no-op. Silence of the right length.
		return append(out, make([]float32, totalFrames*2)...), nil
	}
	buf := make([]float32, renderChunk*2)
	for rendered := 0; rendered < totalFrames; {
		n := renderChunk
		if rem := totalFrames - rendered; rem < n {
			n = rem
		}
		chunk := buf[:n*2]
		e.tick()
		e.Process(chunk)
		advance(n)
		out = append(out, chunk...)
		rendered += n
	}
	return out, nil
}

// EncodeWAVFloat32LE writes stereo interleaved samples as a WAV file with
// 32-bit IEEE float encoding.
func EncodeWAVFloat32LE(w io.Writer, samples []float32, sampleRate int) error {
	const (
		channels      = 2
		bitsPerSample = 32
		formatFloat   = 3
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(samples) * 4

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], formatFloat)
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	buf := make([]byte, 0, 4096)
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(s))
		if len(buf) == cap(buf) {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

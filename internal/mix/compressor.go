package mix

import "math"

// Compressor is the master-bus limiter stage. Stereo-linked: a single
// envelope follows the louder channel so the image does not shift under
// gain reduction.
type Compressor struct {
	threshold float32
	ratio     float32
	attack    float32
	release   float32
	makeup    float32
	env       float32
}

// NewCompressor builds a compressor with threshold in dB, ratio N:1, and
// attack/release times in milliseconds.
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float64) *Compressor {
	sr := float64(sampleRate)
	return &Compressor{
		threshold: float32(math.Pow(10, thresholdDB/20)),
		ratio:     float32(ratio),
		attack:    float32(1.0 - math.Exp(-1.0/(attackMs*sr/1000.0))),
		release:   float32(1.0 - math.Exp(-1.0/(releaseMs*sr/1000.0))),
		makeup:    float32(math.Pow(10, makeupDB/20)),
	}
}

func (c *Compressor) Process(l, r float32) (float32, float32) {
	peak := abs32(l)
	if ar := abs32(r); ar > peak {
		peak = ar
	}
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	g := c.gain(c.env)
	return l * g * c.makeup, r * g * c.makeup
}

func (c *Compressor) gain(env float32) float32 {
	if env <= c.threshold || c.threshold <= 0 {
		return 1.0
	}
	over := env / c.threshold
	return float32(math.Pow(float64(over), float64(1.0/c.ratio-1)))
}

func (c *Compressor) Reset() {
	c.env = 0
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

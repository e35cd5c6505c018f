package mix

// Reverb is a Schroeder-style reverberator: four parallel comb filters into
// two serial allpasses. It returns the wet signal only; the engine crossfades
// wet against dry with a ramped level.
type Reverb struct {
	combs   [4]comb
	allpass [2]allpass
}

type comb struct {
	buf []float32
	pos int
	fb  float32
}

type allpass struct {
	buf []float32
	pos int
	fb  float32
}

// NewReverb builds a reverb. roomSize (0..1) scales the delay lengths,
// decay (0..1) sets comb feedback.
func NewReverb(sampleRate int, roomSize, decay float64) *Reverb {
	base := int(float64(sampleRate) * roomSize * 0.05)
	if base < 16 {
		base = 16
	}
	fb := float32(decay)
	if fb > 0.95 {
		fb = 0.95
	}
	if fb < 0 {
		fb = 0
	}
	r := &Reverb{}
	// Near-prime length ratios keep the combs from resonating together.
	lens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i] = comb{buf: make([]float32, lens[i]), fb: fb}
	}
	apLens := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range r.allpass {
		n := apLens[i]
		if n < 1 {
			n = 1
		}
		r.allpass[i] = allpass{buf: make([]float32, n), fb: 0.5}
	}
	return r
}

// Process returns the wet stereo sample for one input frame.
func (r *Reverb) Process(l, rr float32) (float32, float32) {
	mono := (l + rr) * 0.5
	var out float32
	for i := range r.combs {
		out += r.combs[i].process(mono)
	}
	out *= 0.25
	for i := range r.allpass {
		out = r.allpass[i].process(out)
	}
	return out, out
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		clearBuf(r.combs[i].buf)
		r.combs[i].pos = 0
	}
	for i := range r.allpass {
		clearBuf(r.allpass[i].buf)
		r.allpass[i].pos = 0
	}
}

func clearBuf(b []float32) {
	for i := range b {
		b[i] = 0
	}
}

func (c *comb) process(in float32) float32 {
	out := c.buf[c.pos]
	c.buf[c.pos] = in + out*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpass) process(in float32) float32 {
	bufOut := a.buf[a.pos]
	out := -in + bufOut
	a.buf[a.pos] = in + bufOut*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}

package mix

// Ramp is a per-frame smoothed gain. Targets are approached linearly over a
// fixed number of frames so parameter changes never step audibly.
type Ramp struct {
	current float32
	target  float32
	step    float32
}

func NewRamp(v float64) *Ramp {
	return &Ramp{current: float32(v), target: float32(v)}
}

// SetTarget starts a linear ramp from the current value to v over the given
// number of frames. frames <= 0 jumps immediately.
func (r *Ramp) SetTarget(v float64, frames int) {
	r.target = float32(v)
	if frames <= 0 {
		r.current = r.target
		r.step = 0
		return
	}
	r.step = (r.target - r.current) / float32(frames)
}

// Next advances one frame and returns the gain to apply.
func (r *Ramp) Next() float32 {
	if r.step == 0 {
		return r.current
	}
	r.current += r.step
	if (r.step > 0 && r.current >= r.target) || (r.step < 0 && r.current <= r.target) {
		r.current = r.target
		r.step = 0
	}
	return r.current
}

func (r *Ramp) Value() float32  { return r.current }
func (r *Ramp) Target() float32 { return r.target }

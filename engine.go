// Package chordloop renders generated musical content as sound in real time,
// looping continuously while tempo, content, and timbre are edited live.
//
// The engine owns one Transport (the single clock-derived notion of playback
// position), one Track per musical voice, and the master mixing chain. A
// periodic scheduler pushes near-future note events to the instruments as
// exact driver timestamps; a separate UI tick reports position and active
// notes to the caller. Disruptive changes are queued to the next measure
// boundary so content never changes mid-note.
package chordloop

import (
	"errors"
	"io/fs"
	"log"
	"math"
	"sync"
	"time"

	"github.com/viterin/vek/vek32"

	intaudio "github.com/tiffz/chordloop/internal/audio"
	"github.com/tiffz/chordloop/internal/clock"
	"github.com/tiffz/chordloop/internal/instrument"
	"github.com/tiffz/chordloop/internal/mix"
	"github.com/tiffz/chordloop/internal/samples"
	"github.com/tiffz/chordloop/internal/song"
	"github.com/tiffz/chordloop/internal/track"
	"github.com/tiffz/chordloop/internal/transport"
)

// Re-exported content types; callers build these, the internals consume them.
type (
	NoteParams    = song.NoteParams
	NoteEvent     = song.NoteEvent
	TrackContent  = song.TrackContent
	TimeSignature = song.TimeSignature
	Kind          = instrument.Kind
)

const (
	InstrumentHarmonic = instrument.KindHarmonic
	InstrumentBasic    = instrument.KindBasic
	InstrumentSampled  = instrument.KindSampled
)

var ErrNotIdle = errors.New("chordloop: engine already started")

// Config describes one playback session.
type Config struct {
	Tempo         float64 // BPM; 0 means 120
	TimeSignature TimeSignature
	Instrument    Kind // empty means harmonic
	Tracks        []TrackContent
	// LoopBeats fixes the loop length. 0 derives it from the content,
	// rounded up to a whole measure.
	LoopBeats float64
}

// UpdateFunc receives UI-tick updates: current position, the indices of
// currently sounding events per track, and whether playback is running. It
// is called once more with a cleared state on stop.
type UpdateFunc func(positionBeats float64, active map[string][]int, playing bool)

// EventKind identifies engine lifecycle events delivered via Watch.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventChangeApplied
	EventPlaybackEnded
)

type Event struct {
	Kind EventKind
	Loop int
}

type engineState int

const (
	stateIdle engineState = iota
	stateStarting
	statePlaying
	stateStopping
)

type instrumentFactory func(kind Kind, sampleRate int, store *samples.Store, wave instrument.Waveform) instrument.Instrument

type options struct {
	sampleRate    int
	lookahead     time.Duration
	lookback      time.Duration
	tickInterval  time.Duration
	uiInterval    time.Duration
	sampleFS      fs.FS
	store         *samples.Store
	outputFactory intaudio.Factory
	instFactory   instrumentFactory
	basicWave     instrument.Waveform
}

type Option func(*options)

func defaultOptions() options {
	return options{
		sampleRate:    48000,
		lookahead:     200 * time.Millisecond,
		lookback:      100 * time.Millisecond,
		tickInterval:  50 * time.Millisecond,
		uiInterval:    16 * time.Millisecond,
		outputFactory: intaudio.NewOutput,
		instFactory:   newInstrument,
		basicWave:     instrument.WaveTriangle,
	}
}

func WithSampleRate(rate int) Option {
	return func(o *options) { o.sampleRate = rate }
}

// WithLookahead sets how far ahead of the clock notes are pre-scheduled.
// Larger values absorb more host-timer jitter at the cost of slower response
// to edits.
func WithLookahead(d time.Duration) Option {
	return func(o *options) { o.lookahead = d }
}

// WithLookback sets how far the scheduling window is widened backward after
// a suspend/resume cycle, so notes due during the gap are not lost.
func WithLookback(d time.Duration) Option {
	return func(o *options) { o.lookback = d }
}

func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

func WithUIRefreshInterval(d time.Duration) Option {
	return func(o *options) { o.uiInterval = d }
}

// WithSampleLibrary points the sampled instrument at a directory of
// recordings named "<layer>-<midinote>.wav" (layers "soft" and "loud").
func WithSampleLibrary(fsys fs.FS) Option {
	return func(o *options) { o.sampleFS = fsys }
}

// WithSampleStore reuses an already constructed (possibly already loaded)
// store, e.g. across engine restarts; loading a sample set is expensive.
func WithSampleStore(store *samples.Store) Option {
	return func(o *options) { o.store = store }
}

// WithOutputFactory replaces the audio backend; offline rendering and tests
// run without a device this way.
func WithOutputFactory(f intaudio.Factory) Option {
	return func(o *options) { o.outputFactory = f }
}

// WithBasicWaveform selects the simple synthesizer's oscillator shape.
func WithBasicWaveform(w instrument.Waveform) Option {
	return func(o *options) { o.basicWave = w }
}

// pendingChange is a single-item mailbox of deferred edits. A new request
// merges into the outstanding one and re-targets the next measure boundary.
type pendingChange struct {
	tracks      []TrackContent
	timeSig     *TimeSignature
	applyAtBeat float64
	applyAtLoop int
}

// Engine is the playback engine. Construct with New, drive with Start/Stop;
// a stopped engine can be started again. Not a singleton: the caller owns
// the lifecycle.
type Engine struct {
	mu   sync.Mutex
	opts options

	clk    *clock.FrameClock
	tr     *transport.Transport
	tracks []*track.Track
	store  *samples.Store
	out    intaudio.Output

	masterGain *mix.Ramp
	reverbWet  *mix.Ramp
	reverb     *mix.Reverb
	comp       *mix.Compressor

	state       engineState
	instKind    Kind
	derivedLoop bool
	paused      bool
	pending     *pendingChange
	onUpdate    UpdateFunc
	stopCh      chan struct{}

	// suspend detection: lastClockWall is the wall time of the last observed
	// clock advance, not of the last tick.
	lastClock     float64
	lastClockWall time.Time
	wasSuspended  bool

	scratch []float32

	eventMu sync.Mutex
	eventCh chan Event
}

func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.sampleRate <= 0 {
		o.sampleRate = 48000
	}
	e := &Engine{
		opts:       o,
		clk:        clock.NewFrameClock(o.sampleRate),
		store:      o.store,
		masterGain: mix.NewRamp(0.8),
		reverbWet:  mix.NewRamp(0.2),
		reverb:     mix.NewReverb(o.sampleRate, 0.6, 0.75),
		comp:       mix.NewCompressor(o.sampleRate, -14, 4, 5, 120, 4),
	}
	return e
}

func newInstrument(kind Kind, sampleRate int, store *samples.Store, wave instrument.Waveform) instrument.Instrument {
	switch kind {
	case instrument.KindBasic:
		return instrument.NewBasic(sampleRate, wave)
	case instrument.KindSampled:
		return instrument.NewSampled(sampleRate, store)
	default:
		return instrument.NewHarmonic(sampleRate, instrument.DefaultHarmonicParams())
	}
}

// Start builds the session and begins looping playback. With a sampled
// instrument it awaits sample loading, falling back to the harmonic
// synthesizer if loading fails. Empty content is a no-op, not an error.
func (e *Engine) Start(cfg Config, onUpdate UpdateFunc) error {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		return ErrNotIdle
	}
	e.state = stateStarting
	e.mu.Unlock()

	tempo := cfg.Tempo
	if tempo <= 0 {
		tempo = 120
	}
	ts := cfg.TimeSignature
	if ts.Beats <= 0 {
		ts = TimeSignature{Beats: 4, Unit: 4}
	}
	loopBeats, derived := resolveLoopBeats(cfg.LoopBeats, ts, cfg.Tracks)
	if loopBeats <= 0 {
		// No content: treated as a no-op.
		e.mu.Lock()
		e.state = stateIdle
		e.mu.Unlock()
		return nil
	}

	kind := cfg.Instrument
	if kind == "" {
		kind = InstrumentHarmonic
	}
	kind = e.prepareInstrument(kind)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateStarting {
		// Stopped while awaiting sample loading.
		return nil
	}
	e.instKind = kind
	e.derivedLoop = derived
	e.onUpdate = onUpdate
	e.pending = nil
	e.paused = false
	e.wasSuspended = false
	e.lastClock = e.clk.Now()
	e.lastClockWall = time.Now()

	e.tr = transport.New(e.clk)
	e.tr.OnLoop(func(loop int) {
		e.sendEvent(Event{Kind: EventLoopCompleted, Loop: loop})
	})
	e.tracks = e.tracks[:0]
	for _, tc := range cfg.Tracks {
		inst := e.opts.instFactory(kind, e.opts.sampleRate, e.store, e.opts.basicWave)
		e.tracks = append(e.tracks, track.New(tc.Name, inst, tc.Events))
	}

	out, err := e.opts.outputFactory(e.opts.sampleRate, e, e.clk.Advance)
	if err != nil {
		e.closeTracksLocked()
		e.state = stateIdle
		return err
	}
	e.out = out
	e.out.Play()
	e.tr.Start(tempo, loopBeats, ts)

	e.state = statePlaying
	e.stopCh = make(chan struct{})
	go e.schedulerLoop(e.stopCh)
	go e.uiLoop(e.stopCh)
	// Prime the first window now instead of waiting for the first tick.
	e.tickLocked()
	return nil
}

// prepareInstrument resolves the requested instrument kind, loading samples
// if needed. Sample-loading failure degrades to the harmonic synthesizer;
// it is never fatal.
func (e *Engine) prepareInstrument(kind Kind) Kind {
	if kind != InstrumentSampled {
		return kind
	}
	store := e.ensureStore()
	if store == nil {
		log.Printf("chordloop: no sample library configured; falling back to harmonic synthesis")
		return InstrumentHarmonic
	}
	store.Load(nil, nil)
	if err := store.Wait(); err != nil {
		log.Printf("chordloop: sample loading failed (%v); falling back to harmonic synthesis", err)
		return InstrumentHarmonic
	}
	return InstrumentSampled
}

func (e *Engine) ensureStore() *samples.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil && e.opts.sampleFS != nil {
		e.store = samples.New(e.opts.sampleFS, e.opts.sampleRate)
	}
	return e.store
}

func resolveLoopBeats(requested float64, ts TimeSignature, tracks []TrackContent) (float64, bool) {
	if requested > 0 {
		return requested, false
	}
	var end float64
	for _, tc := range tracks {
		if e := song.EndBeat(tc.Events); e > end {
			end = e
		}
	}
	if end <= 0 {
		return 0, true
	}
	measure := ts.BeatsPerMeasure()
	return math.Ceil(end/measure) * measure, true
}

// Stop halts both ticks, silences the tracks, clears any pending change, and
// emits one final cleared update. Safe to call at any time; the engine is
// restartable afterward.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != statePlaying && e.state != stateStarting {
		e.mu.Unlock()
		return nil
	}
	e.state = stateStopping
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	e.pending = nil
	e.closeTracksLocked()
	if e.tr != nil {
		e.tr.Stop()
	}
	out := e.out
	e.out = nil
	cb := e.onUpdate
	e.onUpdate = nil
	// No residual audio on restart: clear the reverb tail and the
	// compressor envelope.
	e.reverb.Reset()
	e.comp.Reset()
	e.state = stateIdle
	e.mu.Unlock()

	var err error
	if out != nil {
		err = out.Close()
	}
	e.sendEvent(Event{Kind: EventPlaybackEnded})
	if cb != nil {
		cb(0, nil, false)
	}
	return err
}

func (e *Engine) closeTracksLocked() {
	for _, t := range e.tracks {
		t.Close()
	}
	e.tracks = nil
}

// Pause suspends the audio driver (and with it the frame clock). The stall
// detector leaves a deliberate pause alone. Resume restarts the driver; the
// scheduler's recovery path then reschedules anything due during the gap.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out != nil {
		e.paused = true
		e.out.Pause()
	}
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	if e.out != nil {
		e.out.Play()
	}
}

// SetTempo changes tempo immediately and continuously: the transport
// recomputes its reference time so the instantaneous position is unchanged,
// then an out-of-cycle scheduler pass runs so notes at the new tempo are not
// skipped while waiting for the next periodic tick.
func (e *Engine) SetTempo(bpm float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePlaying || bpm <= 0 {
		return
	}
	e.tr.SetTempo(bpm)
	e.tickLocked()
}

// UpdateContent queues a content swap for the next measure boundary. Content
// never changes mid-note: scheduling stops short of the boundary until the
// change applies.
func (e *Engine) UpdateContent(tracks []TrackContent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePlaying || tracks == nil {
		return
	}
	p := e.mergePendingLocked()
	p.tracks = cloneContents(tracks)
}

// SetTimeSignature queues a time-signature change for the next measure
// boundary; applying it rescales the loop length and resets scheduling.
func (e *Engine) SetTimeSignature(ts TimeSignature) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePlaying || ts.Beats <= 0 || ts.Unit <= 0 {
		return
	}
	p := e.mergePendingLocked()
	sig := ts
	p.timeSig = &sig
}

// mergePendingLocked returns the outstanding pending change, creating one if
// needed, always re-targeted at the next measure boundary.
func (e *Engine) mergePendingLocked() *pendingChange {
	if e.pending == nil {
		e.pending = &pendingChange{}
	}
	b, loop := e.tr.NextMeasureBoundary()
	e.pending.applyAtBeat = b
	e.pending.applyAtLoop = loop
	return e.pending
}

// SetInstrument swaps the timbre immediately: current tracks fade briefly,
// instruments swap, and an out-of-cycle reschedule runs. Not boundary-gated;
// timbre changes do not break note alignment the way content changes do.
// Selecting the sampled instrument before its set is loaded starts the load
// and swaps once it completes, or stays on the current sound on failure.
func (e *Engine) SetInstrument(kind Kind) {
	e.mu.Lock()
	if e.state != statePlaying || kind == "" || kind == e.instKind {
		e.mu.Unlock()
		return
	}
	if kind == InstrumentSampled {
		current := e.instKind
		e.mu.Unlock()
		store := e.ensureStore()
		if store == nil {
			log.Printf("chordloop: no sample library configured; keeping %s", current)
			return
		}
		store.Load(nil, func(err error) {
			if err != nil {
				log.Printf("chordloop: sample loading failed (%v); keeping current instrument", err)
				return
			}
			e.mu.Lock()
			if e.state == statePlaying {
				e.applyInstrumentLocked(InstrumentSampled)
				e.tickLocked()
			}
			e.mu.Unlock()
		})
		return
	}
	e.applyInstrumentLocked(kind)
	e.tickLocked()
	e.mu.Unlock()
}

func (e *Engine) applyInstrumentLocked(kind Kind) {
	e.instKind = kind
	for _, t := range e.tracks {
		t.SetInstrument(e.opts.instFactory(kind, e.opts.sampleRate, e.store, e.opts.basicWave))
	}
}

// SetVolume ramps the master gain; immediate and never content-gated.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.masterGain.SetTarget(v, 2048)
}

// SetReverbLevel ramps the reverb wet/dry mix (0 dry .. 1 wet).
func (e *Engine) SetReverbLevel(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.reverbWet.SetTarget(v, 2048)
}

// Watch returns a channel of engine events (loop completions, applied
// changes, playback end). Buffered with drop-on-full; receive promptly.
// Only the most recent Watch channel receives events.
func (e *Engine) Watch() <-chan Event {
	ch := make(chan Event, 8)
	e.eventMu.Lock()
	e.eventCh = ch
	e.eventMu.Unlock()
	return ch
}

func (e *Engine) sendEvent(ev Event) {
	e.eventMu.Lock()
	ch := e.eventCh
	e.eventMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
}

// schedulerLoop re-arms the scheduler tick at a fixed interval for as long
// as the engine is playing; the decision to continue is explicit at the end
// of every tick.
func (e *Engine) schedulerLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.opts.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.tick() {
				return
			}
		}
	}
}

func (e *Engine) tick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != statePlaying {
		return false
	}
	e.tickLocked()
	return true
}

// tickLocked is one scheduler pass: suspend detection and recovery, pending
// change application, then per-track scheduling of the lookahead window with
// loop-wraparound splitting.
func (e *Engine) tickLocked() {
	now := e.clk.Now()
	wall := time.Now()
	recovered := false
	if now == e.lastClock {
		// The clock freezing while wall time advances means the driver
		// stopped pulling frames (host stall or background throttling). Ask
		// it to resume — unless the user paused on purpose; recovery still
		// arms either way so the gap is rescheduled once frames flow again.
		if !e.lastClockWall.IsZero() && wall.Sub(e.lastClockWall) > 2*e.opts.tickInterval {
			if !e.paused && e.out != nil {
				e.out.Play()
			}
			e.wasSuspended = true
		}
	} else {
		if e.wasSuspended {
			recovered = true
			e.wasSuspended = false
			for _, t := range e.tracks {
				t.ResetScheduling()
			}
		}
		e.lastClock = now
		e.lastClockWall = wall
	}

	pos := e.tr.PositionBeats()
	loop := e.tr.LoopCount()
	appliedAt := e.applyPendingLocked(pos, loop)
	pos = e.tr.PositionBeats()
	loop = e.tr.LoopCount()

	tempo := e.tr.Tempo()
	if tempo <= 0 {
		return
	}
	beatsPerSec := tempo / 60.0
	from := pos
	if recovered {
		from = pos - e.opts.lookback.Seconds()*beatsPerSec
		if from < 0 {
			from = 0
		}
	}
	// A change was just applied: the position is already past the boundary by
	// however long the tick was late. Widen the window back so the new
	// content's boundary-beat events are not skipped; the cursors were reset
	// by the apply, so nothing double-schedules.
	if appliedAt >= 0 && appliedAt < from {
		from = appliedAt
	}
	to := pos + e.opts.lookahead.Seconds()*beatsPerSec
	loopBeats := e.tr.LoopBeats()
	var over float64
	if to > loopBeats {
		over = to - loopBeats
		if over > loopBeats {
			over = loopBeats
		}
		to = loopBeats
	}
	// Never pre-schedule across a pending boundary; those beats belong to
	// the incoming content.
	if p := e.pending; p != nil {
		if p.applyAtLoop == loop {
			if to > p.applyAtBeat {
				to = p.applyAtBeat
			}
			over = 0
		} else if p.applyAtLoop == loop+1 && over > p.applyAtBeat {
			over = p.applyAtBeat
		}
	}
	for _, t := range e.tracks {
		t.ScheduleRange(from, to, e.tr, loop)
	}
	if over > 0 {
		for _, t := range e.tracks {
			t.ScheduleRange(0, over, e.tr, loop+1)
		}
	}
}

// applyPendingLocked applies the pending change once the position reaches its
// boundary. Returns the boundary beat within the current loop, or -1 when
// nothing applied.
func (e *Engine) applyPendingLocked(pos float64, loop int) float64 {
	p := e.pending
	if p == nil {
		return -1
	}
	if loop < p.applyAtLoop || (loop == p.applyAtLoop && pos < p.applyAtBeat) {
		return -1
	}
	e.pending = nil
	if p.timeSig != nil {
		old := e.tr.TimeSignature().BeatsPerMeasure()
		e.tr.SetTimeSignature(*p.timeSig)
		measures := math.Round(e.tr.LoopBeats() / old)
		if measures < 1 {
			measures = 1
		}
		e.tr.SetLoopBeats(measures * p.timeSig.BeatsPerMeasure())
		for _, t := range e.tracks {
			t.ResetScheduling()
		}
	}
	if p.tracks != nil {
		e.applyContentLocked(p.tracks)
	}
	e.sendEvent(Event{Kind: EventChangeApplied, Loop: loop})
	at := p.applyAtBeat
	if loop > p.applyAtLoop {
		// So late the boundary's loop is already over; best effort is the
		// current loop's start.
		at = 0
	}
	if lb := e.tr.LoopBeats(); at > lb {
		at = lb
	}
	return at
}

func (e *Engine) applyContentLocked(contents []TrackContent) {
	existing := make(map[string]*track.Track, len(e.tracks))
	for _, t := range e.tracks {
		existing[t.Name()] = t
	}
	var next []*track.Track
	for _, tc := range contents {
		if t, ok := existing[tc.Name]; ok {
			t.SetEvents(tc.Events)
			next = append(next, t)
			delete(existing, tc.Name)
			continue
		}
		inst := e.opts.instFactory(e.instKind, e.opts.sampleRate, e.store, e.opts.basicWave)
		next = append(next, track.New(tc.Name, inst, tc.Events))
	}
	for _, t := range existing {
		t.Close()
	}
	e.tracks = next
	if e.derivedLoop {
		if lb, _ := resolveLoopBeats(0, e.tr.TimeSignature(), contents); lb > 0 {
			e.tr.SetLoopBeats(lb)
		}
	}
}

// uiLoop re-arms the display-rate update callback while playing.
func (e *Engine) uiLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.opts.uiInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.uiTick() {
				return
			}
		}
	}
}

func (e *Engine) uiTick() bool {
	e.mu.Lock()
	if e.state != statePlaying {
		e.mu.Unlock()
		return false
	}
	pos := e.tr.PositionBeats()
	var active map[string][]int
	for _, t := range e.tracks {
		if a := t.ActiveEvents(pos); len(a) > 0 {
			if active == nil {
				active = make(map[string][]int, len(e.tracks))
			}
			active[t.Name()] = a
		}
	}
	cb := e.onUpdate
	e.mu.Unlock()
	if cb != nil {
		cb(pos, active, true)
	}
	return true
}

// Process implements the audio stream source: it renders every track for the
// window starting at the current clock frame, then runs the master chain
// (gain, reverb wet/dry, compressor).
func (e *Engine) Process(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vek32.Zeros_Into(dst, len(dst))
	if e.state != statePlaying || e.tr == nil || !e.tr.Playing() {
		return
	}
	if cap(e.scratch) < len(dst) {
		e.scratch = make([]float32, len(dst))
	}
	from := e.clk.Frames()
	for _, t := range e.tracks {
		t.Render(dst, from, e.scratch[:len(dst)])
	}
	for i := 0; i+1 < len(dst); i += 2 {
		g := e.masterGain.Next()
		l := dst[i] * g
		r := dst[i+1] * g
		wet := e.reverbWet.Next()
		wl, wr := e.reverb.Process(l, r)
		l = l*(1-wet) + wl*wet
		r = r*(1-wet) + wr*wet
		l, r = e.comp.Process(l, r)
		dst[i] = clamp32(l)
		dst[i+1] = clamp32(r)
	}
}

func cloneContents(contents []TrackContent) []TrackContent {
	out := make([]TrackContent, len(contents))
	for i, tc := range contents {
		out[i] = TrackContent{
			Name:   tc.Name,
			Events: append([]NoteEvent(nil), tc.Events...),
		}
	}
	return out
}

func clamp32(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

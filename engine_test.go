package chordloop

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	intaudio "github.com/tiffz/chordloop/internal/audio"
	"github.com/tiffz/chordloop/internal/instrument"
	"github.com/tiffz/chordloop/internal/samples"
)

type playCall struct {
	freq, when, dur, vel float64
}

// fakeInst records scheduling calls; safe for inspection while the engine's
// background ticks are still running.
type fakeInst struct {
	mu    sync.Mutex
	kind  Kind
	calls []playCall
	stops int
}

func (f *fakeInst) PlayNote(freq, startTime, durationSec, velocity float64) {
	f.mu.Lock()
	f.calls = append(f.calls, playCall{freq, startTime, durationSec, velocity})
	f.mu.Unlock()
}

func (f *fakeInst) StopAll(fadeSec float64) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeInst) Render(dst []float32, fromFrame int64) {}
func (f *fakeInst) ActiveVoices() int                     { return 0 }
func (f *fakeInst) Dispose()                              {}

func (f *fakeInst) snapshot() []playCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playCall(nil), f.calls...)
}

type testOutput struct{ plays *atomic.Int32 }

func (o testOutput) Play() {
	if o.plays != nil {
		o.plays.Add(1)
	}
}
func (o testOutput) Pause()       {}
func (o testOutput) Close() error { return nil }

// harness drives an engine synchronously: the output is inert and the frame
// clock only moves when the test pumps it.
type harness struct {
	mu      sync.Mutex
	advance func(int)
	fakes   []*fakeInst
	plays   atomic.Int32
}

func (h *harness) options() []Option {
	factory := func(sampleRate int, source intaudio.SampleSource, onFrames func(int)) (intaudio.Output, error) {
		h.mu.Lock()
		h.advance = onFrames
		h.mu.Unlock()
		return testOutput{plays: &h.plays}, nil
	}
	instFactory := func(kind Kind, sampleRate int, store *samples.Store, wave instrument.Waveform) instrument.Instrument {
		f := &fakeInst{kind: kind}
		h.mu.Lock()
		h.fakes = append(h.fakes, f)
		h.mu.Unlock()
		return f
	}
	return []Option{
		WithOutputFactory(factory),
		func(o *options) { o.instFactory = instFactory },
	}
}

// run pumps the clock for the given stretch of playback time, ticking the
// scheduler before each chunk the way the driver pull and the periodic tick
// interleave in production.
func (h *harness) run(e *Engine, seconds float64) {
	const chunk = 480 // 10ms at 48 kHz
	buf := make([]float32, chunk*2)
	for steps := int(seconds * 100); steps > 0; steps-- {
		e.tick()
		e.Process(buf)
		h.mu.Lock()
		adv := h.advance
		h.mu.Unlock()
		adv(chunk)
	}
	e.tick()
}

// runFrames pumps the clock in chunks of an arbitrary frame count, so tick
// positions need not land on musically aligned times.
func (h *harness) runFrames(e *Engine, totalFrames, chunk int) {
	buf := make([]float32, chunk*2)
	for rendered := 0; rendered < totalFrames; rendered += chunk {
		e.tick()
		e.Process(buf)
		h.mu.Lock()
		adv := h.advance
		h.mu.Unlock()
		adv(chunk)
	}
	e.tick()
}

func (h *harness) fake(i int) *fakeInst {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fakes[i]
}

func (h *harness) numFakes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fakes)
}

func singleTrack(name string, events ...NoteEvent) []TrackContent {
	return []TrackContent{{Name: name, Events: events}}
}

func noteAt(beat, beats, freq float64) NoteEvent {
	return NoteEvent{Beat: beat, Notes: []NoteParams{{Frequency: freq, Beats: beats, Velocity: 0.7}}}
}

func TestLoopOccurrencesAreExactlySpaced(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:  120,
		Tracks: singleTrack("chords", noteAt(0, 4, 261.63)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	h.run(e, 6.05) // three 2-second loops
	calls := h.fake(0).snapshot()
	if len(calls) < 3 {
		t.Fatalf("got %d occurrences, want at least 3", len(calls))
	}
	if calls[0].when > 0.01 {
		t.Errorf("first occurrence at %v, want near 0", calls[0].when)
	}
	for i := 1; i < 3; i++ {
		if got := calls[i].when; math.Abs(got-float64(i)*2.0) > 1e-9 {
			t.Errorf("occurrence %d at %v, want %v", i, got, float64(i)*2.0)
		}
	}
	if got := calls[0].dur; math.Abs(got-2.0) > 1e-9 {
		t.Errorf("duration = %v, want 2.0 (4 beats at 120 BPM)", got)
	}
}

func TestDerivedLoopRoundsUpToWholeMeasure(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:         120,
		TimeSignature: TimeSignature{Beats: 4, Unit: 4},
		// Content ends at beat 5: the loop must span two measures (8 beats).
		Tracks: singleTrack("chords", noteAt(4, 1, 440)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	if got := e.tr.LoopBeats(); got != 8 {
		t.Errorf("derived loop = %v beats, want 8", got)
	}
}

func TestEmptyContentIsNoop(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	if err := e.Start(Config{Tempo: 120}, nil); err != nil {
		t.Fatal(err)
	}
	if h.advance != nil {
		t.Error("output built for empty content")
	}
	// Still idle, so a real Start succeeds immediately.
	cfg := Config{Tempo: 120, Tracks: singleTrack("chords", noteAt(0, 4, 440))}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	e.Stop()
}

func TestStartWhilePlayingFails(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{Tempo: 120, Tracks: singleTrack("chords", noteAt(0, 4, 440))}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	if err := e.Start(cfg, nil); err != ErrNotIdle {
		t.Errorf("second Start = %v, want ErrNotIdle", err)
	}
}

func TestSetTempoKeepsPositionAndReschedules(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:     120,
		LoopBeats: 8,
		Tracks:    singleTrack("chords", noteAt(3, 1, 440)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	h.run(e, 1.0) // beat 2.0
	e.SetTempo(90)
	h.run(e, 1.0)

	calls := h.fake(0).snapshot()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	// Beat 3 is one beat past the change point (1.0s): at 90 BPM that is
	// 60/90s later.
	want := 1.0 + 60.0/90.0
	if math.Abs(calls[0].when-want) > 1e-6 {
		t.Errorf("beat 3 scheduled at %v, want %v", calls[0].when, want)
	}
	if math.Abs(calls[0].dur-60.0/90.0) > 1e-6 {
		t.Errorf("duration = %v, want one beat at 90 BPM", calls[0].dur)
	}
}

func TestUpdateContentAppliesAtMeasureBoundary(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:         120,
		TimeSignature: TimeSignature{Beats: 4, Unit: 4},
		LoopBeats:     8,
		Tracks:        singleTrack("chords", noteAt(1, 1, 100), noteAt(5, 1, 100)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	ch := e.Watch()

	h.run(e, 0.6) // beat 1.2: the beat-1 note is already scheduled
	e.UpdateContent(singleTrack("chords", noteAt(1, 1, 200), noteAt(5, 1, 200)))
	h.run(e, 3.5) // well past the beat-4 boundary and the beat-5 note

	calls := h.fake(0).snapshot()
	for _, c := range calls {
		// Nothing from the old list may sound at or after the boundary
		// (beat 4 = 2.0s).
		if c.freq == 100 && c.when >= 2.0 {
			t.Errorf("old content scheduled at %v after the boundary", c.when)
		}
	}
	var newAt5 bool
	for _, c := range calls {
		if c.freq == 200 && math.Abs(c.when-2.5) < 1e-6 { // beat 5 at 120 BPM
			newAt5 = true
		}
	}
	if !newAt5 {
		t.Error("new content's beat-5 note was not scheduled for 2.5s")
	}

	var applied bool
	for done := false; !done; {
		select {
		case ev := <-ch:
			if ev.Kind == EventChangeApplied {
				applied = true
			}
		default:
			done = true
		}
	}
	if !applied {
		t.Error("no EventChangeApplied emitted")
	}
}

func TestBoundaryBeatEventSurvivesContentSwap(t *testing.T) {
	// The driver pulls in chunks that do not divide the boundary time, so
	// the tick that applies the change observes a position strictly past the
	// boundary. The new list's event placed exactly at the boundary — a
	// chord change on a measure start — must still be scheduled.
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:         120,
		TimeSignature: TimeSignature{Beats: 4, Unit: 4},
		LoopBeats:     8,
		Tracks:        singleTrack("chords", noteAt(1, 1, 100)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	const chunk = 700 // 96000 (the 2.0s boundary) is not a multiple of 700
	h.runFrames(e, 29400, chunk) // ~0.61s, past the old beat-1 note
	e.UpdateContent(singleTrack("chords", noteAt(4, 1, 200)))
	h.runFrames(e, 86100, chunk) // well past the boundary

	calls := h.fake(0).snapshot()
	var boundaryCall bool
	for _, c := range calls {
		if c.freq == 100 && c.when >= 2.0 {
			t.Errorf("old content scheduled at %v after the boundary", c.when)
		}
		// The apply tick runs a hair after 2.0s, so the safety clamp nudges
		// the boundary note by a few milliseconds at most.
		if c.freq == 200 && c.when >= 2.0 && c.when < 2.05 {
			boundaryCall = true
		}
	}
	if !boundaryCall {
		t.Errorf("boundary-beat event never scheduled; calls: %+v", calls)
	}
}

func TestPendingChangesMergeToOneBoundary(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:         120,
		TimeSignature: TimeSignature{Beats: 4, Unit: 4},
		LoopBeats:     8,
		Tracks:        singleTrack("chords", noteAt(0, 2, 100)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	ch := e.Watch()

	h.run(e, 0.3)
	e.UpdateContent(singleTrack("chords", noteAt(0, 2, 200)))
	e.SetTimeSignature(TimeSignature{Beats: 3, Unit: 4})
	h.run(e, 4.0)

	applied := 0
	for done := false; !done; {
		select {
		case ev := <-ch:
			if ev.Kind == EventChangeApplied {
				applied++
			}
		default:
			done = true
		}
	}
	if applied != 1 {
		t.Errorf("EventChangeApplied count = %d, want 1 (merged)", applied)
	}
	// 8 beats of 4/4 rescaled to two 3-beat measures.
	if got := e.tr.LoopBeats(); got != 6 {
		t.Errorf("loop beats after time signature change = %v, want 6", got)
	}
}

func TestStopClearsAndIsRestartable(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{Tempo: 120, Tracks: singleTrack("chords", noteAt(0, 4, 440))}

	var mu sync.Mutex
	var finalPlaying = true
	var finalPos = -1.0
	onUpdate := func(pos float64, active map[string][]int, playing bool) {
		mu.Lock()
		finalPlaying = playing
		finalPos = pos
		mu.Unlock()
	}
	if err := e.Start(cfg, onUpdate); err != nil {
		t.Fatal(err)
	}
	ch := e.Watch()
	h.run(e, 0.5)
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	if finalPlaying || finalPos != 0 {
		t.Errorf("final update = (pos %v, playing %v), want (0, false)", finalPos, finalPlaying)
	}
	mu.Unlock()

	select {
	case ev := <-ch:
		if ev.Kind != EventPlaybackEnded {
			t.Errorf("event = %v, want EventPlaybackEnded", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no EventPlaybackEnded")
	}

	if err := e.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	e.Stop()
}

func TestSetInstrumentSwapsImmediately(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:      120,
		Instrument: InstrumentHarmonic,
		Tracks:     singleTrack("chords", noteAt(0, 4, 440)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	h.run(e, 0.2)
	e.SetInstrument(InstrumentBasic)
	if got := h.numFakes(); got != 2 {
		t.Fatalf("instrument count = %d, want 2 after swap", got)
	}
	if h.fake(1).kind != InstrumentBasic {
		t.Errorf("replacement kind = %s, want basic", h.fake(1).kind)
	}
	if h.fake(0).stops == 0 {
		t.Error("old instrument was not faded out")
	}
	// Redundant swaps do nothing.
	e.SetInstrument(InstrumentBasic)
	if got := h.numFakes(); got != 2 {
		t.Errorf("instrument count after redundant swap = %d, want 2", got)
	}
}

func TestSampledLoadFailureFallsBackToHarmonic(t *testing.T) {
	h := &harness{}
	opts := append(h.options(), WithSampleLibrary(fstest.MapFS{})) // nothing to load
	e := New(opts...)
	cfg := Config{
		Tempo:      120,
		Instrument: InstrumentSampled,
		Tracks:     singleTrack("chords", noteAt(0, 4, 440)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	if h.fake(0).kind != InstrumentHarmonic {
		t.Errorf("kind = %s, want harmonic fallback", h.fake(0).kind)
	}
}

func TestSuspendRecoveryReschedules(t *testing.T) {
	h := &harness{}
	opts := append(h.options(), WithTickInterval(2*time.Millisecond))
	e := New(opts...)
	cfg := Config{
		Tempo:     120,
		LoopBeats: 4,
		Tracks:    singleTrack("chords", noteAt(0.2, 1, 440)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	h.run(e, 0.12) // past beat 0.2; note scheduled once
	if got := len(h.fake(0).snapshot()); got != 1 {
		t.Fatalf("calls before stall = %d, want 1", got)
	}
	playsBefore := h.plays.Load()

	// Freeze the clock while wall time advances: the engine must notice the
	// stall and poke the output.
	deadline := time.Now().Add(2 * time.Second)
	for h.plays.Load() == playsBefore && time.Now().Before(deadline) {
		e.tick()
		time.Sleep(5 * time.Millisecond)
	}
	if h.plays.Load() == playsBefore {
		t.Fatal("stall was never detected")
	}

	// Clock moves again: recovery widens the window backward and the note
	// inside the lookback margin is rescheduled.
	h.run(e, 0.05)
	if got := len(h.fake(0).snapshot()); got < 2 {
		t.Errorf("calls after recovery = %d, want the stalled note rescheduled", got)
	}
}

func TestPauseIsNotUndoneByStallDetector(t *testing.T) {
	h := &harness{}
	opts := append(h.options(), WithTickInterval(2*time.Millisecond))
	e := New(opts...)
	cfg := Config{
		Tempo:     120,
		LoopBeats: 4,
		Tracks:    singleTrack("chords", noteAt(0.2, 1, 440)),
	}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	h.run(e, 0.12)
	e.Pause()
	playsBefore := h.plays.Load()

	// Wall time advances well past the stall threshold with the clock
	// frozen; a deliberate pause must not be auto-resumed.
	for i := 0; i < 10; i++ {
		e.tick()
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.plays.Load(); got != playsBefore {
		t.Fatalf("engine called Play %d time(s) during a user pause", got-playsBefore)
	}

	e.Resume()
	if got := h.plays.Load(); got != playsBefore+1 {
		t.Fatalf("Resume plays = %d, want %d", got, playsBefore+1)
	}
	// The paused stretch armed recovery: once frames flow again, the note
	// inside the lookback margin is rescheduled.
	h.run(e, 0.05)
	if got := len(h.fake(0).snapshot()); got < 2 {
		t.Errorf("calls after resume = %d, want the paused-over note rescheduled", got)
	}
}

func TestUpdateCallbackReportsActiveEvents(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{
		Tempo:     120,
		LoopBeats: 4,
		Tracks:    singleTrack("chords", noteAt(0, 2, 440)),
	}
	type update struct {
		pos    float64
		active map[string][]int
	}
	var mu sync.Mutex
	var last update
	onUpdate := func(pos float64, active map[string][]int, playing bool) {
		if !playing {
			return
		}
		mu.Lock()
		last = update{pos, active}
		mu.Unlock()
	}
	if err := e.Start(cfg, onUpdate); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	h.run(e, 0.5) // beat 1: inside the 2-beat note
	// The UI tick runs on a wall timer; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		u := last
		mu.Unlock()
		if u.active != nil || time.Now().After(deadline) {
			if got := u.active["chords"]; len(got) != 1 || got[0] != 0 {
				t.Errorf("active = %v, want event 0 of chords", u.active)
			}
			if u.pos <= 0 || u.pos >= 4 {
				t.Errorf("pos = %v, want inside the loop", u.pos)
			}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestVolumeAndReverbAreClamped(t *testing.T) {
	h := &harness{}
	e := New(h.options()...)
	cfg := Config{Tempo: 120, Tracks: singleTrack("chords", noteAt(0, 4, 440))}
	if err := e.Start(cfg, nil); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	e.SetVolume(3)
	if got := e.masterGain.Target(); got != 1 {
		t.Errorf("volume target = %v, want clamped 1", got)
	}
	e.SetReverbLevel(-2)
	if got := e.reverbWet.Target(); got != 0 {
		t.Errorf("reverb target = %v, want clamped 0", got)
	}
}

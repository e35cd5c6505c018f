package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tiffz/chordloop"
	"github.com/tiffz/chordloop/internal/instrument"
	"github.com/tiffz/chordloop/internal/song"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		filePath   = flag.String("file", "", "path to a YAML progression file")
		tempo      = flag.Float64("tempo", 0, "tempo override in BPM (0 = file value)")
		timeSig    = flag.String("time-signature", "", "time signature override, e.g. 3/4")
		instName   = flag.String("instrument", "", "instrument: harmonic|basic|sampled (overrides file)")
		waveName   = flag.String("wave", "triangle", "basic synth waveform: sine|triangle|square|sawtooth")
		samplesDir = flag.String("samples", "", "directory of <layer>-<midinote>.wav recordings for the sampled instrument")
		loops      = flag.Int("loops", 4, "stop after N loops (0 = loop until interrupted)")
		volume     = flag.Float64("volume", 0.8, "master volume (0..1)")
		reverb     = flag.Float64("reverb", 0.2, "reverb wet level (0..1)")
		wavPath    = flag.String("wav", "", "render offline to a WAV file instead of playing")
		seconds    = flag.Float64("seconds", 8, "duration of the offline render")
		dump       = flag.Bool("dump", false, "dump the parsed configuration and exit")
	)
	flag.Parse()

	cfg, err := resolveConfig(*filePath, *tempo, *timeSig, *instName)
	if err != nil {
		log.Fatal(err)
	}
	if *dump {
		spew.Dump(cfg)
		return
	}

	wave, err := parseWaveform(*waveName)
	if err != nil {
		log.Fatal(err)
	}
	opts := []chordloop.Option{
		chordloop.WithSampleRate(*sampleRate),
		chordloop.WithBasicWaveform(wave),
	}
	if *samplesDir != "" {
		opts = append(opts, chordloop.WithSampleLibrary(os.DirFS(*samplesDir)))
	}

	if *wavPath != "" {
		if err := renderToFile(cfg, *wavPath, *seconds, *sampleRate, opts); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %s (%.1fs)\n", *wavPath, *seconds)
		return
	}

	e := chordloop.New(opts...)
	ch := e.Watch()
	if err := e.Start(cfg, nil); err != nil {
		log.Fatal(err)
	}
	e.SetVolume(*volume)
	e.SetReverbLevel(*reverb)

	loopCount := 0
	for event := range ch {
		switch event.Kind {
		case chordloop.EventPlaybackEnded:
			fmt.Println("playback completed")
			return
		case chordloop.EventLoopCompleted:
			loopCount++
			fmt.Printf("loop %d completed\n", loopCount)
			if *loops > 0 && loopCount >= *loops {
				e.Stop()
			}
		case chordloop.EventChangeApplied:
			fmt.Printf("change applied at loop %d\n", event.Loop)
		}
	}
}

func renderToFile(cfg chordloop.Config, path string, seconds float64, sampleRate int, opts []chordloop.Option) error {
	samples, err := chordloop.RenderSamples(cfg, seconds, opts...)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := chordloop.EncodeWAVFloat32LE(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// progressionFile is the on-disk YAML schema.
type progressionFile struct {
	Tempo         float64 `yaml:"tempo"`
	TimeSignature string  `yaml:"time_signature"`
	Instrument    string  `yaml:"instrument"`
	LoopBeats     float64 `yaml:"loop_beats"`
	Tracks        []struct {
		Name   string `yaml:"name"`
		Events []struct {
			Beat  float64 `yaml:"beat"`
			Notes []struct {
				Note     string  `yaml:"note"`
				Beats    float64 `yaml:"beats"`
				Velocity float64 `yaml:"velocity"`
			} `yaml:"notes"`
		} `yaml:"events"`
	} `yaml:"tracks"`
}

func resolveConfig(path string, tempo float64, timeSig, instName string) (chordloop.Config, error) {
	var cfg chordloop.Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var pf progressionFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg, err = fileToConfig(pf)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else {
		cfg = defaultProgression()
	}
	if tempo > 0 {
		cfg.Tempo = tempo
	}
	if timeSig != "" {
		ts, err := song.ParseTimeSignature(timeSig)
		if err != nil {
			return cfg, err
		}
		cfg.TimeSignature = ts
	}
	if instName != "" {
		kind, err := parseInstrument(instName)
		if err != nil {
			return cfg, err
		}
		cfg.Instrument = kind
	}
	return cfg, nil
}

func fileToConfig(pf progressionFile) (chordloop.Config, error) {
	cfg := chordloop.Config{
		Tempo:     pf.Tempo,
		LoopBeats: pf.LoopBeats,
	}
	if pf.TimeSignature != "" {
		ts, err := song.ParseTimeSignature(pf.TimeSignature)
		if err != nil {
			return cfg, err
		}
		cfg.TimeSignature = ts
	}
	if pf.Instrument != "" {
		kind, err := parseInstrument(pf.Instrument)
		if err != nil {
			return cfg, err
		}
		cfg.Instrument = kind
	}
	for _, t := range pf.Tracks {
		tc := chordloop.TrackContent{Name: t.Name}
		for _, ev := range t.Events {
			ne := chordloop.NoteEvent{Beat: ev.Beat}
			for _, n := range ev.Notes {
				freq, err := song.ParseNote(n.Note)
				if err != nil {
					return cfg, err
				}
				vel := n.Velocity
				if vel <= 0 {
					vel = 0.7
				}
				ne.Notes = append(ne.Notes, chordloop.NoteParams{
					Frequency: freq,
					Beats:     n.Beats,
					Velocity:  vel,
				})
			}
			tc.Events = append(tc.Events, ne)
		}
		cfg.Tracks = append(cfg.Tracks, tc)
	}
	return cfg, nil
}

// defaultProgression is a I-V-vi-IV pad in C, one chord per measure.
func defaultProgression() chordloop.Config {
	chord := func(beat float64, names ...string) chordloop.NoteEvent {
		ev := chordloop.NoteEvent{Beat: beat}
		for _, name := range names {
			freq, err := song.ParseNote(name)
			if err != nil {
				panic(err)
			}
			ev.Notes = append(ev.Notes, chordloop.NoteParams{Frequency: freq, Beats: 4, Velocity: 0.7})
		}
		return ev
	}
	return chordloop.Config{
		Tempo:         96,
		TimeSignature: chordloop.TimeSignature{Beats: 4, Unit: 4},
		Tracks: []chordloop.TrackContent{
			{
				Name: "chords",
				Events: []chordloop.NoteEvent{
					chord(0, "C4", "E4", "G4"),
					chord(4, "G3", "B3", "D4"),
					chord(8, "A3", "C4", "E4"),
					chord(12, "F3", "A3", "C4"),
				},
			},
			{
				Name: "bass",
				Events: []chordloop.NoteEvent{
					chord(0, "C2"), chord(4, "G2"), chord(8, "A2"), chord(12, "F2"),
				},
			},
		},
	}
}

func parseInstrument(name string) (chordloop.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "harmonic":
		return chordloop.InstrumentHarmonic, nil
	case "basic":
		return chordloop.InstrumentBasic, nil
	case "sampled":
		return chordloop.InstrumentSampled, nil
	default:
		return "", fmt.Errorf("invalid --instrument %q (expected harmonic|basic|sampled)", name)
	}
}

func parseWaveform(name string) (instrument.Waveform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sine":
		return instrument.WaveSine, nil
	case "triangle":
		return instrument.WaveTriangle, nil
	case "square":
		return instrument.WaveSquare, nil
	case "sawtooth", "saw":
		return instrument.WaveSawtooth, nil
	default:
		return "", fmt.Errorf("invalid --wave %q (expected sine|triangle|square|sawtooth)", name)
	}
}

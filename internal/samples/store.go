package samples

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio/wav"
)

// Layer is a discrete loudness bucket with its own recorded sample set.
type Layer string

const (
	LayerSoft Layer = "soft"
	LayerLoud Layer = "loud"
)

// LoadedSample is one decoded recording: stereo interleaved float32 at the
// store's sample rate. Immutable after load and shared across instruments.
type LoadedSample struct {
	Note  int // MIDI note of the recorded pitch
	Layer Layer
	Data  []float32
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateFailed
)

var ErrNoSamples = errors.New("samples: no usable samples in library")

// DecodeFunc decodes one audio file into stereo interleaved float32 frames
// at the given rate. Replaceable so tests run without real WAV assets.
type DecodeFunc func(sampleRate int, r io.Reader) ([]float32, error)

// Store loads and caches a sparse grid of recordings across pitch and
// loudness. Loading happens once, off the scheduling path; instruments share
// the loaded set.
type Store struct {
	fsys       fs.FS
	sampleRate int
	decode     DecodeFunc

	mu      sync.Mutex
	state   State
	err     error
	grid    map[Layer]map[int]*LoadedSample
	done    chan struct{}
	loading bool
}

func New(fsys fs.FS, sampleRate int) *Store {
	return &Store{
		fsys:       fsys,
		sampleRate: sampleRate,
		decode:     DecodeWAV,
		grid:       map[Layer]map[int]*LoadedSample{},
	}
}

// SetDecodeFunc replaces the decoder. Must be called before Load.
func (s *Store) SetDecodeFunc(fn DecodeFunc) {
	if fn != nil {
		s.decode = fn
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Load fetches and decodes every sample file asynchronously. onProgress is
// called after each file with (loaded, total); onDone once with the final
// error, nil on success. Calling Load again while loading or after success
// reports the existing outcome instead of reloading.
func (s *Store) Load(onProgress func(loaded, total int), onDone func(error)) {
	s.mu.Lock()
	switch s.state {
	case StateLoaded, StateFailed:
		err := s.err
		s.mu.Unlock()
		if onDone != nil {
			onDone(err)
		}
		return
	case StateLoading:
		done := s.done
		s.mu.Unlock()
		if onDone != nil {
			go func() {
				<-done
				onDone(s.Err())
			}()
		}
		return
	}
	s.state = StateLoading
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		err := s.loadAll(onProgress)
		s.mu.Lock()
		s.err = err
		if err != nil {
			s.state = StateFailed
		} else {
			s.state = StateLoaded
		}
		s.mu.Unlock()
		close(done)
		if onDone != nil {
			onDone(err)
		}
	}()
}

// Wait blocks until a pending Load finishes and returns its error.
func (s *Store) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return s.Err()
}

func (s *Store) loadAll(onProgress func(loaded, total int)) error {
	if s.fsys == nil {
		return ErrNoSamples
	}
	names, err := fs.Glob(s.fsys, "*.wav")
	if err != nil || len(names) == 0 {
		return ErrNoSamples
	}
	total := len(names)
	var (
		wg     sync.WaitGroup
		loaded int
	)
	for _, name := range names {
		layer, note, ok := parseSampleName(name)
		if !ok {
			total--
			continue
		}
		wg.Add(1)
		go func(name string, layer Layer, note int) {
			defer wg.Done()
			data, err := s.readOne(name)
			s.mu.Lock()
			if err == nil && len(data) > 0 {
				if s.grid[layer] == nil {
					s.grid[layer] = map[int]*LoadedSample{}
				}
				s.grid[layer][note] = &LoadedSample{Note: note, Layer: layer, Data: data}
			}
			loaded++
			n := loaded
			s.mu.Unlock()
			if onProgress != nil {
				onProgress(n, total)
			}
		}(name, layer, note)
	}
	wg.Wait()
	s.mu.Lock()
	empty := len(s.grid) == 0
	s.mu.Unlock()
	if empty {
		return ErrNoSamples
	}
	return nil
}

func (s *Store) readOne(name string) ([]float32, error) {
	f, err := s.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.decode(s.sampleRate, f)
}

// Nearest returns the cached sample whose recorded pitch is closest to note
// within the given layer, falling back to the other layer when the requested
// one has nothing. Missing data degrades, it never errors.
func (s *Store) Nearest(layer Layer, note int) (*LoadedSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sm := nearestIn(s.grid[layer], note); sm != nil {
		return sm, true
	}
	for l, m := range s.grid {
		if l == layer {
			continue
		}
		if sm := nearestIn(m, note); sm != nil {
			return sm, true
		}
	}
	return nil, false
}

func nearestIn(m map[int]*LoadedSample, note int) *LoadedSample {
	var best *LoadedSample
	bestDist := math.MaxInt
	for n, sm := range m {
		d := n - note
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			bestDist = d
			best = sm
		}
	}
	return best
}

// parseSampleName expects "<layer>-<midinote>.wav", e.g. "soft-048.wav".
func parseSampleName(name string) (Layer, int, bool) {
	base := strings.TrimSuffix(path.Base(name), ".wav")
	i := strings.LastIndexByte(base, '-')
	if i <= 0 {
		return "", 0, false
	}
	layer := Layer(strings.ToLower(base[:i]))
	if layer != LayerSoft && layer != LayerLoud {
		return "", 0, false
	}
	note, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return "", 0, false
	}
	if note < 0 || note > 127 {
		return "", 0, false
	}
	return layer, note, true
}

// DecodeWAV decodes a RIFF/WAV file to stereo interleaved float32 at the
// requested rate using the ebiten wav decoder.
func DecodeWAV(sampleRate int, r io.Reader) ([]float32, error) {
	stream, err := wav.DecodeF32(r)
	if err != nil {
		return nil, fmt.Errorf("samples: decode: %w", err)
	}
	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("samples: read: %w", err)
	}
	out := make([]float32, len(raw)/4)
	rd := bytes.NewReader(raw)
	if err := binary.Read(rd, binary.LittleEndian, &out); err != nil {
		return nil, fmt.Errorf("samples: convert: %w", err)
	}
	return out, nil
}

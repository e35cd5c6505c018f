package song

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// NoteParams describes one voiced note. Duration is in beats and is converted
// to seconds at whatever tempo is in effect when the note is scheduled.
type NoteParams struct {
	Frequency float64 // Hz
	Beats     float64 // duration in beats
	Velocity  float64 // 0..1
}

// NoteEvent groups the notes that start together at one beat position.
type NoteEvent struct {
	Beat  float64
	Notes []NoteParams
}

// TrackContent is the per-voice event list handed to the engine by an
// external note generator.
type TrackContent struct {
	Name   string
	Events []NoteEvent
}

type TimeSignature struct {
	Beats int // beats per measure (numerator)
	Unit  int // beat unit (denominator)
}

func (ts TimeSignature) BeatsPerMeasure() float64 {
	if ts.Beats <= 0 {
		return 4
	}
	return float64(ts.Beats)
}

func (ts TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", ts.Beats, ts.Unit)
}

// ParseTimeSignature parses "3/4" style notation.
func ParseTimeSignature(s string) (TimeSignature, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return TimeSignature{}, fmt.Errorf("invalid time signature %q", s)
	}
	num, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	den, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 {
		return TimeSignature{}, fmt.Errorf("invalid time signature %q", s)
	}
	return TimeSignature{Beats: num, Unit: den}, nil
}

// SortEvents orders events by beat position. Events sharing a beat keep their
// relative order.
func SortEvents(events []NoteEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Beat < events[j].Beat
	})
}

// EndBeat returns the beat at which the last note of the list stops sounding.
func EndBeat(events []NoteEvent) float64 {
	var end float64
	for _, ev := range events {
		for _, n := range ev.Notes {
			if e := ev.Beat + n.Beats; e > end {
				end = e
			}
		}
		if ev.Beat > end {
			end = ev.Beat
		}
	}
	return end
}

// MIDIToFreq converts a MIDI note number to Hz (A4 = 69 = 440 Hz).
func MIDIToFreq(note int) float64 {
	return 440.0 * math.Pow(2, float64(note-69)/12.0)
}

// FreqToMIDI returns the nearest MIDI note number for a frequency.
func FreqToMIDI(freq float64) int {
	if freq <= 0 {
		return 0
	}
	return int(math.Round(69 + 12*math.Log2(freq/440.0)))
}

var noteOffsets = map[byte]int{'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11}

// ParseNote converts scientific pitch notation ("C4", "f#3", "Bb2") to Hz.
func ParseNote(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid note %q", s)
	}
	off, ok := noteOffsets[s[0]]
	if !ok {
		return 0, fmt.Errorf("invalid note %q", s)
	}
	i := 1
	switch s[i] {
	case '#', '+':
		off++
		i++
	case 'b', '-':
		off--
		i++
	}
	octave, err := strconv.Atoi(s[i:])
	if err != nil {
		return 0, fmt.Errorf("invalid note %q", s)
	}
	midi := (octave+1)*12 + off
	if midi < 0 || midi > 127 {
		return 0, fmt.Errorf("note %q out of range", s)
	}
	return MIDIToFreq(midi), nil
}

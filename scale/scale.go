// Package scale builds the table of playable pitches for each named scale.
package scale

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	LowOctave  = 2
	HighOctave = 7
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Intervals lists the semitone offsets from the root for every known scale.
var Intervals = map[string][]int{
	"MAJOR":            {0, 2, 4, 5, 7, 9, 11},
	"MINOR":            {0, 2, 3, 5, 7, 8, 10},
	"DORIAN":           {0, 2, 3, 5, 7, 9, 10},
	"PENTATONIC":       {0, 2, 4, 7, 9},
	"MINOR_PENTATONIC": {0, 3, 5, 7, 10},
	"BLUES":            {0, 3, 5, 6, 7, 10},
	"JAPANESE":         {0, 1, 5, 7, 8},
	"MYSTERIOUS":       {0, 1, 4, 5, 7, 8, 10},
	"WHOLE_TONE":       {0, 2, 4, 6, 8, 10},
}

// Table maps a scale name to its pitch names, lowest first. A Table is never
// modified after it has been built and the returned slices must be treated as
// read-only.
type Table struct {
	scales map[string][]string
}

// New expands every entry of intervals across the octaves low to high. The
// high octave only gets the root pitch.
func New(intervals map[string][]int, low, high int) *Table {
	t := &Table{scales: make(map[string][]string, len(intervals))}
	for name, offsets := range intervals {
		t.scales[name] = Expand(offsets, low, high)
	}
	return t
}

// Default returns the table for Intervals across LowOctave to HighOctave.
func Default() *Table {
	return New(Intervals, LowOctave, HighOctave)
}

// Pitches returns the pitch names of the named scale.
func (t *Table) Pitches(name string) ([]string, bool) {
	p, ok := t.scales[name]
	return p, ok
}

// Has reports whether name is a known scale.
func (t *Table) Has(name string) bool {
	_, ok := t.scales[name]
	return ok
}

// Names returns the scale names in alphabetical order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.scales))
	for name := range t.scales {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand turns semitone offsets into pitch names such as "D#3".
func Expand(offsets []int, low, high int) []string {
	var pitches []string
	for octave := low; octave < high; octave++ {
		for _, off := range offsets {
			pitches = append(pitches, name(octave, off))
		}
	}
	if high >= low && len(offsets) > 0 {
		pitches = append(pitches, name(high, offsets[0]))
	}
	return pitches
}

func name(octave, offset int) string {
	octave += offset / 12
	return noteNames[offset%12] + strconv.Itoa(octave)
}

// Key converts a pitch name to a MIDI note number, with C4 being 60.
func Key(pitch string) (uint8, error) {
	i := strings.IndexFunc(pitch, func(r rune) bool {
		return r == '-' || (r >= '0' && r <= '9')
	})
	if i <= 0 {
		return 0, fmt.Errorf("not a pitch name: %q", pitch)
	}
	note, octave := pitch[:i], pitch[i:]
	semitone := -1
	for n, s := range noteNames {
		if s == note {
			semitone = n
			break
		}
	}
	if semitone < 0 {
		return 0, fmt.Errorf("unknown note %q in pitch %q", note, pitch)
	}
	o, err := strconv.Atoi(octave)
	if err != nil {
		return 0, fmt.Errorf("bad octave in pitch %q: %w", pitch, err)
	}
	key := (o+1)*12 + semitone
	if key < 0 || key > 127 {
		return 0, fmt.Errorf("pitch %q is out of MIDI range", pitch)
	}
	return uint8(key), nil
}

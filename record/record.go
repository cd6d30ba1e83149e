// Package record captures note triggers and writes them as Standard MIDI Files.
package record

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/mrdg/hive/scale"
)

// Resolution is the number of ticks per quarter note in written files.
const Resolution = 960

const velocity = 100

type note struct {
	at     time.Duration
	length time.Duration
	key    uint8
}

// Recorder collects note triggers while it is active. It is not safe for
// concurrent use.
type Recorder struct {
	now    func() time.Time
	active bool
	start  time.Time
	notes  []note
}

func New(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Start begins a new take, discarding previously recorded notes.
func (r *Recorder) Start() {
	r.active = true
	r.start = r.now()
	r.notes = nil
}

func (r *Recorder) Stop() {
	r.active = false
}

func (r *Recorder) Active() bool {
	return r.active
}

// Take returns an inactive copy of the current take. The copy shares no
// state with r and may be written from another goroutine.
func (r *Recorder) Take() *Recorder {
	return &Recorder{
		now:   r.now,
		start: r.start,
		notes: append([]note(nil), r.notes...),
	}
}

// Len returns the number of notes in the current take.
func (r *Recorder) Len() int {
	return len(r.notes)
}

// Note records a note starting now. Notes are ignored while the recorder is
// not active.
func (r *Recorder) Note(pitch string, duration float64) error {
	if !r.active {
		return nil
	}
	key, err := scale.Key(pitch)
	if err != nil {
		return err
	}
	r.notes = append(r.notes, note{
		at:     r.now().Sub(r.start),
		length: time.Duration(duration * float64(time.Second)),
		key:    key,
	})
	return nil
}

type timedMsg struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// Write encodes the take as a two track SMF, a tempo track followed by the
// notes.
func (r *Recorder) Write(w io.Writer, bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("invalid tempo: %v", bpm)
	}
	ticks := func(d time.Duration) uint32 {
		return uint32(math.Round(d.Seconds() * bpm / 60 * Resolution))
	}
	var msgs []timedMsg
	for _, n := range r.notes {
		on := ticks(n.at)
		msgs = append(msgs,
			timedMsg{tick: on, msg: midi.NoteOn(0, n.key, velocity)},
			timedMsg{tick: on + max(1, ticks(n.length)), off: true, msg: midi.NoteOff(0, n.key)},
		)
	}
	// note offs go first so repeated keys are not cut short
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].tick != msgs[j].tick {
			return msgs[i].tick < msgs[j].tick
		}
		return msgs[i].off && !msgs[j].off
	})

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(Resolution)

	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(bpm))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return fmt.Errorf("add tempo track: %w", err)
	}

	var track smf.Track
	var last uint32
	for _, m := range msgs {
		track.Add(m.tick-last, m.msg)
		last = m.tick
	}
	track.Close(0)
	if err := s.Add(track); err != nil {
		return fmt.Errorf("add note track: %w", err)
	}
	_, err := s.WriteTo(w)
	return err
}

// Save writes the take to path.
func (r *Recorder) Save(path string, bpm float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Write(f, bpm); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

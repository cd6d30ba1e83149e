package auto

import (
	"fmt"
	"math"
	"time"

	"github.com/mrdg/hive/state"
)

// Originator tags events generated by the server rather than a session.
const Originator = "auto"

// Note is a note trigger. X and Y are the random values the note was derived
// from, so clients can place it on their pad.
type Note struct {
	Pitch    string  `json:"pitch"`
	Duration float64 `json:"duration"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type NoteConfig struct {
	Slow      time.Duration `yaml:"slow"`  // interval at speed 0
	Fast      time.Duration `yaml:"fast"`  // interval at speed 100
	Floor     time.Duration `yaml:"floor"` // lower bound for any interval
	JitterMin float64       `yaml:"jitterMin"`
	JitterMax float64       `yaml:"jitterMax"`

	// Note durations in seconds are BaseDuration + x*DurationSpan.
	BaseDuration float64 `yaml:"baseDuration"`
	DurationSpan float64 `yaml:"durationSpan"`
}

func DefaultNoteConfig() NoteConfig {
	return NoteConfig{
		Slow:         4 * time.Second,
		Fast:         120 * time.Millisecond,
		Floor:        80 * time.Millisecond,
		JitterMin:    0.5,
		JitterMax:    1.5,
		BaseDuration: 0.3,
		DurationSpan: 1.7,
	}
}

// Validate checks that every interval stays above a positive floor, so a
// running scheduler always waits between notes.
func (c NoteConfig) Validate() error {
	switch {
	case c.Floor <= 0:
		return fmt.Errorf("notes: floor must be positive: %v", c.Floor)
	case c.Fast < c.Floor || c.Fast > c.Slow:
		return fmt.Errorf("notes: fast interval %v must be between floor %v and slow %v", c.Fast, c.Floor, c.Slow)
	case c.JitterMin <= 0 || c.JitterMin > c.JitterMax:
		return fmt.Errorf("notes: invalid jitter range %v - %v", c.JitterMin, c.JitterMax)
	case c.BaseDuration <= 0 || c.DurationSpan < 0:
		return fmt.Errorf("notes: invalid note duration %v + %v", c.BaseDuration, c.DurationSpan)
	}
	return nil
}

// Delay maps speed onto the interval between Slow and Fast, scales it by
// jitter and clamps the result to Floor.
func (c NoteConfig) Delay(speed int, jitter float64) time.Duration {
	speed = max(0, min(100, speed))
	base := float64(c.Slow) - float64(c.Slow-c.Fast)*float64(speed)/100
	d := time.Duration(base * jitter)
	if d < c.Floor {
		d = c.Floor
	}
	return d
}

// PickNote chooses a pitch from pitches. Y close to 1 selects the lowest
// pitch. It returns false if there is nothing to pick from.
func (c NoteConfig) PickNote(pitches []string, x, y float64) (Note, bool) {
	if len(pitches) == 0 {
		return Note{}, false
	}
	i := int(math.Floor((1 - y) * float64(len(pitches))))
	i = max(0, min(len(pitches)-1, i))
	return Note{
		Pitch:    pitches[i],
		Duration: c.BaseDuration + x*c.DurationSpan,
		X:        x,
		Y:        y,
	}, true
}

// NoteScheduler plays notes from the active scale at random intervals while
// the auto note setting is active.
type NoteScheduler struct {
	cfg   NoteConfig
	state *state.State
	rand  Rand
	emit  func(Note)
	timer timer
	speed int
}

func NewNoteScheduler(cfg NoteConfig, st *state.State, clock Clock, rand Rand, emit func(Note)) *NoteScheduler {
	return &NoteScheduler{
		cfg:   cfg,
		state: st,
		rand:  rand,
		emit:  emit,
		timer: timer{clock: clock},
	}
}

// Configure applies a new auto note setting. Enabling plays a note right away.
// A speed change while running only affects the interval after the pending
// note.
func (s *NoteScheduler) Configure(setting state.AutoNote) {
	s.speed = setting.Speed
	switch {
	case !setting.Active:
		s.timer.cancel()
	case !s.timer.armed():
		s.fire()
	}
}

// Armed reports whether a note is pending.
func (s *NoteScheduler) Armed() bool {
	return s.timer.armed()
}

func (s *NoteScheduler) Stop() {
	s.timer.cancel()
}

func (s *NoteScheduler) fire() {
	x, y := s.rand.Float64(), s.rand.Float64()
	if note, ok := s.cfg.PickNote(s.state.Pitches(), x, y); ok {
		s.emit(note)
	}
	jitter := s.cfg.JitterMin + s.rand.Float64()*(s.cfg.JitterMax-s.cfg.JitterMin)
	s.timer.arm(s.cfg.Delay(s.speed, jitter), s.fire)
}

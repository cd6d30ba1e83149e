// Package state holds the instrument state shared by every connected session.
//
// A State is not safe for concurrent use. It is owned by a single goroutine
// which serializes all reads and writes.
package state

import (
	"math"

	"github.com/mrdg/hive/scale"
)

// WaveSize is the number of samples in a waveform cycle.
const WaveSize = 128

type ADSR struct {
	Attack  float64 `json:"attack" yaml:"attack"`
	Decay   float64 `json:"decay" yaml:"decay"`
	Sustain float64 `json:"sustain" yaml:"sustain"`
	Release float64 `json:"release" yaml:"release"`
}

// Mixer levels in decibels.
type Mixer struct {
	Synth float64 `json:"synth" yaml:"synth"`
	Drone float64 `json:"drone" yaml:"drone"`
}

type Band struct {
	Freq float64 `json:"freq" yaml:"freq"`
	Gain float64 `json:"gain" yaml:"gain"`
}

type EQ struct {
	Low  Band `json:"low" yaml:"low"`
	Mid  Band `json:"mid" yaml:"mid"`
	High Band `json:"high" yaml:"high"`
}

type AutoNote struct {
	Active bool `json:"active" yaml:"active"`
	Speed  int  `json:"speed" yaml:"speed"`
}

type AutoDrift struct {
	Active bool `json:"active" yaml:"active"`
}

// Snapshot is a copy of the full state.
type Snapshot struct {
	Waveform  []float64          `json:"waveform" yaml:"-"`
	ADSR      ADSR               `json:"adsr" yaml:"adsr"`
	Mixer     Mixer              `json:"mixer" yaml:"mixer"`
	EQ        EQ                 `json:"eq" yaml:"eq"`
	Scale     string             `json:"scale" yaml:"scale"`
	AutoNote  AutoNote           `json:"autoNote" yaml:"autoNote"`
	AutoDrift AutoDrift          `json:"autoDrift" yaml:"autoDrift"`
	Params    map[string]float64 `json:"params" yaml:"params"`
}

// Defaults returns the state a fresh server starts with.
func Defaults() Snapshot {
	wave := make([]float64, WaveSize)
	for i := range wave {
		wave[i] = math.Sin(float64(i) / WaveSize * 2 * math.Pi)
	}
	return Snapshot{
		Waveform: wave,
		ADSR:     ADSR{Attack: 0.1, Decay: 0.2, Sustain: 0.5, Release: 1.5},
		Mixer:    Mixer{Synth: -4, Drone: -6},
		EQ: EQ{
			Low:  Band{Freq: 100, Gain: 4},
			Mid:  Band{Freq: 1000, Gain: -2},
			High: Band{Freq: 5000, Gain: -6},
		},
		Scale:    "MYSTERIOUS",
		AutoNote: AutoNote{Speed: 50},
	}
}

const (
	maxEnvTime = 20.0
	minLevel   = -60.0
	maxLevel   = 12.0
	maxFreq    = 22050.0
	maxGain    = 24.0
)

type State struct {
	scales    *scale.Table
	waveform  []float64
	adsr      ADSR
	mixer     Mixer
	eq        EQ
	scale     string
	autoNote  AutoNote
	autoDrift AutoDrift
	params    *Params
}

// New creates a State holding init. Parameters missing from init.Params keep
// their registered initial value.
func New(scales *scale.Table, specs map[string]ParamSpec, init Snapshot) (*State, error) {
	s := &State{scales: scales, params: NewParams()}
	for key, spec := range specs {
		if err := s.params.Register(key, spec); err != nil {
			return nil, err
		}
	}
	if init.Waveform == nil {
		init.Waveform = Defaults().Waveform
	}
	for _, set := range []func() error{
		func() error { _, err := s.SetWaveform(init.Waveform); return err },
		func() error { _, err := s.SetADSR(init.ADSR); return err },
		func() error { _, err := s.SetMixer(init.Mixer); return err },
		func() error { _, err := s.SetEQ(init.EQ); return err },
		func() error { _, err := s.SetScale(init.Scale); return err },
		func() error { _, err := s.SetAutoNote(init.AutoNote); return err },
		func() error { _, err := s.SetAutoDrift(init.AutoDrift); return err },
	} {
		if err := set(); err != nil {
			return nil, err
		}
	}
	for key, v := range init.Params {
		if _, err := s.params.Set(key, v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Snapshot returns a deep copy of the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Waveform:  s.Waveform(),
		ADSR:      s.adsr,
		Mixer:     s.mixer,
		EQ:        s.eq,
		Scale:     s.scale,
		AutoNote:  s.autoNote,
		AutoDrift: s.autoDrift,
		Params:    s.params.Values(),
	}
}

func (s *State) Waveform() []float64 {
	w := make([]float64, len(s.waveform))
	copy(w, s.waveform)
	return w
}

func (s *State) ADSR() ADSR           { return s.adsr }
func (s *State) Mixer() Mixer         { return s.mixer }
func (s *State) EQ() EQ               { return s.eq }
func (s *State) Scale() string        { return s.scale }
func (s *State) AutoNote() AutoNote   { return s.autoNote }
func (s *State) AutoDrift() AutoDrift { return s.autoDrift }
func (s *State) Scales() *scale.Table { return s.scales }
func (s *State) Params() *Params      { return s.params }

// Pitches returns the pitch names of the active scale.
func (s *State) Pitches() []string {
	p, _ := s.scales.Pitches(s.scale)
	return p
}

// SetWaveform replaces the waveform. It has to hold exactly WaveSize samples
// in the range [-1, 1].
func (s *State) SetWaveform(wave []float64) ([]float64, error) {
	if len(wave) != WaveSize {
		return nil, invalidf("waveform must have %d samples, got %d", WaveSize, len(wave))
	}
	for i, v := range wave {
		if !finite(v) || v < -1 || v > 1 {
			return nil, invalidf("waveform sample %d is out of range -1 - 1: %v", i, v)
		}
	}
	w := make([]float64, WaveSize)
	copy(w, wave)
	s.waveform = w
	return s.Waveform(), nil
}

func (s *State) SetADSR(env ADSR) (ADSR, error) {
	if err := env.Validate(); err != nil {
		return s.adsr, err
	}
	s.adsr = env
	return env, nil
}

func (env ADSR) Validate() error {
	for _, t := range []float64{env.Attack, env.Decay, env.Release} {
		if !finite(t) || t <= 0 || t > maxEnvTime {
			return invalidf("envelope time is not in valid range 0 - %vs: %v", maxEnvTime, t)
		}
	}
	if !finite(env.Sustain) || env.Sustain < 0 || env.Sustain > 1 {
		return invalidf("sustain level is not in valid range 0 - 1: %v", env.Sustain)
	}
	return nil
}

func (s *State) SetMixer(m Mixer) (Mixer, error) {
	for _, db := range []float64{m.Synth, m.Drone} {
		if !inRange(db, minLevel, maxLevel) {
			return s.mixer, invalidf("level is not in valid range %vdB - %vdB: %v", minLevel, maxLevel, db)
		}
	}
	s.mixer = m
	return m, nil
}

func (s *State) SetEQ(eq EQ) (EQ, error) {
	for _, b := range []Band{eq.Low, eq.Mid, eq.High} {
		if !finite(b.Freq) || b.Freq <= 0 || b.Freq > maxFreq {
			return s.eq, invalidf("band frequency is not in valid range 0 - %vHz: %v", maxFreq, b.Freq)
		}
		if !inRange(b.Gain, -maxGain, maxGain) {
			return s.eq, invalidf("band gain is not in valid range ±%vdB: %v", maxGain, b.Gain)
		}
	}
	s.eq = eq
	return eq, nil
}

// SetScale selects the active scale. Unknown names are rejected.
func (s *State) SetScale(name string) (string, error) {
	if !s.scales.Has(name) {
		return s.scale, unknownf("unknown scale %s", name)
	}
	s.scale = name
	return name, nil
}

func (s *State) SetAutoNote(a AutoNote) (AutoNote, error) {
	if a.Speed < 0 || a.Speed > 100 {
		return s.autoNote, invalidf("speed is not in valid range 0 - 100: %v", a.Speed)
	}
	s.autoNote = a
	return a, nil
}

func (s *State) SetAutoDrift(a AutoDrift) (AutoDrift, error) {
	s.autoDrift = a
	return a, nil
}

// SetParam writes a single parameter, clamped into its range.
func (s *State) SetParam(key string, value float64) (float64, error) {
	return s.params.Set(key, value)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func inRange(v, min, max float64) bool {
	return finite(v) && v >= min && v <= max
}

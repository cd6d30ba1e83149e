package state

import (
	"sort"
)

// Preset is a named set of values that can be applied on top of the current
// state. Nil fields are left untouched.
type Preset struct {
	ADSR   *ADSR              `yaml:"adsr,omitempty"`
	Scale  string             `yaml:"scale,omitempty"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

var Presets = map[string]Preset{
	"glass-pad": {
		ADSR:  &ADSR{Attack: 1.2, Decay: 0.8, Sustain: 0.7, Release: 4},
		Scale: "PENTATONIC",
		Params: map[string]float64{
			ParamCutoff:    0.45,
			ParamReverbMix: 0.6,
			ParamDetune:    0.3,
		},
	},
	"lame-bass": {
		ADSR: &ADSR{Attack: 0.005, Decay: 0.1, Sustain: 0, Release: 0.1},
		Params: map[string]float64{
			ParamCutoff:       0.25,
			ParamResonance:    0.5,
			ParamDrive:        0.6,
			ParamUnisonVoices: 2,
		},
	},
	"haunted": {
		ADSR:  &ADSR{Attack: 0.4, Decay: 1, Sustain: 0.4, Release: 6},
		Scale: "MYSTERIOUS",
		Params: map[string]float64{
			ParamLFODepth:      0.6,
			ParamDelayFeedback: 0.7,
			ParamNoise:         0.2,
		},
	},
}

// PresetNames returns the names of all presets in alphabetical order.
func PresetNames() []string {
	var names []string
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupPreset finds a preset by name.
func LookupPreset(name string) (Preset, error) {
	p, ok := Presets[name]
	if !ok {
		return Preset{}, unknownf("unknown preset: %v", name)
	}
	return p, nil
}

// CheckPreset reports whether every field of p can be applied to s. It
// doesn't modify s.
func (s *State) CheckPreset(p Preset) error {
	if p.ADSR != nil {
		if err := p.ADSR.Validate(); err != nil {
			return err
		}
	}
	if p.Scale != "" && !s.scales.Has(p.Scale) {
		return unknownf("unknown scale %s", p.Scale)
	}
	for key, value := range p.Params {
		if _, ok := s.params.Spec(key); !ok {
			return unknownf("unknown parameter %s", key)
		}
		if !finite(value) {
			return invalidf("parameter %s: value is not a finite number: %v", key, value)
		}
	}
	return nil
}

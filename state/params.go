package state

import (
	"math"
	"sort"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// Parameter names. The set is fixed when the State is created.
const (
	ParamCutoff        = "CUTOFF"
	ParamResonance     = "RESONANCE"
	ParamDrive         = "DRIVE"
	ParamDetune        = "DETUNE"
	ParamLFORate       = "LFO_RATE"
	ParamLFODepth      = "LFO_DEPTH"
	ParamNoise         = "NOISE"
	ParamDelayTime     = "DELAY_TIME"
	ParamDelayFeedback = "DELAY_FEEDBACK"
	ParamReverbMix     = "REVERB_MIX"
	ParamReverbSize    = "REVERB_SIZE"
	ParamUnisonVoices  = "UNISON_VOICES"
	ParamUnisonSpread  = "UNISON_SPREAD"
)

// ParamSpec describes the valid range of a parameter.
type ParamSpec struct {
	Min     float64
	Max     float64
	Init    float64
	Integer bool

	// Expensive parameters make clients rebuild parts of their audio graph,
	// so nothing changes them automatically.
	Expensive bool
}

// Coerce clamps v into the range of the parameter, rounding integer
// parameters to the nearest whole number.
func (p ParamSpec) Coerce(v float64) float64 {
	if p.Integer {
		v = math.Round(v)
	}
	return math.Max(p.Min, math.Min(p.Max, v))
}

// DefaultParams returns the specs of the built-in parameter set.
func DefaultParams() map[string]ParamSpec {
	unit := func(init float64) ParamSpec { return ParamSpec{Min: 0, Max: 1, Init: init} }
	return map[string]ParamSpec{
		ParamCutoff:        unit(0.6),
		ParamResonance:     unit(0.2),
		ParamDrive:         unit(0.1),
		ParamDetune:        unit(0.15),
		ParamLFORate:       unit(0.3),
		ParamLFODepth:      unit(0.2),
		ParamNoise:         unit(0.05),
		ParamDelayTime:     unit(0.4),
		ParamDelayFeedback: unit(0.35),
		ParamReverbMix:     unit(0.3),
		ParamReverbSize:    {Min: 0, Max: 1, Init: 0.7, Expensive: true},
		ParamUnisonVoices:  {Min: 1, Max: 5, Init: 1, Integer: true, Expensive: true},
		ParamUnisonSpread:  {Min: 0, Max: 100, Init: 20},
	}
}

// Params stores the named control parameters. All keys have to be registered
// before any reads take place.
type Params struct {
	values map[string]float64
	specs  map[string]ParamSpec
}

func NewParams() *Params {
	return &Params{
		values: make(map[string]float64),
		specs:  make(map[string]ParamSpec),
	}
}

// Register adds a new parameter set to its initial value.
func (p *Params) Register(key string, spec ParamSpec) error {
	if spec.Min > spec.Max {
		return fault.New("parameter range is empty", fmsg.With(key), ftag.With(ftag.InvalidArgument))
	}
	p.specs[key] = spec
	p.values[key] = spec.Coerce(spec.Init)
	return nil
}

func (p *Params) MustRegister(key string, spec ParamSpec) {
	if err := p.Register(key, spec); err != nil {
		panic(err)
	}
}

// Set coerces value into the range of key and stores it.
func (p *Params) Set(key string, value float64) (float64, error) {
	spec, ok := p.specs[key]
	if !ok {
		return 0, unknownf("unknown parameter %s", key)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, invalidf("parameter %s: value is not a finite number: %v", key, value)
	}
	v := spec.Coerce(value)
	p.values[key] = v
	return v, nil
}

func (p *Params) Get(key string) (float64, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *Params) Spec(key string) (ParamSpec, bool) {
	s, ok := p.specs[key]
	return s, ok
}

// Keys returns the registered keys in alphabetical order.
func (p *Params) Keys() []string {
	keys := make([]string, 0, len(p.specs))
	for k := range p.specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of all parameter values.
func (p *Params) Values() map[string]float64 {
	m := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		m[k] = v
	}
	return m
}

package auto

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/viterin/vek"

	"github.com/mrdg/hive/state"
)

// Strategy selects how parameters move on every drift tick.
type Strategy string

const (
	// Walk nudges one or two random parameters, occasionally warping one to a
	// fresh value.
	Walk Strategy = "walk"
	// Oscillator sweeps one designated parameter along a slow sine and walks
	// one other parameter.
	Oscillator Strategy = "osc"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Walk, Oscillator:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown drift strategy %q, want %q or %q", s, Walk, Oscillator)
	}
}

type DriftConfig struct {
	Period     time.Duration `yaml:"period"`
	Strategy   Strategy      `yaml:"strategy"`
	Step       float64       `yaml:"step"`       // max walk per tick, as a fraction of the range
	WarpChance float64       `yaml:"warpChance"` // chance of a walk becoming a warp

	OscParam string  `yaml:"oscParam"`
	OscRate  float64 `yaml:"oscRate"` // phase increment per tick in radians
	OscNoise float64 `yaml:"oscNoise"`

	CorruptEvery  int     `yaml:"corruptEvery"` // ticks between corruption attempts
	CorruptChance float64 `yaml:"corruptChance"`
	SmallNoise    float64 `yaml:"smallNoise"`
	LargeNoise    float64 `yaml:"largeNoise"`
	LargeChance   float64 `yaml:"largeChance"` // per sample
}

func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		Period:        200 * time.Millisecond,
		Strategy:      Walk,
		Step:          0.05,
		WarpChance:    0.2,
		OscParam:      state.ParamCutoff,
		OscRate:       0.05,
		OscNoise:      0.02,
		CorruptEvery:  4,
		CorruptChance: 0.6,
		SmallNoise:    0.025,
		LargeNoise:    0.25,
		LargeChance:   0.1,
	}
}

// Validate checks the config against the parameters it will drive. The
// oscillator target has to be a registered parameter drift may change.
func (c DriftConfig) Validate(specs map[string]state.ParamSpec) error {
	if c.Period <= 0 {
		return fmt.Errorf("drift: period must be positive: %v", c.Period)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	spec, ok := specs[c.OscParam]
	if !ok {
		return fmt.Errorf("drift: unknown oscillator parameter %q", c.OscParam)
	}
	if spec.Expensive {
		return fmt.Errorf("drift: oscillator parameter %q can't be drifted", c.OscParam)
	}
	if c.Step < 0 || c.CorruptEvery < 0 {
		return fmt.Errorf("drift: step and corruptEvery must not be negative")
	}
	for _, p := range []float64{c.WarpChance, c.CorruptChance, c.LargeChance} {
		if p < 0 || p > 1 {
			return fmt.Errorf("drift: chance is not in valid range 0 - 1: %v", p)
		}
	}
	return nil
}

// Drift is the outcome of a tick. Waveform is nil unless it was corrupted.
type Drift struct {
	Params   map[string]float64
	Waveform []float64
}

// DriftEngine perturbs parameters and the waveform at a fixed period while
// the auto drift setting is active.
type DriftEngine struct {
	cfg      DriftConfig
	state    *state.State
	rand     Rand
	emit     func(Drift)
	timer    timer
	eligible []string
	ticks    int
	phase    float64
	noise    []float64
}

func NewDriftEngine(cfg DriftConfig, st *state.State, clock Clock, rand Rand, emit func(Drift)) *DriftEngine {
	e := &DriftEngine{
		cfg:   cfg,
		state: st,
		rand:  rand,
		emit:  emit,
		timer: timer{clock: clock},
		noise: make([]float64, state.WaveSize),
	}
	params := st.Params()
	for _, key := range params.Keys() {
		if spec, _ := params.Spec(key); !spec.Expensive {
			e.eligible = append(e.eligible, key)
		}
	}
	sort.Strings(e.eligible)
	return e
}

// Configure starts or stops drifting. Starting always begins from a fresh
// phase and tick count.
func (e *DriftEngine) Configure(setting state.AutoDrift) {
	if !setting.Active {
		e.timer.cancel()
		return
	}
	e.ticks = 0
	e.phase = 0
	e.timer.arm(e.cfg.Period, e.step)
}

func (e *DriftEngine) SetStrategy(s Strategy) {
	e.cfg.Strategy = s
}

func (e *DriftEngine) Strategy() Strategy {
	return e.cfg.Strategy
}

func (e *DriftEngine) Running() bool {
	return e.timer.armed()
}

func (e *DriftEngine) Stop() {
	e.timer.cancel()
}

// Eligible returns the parameters drift is allowed to change.
func (e *DriftEngine) Eligible() []string {
	return append([]string(nil), e.eligible...)
}

func (e *DriftEngine) step() {
	e.emit(e.Tick())
	e.timer.arm(e.cfg.Period, e.step)
}

// Tick applies a single drift step to the state.
func (e *DriftEngine) Tick() Drift {
	e.ticks++
	switch e.cfg.Strategy {
	case Oscillator:
		e.oscillate()
	default:
		e.walkRandom()
	}
	d := Drift{Params: e.state.Params().Values()}
	if e.cfg.CorruptEvery > 0 && e.ticks%e.cfg.CorruptEvery == 0 && e.rand.Float64() < e.cfg.CorruptChance {
		d.Waveform = e.corrupt()
	}
	return d
}

func (e *DriftEngine) walkRandom() {
	if len(e.eligible) == 0 {
		return
	}
	first := e.rand.Intn(len(e.eligible))
	e.walk(e.eligible[first])
	if len(e.eligible) > 1 && e.rand.Intn(2) == 1 {
		second := e.rand.Intn(len(e.eligible) - 1)
		if second >= first {
			second++
		}
		e.walk(e.eligible[second])
	}
}

func (e *DriftEngine) oscillate() {
	spec, ok := e.state.Params().Spec(e.cfg.OscParam)
	if !ok {
		e.walkRandom()
		return
	}
	e.phase += e.cfg.OscRate
	v := 0.5 + 0.5*math.Sin(e.phase) + (e.rand.Float64()*2-1)*e.cfg.OscNoise
	v = math.Max(0, math.Min(1, v))
	e.state.SetParam(e.cfg.OscParam, spec.Min+v*(spec.Max-spec.Min))

	var others []string
	for _, key := range e.eligible {
		if key != e.cfg.OscParam {
			others = append(others, key)
		}
	}
	if len(others) > 0 {
		e.walk(others[e.rand.Intn(len(others))])
	}
}

// walk moves key by a small random amount, or warps it to a random value.
// SetParam clamps the result into range.
func (e *DriftEngine) walk(key string) {
	params := e.state.Params()
	spec, _ := params.Spec(key)
	span := spec.Max - spec.Min
	var v float64
	if e.rand.Float64() < e.cfg.WarpChance {
		v = spec.Min + e.rand.Float64()*span
	} else {
		cur, _ := params.Get(key)
		v = cur + (e.rand.Float64()*2-1)*e.cfg.Step*span
	}
	e.state.SetParam(key, v)
}

func (e *DriftEngine) corrupt() []float64 {
	for i := range e.noise {
		amp := e.cfg.SmallNoise
		if e.rand.Float64() < e.cfg.LargeChance {
			amp = e.cfg.LargeNoise
		}
		e.noise[i] = (e.rand.Float64()*2 - 1) * amp
	}
	wave := e.state.Waveform()
	vek.Add_Inplace(wave, e.noise)
	vek.MinimumNumber_Inplace(wave, 1)
	vek.MaximumNumber_Inplace(wave, -1)
	if _, err := e.state.SetWaveform(wave); err != nil {
		return nil
	}
	return wave
}

// Package hub connects sessions to the shared instrument state.
//
// A Hub owns the state, the session registry and the autonomous schedulers.
// Everything that touches them runs as a closure on the goroutine executing
// Run, so none of them need locking.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mrdg/hive/auto"
	"github.com/mrdg/hive/record"
	"github.com/mrdg/hive/scale"
	"github.com/mrdg/hive/state"
)

// ErrClosed is returned when calling into a hub that has stopped running.
var ErrClosed = errors.New("hub: closed")

const maxNoteDuration = 30.0

type Config struct {
	Notes     auto.NoteConfig
	Drift     auto.DriftConfig
	QueueSize int // per session, must be a power of 2

	// Clock and Rand default to real timers running on the hub loop and a
	// time seeded source.
	Clock auto.Clock
	Rand  auto.Rand
	Now   func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Notes:     auto.DefaultNoteConfig(),
		Drift:     auto.DefaultDriftConfig(),
		QueueSize: 256,
	}
}

type Hub struct {
	state     *state.State
	reg       Registry
	relay     *Relay
	notes     *auto.NoteScheduler
	drift     *auto.DriftEngine
	recorder  *record.Recorder
	rand      auto.Rand
	queueSize int
	log       *logrus.Entry

	inbox chan func()
	done  chan struct{}
}

func New(st *state.State, cfg Config, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	h := &Hub{
		state:     st,
		recorder:  record.New(cfg.Now),
		queueSize: cfg.QueueSize,
		log:       log,
		inbox:     make(chan func(), 256),
		done:      make(chan struct{}),
	}
	h.relay = &Relay{reg: &h.reg, log: log}
	h.rand = cfg.Rand
	if h.rand == nil {
		h.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = loopClock{h}
	}
	h.notes = auto.NewNoteScheduler(cfg.Notes, st, clock, h.rand, h.emitNote)
	h.drift = auto.NewDriftEngine(cfg.Drift, st, clock, h.rand, h.emitDrift)
	return h
}

// loopClock runs timer callbacks on the hub loop.
type loopClock struct {
	h *Hub
}

func (c loopClock) AfterFunc(d time.Duration, f func()) auto.Timer {
	return time.AfterFunc(d, func() { c.h.post(f) })
}

// Run executes posted work until ctx is done. Sessions still connected when
// it returns are closed.
func (h *Hub) Run(ctx context.Context) error {
	h.notes.Configure(h.state.AutoNote())
	h.drift.Configure(h.state.AutoDrift())
	defer func() {
		h.notes.Stop()
		h.drift.Stop()
		h.reg.each(func(s *Session) {
			s.dead = true
			close(s.gone)
		})
		h.reg.sessions = nil
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-h.inbox:
			f()
		}
	}
}

func (h *Hub) post(f func()) bool {
	select {
	case h.inbox <- f:
		return true
	case <-h.done:
		return false
	}
}

// Call runs f on the hub loop and waits for it to finish.
func (h *Hub) Call(f func()) error {
	ran := make(chan struct{})
	if !h.post(func() { f(); close(ran) }) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

func (h *Hub) do(f func() error) error {
	var err error
	if cerr := h.Call(func() { err = f() }); cerr != nil {
		return cerr
	}
	return err
}

// Connect registers a new session. kick is called from the hub loop when the
// session falls too far behind; it must not call back into the hub
// synchronously.
func (h *Hub) Connect(kick func()) (*Session, error) {
	var s *Session
	err := h.Call(func() { s = h.join(kick) })
	return s, err
}

// Disconnect removes a session. Messages received from it before are still
// handled first.
func (h *Hub) Disconnect(s *Session) {
	h.post(func() { h.leave(s) })
}

// Receive queues a raw frame from s for handling. It returns false once the
// hub has stopped.
func (h *Hub) Receive(s *Session, raw []byte) bool {
	return h.post(func() { h.handle(s, raw) })
}

func (h *Hub) join(kick func()) *Session {
	s := &Session{
		ID:    uuid.NewString(),
		Color: randomColor(h.rand.Intn(1 << 24)),
		out:   newQueue(h.queueSize),
		kick:  kick,
		gone:  make(chan struct{}),
	}
	h.reg.Add(s)
	h.log.WithFields(logrus.Fields{"session": s.ID, "sessions": h.reg.Len()}).Info("session joined")
	h.relay.To(s, TypeInit, initPayload{
		ID:    s.ID,
		Color: s.Color,
		State: h.state.Snapshot(),
		Users: h.reg.Users(),
	})
	h.sendUsers()
	return s
}

func (h *Hub) leave(s *Session) {
	if !h.reg.Remove(s.ID) {
		return
	}
	s.dead = true
	close(s.gone)
	h.log.WithFields(logrus.Fields{"session": s.ID, "sessions": h.reg.Len()}).Info("session left")
	h.sendUsers()
}

func (h *Hub) sendUsers() {
	users := h.reg.Users()
	h.relay.Send(Global, "", TypeUsers, usersPayload{Count: len(users), Users: users})
}

func (h *Hub) handle(s *Session, raw []byte) {
	if s.dead {
		return
	}
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reject(s, "", err)
		return
	}
	for _, hd := range handlers {
		if hd.typ != msg.Type {
			continue
		}
		if err := hd.run(h, s, msg.Data); err != nil {
			h.reject(s, msg.Type, err)
		}
		return
	}
	h.reject(s, msg.Type, fault.New("unknown message type", ftag.With(ftag.NotFound)))
}

func (h *Hub) reject(s *Session, typ string, err error) {
	h.log.WithFields(logrus.Fields{
		"session": s.ID,
		"type":    typ,
		"kind":    ftag.Get(err),
	}).WithError(err).Debug("rejected message")
}

type handler struct {
	typ string
	run func(h *Hub, s *Session, data json.RawMessage) error
}

var handlers = []handler{
	{TypePlayNote, playNote},
	{TypeUpdateWaveform, updateWaveform},
	{TypeUpdateADSR, updateADSR},
	{TypeUpdateMixer, updateMixer},
	{TypeUpdateEQ, updateEQ},
	{TypeUpdateScale, updateScale},
	{TypeUpdateAutoNote, updateAutoNote},
	{TypeUpdateAutoDrift, updateAutoDrift},
	{TypeUpdateParam, updateParam},
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fault.Wrap(err, fmsg.With("malformed payload"), ftag.With(ftag.InvalidArgument))
	}
	return nil
}

func missing(field string) error {
	return fault.New("missing field: "+field, ftag.With(ftag.InvalidArgument))
}

func playNote(h *Hub, s *Session, data json.RawMessage) error {
	var u noteUpdate
	if err := decode(data, &u); err != nil {
		return err
	}
	if u.Pitch == nil {
		return missing("pitch")
	}
	if u.Duration == nil {
		return missing("duration")
	}
	note := auto.Note{Pitch: *u.Pitch, Duration: *u.Duration, X: u.X, Y: u.Y}
	if _, err := scale.Key(note.Pitch); err != nil {
		return fault.Wrap(err, ftag.With(ftag.InvalidArgument))
	}
	if !(note.Duration > 0 && note.Duration <= maxNoteDuration) {
		return fault.New("note duration out of range", ftag.With(ftag.InvalidArgument))
	}
	if !unit(note.X) || !unit(note.Y) {
		return fault.New("note position out of range", ftag.With(ftag.InvalidArgument))
	}
	h.relay.Send(Global, s.ID, TypeTriggerNote, note)
	h.record(note)
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

func updateWaveform(h *Hub, s *Session, data json.RawMessage) error {
	var wave []float64
	if err := decode(data, &wave); err != nil {
		return err
	}
	return h.applyWaveform(s.ID, wave)
}

func updateADSR(h *Hub, s *Session, data json.RawMessage) error {
	var u adsrUpdate
	if err := decode(data, &u); err != nil {
		return err
	}
	if u.Attack == nil || u.Decay == nil || u.Sustain == nil || u.Release == nil {
		return missing("adsr")
	}
	return h.applyADSR(s.ID, state.ADSR{
		Attack:  *u.Attack,
		Decay:   *u.Decay,
		Sustain: *u.Sustain,
		Release: *u.Release,
	})
}

func updateMixer(h *Hub, s *Session, data json.RawMessage) error {
	var u mixerUpdate
	if err := decode(data, &u); err != nil {
		return err
	}
	if u.Synth == nil {
		return missing("synth")
	}
	m := h.state.Mixer()
	m.Synth = *u.Synth
	if u.Drone != nil {
		m.Drone = *u.Drone
	}
	stored, err := h.state.SetMixer(m)
	if err != nil {
		return err
	}
	h.relay.Send(PeerSync, s.ID, TypeSyncMixer, stored)
	return nil
}

func (b *bandUpdate) band() (state.Band, bool) {
	if b == nil || b.Freq == nil || b.Gain == nil {
		return state.Band{}, false
	}
	return state.Band{Freq: *b.Freq, Gain: *b.Gain}, true
}

func updateEQ(h *Hub, s *Session, data json.RawMessage) error {
	var u eqUpdate
	if err := decode(data, &u); err != nil {
		return err
	}
	low, ok1 := u.Low.band()
	mid, ok2 := u.Mid.band()
	high, ok3 := u.High.band()
	if !ok1 || !ok2 || !ok3 {
		return missing("eq band")
	}
	stored, err := h.state.SetEQ(state.EQ{Low: low, Mid: mid, High: high})
	if err != nil {
		return err
	}
	h.relay.Send(PeerSync, s.ID, TypeSyncEQ, stored)
	return nil
}

func updateScale(h *Hub, s *Session, data json.RawMessage) error {
	var name string
	if err := decode(data, &name); err != nil {
		return err
	}
	return h.applyScale(s.ID, name)
}

func updateAutoNote(h *Hub, s *Session, data json.RawMessage) error {
	var u autoNoteUpdate
	if err := decode(data, &u); err != nil {
		return err
	}
	if u.Active == nil {
		return missing("active")
	}
	speed := -1
	if u.Speed != nil {
		if *u.Speed < 0 || *u.Speed > 100 {
			return fault.New("speed out of range", ftag.With(ftag.InvalidArgument))
		}
		speed = int(math.Round(*u.Speed))
	}
	return h.applyAutoNote(s.ID, *u.Active, speed)
}

func updateAutoDrift(h *Hub, s *Session, data json.RawMessage) error {
	var u autoDriftUpdate
	if err := decode(data, &u); err != nil {
		return err
	}
	if u.Active == nil {
		return missing("active")
	}
	return h.applyAutoDrift(s.ID, *u.Active)
}

func updateParam(h *Hub, s *Session, data json.RawMessage) error {
	var u paramUpdate
	if err := decode(data, &u); err != nil {
		return err
	}
	if u.Key == nil || u.Value == nil {
		return missing("key or value")
	}
	_, err := h.applyParam(s.ID, *u.Key, *u.Value)
	return err
}

// The apply methods are shared by session messages and console commands.
// Console edits have an empty originator, so peer-sync reaches everyone.

func (h *Hub) applyWaveform(from string, wave []float64) error {
	stored, err := h.state.SetWaveform(wave)
	if err != nil {
		return err
	}
	h.relay.Send(PeerSync, from, TypeSyncWaveform, stored)
	return nil
}

func (h *Hub) applyADSR(from string, env state.ADSR) error {
	stored, err := h.state.SetADSR(env)
	if err != nil {
		return err
	}
	h.relay.Send(PeerSync, from, TypeSyncADSR, stored)
	return nil
}

func (h *Hub) applyScale(from, name string) error {
	stored, err := h.state.SetScale(name)
	if err != nil {
		return err
	}
	h.relay.Send(Global, from, TypeSyncScale, stored)
	return nil
}

// applyAutoNote keeps the current speed when speed is negative.
func (h *Hub) applyAutoNote(from string, active bool, speed int) error {
	setting := h.state.AutoNote()
	setting.Active = active
	if speed >= 0 {
		setting.Speed = speed
	}
	stored, err := h.state.SetAutoNote(setting)
	if err != nil {
		return err
	}
	h.relay.Send(Global, from, TypeSyncAutoNote, stored)
	h.notes.Configure(stored)
	return nil
}

func (h *Hub) applyAutoDrift(from string, active bool) error {
	stored, err := h.state.SetAutoDrift(state.AutoDrift{Active: active})
	if err != nil {
		return err
	}
	h.relay.Send(Global, from, TypeSyncAutoDrift, stored)
	h.drift.Configure(stored)
	return nil
}

func (h *Hub) applyParam(from, key string, value float64) (float64, error) {
	stored, err := h.state.SetParam(key, value)
	if err != nil {
		return 0, err
	}
	h.relay.Send(PeerSync, from, TypeSyncParam, paramPayload{Key: key, Value: stored})
	return stored, nil
}

func (h *Hub) emitNote(n auto.Note) {
	h.relay.Send(Global, auto.Originator, TypeTriggerNote, n)
	h.record(n)
}

func (h *Hub) emitDrift(d auto.Drift) {
	h.relay.Send(Global, auto.Originator, TypeSyncParams, d.Params)
	if d.Waveform != nil {
		h.relay.Send(Global, auto.Originator, TypeSyncWaveform, d.Waveform)
	}
}

func (h *Hub) record(n auto.Note) {
	if err := h.recorder.Note(n.Pitch, n.Duration); err != nil {
		h.log.WithError(err).Debug("could not record note")
	}
}

// Status describes the hub for the console.
type Status struct {
	State     state.Snapshot
	Users     []User
	Strategy  auto.Strategy
	NoteArmed bool
	Drifting  bool
	Recording bool
	Recorded  int
}

func (h *Hub) Status() (Status, error) {
	var st Status
	err := h.Call(func() {
		st = Status{
			State:     h.state.Snapshot(),
			Users:     h.reg.Users(),
			Strategy:  h.drift.Strategy(),
			NoteArmed: h.notes.Armed(),
			Drifting:  h.drift.Running(),
			Recording: h.recorder.Active(),
			Recorded:  h.recorder.Len(),
		}
	})
	return st, err
}

func (h *Hub) SetScale(name string) error {
	return h.do(func() error { return h.applyScale("", name) })
}

func (h *Hub) SetParam(key string, value float64) (float64, error) {
	var stored float64
	err := h.do(func() (err error) {
		stored, err = h.applyParam("", key, value)
		return err
	})
	return stored, err
}

func (h *Hub) SetWaveform(wave []float64) error {
	return h.do(func() error { return h.applyWaveform("", wave) })
}

func (h *Hub) Waveform() ([]float64, error) {
	var wave []float64
	err := h.Call(func() { wave = h.state.Waveform() })
	return wave, err
}

// ParamKeys returns the registered parameter keys in alphabetical order.
func (h *Hub) ParamKeys() ([]string, error) {
	var keys []string
	err := h.Call(func() { keys = h.state.Params().Keys() })
	return keys, err
}

// SetAutoNote turns autonomous notes on or off. A negative speed keeps the
// current one.
func (h *Hub) SetAutoNote(active bool, speed int) error {
	return h.do(func() error { return h.applyAutoNote("", active, speed) })
}

// SetAutoDrift turns drift on or off. An empty strategy keeps the current
// one.
func (h *Hub) SetAutoDrift(active bool, strategy auto.Strategy) error {
	return h.do(func() error {
		if strategy != "" {
			h.drift.SetStrategy(strategy)
		}
		return h.applyAutoDrift("", active)
	})
}

// ApplyPreset applies every field of the named preset, broadcasting each one.
// Nothing is applied unless the whole preset is valid.
func (h *Hub) ApplyPreset(name string) error {
	p, err := state.LookupPreset(name)
	if err != nil {
		return err
	}
	return h.do(func() error {
		if err := h.state.CheckPreset(p); err != nil {
			return err
		}
		if p.ADSR != nil {
			if err := h.applyADSR("", *p.ADSR); err != nil {
				return err
			}
		}
		if p.Scale != "" {
			if err := h.applyScale("", p.Scale); err != nil {
				return err
			}
		}
		keys := make([]string, 0, len(p.Params))
		for key := range p.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, err := h.applyParam("", key, p.Params[key]); err != nil {
				return err
			}
		}
		return nil
	})
}

// StartRecording begins a new take of note triggers.
func (h *Hub) StartRecording() error {
	return h.Call(h.recorder.Start)
}

// SaveRecording stops recording and writes the take to path. It returns the
// number of notes written. The file is written outside the loop.
func (h *Hub) SaveRecording(path string, bpm float64) (int, error) {
	var take *record.Recorder
	err := h.Call(func() {
		h.recorder.Stop()
		take = h.recorder.Take()
	})
	if err != nil {
		return 0, err
	}
	if err := take.Save(path, bpm); err != nil {
		return 0, err
	}
	return take.Len(), nil
}

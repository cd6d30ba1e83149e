package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrdg/hive/auto"
	"github.com/mrdg/hive/scale"
	"github.com/mrdg/hive/state"
)

// manualClock only runs timers when fire is called.
type manualClock struct {
	timers []*manualTimer
}

type manualTimer struct {
	f    func()
	done bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) auto.Timer {
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	was := !t.done
	t.done = true
	return was
}

func (c *manualClock) pending() int {
	var n int
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// fire runs the oldest pending timer.
func (c *manualClock) fire() bool {
	for _, t := range c.timers {
		if !t.done {
			t.done = true
			t.f()
			return true
		}
	}
	return false
}

type testRand struct {
	n int
}

func (r *testRand) Float64() float64 { return 0.5 }

func (r *testRand) Intn(n int) int {
	r.n++
	return r.n % n
}

type frame struct {
	Type string          `json:"type"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

func recv(t *testing.T, s *Session) []frame {
	t.Helper()
	var frames []frame
	s.Flush(func(msg []byte) error {
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("bad frame %s: %v", msg, err)
		}
		frames = append(frames, f)
		return nil
	})
	return frames
}

func types(frames []frame) []string {
	var typs []string
	for _, f := range frames {
		typs = append(typs, f.Type)
	}
	return typs
}

func newTestHub(t *testing.T, queueSize int) (*Hub, *manualClock) {
	t.Helper()
	st, err := state.New(scale.Default(), state.DefaultParams(), state.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := &manualClock{}
	h := New(st, Config{
		Notes:     auto.DefaultNoteConfig(),
		Drift:     auto.DefaultDriftConfig(),
		QueueSize: queueSize,
		Clock:     clock,
		Rand:      &testRand{},
	}, logrus.NewEntry(log))
	return h, clock
}

func send(h *Hub, s *Session, raw string) {
	h.handle(s, []byte(raw))
}

func TestMembership(t *testing.T) {
	h, _ := newTestHub(t, 16)

	a := h.join(nil)
	frames := recv(t, a)
	if want, got := []string{TypeInit, TypeUsers}, types(frames); !reflect.DeepEqual(want, got) {
		t.Fatalf("wrong frames: want %v, got %v", want, got)
	}
	var init initPayload
	if err := json.Unmarshal(frames[0].Data, &init); err != nil {
		t.Fatal(err)
	}
	if init.ID != a.ID || init.Color != a.Color || len(init.Color) != 6 {
		t.Errorf("wrong identity in init: %+v", init)
	}
	if want, got := "MYSTERIOUS", init.State.Scale; want != got {
		t.Errorf("wrong scale in init: want %v, got %v", want, got)
	}
	if want, got := state.WaveSize, len(init.State.Waveform); want != got {
		t.Errorf("wrong waveform size in init: want %v, got %v", want, got)
	}

	b := h.join(nil)
	if a.ID == b.ID {
		t.Fatalf("sessions share id %v", a.ID)
	}
	frames = recv(t, a)
	var users usersPayload
	if err := json.Unmarshal(frames[0].Data, &users); err != nil {
		t.Fatal(err)
	}
	if want, got := 2, users.Count; want != got {
		t.Errorf("wrong user count: want %v, got %v", want, got)
	}
	if want, got := []User{{a.ID, a.Color}, {b.ID, b.Color}}, users.Users; !reflect.DeepEqual(want, got) {
		t.Errorf("wrong users: want %v, got %v", want, got)
	}
	if want, got := []string{TypeInit, TypeUsers}, types(recv(t, b)); !reflect.DeepEqual(want, got) {
		t.Errorf("wrong frames for b: want %v, got %v", want, got)
	}

	h.leave(b)
	select {
	case <-b.Done():
	default:
		t.Errorf("session not done after leaving")
	}
	frames = recv(t, a)
	json.Unmarshal(frames[0].Data, &users)
	if want, got := 1, users.Count; want != got {
		t.Errorf("wrong user count after leave: want %v, got %v", want, got)
	}
	// leaving twice is a no-op
	h.leave(b)
	if want, got := 0, len(recv(t, a)); want != got {
		t.Errorf("second leave sent %v frames", got)
	}
}

func TestPeerSync(t *testing.T) {
	h, _ := newTestHub(t, 16)
	a, b, c := h.join(nil), h.join(nil), h.join(nil)
	for _, s := range []*Session{a, b, c} {
		recv(t, s)
	}

	send(h, a, `{"type":"update_adsr","data":{"attack":0.5,"decay":0.3,"sustain":0.8,"release":2}}`)
	if want, got := 0, len(recv(t, a)); want != got {
		t.Errorf("originator received %v frames", got)
	}
	want := state.ADSR{Attack: 0.5, Decay: 0.3, Sustain: 0.8, Release: 2}
	for _, s := range []*Session{b, c} {
		frames := recv(t, s)
		if len(frames) != 1 || frames[0].Type != TypeSyncADSR || frames[0].From != a.ID {
			t.Fatalf("wrong frames: %+v", frames)
		}
		var got state.ADSR
		json.Unmarshal(frames[0].Data, &got)
		if want != got {
			t.Errorf("wrong adsr: want %+v, got %+v", want, got)
		}
	}
	if got := h.state.ADSR(); want != got {
		t.Errorf("state not updated: want %+v, got %+v", want, got)
	}

	send(h, b, `{"type":"update_mixer","data":{"synth":-10}}`)
	if want, got := (state.Mixer{Synth: -10, Drone: -6}), h.state.Mixer(); want != got {
		t.Errorf("wrong mixer: want %+v, got %+v", want, got)
	}
	if want, got := 0, len(recv(t, b)); want != got {
		t.Errorf("originator received %v frames", got)
	}
	if want, got := []string{TypeSyncMixer}, types(recv(t, a)); !reflect.DeepEqual(want, got) {
		t.Errorf("wrong frames: want %v, got %v", want, got)
	}
}

func TestGlobal(t *testing.T) {
	h, _ := newTestHub(t, 16)
	a, b := h.join(nil), h.join(nil)
	recv(t, a)
	recv(t, b)

	send(h, a, `{"type":"update_scale","data":"MAJOR"}`)
	for _, s := range []*Session{a, b} {
		frames := recv(t, s)
		if len(frames) != 1 || frames[0].Type != TypeSyncScale || frames[0].From != a.ID {
			t.Fatalf("wrong frames: %+v", frames)
		}
		if want, got := `"MAJOR"`, string(frames[0].Data); want != got {
			t.Errorf("wrong scale: want %v, got %v", want, got)
		}
	}

	send(h, a, `{"type":"update_auto_drift","data":{"active":true}}`)
	send(h, a, `{"type":"update_auto_drift","data":{"active":false}}`)
	for _, s := range []*Session{a, b} {
		if want, got := []string{TypeSyncAutoDrift, TypeSyncAutoDrift}, types(recv(t, s)); !reflect.DeepEqual(want, got) {
			t.Errorf("wrong frames: want %v, got %v", want, got)
		}
	}

	send(h, b, `{"type":"play_note","data":{"pitch":"C4","duration":0.5,"x":0.2,"y":0.9}}`)
	for _, s := range []*Session{a, b} {
		frames := recv(t, s)
		if len(frames) != 1 || frames[0].Type != TypeTriggerNote || frames[0].From != b.ID {
			t.Fatalf("wrong frames: %+v", frames)
		}
		var note auto.Note
		json.Unmarshal(frames[0].Data, &note)
		if want, got := (auto.Note{Pitch: "C4", Duration: 0.5, X: 0.2, Y: 0.9}), note; want != got {
			t.Errorf("wrong note: want %+v, got %+v", want, got)
		}
	}
}

func TestRejectedMessages(t *testing.T) {
	h, _ := newTestHub(t, 16)
	a, b := h.join(nil), h.join(nil)
	recv(t, a)
	recv(t, b)

	wave := strings.Repeat("0,", state.WaveSize-1)
	for _, raw := range []string{
		`not json`,
		`{"type":"nope","data":1}`,
		`{"type":"update_waveform","data":[0.1,0.2]}`,
		`{"type":"update_waveform","data":[` + wave + `1.5]}`,
		`{"type":"update_waveform","data":[` + wave + `"x"]}`,
		`{"type":"update_waveform","data":null}`,
		`{"type":"update_adsr","data":{"attack":0.1,"decay":0.2,"sustain":0.5}}`,
		`{"type":"update_adsr","data":{"attack":-1,"decay":0.2,"sustain":0.5,"release":1}}`,
		`{"type":"update_mixer","data":{"drone":-3}}`,
		`{"type":"update_mixer","data":{"synth":50}}`,
		`{"type":"update_eq","data":{"low":{"freq":100,"gain":0}}}`,
		`{"type":"update_scale","data":"NOPE"}`,
		`{"type":"update_scale","data":3}`,
		`{"type":"update_auto_note","data":{"speed":10}}`,
		`{"type":"update_auto_note","data":{"active":true,"speed":101}}`,
		`{"type":"update_auto_drift","data":{}}`,
		`{"type":"update_param","data":{"key":"NOPE","value":0.5}}`,
		`{"type":"update_param","data":{"key":"CUTOFF"}}`,
		`{"type":"play_note","data":{"pitch":"H4","duration":1,"x":0,"y":0}}`,
		`{"type":"play_note","data":{"pitch":"C4","duration":0,"x":0,"y":0}}`,
		`{"type":"play_note","data":{"pitch":"C4","duration":1,"x":2,"y":0}}`,
	} {
		before := h.state.Snapshot()
		send(h, a, raw)
		if got := append(recv(t, a), recv(t, b)...); len(got) != 0 {
			t.Errorf("%s: got frames %v", raw, types(got))
		}
		if after := h.state.Snapshot(); !reflect.DeepEqual(before, after) {
			t.Errorf("%s: state changed", raw)
		}
	}
}

func TestOrdering(t *testing.T) {
	h, _ := newTestHub(t, 128)
	a, b := h.join(nil), h.join(nil)
	recv(t, a)
	recv(t, b)

	const n = 50
	for i := 0; i < n; i++ {
		v, _ := json.Marshal(paramPayload{Key: state.ParamCutoff, Value: float64(i) / n})
		send(h, a, `{"type":"update_param","data":`+string(v)+`}`)
	}
	frames := recv(t, b)
	if want, got := n, len(frames); want != got {
		t.Fatalf("wrong number of frames: want %v, got %v", want, got)
	}
	for i, f := range frames {
		var p paramPayload
		json.Unmarshal(f.Data, &p)
		if want, got := float64(i)/n, p.Value; want != got {
			t.Errorf("frame %d out of order: want %v, got %v", i, want, got)
		}
	}
}

func TestParamClamped(t *testing.T) {
	h, _ := newTestHub(t, 16)
	a, b := h.join(nil), h.join(nil)
	recv(t, a)
	recv(t, b)

	send(h, a, `{"type":"update_param","data":{"key":"UNISON_VOICES","value":9.4}}`)
	frames := recv(t, b)
	if len(frames) != 1 {
		t.Fatalf("wrong frames: %v", types(frames))
	}
	var p paramPayload
	json.Unmarshal(frames[0].Data, &p)
	if want, got := (paramPayload{Key: state.ParamUnisonVoices, Value: 5}), p; want != got {
		t.Errorf("wrong param: want %+v, got %+v", want, got)
	}
}

func TestSlowSessionKicked(t *testing.T) {
	h, _ := newTestHub(t, 4)
	var kicked int
	a := h.join(nil)
	b := h.join(func() { kicked++ })
	recv(t, a)

	for i := 0; i < 5; i++ {
		send(h, a, `{"type":"update_param","data":{"key":"CUTOFF","value":0.1}}`)
	}
	if want, got := 1, kicked; want != got {
		t.Errorf("wrong number of kicks: want %v, got %v", want, got)
	}
	if !b.dead {
		t.Errorf("slow session still alive")
	}

	send(h, b, `{"type":"update_scale","data":"MAJOR"}`)
	if want, got := "MYSTERIOUS", h.state.Scale(); want != got {
		t.Errorf("message from kicked session was applied")
	}

	h.leave(b)
	frames := recv(t, a)
	if want, got := []string{TypeUsers}, types(frames); !reflect.DeepEqual(want, got) {
		t.Errorf("wrong frames: want %v, got %v", want, got)
	}
}

func TestAutoNoteToggle(t *testing.T) {
	h, clock := newTestHub(t, 16)
	a := h.join(nil)
	recv(t, a)

	send(h, a, `{"type":"update_auto_note","data":{"active":true,"speed":99.6}}`)
	frames := recv(t, a)
	if want, got := []string{TypeSyncAutoNote, TypeTriggerNote}, types(frames); !reflect.DeepEqual(want, got) {
		t.Fatalf("wrong frames: want %v, got %v", want, got)
	}
	if want, got := auto.Originator, frames[1].From; want != got {
		t.Errorf("wrong originator: want %v, got %v", want, got)
	}
	if want, got := (state.AutoNote{Active: true, Speed: 100}), h.state.AutoNote(); want != got {
		t.Errorf("wrong setting: want %+v, got %+v", want, got)
	}
	if want, got := 1, clock.pending(); want != got {
		t.Fatalf("wrong number of pending timers: want %v, got %v", want, got)
	}

	clock.fire()
	if want, got := []string{TypeTriggerNote}, types(recv(t, a)); !reflect.DeepEqual(want, got) {
		t.Errorf("wrong frames: want %v, got %v", want, got)
	}

	send(h, a, `{"type":"update_auto_note","data":{"active":false}}`)
	if want, got := []string{TypeSyncAutoNote}, types(recv(t, a)); !reflect.DeepEqual(want, got) {
		t.Errorf("wrong frames: want %v, got %v", want, got)
	}
	if want, got := 0, clock.pending(); want != got {
		t.Errorf("timer still pending after disable")
	}
	if want, got := 100, h.state.AutoNote().Speed; want != got {
		t.Errorf("speed not kept: want %v, got %v", want, got)
	}
}

func TestAutoDrift(t *testing.T) {
	h, clock := newTestHub(t, 16)
	a := h.join(nil)
	recv(t, a)

	send(h, a, `{"type":"update_auto_drift","data":{"active":true}}`)
	if want, got := []string{TypeSyncAutoDrift}, types(recv(t, a)); !reflect.DeepEqual(want, got) {
		t.Fatalf("wrong frames: want %v, got %v", want, got)
	}

	var all []frame
	for i := 0; i < 4; i++ {
		clock.fire()
		all = append(all, recv(t, a)...)
	}
	// the fourth tick corrupts the waveform
	want := []string{TypeSyncParams, TypeSyncParams, TypeSyncParams, TypeSyncParams, TypeSyncWaveform}
	if got := types(all); !reflect.DeepEqual(want, got) {
		t.Fatalf("wrong frames: want %v, got %v", want, got)
	}
	var params map[string]float64
	json.Unmarshal(all[0].Data, &params)
	if want, got := len(state.DefaultParams()), len(params); want != got {
		t.Errorf("wrong number of params: want %v, got %v", want, got)
	}
	for _, f := range all {
		if f.From != auto.Originator {
			t.Errorf("wrong originator: %v", f.From)
		}
	}

	send(h, a, `{"type":"update_auto_drift","data":{"active":false}}`)
	if want, got := 0, clock.pending(); want != got {
		t.Errorf("drift still running")
	}
}

func TestConsoleControls(t *testing.T) {
	h, _ := newTestHub(t, 64)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	s, err := h.Connect(nil)
	if err != nil {
		t.Fatal(err)
	}
	recv(t, s)

	if err := h.SetScale("MAJOR"); err != nil {
		t.Fatal(err)
	}
	frames := recv(t, s)
	if len(frames) != 1 || frames[0].Type != TypeSyncScale || frames[0].From != "" {
		t.Errorf("wrong frames: %+v", frames)
	}
	if err := h.SetScale("NOPE"); !state.IsUnknown(err) {
		t.Errorf("expected unknown scale error, got %v", err)
	}

	v, err := h.SetParam(state.ParamUnisonVoices, 3.6)
	if err != nil {
		t.Fatal(err)
	}
	if want, got := 4.0, v; want != got {
		t.Errorf("wrong value: want %v, got %v", want, got)
	}
	if want, got := []string{TypeSyncParam}, types(recv(t, s)); !reflect.DeepEqual(want, got) {
		t.Errorf("wrong frames: want %v, got %v", want, got)
	}

	if err := h.ApplyPreset("glass-pad"); err != nil {
		t.Fatal(err)
	}
	want := []string{TypeSyncADSR, TypeSyncScale, TypeSyncParam, TypeSyncParam, TypeSyncParam}
	if got := types(recv(t, s)); !reflect.DeepEqual(want, got) {
		t.Errorf("wrong frames: want %v, got %v", want, got)
	}
	if err := h.ApplyPreset("nope"); !state.IsUnknown(err) {
		t.Errorf("expected unknown preset error, got %v", err)
	}

	if err := h.SetAutoNote(true, 80); err != nil {
		t.Fatal(err)
	}
	status, err := h.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !status.NoteArmed || status.State.AutoNote != (state.AutoNote{Active: true, Speed: 80}) {
		t.Errorf("auto notes not running: %+v", status)
	}
	h.SetAutoNote(false, -1)
	h.SetAutoDrift(true, auto.Oscillator)
	status, _ = h.Status()
	if status.NoteArmed || status.State.AutoNote.Speed != 80 {
		t.Errorf("auto notes still running: %+v", status)
	}
	if !status.Drifting || status.Strategy != auto.Oscillator {
		t.Errorf("drift not running: %+v", status)
	}
	h.SetAutoDrift(false, "")

	if err := h.StartRecording(); err != nil {
		t.Fatal(err)
	}
	h.Receive(s, []byte(`{"type":"play_note","data":{"pitch":"A4","duration":1,"x":0,"y":0}}`))
	status, _ = h.Status()
	if want, got := 1, status.Recorded; want != got {
		t.Errorf("wrong number of recorded notes: want %v, got %v", want, got)
	}
	n, err := h.SaveRecording(filepath.Join(t.TempDir(), "take.mid"), 100)
	if err != nil {
		t.Fatal(err)
	}
	if want, got := 1, n; want != got {
		t.Errorf("wrong number of saved notes: want %v, got %v", want, got)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error from Run: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Errorf("session not closed on shutdown")
	}
	if err := h.SetScale("MINOR"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestApplyPresetAllOrNothing(t *testing.T) {
	state.Presets["half-broken"] = state.Preset{
		ADSR:   &state.ADSR{Attack: 3, Decay: 3, Sustain: 0.1, Release: 3},
		Scale:  "NOPE",
		Params: map[string]float64{state.ParamCutoff: 200},
	}
	t.Cleanup(func() { delete(state.Presets, "half-broken") })

	h, _ := newTestHub(t, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	s, err := h.Connect(nil)
	if err != nil {
		t.Fatal(err)
	}
	recv(t, s)
	before, err := h.Status()
	if err != nil {
		t.Fatal(err)
	}

	if err := h.ApplyPreset("half-broken"); !state.IsUnknown(err) {
		t.Errorf("expected unknown scale error, got %v", err)
	}
	if frames := recv(t, s); len(frames) != 0 {
		t.Errorf("rejected preset was broadcast: %v", types(frames))
	}
	after, err := h.Status()
	if err != nil {
		t.Fatal(err)
	}
	if want, got := before.State, after.State; !reflect.DeepEqual(want, got) {
		t.Errorf("rejected preset changed state: want %+v, got %+v", want, got)
	}
}

func TestSaveRecordingError(t *testing.T) {
	h, _ := newTestHub(t, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	s, err := h.Connect(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.StartRecording(); err != nil {
		t.Fatal(err)
	}
	h.Receive(s, []byte(`{"type":"play_note","data":{"pitch":"A4","duration":1,"x":0,"y":0}}`))

	path := filepath.Join(t.TempDir(), "missing", "take.mid")
	n, err := h.SaveRecording(path, 120)
	if err == nil {
		t.Fatalf("expected an error writing to %s", path)
	}
	if want, got := 0, n; want != got {
		t.Errorf("wrong number of saved notes: want %v, got %v", want, got)
	}

	// the loop keeps serving after a failed write and the take is kept
	status, err := h.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status.Recording {
		t.Errorf("still recording after save")
	}
	if want, got := 1, status.Recorded; want != got {
		t.Errorf("wrong number of recorded notes: want %v, got %v", want, got)
	}
	n, err = h.SaveRecording(filepath.Join(t.TempDir(), "take.mid"), 120)
	if err != nil {
		t.Fatal(err)
	}
	if want, got := 1, n; want != got {
		t.Errorf("wrong number of saved notes: want %v, got %v", want, got)
	}
}

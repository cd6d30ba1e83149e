package record

import (
	"path/filepath"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRecorder(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	r := New(clock.now)

	if err := r.Note("C4", 0.5); err != nil {
		t.Fatal(err)
	}
	if want, got := 0, r.Len(); want != got {
		t.Errorf("recorded while inactive: %v notes", got)
	}

	r.Start()
	r.Note("C4", 0.5)
	clock.advance(250 * time.Millisecond)
	r.Note("E4", 1)
	clock.advance(250 * time.Millisecond)
	r.Note("C4", 0.1)
	if err := r.Note("nope", 1); err == nil {
		t.Errorf("expected error for an invalid pitch")
	}
	r.Stop()
	r.Note("G4", 1)

	if want, got := 3, r.Len(); want != got {
		t.Fatalf("wrong number of notes: want %v, got %v", want, got)
	}

	path := filepath.Join(t.TempDir(), "take.mid")
	if err := r.Save(path, 120); err != nil {
		t.Fatal(err)
	}
	rd, err := smf.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want, got := 2, len(rd.Tracks); want != got {
		t.Fatalf("wrong number of tracks: want %v, got %v", want, got)
	}
	if tempos := rd.TempoChanges(); len(tempos) == 0 || tempos[0].BPM != 120 {
		t.Errorf("wrong tempo: %+v", tempos)
	}

	var keys []uint8
	var tick uint32
	var onTicks []uint32
	for _, ev := range rd.Tracks[1] {
		tick += ev.Delta
		var ch, key, vel uint8
		if midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel) {
			keys = append(keys, key)
			onTicks = append(onTicks, tick)
		}
	}
	if want, got := []uint8{60, 64, 60}, keys; string(want) != string(got) {
		t.Errorf("wrong keys: want %v, got %v", want, got)
	}
	// 250ms at 120bpm is half a beat
	if want, got := []uint32{0, Resolution / 2, Resolution}, onTicks; len(got) != 3 || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("wrong note positions: want %v, got %v", want, got)
	}
}

func TestRecorderStartDiscards(t *testing.T) {
	r := New(nil)
	r.Start()
	r.Note("A4", 1)
	r.Start()
	if want, got := 0, r.Len(); want != got {
		t.Errorf("new take kept %v old notes", got)
	}
	if err := r.Write(nil, 0); err == nil {
		t.Errorf("expected error for zero tempo")
	}
}

func TestTake(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	r := New(clock.now)
	r.Start()
	r.Note("C4", 0.5)

	take := r.Take()
	if take.Active() {
		t.Errorf("take is active")
	}
	r.Note("E4", 0.5)
	r.Start()
	if want, got := 1, take.Len(); want != got {
		t.Errorf("take changed with the recorder: want %v notes, got %v", want, got)
	}
	take.Note("G4", 1)
	if want, got := 1, take.Len(); want != got {
		t.Errorf("inactive take recorded a note: %v notes", got)
	}
	if err := take.Save(filepath.Join(t.TempDir(), "take.mid"), 120); err != nil {
		t.Fatal(err)
	}
}

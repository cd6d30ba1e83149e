package hub

import (
	"encoding/json"

	"github.com/mrdg/hive/state"
)

// Message types sent by sessions.
const (
	TypePlayNote        = "play_note"
	TypeUpdateWaveform  = "update_waveform"
	TypeUpdateADSR      = "update_adsr"
	TypeUpdateMixer     = "update_mixer"
	TypeUpdateEQ        = "update_eq"
	TypeUpdateScale     = "update_scale"
	TypeUpdateAutoNote  = "update_auto_note"
	TypeUpdateAutoDrift = "update_auto_drift"
	TypeUpdateParam     = "update_param"
)

// Message types sent by the server.
const (
	TypeInit          = "init"
	TypeUsers         = "users"
	TypeTriggerNote   = "trigger_note"
	TypeSyncWaveform  = "sync_waveform"
	TypeSyncADSR      = "sync_adsr"
	TypeSyncMixer     = "sync_mixer"
	TypeSyncEQ        = "sync_eq"
	TypeSyncScale     = "sync_scale"
	TypeSyncAutoNote  = "sync_auto_note"
	TypeSyncAutoDrift = "sync_auto_drift"
	TypeSyncParam     = "sync_param"
	TypeSyncParams    = "sync_params"
)

// inbound is a frame received from a session.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is a frame sent to sessions. From is the id of the session that
// caused it, "auto" for generated events and empty for server edits.
type Message struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	Data any    `json:"data"`
}

type User struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

type usersPayload struct {
	Count int    `json:"count"`
	Users []User `json:"users"`
}

type initPayload struct {
	ID    string         `json:"id"`
	Color string         `json:"color"`
	State state.Snapshot `json:"state"`
	Users []User         `json:"users"`
}

type paramPayload struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Inbound payloads use pointers so missing fields can be told apart from
// zero values.
type (
	adsrUpdate struct {
		Attack  *float64 `json:"attack"`
		Decay   *float64 `json:"decay"`
		Sustain *float64 `json:"sustain"`
		Release *float64 `json:"release"`
	}

	mixerUpdate struct {
		Synth *float64 `json:"synth"`
		Drone *float64 `json:"drone"`
	}

	bandUpdate struct {
		Freq *float64 `json:"freq"`
		Gain *float64 `json:"gain"`
	}

	eqUpdate struct {
		Low  *bandUpdate `json:"low"`
		Mid  *bandUpdate `json:"mid"`
		High *bandUpdate `json:"high"`
	}

	autoNoteUpdate struct {
		Active *bool    `json:"active"`
		Speed  *float64 `json:"speed"`
	}

	autoDriftUpdate struct {
		Active *bool `json:"active"`
	}

	paramUpdate struct {
		Key   *string  `json:"key"`
		Value *float64 `json:"value"`
	}

	noteUpdate struct {
		Pitch    *string  `json:"pitch"`
		Duration *float64 `json:"duration"`
		X        float64  `json:"x"`
		Y        float64  `json:"y"`
	}
)

package hub

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Policy selects the sessions a message is delivered to.
type Policy int

const (
	// PeerSync delivers to every session except the originator.
	PeerSync Policy = iota
	// Global delivers to every session, the originator included.
	Global
)

func (p Policy) String() string {
	if p == Global {
		return "global"
	}
	return "peer-sync"
}

// Relay fans messages out to the sessions of a registry. Every message is
// encoded once and queued in registry order, so messages from a single
// originator reach each peer in the order they were sent.
type Relay struct {
	reg *Registry
	log *logrus.Entry
}

// Send queues a message for the sessions selected by policy and returns the
// number of sessions it was queued for.
func (r *Relay) Send(policy Policy, from, typ string, data any) int {
	msg, err := json.Marshal(Message{Type: typ, From: from, Data: data})
	if err != nil {
		r.log.WithError(err).WithField("type", typ).Error("could not encode message")
		return 0
	}
	var n int
	r.reg.each(func(s *Session) {
		if policy == PeerSync && s.ID == from {
			return
		}
		if r.deliver(s, msg) {
			n++
		}
	})
	return n
}

// To queues a message for a single session.
func (r *Relay) To(s *Session, typ string, data any) bool {
	msg, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		r.log.WithError(err).WithField("type", typ).Error("could not encode message")
		return false
	}
	return r.deliver(s, msg)
}

func (r *Relay) deliver(s *Session, msg []byte) bool {
	if s.dead {
		return false
	}
	if !s.out.push(msg) {
		r.log.WithField("session", s.ID).Warn("outbound queue full, dropping session")
		s.dead = true
		if s.kick != nil {
			s.kick()
		}
		return false
	}
	return true
}

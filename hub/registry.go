package hub

import (
	"fmt"
)

// Session is a connected client.
type Session struct {
	ID    string
	Color string

	out  *queue
	kick func()
	gone chan struct{}
	dead bool
}

// Done is closed when the session has left the hub.
func (s *Session) Done() <-chan struct{} {
	return s.gone
}

// Ready receives a value whenever messages have been queued for the session.
func (s *Session) Ready() <-chan struct{} {
	return s.out.ready
}

// Flush writes all queued messages using write, stopping at the first error.
// It must only be called from a single goroutine.
func (s *Session) Flush(write func([]byte) error) error {
	return s.out.drain(write)
}

// Registry is the set of connected sessions, in the order they joined.
type Registry struct {
	sessions []*Session
}

func (r *Registry) Add(s *Session) {
	r.sessions = append(r.sessions, s)
}

// Remove deletes the session with the given id and reports whether it was
// present.
func (r *Registry) Remove(id string) bool {
	for i, s := range r.sessions {
		if s.ID == id {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Get(id string) (*Session, bool) {
	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

func (r *Registry) Users() []User {
	users := make([]User, 0, len(r.sessions))
	for _, s := range r.sessions {
		users = append(users, User{ID: s.ID, Color: s.Color})
	}
	return users
}

func (r *Registry) each(f func(*Session)) {
	for _, s := range r.sessions {
		f(s)
	}
}

func randomColor(n int) string {
	return fmt.Sprintf("%06x", n&0xffffff)
}

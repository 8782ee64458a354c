package app

import (
	"context"
	"sync"

	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session *session.Session
	Cancel  context.CancelFunc
}

// Registry tracks the live connections of this process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.ConnID]*sessionEntry)}
}

// Bind registers sess under its connection id. Ids are fresh per socket, so
// an existing entry can only be a stale one; it is cancelled and replaced.
func (r *Registry) Bind(id core.ConnID, sess *session.Session, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[id]; ok && old.Cancel != nil {
		old.Cancel()
	}
	r.sessions[id] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("bound session")
}

// Unbind removes id only if it still points at sess.
func (r *Registry) Unbind(id core.ConnID, sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok && e.Session == sess {
		delete(r.sessions, id)
		log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("unbind session")
	}
}

func (r *Registry) Get(id core.ConnID) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("canceled session")
	return true
}

// CancelAll stops every connection, used on shutdown.
func (r *Registry) CancelAll() int {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		if e.Cancel != nil {
			e.Cancel()
		}
	}
	return len(entries)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

type Stats struct {
	Connections   int                     `json:"connections"`
	Authenticated int                     `json:"authenticated"`
	Rooms         map[domain.RoomName]int `json:"rooms"`
	InVideo       int                     `json:"in_video"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Connections: len(r.sessions), Rooms: make(map[domain.RoomName]int)}
	for _, e := range r.sessions {
		if e.Session.Identity() != nil {
			st.Authenticated++
		}
		if room := e.Session.Room(); room != "" {
			st.Rooms[room]++
		}
		if e.Session.Video() != "" {
			st.InVideo++
		}
	}
	return st
}

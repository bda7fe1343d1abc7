package app

import (
	"context"
	"sync"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// sessionEntry is the relay's view of one connection. mu serialises
// join/leave/disconnect for that connection.
type sessionEntry struct {
	mu       sync.Mutex
	room     domain.RoomName
	released bool

	Session core.MemberSession
	Cancel  context.CancelFunc
	Client  string
}

// Registry is the table of open connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ConnectionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sess core.MemberSession, cancel context.CancelFunc, client string) {
	e := &sessionEntry{Session: sess, Cancel: cancel, Client: client}
	r.mu.Lock()
	r.sessions[sess.ID()] = e
	r.mu.Unlock()
	log.Debug().Str("module", "app.registry").Str("cid", string(sess.ID())).Str("client", client).Msg("bound session")
}

func (r *Registry) get(id domain.ConnectionID) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

func (r *Registry) GetSession(id domain.ConnectionID) (core.MemberSession, bool) {
	if e, ok := r.get(id); ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes id and returns its entry. Only the first call for an id
// gets ok == true.
func (r *Registry) Unbind(id domain.ConnectionID) (*sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		log.Debug().Str("module", "app.registry").Str("cid", string(id)).Msg("unbind session")
	}
	return e, ok
}

func (r *Registry) RoomOf(id domain.ConnectionID) (domain.RoomName, bool) {
	e, ok := r.get(id)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room, e.room != ""
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel stops the connection's pumps; the transport adapter then runs the
// normal disconnect path.
func (r *Registry) Cancel(id domain.ConnectionID) bool {
	e, ok := r.get(id)
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(id)).Msg("canceled session")
	return true
}

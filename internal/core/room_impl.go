package core

import (
	"errors"
	"sync"

	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	members map[domain.ConnectionID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		members: make(map[domain.ConnectionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Has(id domain.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

func (r *roomImpl) Members() []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnectionID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

func (r *roomImpl) AddMember(ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[ms.ID()] = ms
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("cid", string(ms.ID())).Msg("member added")
}

func (r *roomImpl) RemoveMember(id domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("cid", string(id)).Msg("member removed")
	return true
}

// Broadcast delivers data to every member except from. Members are
// snapshotted first so sends never run under the room lock.
func (r *roomImpl) Broadcast(from domain.ConnectionID, data Frame) PublishResult {
	r.mu.RLock()
	targets := make([]MemberSession, 0, len(r.members))
	for id, m := range r.members {
		if id == from {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.RUnlock()

	res := PublishResult{}
	for _, m := range targets {
		conn := m.Signal()
		if conn.State() != domain.StateOpen {
			res.Skipped++
			continue
		}
		if err := conn.TrySend(data); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				res.Skipped++
				continue
			}
			log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.room.Name)).Str("to", string(m.ID())).Msg("send failed")
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("skipped", res.Skipped).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

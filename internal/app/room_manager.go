package app

import (
	"sort"
	"sync"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl guards the room map with a single mutex held across
// create+add and remove+delete, so a join never lands in a room that a
// concurrent leave has just dropped.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomName]core.RoomService)}
}

func (f *RoomManagerImpl) Join(name domain.RoomName, ms core.MemberSession) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok {
		room = core.NewRoomService(&domain.Room{Name: name})
		f.rooms[name] = room
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	}
	room.AddMember(ms)
	return !ok
}

func (f *RoomManagerImpl) Leave(name domain.RoomName, id domain.ConnectionID) (removed, deleted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok {
		return false, false
	}
	removed = room.RemoveMember(id)
	if room.MemberCount() == 0 {
		delete(f.rooms, name)
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room deleted")
		deleted = true
	}
	return removed, deleted
}

func (f *RoomManagerImpl) Get(name domain.RoomName) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[name]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for name, r := range f.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package core

import (
	"github.com/dkeye/sigrelay/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Skipped int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Members() []domain.ConnectionID
	Has(id domain.ConnectionID) bool

	AddMember(ms MemberSession)
	// RemoveMember reports whether id was a member.
	RemoveMember(id domain.ConnectionID) bool
	Broadcast(from domain.ConnectionID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

// RoomManager is the process-wide mapping from room name to room. Rooms are
// created by the first Join and removed by the Leave that empties them.
type RoomManager interface {
	// Join adds ms to the named room, creating it if needed.
	Join(name domain.RoomName, ms MemberSession) (created bool)
	// Leave removes id from the named room and drops the room once empty.
	Leave(name domain.RoomName, id domain.ConnectionID) (removed, deleted bool)
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
}

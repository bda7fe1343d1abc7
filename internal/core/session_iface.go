package core

import "github.com/dkeye/sigrelay/internal/domain"

// MemberSession binds a connection id and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() domain.ConnectionID
	Signal() SignalConnection
}

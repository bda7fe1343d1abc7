package core

import "github.com/dkeye/sigrelay/internal/domain"

type memberSession struct {
	id   domain.ConnectionID
	conn SignalConnection
}

func NewMemberSession(id domain.ConnectionID, conn SignalConnection) MemberSession {
	return &memberSession{id: id, conn: conn}
}

func (m *memberSession) ID() domain.ConnectionID  { return m.id }
func (m *memberSession) Signal() SignalConnection { return m.conn }

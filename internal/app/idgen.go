package app

import (
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/google/uuid"
)

// IDGenerator returns an id unique among open connections.
type IDGenerator func() domain.ConnectionID

func UUIDGenerator() domain.ConnectionID {
	return domain.ConnectionID(uuid.NewString())
}

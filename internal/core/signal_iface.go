package core

import (
	"errors"

	"github.com/dkeye/sigrelay/internal/domain"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is a single encoded envelope.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It fails with ErrBackpressure when the
	// outbound queue is full and ErrConnectionClosed once the connection left
	// the Open state.
	TrySend(Frame) error
	State() domain.ConnState
	Close()
}

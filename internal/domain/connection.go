// Package domain contains entities without logic, just meta-data
package domain

type ConnectionID string

// ConnState is the liveness of a signaling connection.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

package app

import (
	"fmt"

	"github.com/dkeye/sigrelay/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose outbound queue rejected a
// forwarded frame. Dropped frames are never retried.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects members that cannot keep up.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}

// PolicyByName maps the `backpressure` config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}

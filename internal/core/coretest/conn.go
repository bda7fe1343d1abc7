// Package coretest provides an in-memory core.SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
)

// Conn records every frame it accepts.
type Conn struct {
	mu     sync.Mutex
	state  domain.ConnState
	frames []core.Frame
	// Fail, when set, is returned from TrySend instead of recording the frame.
	Fail error
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateOpen {
		return core.ErrConnectionClosed
	}
	if c.Fail != nil {
		return c.Fail
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *Conn) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState forces the liveness state without closing, to model a member
// whose close has not been reaped yet.
func (c *Conn) SetState(s domain.ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) Close() { c.SetState(domain.StateClosed) }

func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

// Messages decodes every recorded frame into a generic map.
func (c *Conn) Messages() []map[string]any {
	frames := c.Frames()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			m = map[string]any{"_raw": string(f)}
		}
		out = append(out, m)
	}
	return out
}

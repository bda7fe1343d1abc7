package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/metrics"
)

// Relay routes signaling envelopes between the members of a room.
type Relay struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
	Metrics  *metrics.Metrics
	NewID    IDGenerator
}

// NewRelay wires a Relay with an empty registry and room map.
func NewRelay(policy Policy, m *metrics.Metrics) *Relay {
	if policy == nil {
		policy = DropPolicy{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Relay{
		Registry: NewRegistry(),
		Rooms:    NewRoomManager(),
		Policy:   policy,
		Metrics:  m,
		NewID:    UUIDGenerator,
	}
}

// Accept registers a new connection outside of any room. cancel, if set, is
// invoked when the relay kicks the connection.
func (r *Relay) Accept(conn core.SignalConnection, cancel context.CancelFunc, client string) domain.ConnectionID {
	id := r.NewID()
	r.Registry.Bind(core.NewMemberSession(id, conn), cancel, client)
	r.Metrics.Inc(metrics.ConnectionsAccepted)
	log.Info().Str("module", "app.relay").Str("cid", string(id)).Str("client", client).Msg("connection accepted")
	return id
}

// HandleMessage processes one inbound frame from id.
func (r *Relay) HandleMessage(id domain.ConnectionID, data []byte) {
	e, ok := r.Registry.get(id)
	if !ok {
		return
	}

	var in domain.Inbound
	if err := decode(data, &in); err != nil {
		log.Debug().Err(err).Str("module", "app.relay").Str("cid", string(id)).Msg("bad envelope")
		r.Metrics.Inc(metrics.MessagesInvalid)
		r.reply(e.Session, domain.Error{Type: domain.TypeError, Message: domain.InvalidMessageFormat})
		return
	}

	switch in.Type {
	case domain.TypeJoin:
		if in.Room == "" {
			r.Metrics.Inc(metrics.MessagesInvalid)
			r.reply(e.Session, domain.Error{Type: domain.TypeError, Message: domain.InvalidMessageFormat})
			return
		}
		r.Join(id, in.Room)
	case domain.TypeLeave:
		r.Leave(id)
	default:
		if _, ok := domain.ForwardType(in.Type); ok {
			r.Forward(id, in)
			return
		}
		r.Metrics.Inc(metrics.MessagesUnknown)
		log.Debug().Str("module", "app.relay").Str("cid", string(id)).Str("type", in.Type).Msg("unknown message type")
	}
}

// decode accepts only JSON objects. Keys are matched exactly, so "Type" or
// "SDP" are unknown fields rather than aliases.
func decode(data []byte, in *domain.Inbound) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	if err := decodeField(fields, "type", &in.Type); err != nil {
		return err
	}
	if err := decodeField(fields, "room", &in.Room); err != nil {
		return err
	}
	in.SDP = fields["sdp"]
	in.Candidate = fields["candidate"]
	return nil
}

func decodeField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	return nil
}

// ControlFrame reports whether data is a join or leave envelope.
// Transports keep these out of inbound rate limits.
func ControlFrame(data []byte) bool {
	var in domain.Inbound
	if decode(data, &in) != nil {
		return false
	}
	return in.Type == domain.TypeJoin || in.Type == domain.TypeLeave
}

// Join moves id into room. A connection is a member of at most one room, so
// joining a different room leaves the current one first.
func (r *Relay) Join(id domain.ConnectionID, room domain.RoomName) {
	e, ok := r.Registry.get(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	if e.room != "" && e.room != room {
		r.leaveLocked(e)
	}
	// joined is queued before the member is visible to the room, so it is
	// always the first frame the joiner gets from it.
	r.reply(e.Session, domain.Joined{Type: domain.TypeJoined, Room: room, ClientID: id})
	if r.Rooms.Join(room, e.Session) {
		r.Metrics.Inc(metrics.RoomsCreated)
	}
	e.room = room
	e.mu.Unlock()

	log.Info().Str("module", "app.relay").Str("cid", string(id)).Str("room", string(room)).Msg("joined")
}

// Leave removes id from its current room, if any.
func (r *Relay) Leave(id domain.ConnectionID) {
	e, ok := r.Registry.get(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == "" {
		return
	}
	log.Info().Str("module", "app.relay").Str("cid", string(id)).Str("room", string(e.room)).Msg("left")
	r.leaveLocked(e)
}

func (r *Relay) leaveLocked(e *sessionEntry) {
	if _, deleted := r.Rooms.Leave(e.room, e.Session.ID()); deleted {
		r.Metrics.Inc(metrics.RoomsDeleted)
	}
	e.room = ""
}

// Disconnect leaves the current room and releases the connection. Only the
// first call for an id has any effect.
func (r *Relay) Disconnect(id domain.ConnectionID) {
	e, ok := r.Registry.Unbind(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.released = true
	if e.room != "" {
		r.leaveLocked(e)
	}
	e.mu.Unlock()
	r.Metrics.Inc(metrics.ConnectionsClosed)
	log.Info().Str("module", "app.relay").Str("cid", string(id)).Msg("connection released")
}

// Forward broadcasts a passthrough envelope from id to the rest of its room.
// A sender with no room, or whose room is gone, is a no-op.
func (r *Relay) Forward(id domain.ConnectionID, in domain.Inbound) {
	wireType, ok := domain.ForwardType(in.Type)
	if !ok {
		return
	}
	roomName, ok := r.Registry.RoomOf(id)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("cid", string(id)).Str("type", in.Type).Msg("forward without room")
		return
	}

	out := domain.Forwarded{Type: wireType, From: id}
	switch in.Type {
	case domain.TypeOffer, domain.TypeAnswer:
		out.SDP = in.SDP
	case domain.TypeICECandidate:
		out.Candidate = in.Candidate
	}
	r.Broadcast(roomName, id, out)
}

// Broadcast sends v to every open member of room except exclude.
func (r *Relay) Broadcast(room domain.RoomName, exclude domain.ConnectionID, v any) core.PublishResult {
	rs, ok := r.Rooms.Get(room)
	if !ok {
		return core.PublishResult{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("broadcast marshal")
		return core.PublishResult{}
	}

	res := rs.Broadcast(exclude, b)
	r.Metrics.Inc(metrics.MessagesForwarded)
	r.Metrics.Add(metrics.FramesDelivered, uint64(res.SendTo))
	r.Metrics.Add(metrics.FramesSkipped, uint64(res.Skipped))
	r.Metrics.Add(metrics.FramesDropped, uint64(len(res.Dropped)))

	if r.Policy == nil {
		return res
	}
	for _, slow := range res.Dropped {
		switch r.Policy.OnBackPressure(rs, slow) {
		case KickMember:
			r.Kick(slow.ID())
		case DropFrame, NoAction:
		}
	}
	return res
}

// Kick closes a connection from the server side. Cleanup still runs through
// Disconnect once the transport notices.
func (r *Relay) Kick(id domain.ConnectionID) {
	sess, ok := r.Registry.GetSession(id)
	if !ok {
		return
	}
	r.Metrics.Inc(metrics.MembersKicked)
	log.Warn().Str("module", "app.relay").Str("cid", string(id)).Msg("kicking member")
	r.Registry.Cancel(id)
	sess.Signal().Close()
}

func (r *Relay) reply(sess core.MemberSession, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("reply marshal")
		return
	}
	if err := sess.Signal().TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("cid", string(sess.ID())).Msg("reply dropped")
	}
}

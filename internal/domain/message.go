package domain

import "encoding/json"

// Inbound message types.
const (
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeCallAccepted = "call-accepted"
	TypeCallEnded    = "call-ended"
	TypeReject       = "reject"
)

// Outbound message types.
const (
	TypeJoined       = "joined"
	TypeError        = "error"
	TypeCallRejected = "call-rejected"
)

const InvalidMessageFormat = "Invalid message format"

// Inbound is a client envelope. Sdp and Candidate are kept raw so they are
// forwarded exactly as received.
type Inbound struct {
	Type      string          `json:"type"`
	Room      RoomName        `json:"room,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type Joined struct {
	Type     string       `json:"type"`
	Room     RoomName     `json:"room"`
	ClientID ConnectionID `json:"clientId"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Forwarded is what the other members of a room receive.
type Forwarded struct {
	Type      string          `json:"type"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      ConnectionID    `json:"from"`
}

// ForwardType maps an inbound passthrough type to the type sent on the wire.
// ok is false for types that are not forwarded.
func ForwardType(inbound string) (string, bool) {
	switch inbound {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeCallAccepted, TypeCallEnded:
		return inbound, true
	case TypeReject:
		return TypeCallRejected, true
	default:
		return "", false
	}
}

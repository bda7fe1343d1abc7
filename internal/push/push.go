// Package push delivers call notifications to devices that are not connected
// to the relay. The relay never calls it; the hosting service does.
package push

import (
	"context"
	"errors"
)

const (
	TypeIncomingCall = "incoming_call"
	TypeCallCancel   = "call_cancel"

	incomingCallChannel = "incoming_call_channel"
	callCategory        = "CALL_CATEGORY"
)

var (
	ErrInvalidToken = errors.New("push: invalid device token")
	ErrMissingCall  = errors.New("push: missing call id")
)

// Notifier sends call events. Delivery is best-effort.
type Notifier interface {
	IncomingCall(ctx context.Context, token string, call IncomingCall) error
	CallCancel(ctx context.Context, token, callID string) error
}

type IncomingCall struct {
	CallID       string `json:"callId" binding:"required"`
	CallerName   string `json:"callerName" binding:"required"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
}

// Message is the provider-neutral form of a push.
type Message struct {
	Token string
	Data  map[string]string
	// Channel and Category are the Android channel and APNs category, if any.
	Channel  string
	Category string
}

func NewIncomingCall(token string, call IncomingCall) (Message, error) {
	if token == "" {
		return Message{}, ErrInvalidToken
	}
	if call.CallID == "" {
		return Message{}, ErrMissingCall
	}
	data := map[string]string{
		"type":       TypeIncomingCall,
		"callId":     call.CallID,
		"callerName": call.CallerName,
	}
	if call.CallerAvatar != "" {
		data["callerAvatar"] = call.CallerAvatar
	}
	return Message{Token: token, Data: data, Channel: incomingCallChannel, Category: callCategory}, nil
}

func NewCallCancel(token, callID string) (Message, error) {
	if token == "" {
		return Message{}, ErrInvalidToken
	}
	if callID == "" {
		return Message{}, ErrMissingCall
	}
	return Message{Token: token, Data: map[string]string{"type": TypeCallCancel, "callId": callID}}, nil
}

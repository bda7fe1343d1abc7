package push

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// sender is the part of *messaging.Client FCM uses.
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM sends messages through the Firebase Admin messaging API.
type FCM struct {
	client  sender
	timeout time.Duration
	// invalidToken reports errors caused by the device token.
	invalidToken func(error) bool
}

// NewFCM builds a Firebase app from a service account file, or from
// application default credentials when credentialsFile is empty.
func NewFCM(ctx context.Context, credentialsFile, projectID string, timeout time.Duration) (*FCM, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	fb, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := fb.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return newFCM(client, timeout), nil
}

func newFCM(client sender, timeout time.Duration) *FCM {
	return &FCM{
		client:  client,
		timeout: timeout,
		invalidToken: func(err error) bool {
			return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
		},
	}
}

func (f *FCM) IncomingCall(ctx context.Context, token string, call IncomingCall) error {
	msg, err := NewIncomingCall(token, call)
	if err != nil {
		return err
	}
	return f.Send(ctx, msg)
}

func (f *FCM) CallCancel(ctx context.Context, token, callID string) error {
	msg, err := NewCallCancel(token, callID)
	if err != nil {
		return err
	}
	return f.Send(ctx, msg)
}

// Send delivers msg with high priority on both platforms.
func (f *FCM) Send(ctx context.Context, msg Message) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	id, err := f.client.Send(ctx, toFCM(msg))
	if err != nil {
		if f.invalidToken != nil && f.invalidToken(err) {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	log.Info().Str("module", "push.fcm").Str("type", msg.Data["type"]).Str("call", msg.Data["callId"]).Str("message_id", id).Msg("push sent")
	return nil
}

func toFCM(msg Message) *messaging.Message {
	out := &messaging.Message{
		Token:   msg.Token,
		Data:    msg.Data,
		Android: &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
	if msg.Channel != "" {
		out.Android.Notification = &messaging.AndroidNotification{ChannelID: msg.Channel}
	}
	if msg.Category != "" {
		out.APNS.Payload = &messaging.APNSPayload{
			Aps: &messaging.Aps{ContentAvailable: true, Category: msg.Category},
		}
	}
	return out
}

// Nop logs and drops every push. It stands in for FCM when push is disabled.
type Nop struct{}

func (Nop) IncomingCall(_ context.Context, token string, call IncomingCall) error {
	if _, err := NewIncomingCall(token, call); err != nil {
		return err
	}
	log.Info().Str("module", "push.nop").Str("call", call.CallID).Msg("push disabled, incoming_call dropped")
	return nil
}

func (Nop) CallCancel(_ context.Context, token, callID string) error {
	if _, err := NewCallCancel(token, callID); err != nil {
		return err
	}
	log.Info().Str("module", "push.nop").Str("call", callID).Msg("push disabled, call_cancel dropped")
	return nil
}

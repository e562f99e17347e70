// Package push implements the Push Dispatcher: best-effort wake-up
// notifications fanned out to a room's push tokens via Firebase Cloud
// Messaging, kept entirely off the floor-grant hot path.
package push

import (
	"context"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/metrics"
	"github.com/groundwire/ptt-signal/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Kind identifies which wake-up payload to send.
type Kind string

const (
	KindBroadcastStarted Kind = "broadcast-started"
	KindBroadcastEnded   Kind = "broadcast-ended"
)

// TokenSource resolves a room to the member IDs and push tokens that
// should receive a wake-up. It is satisfied by the Directory Adapter.
type TokenSource interface {
	GetRoomMemberIDs(ctx context.Context, roomID string) []string
	GetPushTokens(ctx context.Context, userIDs []string) map[string]string
	RemoveToken(ctx context.Context, userID, token string)
}

// Dispatcher formats and submits wake-up payloads. A nil *messaging.Client
// (no FIREBASE_CREDENTIALS_FILE configured) makes every Notify a no-op,
// logged once per call, matching the posture of a Directory/Push failure.
type Dispatcher struct {
	client  *messaging.Client
	tokens  TokenSource
}

// NewDispatcher initializes a Firebase app from a service-account
// credentials file and returns a Dispatcher backed by it.
func NewDispatcher(ctx context.Context, credentialsFile string, tokens TokenSource) (*Dispatcher, error) {
	if credentialsFile == "" {
		logging.Warn(ctx, "push dispatcher starting without credentials; notifications are no-ops")
		return &Dispatcher{tokens: tokens}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, err
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{client: client, tokens: tokens}, nil
}

// Notify resolves roomID to push tokens (excluding speakerID) and submits
// a multicast wake-up. It always runs on its own goroutine and never
// blocks the caller; call it with `go`.
func (d *Dispatcher) Notify(ctx context.Context, kind Kind, roomID, speakerID, speakerName string) {
	if d == nil || d.client == nil {
		logging.Info(ctx, "push dispatcher not configured, skipping notify", zap.String("kind", string(kind)), zap.String("room_id", roomID))
		return
	}

	memberIDs := d.tokens.GetRoomMemberIDs(ctx, roomID)
	targets := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != speakerID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return
	}

	tokenByUser := d.tokens.GetPushTokens(ctx, targets)
	tokens := make([]string, 0, len(tokenByUser))
	userByToken := make(map[string]string, len(tokenByUser))
	for userID, token := range tokenByUser {
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
		userByToken[token] = userID
	}
	if len(tokens) == 0 {
		return
	}

	payload := buildPayload(kind, roomID, speakerID, speakerName)
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data: map[string]string{
			"type":        payload.Type,
			"channelId":   payload.ChannelID,
			"channelName": payload.ChannelName,
			"speakerId":   payload.SpeakerID,
			"speakerName": payload.SpeakerName,
			"timestamp":   timeToMs(payload.Timestamp),
		},
		Android: androidConfig(kind),
	}

	resp, err := d.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		metrics.PushNotificationsSent.WithLabelValues(string(kind), "error").Inc()
		logging.Error(ctx, "push dispatcher multicast failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	for i, r := range resp.Responses {
		if r.Success {
			metrics.PushNotificationsSent.WithLabelValues(string(kind), "success").Inc()
			continue
		}
		metrics.PushNotificationsSent.WithLabelValues(string(kind), "failure").Inc()
		if messaging.IsRegistrationTokenNotRegistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			token := tokens[i]
			if userID, ok := userByToken[token]; ok {
				go d.tokens.RemoveToken(context.Background(), userID, token)
			}
		}
	}
}

func buildPayload(kind Kind, roomID, speakerID, speakerName string) wire.PushPayload {
	pType := wire.PushBroadcastStarted
	if kind == KindBroadcastEnded {
		pType = wire.PushBroadcastEnded
	}
	return wire.PushPayload{
		Type:        pType,
		ChannelID:   roomID,
		ChannelName: roomID,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Timestamp:   nowMs(),
	}
}

func androidConfig(kind Kind) *messaging.AndroidConfig {
	if kind == KindBroadcastStarted {
		return &messaging.AndroidConfig{
			Priority: "high",
			TTL:      durationPtr(30 * time.Second),
		}
	}
	return &messaging.AndroidConfig{Priority: "normal"}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

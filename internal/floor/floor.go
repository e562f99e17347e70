// Package floor implements the Floor Controller: the per-room FREE/HELD
// state machine that arbitrates push-to-talk speaking rights. All
// transitions for a given room run under the Room Registry's per-room lock,
// so concurrent requests observe a total order.
package floor

import (
	"context"
	"time"

	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/metrics"
	"github.com/groundwire/ptt-signal/internal/registry"
	"github.com/groundwire/ptt-signal/internal/wire"
	"go.uber.org/zap"
)

// DenyReason is the human-readable reason string sent on FloorDenied.
type DenyReason string

const (
	DenyNotMember   DenyReason = wire.FloorDenyNotMember
	DenyAlreadyHeld DenyReason = wire.FloorDenyAlreadyHeld
)

// Pusher submits an asynchronous wake-up notification. Satisfied by the
// Push Dispatcher; a nil Pusher makes notification a no-op.
type Pusher interface {
	Notify(ctx context.Context, kind string, roomID, speakerID, speakerName string)
}

const (
	kindBroadcastStarted = "broadcast-started"
	kindBroadcastEnded   = "broadcast-ended"
)

// Controller owns floor arbitration for every room in a Registry.
type Controller struct {
	reg       *registry.Registry
	pusher    Pusher
	maxHold   time.Duration
	nowFunc   func() time.Time
	onTimeout func(roomID, userID string)
}

// New returns a Controller bound to reg, granting holds of maxHold and
// notifying pusher on broadcast start/end. pusher may be nil.
func New(reg *registry.Registry, pusher Pusher, maxHold time.Duration) *Controller {
	return &Controller{reg: reg, pusher: pusher, maxHold: maxHold, nowFunc: time.Now}
}

func (c *Controller) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}

// Outcome describes what a RequestFloor/ReleaseFloor call produced, so the
// Router can translate it into outbound frames without reaching into
// Controller internals.
type Outcome struct {
	Granted        bool
	ExpiresAt      int64
	Denied         bool
	DenyReason     DenyReason
	CurrentSpeaker *wire.Member
	Extended       bool
}

// RequestFloor applies the RequestFloor(u) transition for roomID. userID
// must already be a roster member (checked against the Registry under the
// same room lock as the transition itself).
func (c *Controller) RequestFloor(roomID, userID, displayName, photoURL string) Outcome {
	var outcome Outcome
	var grantedSpeaker *wire.Member

	c.reg.WithRoomLock(roomID, func(tx *registry.RoomTx) {
		if !tx.IsMember(userID) {
			outcome = Outcome{Denied: true, DenyReason: DenyNotMember}
			return
		}

		now := c.now()
		cur := tx.Floor()

		if cur != nil && cur.SpeakerID != userID && now.UnixMilli() < cur.ExpiresAt {
			speaker := *cur
			currentSpeaker := &wire.Member{
				UserID:      speaker.SpeakerID,
				DisplayName: speaker.SpeakerName,
				PhotoURL:    speaker.SpeakerPhotoURL,
			}
			if m, ok := tx.Member(speaker.SpeakerID); ok {
				currentSpeaker.JoinedAt = m.JoinedAt
			}
			outcome = Outcome{
				Denied:         true,
				DenyReason:     DenyAlreadyHeld,
				CurrentSpeaker: currentSpeaker,
			}
			return
		}

		extending := cur != nil && cur.SpeakerID == userID
		expiresAt := now.Add(c.maxHold).UnixMilli()
		newState := &wire.FloorState{
			SpeakerID:       userID,
			SpeakerName:     displayName,
			SpeakerPhotoURL: photoURL,
			StartedAt:       now.UnixMilli(),
			ExpiresAt:       expiresAt,
		}
		if extending {
			newState.StartedAt = cur.StartedAt
		}
		tx.SetFloor(newState)
		tx.SetFloorTimer(time.AfterFunc(c.maxHold, func() { c.onExpiry(roomID, userID) }))

		outcome = Outcome{Granted: true, ExpiresAt: expiresAt, Extended: extending}
		grantedSpeaker = &wire.Member{UserID: userID, DisplayName: displayName, PhotoURL: photoURL}
	})

	if outcome.Granted {
		metrics.FloorGrants.Inc()
		metrics.FloorHeld.WithLabelValues(roomID).Set(1)
		if !outcome.Extended && c.pusher != nil {
			go c.pusher.Notify(context.Background(), kindBroadcastStarted, roomID, grantedSpeaker.UserID, grantedSpeaker.DisplayName)
		}
	} else if outcome.Denied {
		metrics.FloorDenials.WithLabelValues(string(outcome.DenyReason)).Inc()
	}

	return outcome
}

// ReleaseFloor applies the ReleaseFloor(u) transition. A release by anyone
// other than the current speaker is a no-op.
func (c *Controller) ReleaseFloor(roomID, userID string) bool {
	released := false

	c.reg.WithRoomLock(roomID, func(tx *registry.RoomTx) {
		cur := tx.Floor()
		if cur == nil || cur.SpeakerID != userID {
			return
		}
		tx.SetFloor(nil)
		tx.SetFloorTimer(nil)
		released = true
	})

	if released {
		metrics.FloorReleases.WithLabelValues("release").Inc()
		metrics.FloorHeld.WithLabelValues(roomID).Set(0)
		if c.pusher != nil {
			go c.pusher.Notify(context.Background(), kindBroadcastEnded, roomID, userID, "")
		}
	}
	return released
}

// Disconnect releases roomID's floor if userID currently holds it, without
// emitting FloorTimeout and without a push notification (matches the
// disconnect-release transition, distinct from ExpiryTimer).
func (c *Controller) Disconnect(roomID, userID string) bool {
	released := false

	c.reg.WithRoomLock(roomID, func(tx *registry.RoomTx) {
		cur := tx.Floor()
		if cur == nil || cur.SpeakerID != userID {
			return
		}
		tx.SetFloor(nil)
		tx.SetFloorTimer(nil)
		released = true
	})

	if released {
		metrics.FloorReleases.WithLabelValues("disconnect").Inc()
		metrics.FloorHeld.WithLabelValues(roomID).Set(0)
	}
	return released
}

// onExpiry fires when a hold's timer elapses without release or extension.
// If the floor has since moved on (released, extended, re-granted to a new
// speaker) the stale timer is a no-op.
func (c *Controller) onExpiry(roomID, userID string) {
	expired := false

	c.reg.WithRoomLock(roomID, func(tx *registry.RoomTx) {
		cur := tx.Floor()
		if cur == nil || cur.SpeakerID != userID {
			return
		}
		now := c.now().UnixMilli()
		if now < cur.ExpiresAt {
			return
		}
		tx.SetFloor(nil)
		tx.SetFloorTimer(nil)
		expired = true
	})

	if expired {
		metrics.FloorReleases.WithLabelValues("timeout").Inc()
		metrics.FloorHeld.WithLabelValues(roomID).Set(0)
		logging.Info(context.Background(), "floor hold expired", zap.String("room_id", roomID), zap.String("user_id", userID))
		if c.onTimeout != nil {
			c.onTimeout(roomID, userID)
		}
	}
}

// OnTimeout registers a callback invoked when a hold expires via its timer
// (as opposed to an explicit release or a disconnect). The Router uses this
// to emit FloorTimeout to the ex-speaker and FloorReleased to the roster.
func (c *Controller) OnTimeout(fn func(roomID, userID string)) {
	c.onTimeout = fn
}

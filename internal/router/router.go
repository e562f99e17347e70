// Package router implements the Router/Fanout: a pure dispatch layer that
// maps inbound frame kinds to handlers, enforces membership/permission
// gates, and delivers relay frames with server-stamped identity.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/groundwire/ptt-signal/internal/floor"
	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/registry"
	"github.com/groundwire/ptt-signal/internal/session"
	"github.com/groundwire/ptt-signal/internal/wire"
	"go.uber.org/zap"
)

// Sess is the subset of *session.Session the Router needs, narrowed to an
// interface so handler logic is exercised against fakes in tests.
type Sess interface {
	UserID() string
	DisplayName() string
	PhotoURL() string
	Send(frame []byte)
	MarkJoined(roomID string)
	MarkLeft(roomID string)
}

// Router binds the Room Registry and Floor Controller to frame dispatch.
type Router struct {
	reg            *registry.Registry
	floorCtrl      *floor.Controller
	maxConnections int
}

// New returns a Router and wires itself as the Floor Controller's timeout
// callback, so an expired hold's FloorTimeout/FloorReleased frames flow
// through the same fanout path as every other transition's outputs.
func New(reg *registry.Registry, floorCtrl *floor.Controller, maxConnections int) *Router {
	r := &Router{reg: reg, floorCtrl: floorCtrl, maxConnections: maxConnections}
	floorCtrl.OnTimeout(r.handleFloorTimeout)
	return r
}

// Dispatch satisfies session.Router. s is always AUTHENTICATED by the time
// Dispatch is called; session.go never forwards frames from earlier states.
func (r *Router) Dispatch(ctx context.Context, s *session.Session, frameType string, raw []byte) {
	switch frameType {
	case wire.TypeJoinRoom:
		r.handleJoinRoom(s, raw)
	case wire.TypeLeaveRoom:
		r.handleLeaveRoom(s, raw)
	case wire.TypeRequestFloor:
		r.handleRequestFloor(s, raw)
	case wire.TypeReleaseFloor:
		r.handleReleaseFloor(s, raw)
	case wire.TypeWebRTCOffer, wire.TypeWebRTCAnswer, wire.TypeWebRTCICE, wire.TypeWebRTCICEBatch:
		r.handleRelay(s, frameType, raw)
	default:
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeUnknownType, Message: "unrecognized frame type"}))
	}
}

// Leave satisfies session.Router; called once per joined room on close.
func (r *Router) Leave(ctx context.Context, s *session.Session, roomID string) {
	r.leaveRoom(s, roomID)
}

func (r *Router) handleJoinRoom(s Sess, raw []byte) {
	var frame wire.JoinRoom
	if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeMalformedFrame, Message: "join_room requires roomId"}))
		return
	}

	member := registry.Member{
		UserID:      s.UserID(),
		DisplayName: s.DisplayName(),
		PhotoURL:    s.PhotoURL(),
		JoinedAt:    nowMs(),
		Session:     s,
	}

	members, floorState, err := r.reg.Join(frame.RoomID, member, r.maxConnections)
	if err != nil {
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeRoomFull, Message: "room is at capacity"}))
		return
	}
	s.MarkJoined(frame.RoomID)

	s.Send(mustMarshal(wire.RoomJoined{
		Type:       wire.TypeRoomJoined,
		Timestamp:  nowMs(),
		RoomID:     frame.RoomID,
		Members:    members,
		FloorState: floorState,
	}))

	joined := wire.Member{UserID: s.UserID(), DisplayName: s.DisplayName(), PhotoURL: s.PhotoURL(), JoinedAt: member.JoinedAt}
	r.broadcast(frame.RoomID, s.UserID(), wire.MemberJoined{
		Type:      wire.TypeMemberJoined,
		Timestamp: nowMs(),
		RoomID:    frame.RoomID,
		Member:    joined,
	})
}

func (r *Router) handleLeaveRoom(s Sess, raw []byte) {
	var frame wire.LeaveRoom
	if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeMalformedFrame, Message: "leave_room requires roomId"}))
		return
	}
	r.leaveRoom(s, frame.RoomID)
}

// leaveRoom is shared by the explicit leave_room frame and Session close
// cleanup. It applies the Floor Controller's disconnect/leave rule before
// removing the roster entry, so a held floor is always freed first.
func (r *Router) leaveRoom(s Sess, roomID string) {
	userID := s.UserID()
	released := r.floorCtrl.Disconnect(roomID, userID)

	r.reg.Leave(roomID, userID)
	s.MarkLeft(roomID)

	if released {
		r.broadcast(roomID, "", wire.FloorReleased{Type: wire.TypeFloorReleased, Timestamp: nowMs(), RoomID: roomID})
	}
	r.broadcast(roomID, userID, wire.MemberLeft{Type: wire.TypeMemberLeft, Timestamp: nowMs(), RoomID: roomID, UserID: userID})
}

func (r *Router) handleRequestFloor(s Sess, raw []byte) {
	var frame wire.RequestFloor
	if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeMalformedFrame, Message: "request_floor requires roomId"}))
		return
	}

	out := r.floorCtrl.RequestFloor(frame.RoomID, s.UserID(), s.DisplayName(), s.PhotoURL())
	switch {
	case out.Granted:
		s.Send(mustMarshal(wire.FloorGranted{Type: wire.TypeFloorGranted, Timestamp: nowMs(), RoomID: frame.RoomID, ExpiresAt: out.ExpiresAt}))
		if !out.Extended {
			speaker := wire.Member{UserID: s.UserID(), DisplayName: s.DisplayName(), PhotoURL: s.PhotoURL()}
			if m, ok := r.reg.Member(frame.RoomID, s.UserID()); ok {
				speaker.JoinedAt = m.JoinedAt
			}
			r.broadcast(frame.RoomID, s.UserID(), wire.FloorTaken{
				Type:      wire.TypeFloorTaken,
				Timestamp: nowMs(),
				RoomID:    frame.RoomID,
				Speaker:   speaker,
				ExpiresAt: out.ExpiresAt,
			})
		}
	case out.Denied:
		s.Send(mustMarshal(wire.FloorDenied{
			Type:           wire.TypeFloorDenied,
			Timestamp:      nowMs(),
			RoomID:         frame.RoomID,
			Reason:         string(out.DenyReason),
			CurrentSpeaker: out.CurrentSpeaker,
		}))
	}
}

func (r *Router) handleReleaseFloor(s Sess, raw []byte) {
	var frame wire.ReleaseFloor
	if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeMalformedFrame, Message: "release_floor requires roomId"}))
		return
	}

	if r.floorCtrl.ReleaseFloor(frame.RoomID, s.UserID()) {
		r.broadcast(frame.RoomID, "", wire.FloorReleased{Type: wire.TypeFloorReleased, Timestamp: nowMs(), RoomID: frame.RoomID})
	}
}

// handleFloorTimeout is the Floor Controller's OnTimeout callback: notify
// the ex-speaker specifically, then the rest of the roster that the floor
// is free. No push notification accompanies a timeout.
func (r *Router) handleFloorTimeout(roomID, userID string) {
	if target := r.reg.FindSession(roomID, userID); target != nil {
		target.Send(mustMarshal(wire.FloorTimeout{Type: wire.TypeFloorTimeout, Timestamp: nowMs(), RoomID: roomID}))
	}
	r.broadcast(roomID, userID, wire.FloorReleased{Type: wire.TypeFloorReleased, Timestamp: nowMs(), RoomID: roomID})
}

// handleRelay rewrites fromUserId server-side and forwards targeted frames
// to exactly one member, or broadcasts to the roster minus the sender.
func (r *Router) handleRelay(s Sess, frameType string, raw []byte) {
	var env struct {
		RoomID       string `json:"roomId"`
		TargetUserID string `json:"targetUserId"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.RoomID == "" {
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeMalformedFrame, Message: "relay frame requires roomId"}))
		return
	}
	if !r.reg.HasMember(env.RoomID, s.UserID()) {
		s.Send(mustMarshal(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeUnauthorized, Message: "not a member of this room"}))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	delete(payload, "targetUserId")
	payload["fromUserId"] = s.UserID()
	payload["timestamp"] = nowMs()
	out := mustMarshal(payload)

	if env.TargetUserID != "" {
		target := r.reg.FindSession(env.RoomID, env.TargetUserID)
		if target == nil {
			return
		}
		target.Send(out)
		return
	}

	for _, target := range r.reg.SocketsInRoom(env.RoomID, s.UserID()) {
		target.Send(out)
	}
}

func (r *Router) broadcast(roomID, excludeUserID string, v any) {
	data := mustMarshal(v)
	for _, target := range r.reg.SocketsInRoom(roomID, excludeUserID) {
		target.Send(data)
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "router failed to marshal outbound frame", zap.Error(err))
		return nil
	}
	return data
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Package wire defines the UTF-8 JSON frames exchanged between a client
// and the signaling service. Every frame carries a `type` tag and a
// `timestamp` (ms since epoch); the remaining fields are kind-specific.
package wire

// UserID identifies an authenticated client, stable across reconnects.
type UserID string

// RoomID names a room a client has joined.
type RoomID string

// Frame type tags. One constant per wire kind in the message table.
const (
	TypeAuth          = "auth"
	TypeAuthSuccess   = "auth_success"
	TypeAuthFailed    = "auth_failed"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeJoinRoom      = "join_room"
	TypeRoomJoined    = "room_joined"
	TypeLeaveRoom     = "leave_room"
	TypeRoomMembers   = "room_members"
	TypeMemberJoined  = "member_joined"
	TypeMemberLeft    = "member_left"
	TypeRequestFloor  = "request_floor"
	TypeReleaseFloor  = "release_floor"
	TypeFloorGranted  = "floor_granted"
	TypeFloorDenied   = "floor_denied"
	TypeFloorTaken    = "floor_taken"
	TypeFloorReleased = "floor_released"
	TypeFloorTimeout  = "floor_timeout"
	TypeWebRTCOffer   = "webrtc_offer"
	TypeWebRTCAnswer  = "webrtc_answer"
	TypeWebRTCICE     = "webrtc_ice"
	TypeWebRTCICEBatch = "webrtc_ice_batch"
	TypeError         = "error"
)

// Error codes used in the error frame's `code` field.
const (
	ErrCodeRoomFull        = "ROOM_FULL"
	ErrCodeMalformedFrame  = "MALFORMED_FRAME"
	ErrCodeUnknownType     = "UNKNOWN_TYPE"
	ErrCodeUnauthorized    = "UNAUTHORIZED_ACTION"
)

// Floor denial reasons used in the floor_denied frame's `reason` field.
const (
	FloorDenyNotMember   = "not-member"
	FloorDenyAlreadyHeld = "Floor is currently held by another user"
)

// Envelope is the minimal shape every frame satisfies; used to peek the
// `type` tag before unmarshalling into a concrete frame.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Member is the wire shape of a room member: {userId, displayName, photoUrl?, joinedAt}.
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	JoinedAt    int64  `json:"joinedAt"`
}

// FloorState is the wire shape of floor state: {speakerId, speakerName, speakerPhotoUrl?, startedAt, expiresAt}.
type FloorState struct {
	SpeakerID       string `json:"speakerId"`
	SpeakerName     string `json:"speakerName"`
	SpeakerPhotoURL string `json:"speakerPhotoUrl,omitempty"`
	StartedAt       int64  `json:"startedAt"`
	ExpiresAt       int64  `json:"expiresAt"`
}

// ICECandidate is one entry of a webrtc_ice_batch frame's `candidates[]`.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// Auth is the first frame a client must send after connecting.
type Auth struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	Token       string `json:"token"`
	DisplayName string `json:"displayName,omitempty"`
}

// AuthSuccess acknowledges a valid Auth frame.
type AuthSuccess struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// AuthFailed reports a failed credential check; the session closes after sending it.
type AuthFailed struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
}

// Ping and Pong carry no payload beyond the envelope; they're the heartbeat.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// JoinRoom requests membership in a room.
type JoinRoom struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// RoomJoined acknowledges a successful join with the current roster and floor.
type RoomJoined struct {
	Type       string      `json:"type"`
	Timestamp  int64       `json:"timestamp"`
	RoomID     string      `json:"roomId"`
	Members    []Member    `json:"members"`
	FloorState *FloorState `json:"floorState,omitempty"`
}

// LeaveRoom requests departure from a room.
type LeaveRoom struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// RoomMembers is a full roster snapshot.
type RoomMembers struct {
	Type      string   `json:"type"`
	Timestamp int64    `json:"timestamp"`
	RoomID    string   `json:"roomId"`
	Members   []Member `json:"members"`
}

// MemberJoined is a roster delta announcing a new member.
type MemberJoined struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
	Member    Member `json:"member"`
}

// MemberLeft is a roster delta announcing a departure.
type MemberLeft struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
}

// RequestFloor asks the Floor Controller for the exclusive transmit slot.
type RequestFloor struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// ReleaseFloor voluntarily gives up a held floor.
type ReleaseFloor struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// FloorGranted is sent to the requester when a RequestFloor succeeds (or extends).
type FloorGranted struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// FloorDenied is sent to a requester whose RequestFloor was rejected.
type FloorDenied struct {
	Type           string  `json:"type"`
	Timestamp      int64   `json:"timestamp"`
	RoomID         string  `json:"roomId"`
	Reason         string  `json:"reason"`
	CurrentSpeaker *Member `json:"currentSpeaker,omitempty"`
}

// FloorTaken is broadcast to the rest of the roster when someone else is granted the floor.
type FloorTaken struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
	Speaker   Member `json:"speaker"`
	ExpiresAt int64  `json:"expiresAt"`
}

// FloorReleased is broadcast to the roster whenever the floor returns to FREE.
type FloorReleased struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// FloorTimeout is sent to the ex-speaker when their hold expired without release.
type FloorTimeout struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// WebRTCOffer relays an SDP offer between peers, identity-stamped server-side.
type WebRTCOffer struct {
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	RoomID       string `json:"roomId"`
	SDP          string `json:"sdp"`
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
}

// WebRTCAnswer relays an SDP answer between peers, identity-stamped server-side.
type WebRTCAnswer struct {
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	RoomID       string `json:"roomId"`
	SDP          string `json:"sdp"`
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
}

// WebRTCICE relays a single ICE candidate between peers.
type WebRTCICE struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	RoomID        string `json:"roomId"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	TargetUserID  string `json:"targetUserId,omitempty"`
	FromUserID    string `json:"fromUserId,omitempty"`
}

// WebRTCICEBatch relays a batch of ICE candidates as a single frame, delivered whole or not at all.
type WebRTCICEBatch struct {
	Type         string         `json:"type"`
	Timestamp    int64          `json:"timestamp"`
	RoomID       string         `json:"roomId"`
	Candidates   []ICECandidate `json:"candidates"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	FromUserID   string         `json:"fromUserId,omitempty"`
}

// Error reports a protocol violation or a denied action. After a malformed
// frame the session closes; after any other error it stays open.
type Error struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// PushPayload is the data-only body submitted to the Push Gateway.
type PushPayload struct {
	Type        string `json:"type"`
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
	SpeakerID   string `json:"speakerId"`
	SpeakerName string `json:"speakerName"`
	Timestamp   int64  `json:"timestamp"`
}

// Push payload `type` values.
const (
	PushBroadcastStarted = "live_broadcast_started"
	PushBroadcastEnded   = "live_broadcast_ended"
)

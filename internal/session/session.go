// Package session implements the Session: the per-connection state machine
// that owns one transport connection, decodes/encodes JSON frames,
// authenticates the peer, dispatches inbound frames to the Router, and
// maintains the heartbeat.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/groundwire/ptt-signal/internal/logging"
	"github.com/groundwire/ptt-signal/internal/metrics"
	"github.com/groundwire/ptt-signal/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the Session's lifecycle stage.
type State int

const (
	StateHandshaking State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

// Conn is the transport connection a Session drives. Satisfied in
// production by *websocket.Conn; mockable in tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Verifier authenticates a bearer token into an identity. The auth package's
// validators return *auth.CustomClaims and do not satisfy it directly; the
// transport package wraps them in an adapter that does.
type Verifier interface {
	ValidateToken(tokenString string) (Claims, error)
}

// Claims is the identity a Verifier produces. Kept narrow and local to this
// package so session doesn't import the auth package's JWT-specific type.
type Claims struct {
	UserID      string
	DisplayName string
}

// Router dispatches one authenticated inbound frame. Implemented by the
// router package; kept as an interface here so session never imports it.
type Router interface {
	Dispatch(ctx context.Context, s *Session, frameType string, raw []byte)
	// Leave is called once per joined room when the Session closes.
	Leave(ctx context.Context, s *Session, roomID string)
}

// Session owns one client connection end to end.
type Session struct {
	conn     Conn
	verifier Verifier
	router   Router

	authTimeout time.Duration
	idleTimeout time.Duration

	send   chan []byte
	pumpWG sync.WaitGroup

	mu          sync.RWMutex
	state       State
	userID      string
	displayName string
	photoURL    string
	joinedRooms map[string]struct{}
}

// New constructs a Session in StateHandshaking. Call Run to drive it.
func New(conn Conn, verifier Verifier, router Router, authTimeout, idleTimeout time.Duration) *Session {
	return &Session{
		conn:        conn,
		verifier:    verifier,
		router:      router,
		authTimeout: authTimeout,
		idleTimeout: idleTimeout,
		send:        make(chan []byte, 256),
		state:       StateHandshaking,
		joinedRooms: make(map[string]struct{}),
	}
}

// UserID satisfies registry.Sender. Empty until authenticated.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

func (s *Session) PhotoURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.photoURL
}

func (s *Session) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// MarkJoined/MarkLeft track which rooms this Session belongs to, so CLOSED
// cleanup knows exactly which rooms to leave.
func (s *Session) MarkJoined(roomID string) {
	s.mu.Lock()
	s.joinedRooms[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) MarkLeft(roomID string) {
	s.mu.Lock()
	delete(s.joinedRooms, roomID)
	s.mu.Unlock()
}

func (s *Session) JoinedRooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]string, 0, len(s.joinedRooms))
	for r := range s.joinedRooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Send satisfies registry.Sender: enqueue frame for the write pump. Never
// blocks; a full buffer drops the frame for a slow client rather than
// stalling every other Session sharing the room lock.
func (s *Session) Send(frame []byte) {
	select {
	case s.send <- frame:
	default:
		logging.Warn(context.Background(), "session send buffer full, dropping frame", zap.String("user_id", s.UserID()))
	}
}

// sendFrame marshals v to JSON and enqueues it.
func (s *Session) sendFrame(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame", zap.Error(err))
		return
	}
	s.Send(data)
}

// Run drives the Session to completion: authenticate, then read/dispatch
// frames until the connection closes, heartbeat expires, or a protocol
// violation occurs. It blocks until the Session reaches StateClosed.
func (s *Session) Run(ctx context.Context) {
	s.pumpWG.Add(1)
	go s.writePump()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	defer s.pumpWG.Wait()
	defer func() { s.close(ctx) }()
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "session panic recovered", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if !s.authenticate() {
		return
	}

	ctx = context.WithValue(ctx, logging.UserIDKey, s.UserID())
	s.readLoop(ctx)
}

func (s *Session) authenticate() bool {
	s.setState(StateAuthenticating)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.authTimeout))

	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return false
	}
	if messageType != websocket.TextMessage {
		s.sendFrame(wire.AuthFailed{Type: wire.TypeAuthFailed, Timestamp: nowMs(), Reason: "expected a text frame"})
		return false
	}

	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != wire.TypeAuth {
		s.sendFrame(wire.AuthFailed{Type: wire.TypeAuthFailed, Timestamp: nowMs(), Reason: "expected auth frame"})
		return false
	}

	var auth wire.Auth
	if err := json.Unmarshal(data, &auth); err != nil || auth.Token == "" {
		s.sendFrame(wire.AuthFailed{Type: wire.TypeAuthFailed, Timestamp: nowMs(), Reason: "malformed auth frame"})
		return false
	}

	claims, err := s.verifier.ValidateToken(auth.Token)
	if err != nil {
		s.sendFrame(wire.AuthFailed{Type: wire.TypeAuthFailed, Timestamp: nowMs(), Reason: "invalid token"})
		return false
	}

	displayName := auth.DisplayName
	if displayName == "" {
		displayName = claims.DisplayName
	}
	if displayName == "" {
		displayName = "User"
	}

	s.mu.Lock()
	s.userID = claims.UserID
	s.displayName = displayName
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.sendFrame(wire.AuthSuccess{Type: wire.TypeAuthSuccess, Timestamp: nowMs(), UserID: claims.UserID, DisplayName: displayName})
	return true
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendFrame(wire.Error{Type: wire.TypeError, Timestamp: nowMs(), Code: wire.ErrCodeMalformedFrame, Message: "could not parse frame"})
			metrics.WireEvents.WithLabelValues("unknown", "error").Inc()
			return
		}

		if env.Type == wire.TypePing {
			s.sendFrame(wire.Pong{Type: wire.TypePong, Timestamp: nowMs()})
			continue
		}

		start := time.Now()
		s.router.Dispatch(ctx, s, env.Type, data)
		metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
		metrics.WireEvents.WithLabelValues(env.Type, "success").Inc()
	}
}

func (s *Session) writePump() {
	defer s.pumpWG.Done()
	const writeWait = 10 * time.Second
	for message := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (s *Session) close(ctx context.Context) {
	s.setState(StateClosed)
	for _, roomID := range s.JoinedRooms() {
		s.router.Leave(ctx, s, roomID)
		s.MarkLeft(roomID)
	}
	close(s.send)
	_ = s.conn.Close()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

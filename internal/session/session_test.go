package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/groundwire/ptt-signal/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	inIdx    int
	outbound [][]byte
	closed   bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inIdx >= len(c.inbound) {
		return 0, nil, errors.New("eof")
	}
	msg := c.inbound[c.inIdx]
	c.inIdx++
	return websocket.TextMessage, msg, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.outbound = append(c.outbound, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.outbound))
	for _, raw := range c.outbound {
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

type fakeVerifier struct {
	claims Claims
	err    error
}

func (v *fakeVerifier) ValidateToken(token string) (Claims, error) {
	if v.err != nil {
		return Claims{}, v.err
	}
	return v.claims, nil
}

type fakeRouter struct {
	mu        sync.Mutex
	dispatched []string
	left       []string
}

func (r *fakeRouter) Dispatch(ctx context.Context, s *Session, frameType string, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, frameType)
}

func (r *fakeRouter) Leave(ctx context.Context, s *Session, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, roomID)
}

func authFrame(token string) []byte {
	b, _ := json.Marshal(wire.Auth{Type: wire.TypeAuth, Token: token})
	return b
}

func TestSession_AuthenticateSuccess_AdoptsClientDisplayName(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{mustJSON(wire.Auth{Type: wire.TypeAuth, Token: "dev_alice_Whatever", DisplayName: "Alice"})}}
	v := &fakeVerifier{claims: Claims{UserID: "alice", DisplayName: "Server Name"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	assert.Equal(t, "alice", s.UserID())
	frames := conn.frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, "auth_success", frames[0]["type"])
	assert.Equal(t, "Alice", frames[0]["displayName"])
}

func TestSession_AuthenticateSuccess_FallsBackToVerifierName(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{authFrame("tok")}}
	v := &fakeVerifier{claims: Claims{UserID: "bob", DisplayName: "Bob From Token"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	frames := conn.frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, "Bob From Token", frames[0]["displayName"])
}

func TestSession_AuthenticateSuccess_FallsBackToDefaultName(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{authFrame("tok")}}
	v := &fakeVerifier{claims: Claims{UserID: "carol"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	frames := conn.frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, "User", frames[0]["displayName"])
}

func TestSession_AuthenticateFailure_EmitsAuthFailed(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{authFrame("bad-token")}}
	v := &fakeVerifier{err: errors.New("invalid")}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "auth_failed", frames[0]["type"])
	assert.True(t, conn.closed)
}

func TestSession_FirstFrameNotAuth_Rejected(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{mustJSON(wire.Ping{Type: wire.TypePing})}}
	v := &fakeVerifier{claims: Claims{UserID: "x"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "auth_failed", frames[0]["type"])
}

func TestSession_Ping_RepliesPongWithoutDispatch(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{
		authFrame("tok"),
		mustJSON(wire.Ping{Type: wire.TypePing}),
	}}
	v := &fakeVerifier{claims: Claims{UserID: "x"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "auth_success", frames[0]["type"])
	assert.Equal(t, "pong", frames[1]["type"])
	assert.Empty(t, r.dispatched)
}

func TestSession_MalformedFrame_EmitsErrorAndCloses(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{
		authFrame("tok"),
		[]byte("not json"),
	}}
	v := &fakeVerifier{claims: Claims{UserID: "x"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "error", frames[1]["type"])
	assert.Equal(t, wire.ErrCodeMalformedFrame, frames[1]["code"])
}

func TestSession_DispatchesAuthenticatedFrames(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{
		authFrame("tok"),
		mustJSON(wire.JoinRoom{Type: wire.TypeJoinRoom, RoomID: "r1"}),
	}}
	v := &fakeVerifier{claims: Claims{UserID: "x"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)

	s.Run(context.Background())

	require.Len(t, r.dispatched, 1)
	assert.Equal(t, "join_room", r.dispatched[0])
}

func TestSession_Close_LeavesAllJoinedRooms(t *testing.T) {
	conn := &fakeConn{inbound: [][]byte{authFrame("tok")}}
	v := &fakeVerifier{claims: Claims{UserID: "x"}}
	r := &fakeRouter{}
	s := New(conn, v, r, time.Second, time.Second)
	s.MarkJoined("r1")
	s.MarkJoined("r2")

	s.Run(context.Background())

	assert.ElementsMatch(t, []string{"r1", "r2"}, r.left)
	assert.Empty(t, s.JoinedRooms())
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

package floor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/groundwire/ptt-signal/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePusher struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePusher) Notify(ctx context.Context, kind, roomID, speakerID, speakerName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, kind+":"+roomID+":"+speakerID)
}

func (p *fakePusher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func setup(t *testing.T, maxHold time.Duration) (*registry.Registry, *Controller, *fakePusher) {
	reg := registry.New()
	_, _, err := reg.Join("r1", registry.Member{UserID: "a", JoinedAt: 1000}, 50)
	require.NoError(t, err)
	_, _, err = reg.Join("r1", registry.Member{UserID: "b", JoinedAt: 2000}, 50)
	require.NoError(t, err)

	pusher := &fakePusher{}
	c := New(reg, pusher, maxHold)
	return reg, c, pusher
}

func TestRequestFloor_GrantsWhenFree(t *testing.T) {
	_, c, pusher := setup(t, time.Minute)

	out := c.RequestFloor("r1", "a", "Alice", "")
	assert.True(t, out.Granted)
	assert.False(t, out.Extended)
	assert.Greater(t, out.ExpiresAt, int64(0))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, pusher.callCount())
}

func TestRequestFloor_DeniesNonMember(t *testing.T) {
	_, c, _ := setup(t, time.Minute)

	out := c.RequestFloor("r1", "ghost", "Ghost", "")
	assert.True(t, out.Denied)
	assert.Equal(t, DenyNotMember, out.DenyReason)
}

func TestRequestFloor_DeniesContender(t *testing.T) {
	_, c, _ := setup(t, time.Minute)

	first := c.RequestFloor("r1", "a", "Alice", "")
	require.True(t, first.Granted)

	second := c.RequestFloor("r1", "b", "Bob", "")
	assert.True(t, second.Denied)
	assert.Equal(t, DenyAlreadyHeld, second.DenyReason)
	require.NotNil(t, second.CurrentSpeaker)
	assert.Equal(t, "a", second.CurrentSpeaker.UserID)
	assert.Equal(t, int64(1000), second.CurrentSpeaker.JoinedAt, "currentSpeaker must carry the holder's real roster join time")
}

func TestRequestFloor_SameSpeakerExtendsLease(t *testing.T) {
	_, c, pusher := setup(t, time.Minute)

	first := c.RequestFloor("r1", "a", "Alice", "")
	require.True(t, first.Granted)

	time.Sleep(5 * time.Millisecond)
	second := c.RequestFloor("r1", "a", "Alice", "")
	assert.True(t, second.Granted)
	assert.True(t, second.Extended)
	assert.GreaterOrEqual(t, second.ExpiresAt, first.ExpiresAt)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, pusher.callCount(), "extension must not re-trigger a push notification")
}

func TestReleaseFloor_ByHolder_Frees(t *testing.T) {
	reg, c, pusher := setup(t, time.Minute)

	require.True(t, c.RequestFloor("r1", "a", "Alice", "").Granted)
	assert.True(t, c.ReleaseFloor("r1", "a"))
	assert.Nil(t, reg.GetFloor("r1"))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 2, pusher.callCount())
}

func TestReleaseFloor_ByNonHolder_IsNoop(t *testing.T) {
	reg, c, _ := setup(t, time.Minute)

	require.True(t, c.RequestFloor("r1", "a", "Alice", "").Granted)
	assert.False(t, c.ReleaseFloor("r1", "b"))
	assert.NotNil(t, reg.GetFloor("r1"))
}

func TestDisconnect_ReleasesWithoutPush(t *testing.T) {
	reg, c, pusher := setup(t, time.Minute)

	require.True(t, c.RequestFloor("r1", "a", "Alice", "").Granted)
	time.Sleep(5 * time.Millisecond)
	callsBeforeDisconnect := pusher.callCount()

	assert.True(t, c.Disconnect("r1", "a"))
	assert.Nil(t, reg.GetFloor("r1"))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, callsBeforeDisconnect, pusher.callCount(), "disconnect release must not push")
}

func TestExpiry_FreesFloorAndFiresTimeoutCallback(t *testing.T) {
	reg, c, _ := setup(t, 10*time.Millisecond)

	var mu sync.Mutex
	var timedOutUser string
	done := make(chan struct{})
	c.OnTimeout(func(roomID, userID string) {
		mu.Lock()
		timedOutUser = userID
		mu.Unlock()
		close(done)
	})

	require.True(t, c.RequestFloor("r1", "a", "Alice", "").Granted)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}

	assert.Nil(t, reg.GetFloor("r1"))
	mu.Lock()
	assert.Equal(t, "a", timedOutUser)
	mu.Unlock()
}

func TestExpiry_StaleTimerIsNoopAfterExtension(t *testing.T) {
	reg, c, _ := setup(t, 20*time.Millisecond)

	require.True(t, c.RequestFloor("r1", "a", "Alice", "").Granted)
	// Extend before the first timer fires; its callback must become a no-op.
	time.Sleep(5 * time.Millisecond)
	require.True(t, c.RequestFloor("r1", "a", "Alice", "").Extended)

	time.Sleep(40 * time.Millisecond)
	assert.Nil(t, reg.GetFloor("r1"), "floor should have expired exactly once, from the extended timer")
}

func TestConcurrentRequestFloor_ExactlyOneGrant(t *testing.T) {
	reg := registry.New()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, _, err := reg.Join("r1", registry.Member{UserID: id}, 50)
		require.NoError(t, err)
	}
	c := New(reg, nil, time.Minute)

	var wg sync.WaitGroup
	results := make(chan Outcome, 4)
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			results <- c.RequestFloor("r1", id, id, "")
		}(id)
	}
	wg.Wait()
	close(results)

	granted := 0
	for r := range results {
		if r.Granted {
			granted++
		}
	}
	assert.Equal(t, 1, granted)
}

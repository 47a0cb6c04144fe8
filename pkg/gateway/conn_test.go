package gateway

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArmTypingRefreshExtendsDeadline(t *testing.T) {
	c := newConn(nil, nil)
	var fired atomic.Int32
	onExpire := func() { fired.Add(1) }

	require.True(t, c.armTyping("r1", 120*time.Millisecond, onExpire))
	time.Sleep(60 * time.Millisecond)
	require.False(t, c.armTyping("r1", 120*time.Millisecond, onExpire))

	// Past the original deadline but inside the refreshed one.
	time.Sleep(90 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStaleTypingExpiryStandsDown(t *testing.T) {
	c := newConn(nil, nil)
	fired := make(chan struct{}, 1)

	require.True(t, c.armTyping("r1", 50*time.Millisecond, func() { fired <- struct{}{} }))

	// Swap the armed timer out, the way a refresh racing the expiry would;
	// the original callback must notice it lost ownership and do nothing.
	c.mu.Lock()
	c.typing["r1"] = time.NewTimer(time.Hour)
	c.mu.Unlock()

	select {
	case <-fired:
		t.Fatal("stale expiry callback fired after the timer was replaced")
	case <-time.After(200 * time.Millisecond):
	}

	c.cancelAllTyping()
}

func TestArmTypingFreshAfterExpiry(t *testing.T) {
	c := newConn(nil, nil)
	done := make(chan struct{})

	require.True(t, c.armTyping("r1", 5*time.Millisecond, func() { close(done) }))
	<-done

	// Once expired and settled, the next start is fresh again.
	require.True(t, c.armTyping("r1", 5*time.Millisecond, func() {}))
	assert.True(t, c.stopTyping("r1"))
}

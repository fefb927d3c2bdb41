package notify

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func waitWake(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "wake channel closed")
	case <-time.After(2 * time.Second):
		t.Fatal("no wake signal")
	}
}

func TestRedis_NotifyWakesListener(t *testing.T) {
	rc := newRedis(t)
	n := NewRedis(rc, "", nil)

	ctx, cancel := context.WithCancel(testContext(t))
	wake := n.Listen(ctx)

	require.NoError(t, n.Notify(testContext(t), 42))
	waitWake(t, wake)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-wake:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedis_SignalsCoalesce(t *testing.T) {
	rc := newRedis(t)
	n := NewRedis(rc, "test:wake", nil)
	wake := n.Listen(testContext(t))

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, n.Notify(testContext(t), i))
	}
	waitWake(t, wake)
	assert.LessOrEqual(t, len(wake), 1)
}

func TestLocal_FansOutAndUnsubscribes(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(testContext(t))
	a := l.Listen(ctx)
	b := l.Listen(testContext(t))

	require.NoError(t, l.Notify(testContext(t), 1))
	waitWake(t, a)
	waitWake(t, b)

	cancel()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.subs) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, l.Notify(testContext(t), 2))
	waitWake(t, b)
}

func TestFanout_IgnoresFailures(t *testing.T) {
	rc := newRedis(t)
	require.NoError(t, rc.Close())

	l := NewLocal()
	wake := l.Listen(testContext(t))
	f := Fanout{Notifiers: []Notifier{NewRedis(rc, "", nil), l, Nop{}}}

	require.NoError(t, f.Notify(testContext(t), 7))
	waitWake(t, wake)
}

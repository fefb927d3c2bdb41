// Package notify tells feed consumers that new events were committed, so they
// step immediately instead of waiting for their next poll.
//
// Signals are hints. A lost signal only delays a consumer until its poll
// interval elapses.
package notify

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "msgboard:notifications"

// Notifier announces the newest committed notification id.
type Notifier interface {
	Notify(ctx context.Context, position int64) error
}

// Listener hands out wake channels. Each channel is closed when ctx is done.
type Listener interface {
	Listen(ctx context.Context) <-chan struct{}
}

// Nop drops every signal.
type Nop struct{}

func (Nop) Notify(context.Context, int64) error { return nil }

// Redis publishes signals on a pub/sub channel so consumers in other
// processes wake up too.
type Redis struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedis(rdb *redis.Client, channel string, log *zap.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, channel: channel, log: log}
}

func (n *Redis) Notify(ctx context.Context, position int64) error {
	return n.rdb.Publish(ctx, n.channel, strconv.FormatInt(position, 10)).Err()
}

// Listen subscribes before returning, so a signal published after Listen
// returns is not missed.
func (n *Redis) Listen(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	sub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		n.log.Warn("wake subscription failed, relying on polling", zap.String("channel", n.channel), zap.Error(err))
	}

	go func() {
		defer close(wake)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(wake)
			}
		}
	}()
	return wake
}

// Local fans signals out to listeners in the same process.
type Local struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewLocal() *Local {
	return &Local{subs: make(map[chan struct{}]struct{})}
}

func (l *Local) Notify(context.Context, int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs {
		signal(ch)
	}
	return nil
}

func (l *Local) Listen(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, ch)
		close(ch)
		l.mu.Unlock()
	}()
	return ch
}

// Fanout sends each signal to every notifier. Errors are logged, not returned.
type Fanout struct {
	Notifiers []Notifier
	Log       *zap.Logger
}

func (f Fanout) Notify(ctx context.Context, position int64) error {
	for _, n := range f.Notifiers {
		if err := n.Notify(ctx, position); err != nil && f.Log != nil {
			f.Log.Warn("wake signal failed", zap.Int64("position", position), zap.Error(err))
		}
	}
	return nil
}

// signal coalesces: a pending wake-up already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/messageboard/internal/model"
	"go.uber.org/zap"
)

// ErrFeedGap means the topic skipped a notification id. The projection cannot
// continue from this topic without losing events.
var ErrFeedGap = errors.New("kafka: gap in notification feed")

// Reader is the part of Consumer that Source needs.
type Reader interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msgs ...Message) error
}

type entry struct {
	msg  Message
	ev   model.Event
	skip bool // duplicate or unreadable, commit without delivering
}

// Source reads the notification feed that the relay publishes. Messages stay
// buffered until acked so a batch that failed to persist is served again.
// Offsets are committed on Ack, after the projection has persisted.
type Source struct {
	r    Reader
	wait time.Duration
	log  *zap.Logger

	mu      sync.Mutex
	pending []entry
	high    int64 // highest notification id fetched
}

// NewSource wraps r. wait bounds how long a read blocks for the next message.
func NewSource(r Reader, wait time.Duration, log *zap.Logger) *Source {
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{r: r, wait: wait, log: log}
}

func (s *Source) ReadNotifications(ctx context.Context, after int64, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.available(after) < limit {
		fctx, cancel := context.WithTimeout(ctx, s.wait)
		m, err := s.r.Fetch(fctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("kafka fetch: %w", err)
		}
		s.buffer(m)
	}

	out := make([]model.Event, 0, limit)
	next := after + 1
	for _, e := range s.pending {
		if e.skip || e.ev.NotificationID <= after {
			continue
		}
		if e.ev.NotificationID != next {
			return nil, fmt.Errorf("%w: want notification %d, topic has %d at offset %d",
				ErrFeedGap, next, e.ev.NotificationID, e.msg.Offset)
		}
		out = append(out, e.ev)
		next++
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Source) available(after int64) int {
	n := 0
	for _, e := range s.pending {
		if !e.skip && e.ev.NotificationID > after {
			n++
		}
	}
	return n
}

func (s *Source) buffer(m Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.NotificationID <= 0 {
		s.log.Warn("skipping unreadable envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		s.pending = append(s.pending, entry{msg: m, skip: true})
		return
	}
	if env.NotificationID <= s.high {
		s.pending = append(s.pending, entry{msg: m, skip: true})
		return
	}
	s.high = env.NotificationID
	s.pending = append(s.pending, entry{msg: m, ev: env.Event})
}

// Ack commits offsets for everything up to and including position.
func (s *Source) Ack(ctx context.Context, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(s.pending) && (s.pending[n].skip || s.pending[n].ev.NotificationID <= position) {
		n++
	}
	if n == 0 {
		return nil
	}
	msgs := make([]Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = s.pending[i].msg
	}
	if err := s.r.Commit(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka commit through %d: %w", position, err)
	}
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return nil
}

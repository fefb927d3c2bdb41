package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/messageboard/internal/kafka"
	"github.com/jmehdipour/messageboard/internal/metrics"
	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/jmehdipour/messageboard/internal/repository"
	"go.uber.org/zap"
)

const (
	RelayCheckpointName = "kafka_relay"

	// relayKey pins every message to one partition, which keeps the topic in
	// notification order.
	relayKey = "notifications"
)

// Feed is the notification feed the relay copies.
type Feed interface {
	ReadNotifications(ctx context.Context, after int64, limit int) ([]model.Event, error)
}

type Publisher interface {
	Write(ctx context.Context, msgs ...kafka.Message) error
}

// Relay copies the notification feed to Kafka:
// - reads events after its checkpoint,
// - publishes them as envelopes in one write,
// - advances the checkpoint.
//
// Delivery is at-least-once. A crash after the write and before the
// checkpoint publishes the batch again; consumers drop ids they have seen.
type Relay struct {
	Feed        Feed
	Checkpoints repository.CheckpointRepository
	Publisher   Publisher
	Log         *zap.Logger
	// Breaker may be nil.
	Breaker *Breaker

	Name         string
	BatchSize    int
	PollInterval time.Duration

	now      func() time.Time
	position int64
	loaded   bool
}

func NewRelay(feed Feed, checkpoints repository.CheckpointRepository, pub Publisher, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		Feed:         feed,
		Checkpoints:  checkpoints,
		Publisher:    pub,
		Log:          log,
		Breaker:      NewBreaker(5, 10*time.Second),
		Name:         RelayCheckpointName,
		BatchSize:    500,
		PollInterval: time.Second,
		now:          time.Now,
	}
}

// Step publishes at most one batch and returns its size.
func (r *Relay) Step(ctx context.Context) (int, error) {
	if !r.loaded {
		cp, _, err := r.Checkpoints.LoadCheckpoint(ctx, r.Name)
		if err != nil {
			return 0, err
		}
		r.position, r.loaded = cp.Position, true
	}

	events, err := r.Feed.ReadNotifications(ctx, r.position, r.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	relayedAt := r.now().UTC()
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		b, err := json.Marshal(model.Envelope{Event: ev, RelayedAt: relayedAt})
		if err != nil {
			return 0, fmt.Errorf("marshal envelope %d: %w", ev.NotificationID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(relayKey), Value: b})
	}

	if r.Breaker != nil && !r.Breaker.TryAcquire() {
		return 0, ErrPublishPaused
	}
	if err := r.Publisher.Write(ctx, msgs...); err != nil {
		if r.Breaker != nil {
			r.Breaker.OnFailure()
		}
		return 0, fmt.Errorf("publish %d..%d: %w", events[0].NotificationID, events[len(events)-1].NotificationID, err)
	}
	if r.Breaker != nil {
		r.Breaker.OnSuccess()
	}
	metrics.RelayPublished.Add(float64(len(msgs)))

	last := events[len(events)-1].NotificationID
	err = r.Checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), model.Checkpoint{Name: r.Name, Position: last}, r.position)
	if err != nil {
		if errors.Is(err, model.ErrConcurrency) {
			// another relay moved the checkpoint; reload it
			r.loaded = false
		}
		return 0, fmt.Errorf("save relay checkpoint %d: %w", last, err)
	}
	r.position = last
	return len(events), nil
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, wake <-chan struct{}) error {
	if r.BatchSize <= 0 {
		r.BatchSize = 500
	}
	if r.PollInterval <= 0 {
		r.PollInterval = time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	r.Log.Info("relay started", zap.String("checkpoint", r.Name), zap.Int("batch_size", r.BatchSize))

	for {
		n, err := r.Step(ctx)
		if ctx.Err() != nil {
			r.Log.Info("relay stopped", zap.Int64("position", r.position))
			return nil
		}
		if errors.Is(err, ErrPublishPaused) {
			r.Log.Debug("relay paused", zap.Int64("position", r.position))
		} else if err != nil {
			r.Log.Error("relay step failed", zap.Int64("position", r.position), zap.Error(err))
		} else if n > 0 {
			r.Log.Debug("relayed", zap.Int("count", n), zap.Int64("position", r.position))
			continue
		}

		select {
		case <-ctx.Done():
			r.Log.Info("relay stopped", zap.Int64("position", r.position))
			return nil
		case <-wake:
		case <-time.After(r.PollInterval):
		}
	}
}

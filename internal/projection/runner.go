// Package projection builds read models from the notification feed.
//
// A Runner owns one projection. Each step fetches a batch after the persisted
// position, applies it to a copy of the committed state, and persists the new
// state together with the new position as a single checkpoint. Only then is
// the copy swapped in. A failed step leaves state and position untouched, so
// the same batch is fetched again on the next step and nothing is applied
// twice or skipped.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/messageboard/internal/metrics"
	"github.com/jmehdipour/messageboard/internal/model"
	"go.uber.org/zap"
)

const defaultBatchSize = 100

var ErrNotStarted = errors.New("projection: runner not started")

// Phase is where a runner is in its fetch/apply/persist cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseApplying
	PhasePersisting
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseApplying:
		return "applying"
	case PhasePersisting:
		return "persisting"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Source is a totally ordered feed of committed events.
type Source interface {
	ReadNotifications(ctx context.Context, after int64, limit int) ([]model.Event, error)
}

// Acker is implemented by sources that want to know when a position is
// durable, e.g. to commit broker offsets.
type Acker interface {
	Ack(ctx context.Context, position int64) error
}

// CheckpointStore persists (position, state) pairs atomically.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, name string) (model.Checkpoint, bool, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint, expected int64) error
}

// State is a projection's in-memory read model. Clone must return a deep
// copy; the runner applies batches to the copy.
type State[S any] interface {
	Clone() S
}

// Handler applies one event to the working state. It must only touch state.
type Handler[S any] func(state S, ev model.Event) error

// Route binds an event type to its handler.
type Route[S any] struct {
	Type   model.EventType
	Handle Handler[S]
}

type Config[S State[S]] struct {
	Name      string
	Source    Source
	Store     CheckpointStore
	Routes    []Route[S]
	NewState  func() S
	BatchSize int
	Logger    *zap.Logger
}

type Runner[S State[S]] struct {
	name      string
	source    Source
	store     CheckpointStore
	routes    map[model.EventType]Handler[S]
	newState  func() S
	batchSize int
	log       *zap.Logger

	stepMu sync.Mutex

	mu       sync.RWMutex
	state    S
	position int64
	started  bool

	phase atomic.Int32
}

func NewRunner[S State[S]](cfg Config[S]) (*Runner[S], error) {
	if cfg.Name == "" {
		return nil, errors.New("projection: name is required")
	}
	if cfg.Source == nil || cfg.Store == nil || cfg.NewState == nil {
		return nil, fmt.Errorf("projection %s: source, store and state constructor are required", cfg.Name)
	}
	routes := make(map[model.EventType]Handler[S], len(cfg.Routes))
	for _, rt := range cfg.Routes {
		if rt.Handle == nil {
			return nil, fmt.Errorf("projection %s: nil handler for %s", cfg.Name, rt.Type)
		}
		if _, dup := routes[rt.Type]; dup {
			return nil, fmt.Errorf("projection %s: duplicate route for %s", cfg.Name, rt.Type)
		}
		routes[rt.Type] = rt.Handle
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Runner[S]{
		name:      cfg.Name,
		source:    cfg.Source,
		store:     cfg.Store,
		routes:    routes,
		newState:  cfg.NewState,
		batchSize: cfg.BatchSize,
		log:       cfg.Logger.With(zap.String("projection", cfg.Name)),
		state:     cfg.NewState(),
	}, nil
}

func (r *Runner[S]) Name() string { return r.name }

func (r *Runner[S]) Phase() Phase { return Phase(r.phase.Load()) }

// Position is the notification id of the last persisted event.
func (r *Runner[S]) Position() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position
}

// View runs fn against the committed state. fn must not modify it or keep
// references to it.
func (r *Runner[S]) View(fn func(S)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.state)
}

// Start restores position and state from the checkpoint store. Without a
// checkpoint the runner starts before the first notification.
func (r *Runner[S]) Start(ctx context.Context) error {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	cp, ok, err := r.store.LoadCheckpoint(ctx, r.name)
	if err != nil {
		return fmt.Errorf("projection %s: %w", r.name, err)
	}

	state := r.newState()
	var position int64
	if ok {
		position = cp.Position
		if len(cp.State) > 0 {
			if err := json.Unmarshal(cp.State, &state); err != nil {
				return fmt.Errorf("projection %s: decode state at %d: %w", r.name, cp.Position, err)
			}
		}
	}

	r.mu.Lock()
	r.state = state
	r.position = position
	r.started = true
	r.mu.Unlock()

	r.phase.Store(int32(PhaseIdle))
	metrics.ProjectionPosition.WithLabelValues(r.name).Set(float64(position))
	r.log.Info("projection started", zap.Int64("position", position), zap.Bool("checkpoint", ok))
	return nil
}

// Step runs one fetch/apply/persist cycle and returns the number of events
// persisted. Zero with a nil error means the feed had nothing new.
//
// Cancellation is honoured before fetching only. Once a batch is fetched it
// is applied and persisted to completion, or discarded as a whole.
func (r *Runner[S]) Step(ctx context.Context) (int, error) {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	r.mu.RLock()
	started, from := r.started, r.position
	r.mu.RUnlock()
	if !started {
		return 0, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer r.phase.Store(int32(PhaseIdle))

	r.phase.Store(int32(PhaseFetching))
	events, err := r.source.ReadNotifications(ctx, from, r.batchSize)
	if err != nil {
		metrics.ProjectionFailures.WithLabelValues(r.name, "fetch").Inc()
		return 0, fmt.Errorf("projection %s: fetch after %d: %w", r.name, from, err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	ctx = context.WithoutCancel(ctx)

	r.phase.Store(int32(PhaseApplying))
	work, last, err := r.apply(from, events)
	if err != nil {
		metrics.ProjectionFailures.WithLabelValues(r.name, "apply").Inc()
		return 0, err
	}

	r.phase.Store(int32(PhasePersisting))
	blob, err := json.Marshal(work)
	if err != nil {
		metrics.ProjectionFailures.WithLabelValues(r.name, "persist").Inc()
		return 0, fmt.Errorf("projection %s: encode state: %w", r.name, err)
	}
	cp := model.Checkpoint{Name: r.name, Position: last, State: blob}
	if err := r.store.SaveCheckpoint(ctx, cp, from); err != nil {
		metrics.ProjectionFailures.WithLabelValues(r.name, "persist").Inc()
		return 0, fmt.Errorf("projection %s: persist %d..%d: %w", r.name, from+1, last, err)
	}

	r.mu.Lock()
	r.state = work
	r.position = last
	r.mu.Unlock()

	metrics.ProjectionEvents.WithLabelValues(r.name).Add(float64(len(events)))
	metrics.ProjectionPosition.WithLabelValues(r.name).Set(float64(last))

	if acker, ok := r.source.(Acker); ok {
		if err := acker.Ack(ctx, last); err != nil {
			r.log.Warn("ack failed", zap.Int64("position", last), zap.Error(err))
		}
	}
	return len(events), nil
}

// apply folds events into a copy of the committed state.
func (r *Runner[S]) apply(from int64, events []model.Event) (S, int64, error) {
	r.mu.RLock()
	work := r.state.Clone()
	r.mu.RUnlock()

	last := from
	for _, ev := range events {
		if ev.NotificationID <= last {
			var zero S
			return zero, from, fmt.Errorf("%w: projection %s got notification %d after %d", model.ErrIntegrity, r.name, ev.NotificationID, last)
		}
		if h, ok := r.routes[ev.Type]; ok {
			if err := h(work, ev); err != nil {
				var zero S
				return zero, from, fmt.Errorf("projection %s: apply %s #%d: %w", r.name, ev.Type, ev.NotificationID, err)
			}
		}
		last = ev.NotificationID
	}
	return work, last, nil
}

// CatchUp steps until the feed is drained.
func (r *Runner[S]) CatchUp(ctx context.Context) error {
	for {
		n, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Run steps until ctx is cancelled. When the feed is drained it waits for a
// wake signal or the poll interval. Failed steps are logged and retried from
// the last persisted position after the poll interval.
func (r *Runner[S]) Run(ctx context.Context, wake <-chan struct{}, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	defer r.phase.Store(int32(PhaseStopped))

	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()
	if !started {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}

	for {
		n, err := r.Step(ctx)
		if ctx.Err() != nil {
			r.log.Info("projection stopped", zap.Int64("position", r.Position()))
			return nil
		}
		if err != nil {
			r.log.Error("projection step failed", zap.Int64("position", r.Position()), zap.Error(err))
		} else if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			r.log.Info("projection stopped", zap.Int64("position", r.Position()))
			return nil
		case <-wake:
		case <-time.After(pollInterval):
		}
	}
}

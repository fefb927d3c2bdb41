// Package app opens the shared infrastructure described by config.Config and
// assembles it into the components the commands run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/messageboard/internal/config"
	"github.com/jmehdipour/messageboard/internal/db"
	"github.com/jmehdipour/messageboard/internal/kafka"
	"github.com/jmehdipour/messageboard/internal/notify"
	"github.com/jmehdipour/messageboard/internal/projection"
	"github.com/jmehdipour/messageboard/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds open connections. Close releases them.
type App struct {
	Cfg   config.Config
	Log   *zap.Logger
	Store *sqlx.DB
	Redis *redis.Client // nil when redis is disabled

	closers []func() error
}

func Open(cfg config.Config, log *zap.Logger) (*App, error) {
	store, err := db.OpenStore(db.StoreOpts{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DSN,
		MySQLOpts: db.MySQLOpts{
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			PingTimeout:     cfg.Store.PingTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Store.Driver, err)
	}
	a := &App{Cfg: cfg, Log: log, Store: store, closers: []func() error{store.Close}}

	if cfg.Redis.Enabled {
		rdb, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}
	return a, nil
}

// Close closes connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) EventLog() *repository.EventLogImpl {
	return repository.NewEventLog(a.Store)
}

func (a *App) Checkpoints() repository.CheckpointRepository {
	if a.Cfg.Projector.Checkpoints == "redis" && a.Redis != nil {
		return repository.NewRedisCheckpointRepository(a.Redis, "")
	}
	return repository.NewSQLCheckpointRepository(a.Store)
}

// Wake returns the notifier commands signal through and the listener
// projections wait on. local, when set, also receives every signal so
// in-process projections wake without a round trip through Redis.
func (a *App) Wake(local *notify.Local) (notify.Notifier, notify.Listener) {
	if a.Redis == nil {
		if local == nil {
			return notify.Nop{}, nil
		}
		return local, local
	}
	r := notify.NewRedis(a.Redis, a.Cfg.Redis.WakeChannel, a.Log)
	if local == nil {
		return r, r
	}
	return notify.Fanout{Notifiers: []notify.Notifier{local, r}, Log: a.Log}, local
}

// FeedSource picks where the named consumer reads from. Every Kafka consumer
// gets its own group so each sees the whole topic. Kafka sources are closed by
// Close.
func (a *App) FeedSource(name string) (projection.Source, error) {
	switch a.Cfg.Projector.Source {
	case "log":
		return a.EventLog(), nil
	case "kafka":
		c := a.Cfg.Kafka
		consumer, err := kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        c.Brokers,
			Topic:          c.Topic,
			GroupID:        c.GroupID + "-" + name,
			MinBytes:       c.MinBytes,
			MaxBytes:       c.MaxBytes,
			MaxWait:        c.MaxWait,
			CommitInterval: time.Duration(c.CommitInterval) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, consumer.Close)
		return kafka.NewSource(consumer, c.FetchWait, a.Log), nil
	default:
		return nil, fmt.Errorf("unknown projector source %q", a.Cfg.Projector.Source)
	}
}

// Projections builds both read models, each over its own source.
func (a *App) Projections(newSource func(name string) (projection.Source, error)) (*projection.PostsByUserIndex, *projection.PostRepository, error) {
	opts := projection.Options{BatchSize: a.Cfg.Projector.BatchSize, Logger: a.Log}
	cps := a.Checkpoints()

	src, err := newSource(projection.PostsByUserIndexName)
	if err != nil {
		return nil, nil, err
	}
	index, err := projection.NewPostsByUserIndex(src, cps, opts)
	if err != nil {
		return nil, nil, err
	}

	src, err = newSource(projection.PostRepositoryName)
	if err != nil {
		return nil, nil, err
	}
	posts, err := projection.NewPostRepository(src, cps, opts)
	if err != nil {
		return nil, nil, err
	}
	return index, posts, nil
}

// Server is what ServeHTTP runs.
type Server interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// ServeHTTP runs srv until ctx is cancelled, then shuts it down gracefully.
func (a *App) ServeHTTP(ctx context.Context, srv Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(a.Cfg.HTTP.Addr) }()

	select {
	case <-ctx.Done():
		a.Log.Info("shutting down http")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	timeout := a.Cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

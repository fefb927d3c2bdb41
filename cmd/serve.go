package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/messageboard/internal/app"
	httpSrv "github.com/jmehdipour/messageboard/internal/http"
	"github.com/jmehdipour/messageboard/internal/logger"
	"github.com/jmehdipour/messageboard/internal/metrics"
	"github.com/jmehdipour/messageboard/internal/notify"
	"github.com/jmehdipour/messageboard/internal/projection"
	"github.com/jmehdipour/messageboard/internal/repository"
	"github.com/jmehdipour/messageboard/internal/service/boards"
	"github.com/jmehdipour/messageboard/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with in-process projections",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Log
		metrics.MustRegister(prometheus.DefaultRegisterer)

		a, err := app.Open(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := repository.Migrate(ctx, a.Store); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		// projections read the event store directly here; Kafka is for
		// separate projector workers
		events := a.EventLog()
		notifier, listener := a.Wake(notify.NewLocal())
		svc := boards.New(repository.NewBoardRepository(events), notifier, log)

		index, posts, err := a.Projections(func(string) (projection.Source, error) { return events, nil })
		if err != nil {
			return err
		}
		for _, p := range []interface{ Start(context.Context) error }{index, posts} {
			if err := p.Start(ctx); err != nil {
				return err
			}
		}

		server := httpSrv.NewServer(httpSrv.Deps{
			Commands:    svc,
			PostsByUser: index,
			Posts:       posts,
			Redis:       a.Redis,
			RateLimit:   cfg.RateLimit.RPS,
			Log:         log,
		})

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return worker.RunProjections(ctx, listener, cfg.Projector.PollInterval, index, posts)
		})
		g.Go(func() error {
			defer stop()
			return a.ServeHTTP(ctx, server)
		})

		log.Info("serving", zap.String("addr", cfg.HTTP.Addr), zap.String("store", cfg.Store.Driver))
		return g.Wait()
	},
}

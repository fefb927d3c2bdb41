package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/messageboard/internal/app"
	"github.com/jmehdipour/messageboard/internal/config"
	httpSrv "github.com/jmehdipour/messageboard/internal/http"
	"github.com/jmehdipour/messageboard/internal/logger"
	"github.com/jmehdipour/messageboard/internal/metrics"
	"github.com/jmehdipour/messageboard/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newProjectorCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "projector",
		Short: "Run the read-model projections and serve queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()
			log := logger.Log.With(zap.String("worker", "projector"))
			metrics.MustRegister(prometheus.DefaultRegisterer)

			a, err := app.Open(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			index, posts, err := a.Projections(a.FeedSource)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := index.Start(ctx); err != nil {
				return err
			}
			if err := posts.Start(ctx); err != nil {
				return err
			}

			// a Kafka-fed projector has nothing to wake it; it fetches with
			// its own wait instead
			_, listener := a.Wake(nil)
			if cfg.Projector.Source == "kafka" {
				listener = nil
			}

			server := httpSrv.NewServer(httpSrv.Deps{
				PostsByUser: index,
				Posts:       posts,
				Redis:       a.Redis,
				RateLimit:   cfg.RateLimit.RPS,
				Log:         log,
			})

			log.Info("projector starting",
				zap.String("source", cfg.Projector.Source),
				zap.String("checkpoints", cfg.Projector.Checkpoints),
				zap.Int64("posts_by_user_position", index.Position()),
				zap.Int64("posts_position", posts.Position()))

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return worker.RunProjections(ctx, listener, cfg.Projector.PollInterval, index, posts)
			})
			g.Go(func() error {
				defer stop()
				return a.ServeHTTP(ctx, server)
			})
			return g.Wait()
		},
	}
}

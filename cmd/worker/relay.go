package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/messageboard/internal/app"
	"github.com/jmehdipour/messageboard/internal/config"
	"github.com/jmehdipour/messageboard/internal/kafka"
	"github.com/jmehdipour/messageboard/internal/logger"
	"github.com/jmehdipour/messageboard/internal/metrics"
	"github.com/jmehdipour/messageboard/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRelayCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Copy the notification feed to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()
			log := logger.Log.With(zap.String("worker", "relay"))
			metrics.MustRegister(prometheus.DefaultRegisterer)

			a, err := app.Open(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			producer := kafka.NewProducerFromConfig(kafka.ProducerConfig{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.Topic,
			})
			defer func() { _ = producer.Close() }()

			r := worker.NewRelay(a.EventLog(), a.Checkpoints(), producer, log)
			if cfg.Relay.BatchSize > 0 {
				r.BatchSize = cfg.Relay.BatchSize
			}
			if cfg.Relay.PollInterval > 0 {
				r.PollInterval = cfg.Relay.PollInterval
			}
			if b := cfg.Relay.Breaker; b.FailThreshold > 0 {
				r.Breaker = worker.NewBreaker(b.FailThreshold, b.OpenFor)
			}

			// graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wake <-chan struct{}
			if _, listener := a.Wake(nil); listener != nil {
				wake = listener.Listen(ctx)
			}

			log.Info("relay starting",
				zap.Strings("brokers", cfg.Kafka.Brokers),
				zap.String("topic", cfg.Kafka.Topic),
				zap.Int("batch_size", r.BatchSize))
			return r.Run(ctx, wake)
		},
	}
}

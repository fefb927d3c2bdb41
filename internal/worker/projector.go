package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/messageboard/internal/notify"
	"golang.org/x/sync/errgroup"
)

// Projection is a feed consumer loop, such as a projection.Runner.
type Projection interface {
	Name() string
	Run(ctx context.Context, wake <-chan struct{}, pollInterval time.Duration) error
}

// RunProjections runs each projection in its own goroutine with its own wake
// channel and blocks until all of them return. A nil listener means polling
// only.
func RunProjections(ctx context.Context, listener notify.Listener, poll time.Duration, projections ...Projection) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range projections {
		p := p
		var wake <-chan struct{}
		if listener != nil {
			wake = listener.Listen(ctx)
		}
		g.Go(func() error {
			return p.Run(ctx, wake, poll)
		})
	}
	return g.Wait()
}

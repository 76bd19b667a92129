package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vigil-mod/vigil/message"
)

const DefaultWorkers = 8

// Run consumes message events from ch with a bounded worker pool until ch
// closes or ctx is canceled. Per-message failures are logged, not fatal; the
// pool keeps draining.
func (eng *Engine) Run(ctx context.Context, ch <-chan message.RawMessageEvent, workers int) error {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for {
		select {
		case <-gctx.Done():
			return group.Wait()
		case evt, ok := <-ch:
			if !ok {
				return group.Wait()
			}
			workerBacklogGauge.Inc()
			group.Go(func() error {
				defer workerBacklogGauge.Dec()
				if _, err := eng.ProcessMessage(gctx, evt); err != nil {
					eng.Logger.Error("message processing failed", "record", evt.MessageID, "group", evt.GroupID, "err", err)
				}
				return nil
			})
		}
	}
}

package dispatcher

import (
	"context"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// reportProgress logs the chunk states periodically until the returned func is called.
func (d *Dispatcher) reportProgress(ctx context.Context) func() {
	if d.progressInterval <= 0 {
		return func() {}
	}

	ticker := jitterbug.New(d.progressInterval, &jitterbug.Norm{Stdev: d.progressInterval / 10, Mean: 0})
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			statuses := d.Snapshot()
			zap.S().Named("dispatcher").Infow("progress",
				"total", len(statuses),
				"succeeded", statuses.Count(Succeeded),
				"running", statuses.Count(Running),
				"pending", statuses.Count(Pending),
				"retries", statuses.TotalRetries(),
			)
		}
	}()

	return func() { close(done) }
}

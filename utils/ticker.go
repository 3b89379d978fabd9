package utils

import (
	"context"
	"time"

	"go.viam.com/rgbdview/logging"
)

var (
	slowLoggerFirst = 2 * time.Second
	slowLoggerEvery = 5 * time.Second
)

// SlowLogger warns periodically until the returned function is called or ctx is done. The first
// warning comes after two seconds, then the interval backs off to five.
func SlowLogger(ctx context.Context, msg, fieldName, fieldVal string, logger logging.Logger) func() {
	ticker := time.NewTicker(slowLoggerFirst)
	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	workers := NewStoppableWorkers(ctx, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.CWarnw(ctx, msg, fieldName, fieldVal, "time_elapsed", time.Since(started).Round(time.Second).String())
				ticker.Reset(slowLoggerEvery)
			}
		}
	})
	return func() {
		cancel()
		workers.Stop()
		ticker.Stop()
	}
}

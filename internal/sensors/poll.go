package sensors

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

// readFunc takes one reading at tick time t.
type readFunc func(t time.Time) (motion.Event, error)

// startPolling calls read on every tick and hands the result to deliver.
// Closing the returned subscription stops the ticker and waits for the
// goroutine to exit.
func startPolling(clk clock.Clock, interval time.Duration, read readFunc, deliver func(motion.Event), logger *zap.SugaredLogger) capture.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := clk.Ticker(interval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				ev, err := read(t)
				if err != nil {
					logger.Warnw("sensor read failed", "error", err)
					continue
				}
				deliver(ev)
			}
		}
	}()

	return capture.SubscriptionFunc(func() error {
		cancel()
		<-done
		return nil
	})
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

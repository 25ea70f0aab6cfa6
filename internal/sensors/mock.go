package sensors

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

const standardGravity = 9.80665 // m/s²

// MockSource generates smoothly changing readings for every sensor type.
type MockSource struct {
	clk      clock.Clock
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewMockSource creates a mock source ticking every interval.
func NewMockSource(clk clock.Clock, interval time.Duration, logger *zap.SugaredLogger) *MockSource {
	return &MockSource{clk: clk, interval: interval, logger: logger}
}

// Subscribe starts generating readings of type t.
func (m *MockSource) Subscribe(t motion.SensorType, deliver func(motion.Event)) (capture.Subscription, error) {
	if !t.Known() {
		return nil, motion.Unavailable(t)
	}
	start := m.clk.Now()
	read := func(now time.Time) (motion.Event, error) {
		x, y, z := MockValues(t, now.Sub(start).Seconds())
		return motion.NewEvent(t, x, y, z, now), nil
	}
	return startPolling(m.clk, m.interval, read, deliver, m.logger.With("sensor", t)), nil
}

// MockValues is the generated reading of type t at elapsed seconds.
func MockValues(t motion.SensorType, elapsed float64) (x, y, z float64) {
	x = 2 * math.Sin(elapsed)
	y = 1.5 * math.Cos(elapsed*0.7)
	z = 0.3 * math.Sin(elapsed*3)
	switch t {
	case motion.Accelerometer:
		z += standardGravity
	case motion.Gyroscope:
		x, y, z = x/4, y/4, 0.2*math.Sin(elapsed*0.3)
	}
	return x, y, z
}

package capture

import (
	"github.com/relabs-tech/motion_logger/internal/motion"
)

// Source delivers readings for one sensor type at a time.
//
// Subscribe starts delivery of t to deliver and returns a handle that stops
// it. It returns an error wrapping motion.ErrSensorUnavailable when the
// source has no such sensor. deliver must be called from one goroutine at a
// time per subscription.
type Source interface {
	Subscribe(t motion.SensorType, deliver func(motion.Event)) (Subscription, error)
}

// Subscription stops a delivery started by Source.Subscribe.
type Subscription interface {
	Close() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Close calls f.
func (f SubscriptionFunc) Close() error {
	return f()
}

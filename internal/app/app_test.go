package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

type fakeSource struct {
	mu        sync.Mutex
	available map[motion.SensorType]bool
	delivers  map[motion.SensorType]func(motion.Event)
	closed    []motion.SensorType
	err       error
}

func newFakeSource(types ...motion.SensorType) *fakeSource {
	f := &fakeSource{
		available: map[motion.SensorType]bool{},
		delivers:  map[motion.SensorType]func(motion.Event){},
	}
	for _, t := range types {
		f.available[t] = true
	}
	return f
}

func (f *fakeSource) Subscribe(t motion.SensorType, deliver func(motion.Event)) (capture.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if !f.available[t] {
		return nil, motion.Unavailable(t)
	}
	f.delivers[t] = deliver
	return capture.SubscriptionFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.delivers, t)
		f.closed = append(f.closed, t)
		return nil
	}), nil
}

func (f *fakeSource) subscribed(t motion.SensorType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivers[t] != nil
}

func (f *fakeSource) emit(t motion.SensorType, x, y, z float64) bool {
	f.mu.Lock()
	deliver := f.delivers[t]
	f.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(motion.NewEvent(t, x, y, z, time.Time{}))
	return true
}

func (f *fakeSource) closedTypes() []motion.SensorType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]motion.SensorType(nil), f.closed...)
}

// startTestSession runs a session on a mock clock set to 12:00:01.
func startTestSession(t *testing.T, src capture.Source) (*capture.Session, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 18, 12, 0, 1, 0, time.Local))
	session := newSession(config.Default(), src, mock, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runSession(ctx, session) }()
	t.Cleanup(func() {
		cancel()
		test.That(t, <-errCh, test.ShouldBeNil)
	})
	return session, mock
}

// settle returns once every queued delivery has been handled.
func settle(t *testing.T, session *capture.Session) {
	t.Helper()
	_, err := session.Status(context.Background())
	test.That(t, err, test.ShouldBeNil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSelectConfigured(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer)
	session, _ := startTestSession(t, src)

	cfg := config.Default()
	cfg.SensorType = "GYROSCOPE"
	test.That(t, selectConfigured(ctx, session, cfg, zaptest.NewLogger(t).Sugar()), test.ShouldBeNil)
	st, err := session.Status(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Active, test.ShouldEqual, motion.Gyroscope)

	cfg.SensorType = "BAROMETER"
	test.That(t, selectConfigured(ctx, session, cfg, zaptest.NewLogger(t).Sugar()), test.ShouldBeNil)
	test.That(t, src.subscribed(motion.Accelerometer), test.ShouldBeTrue)
}

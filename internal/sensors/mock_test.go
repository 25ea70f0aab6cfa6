package sensors

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/relabs-tech/motion_logger/internal/motion"
)

func collect(n int) (func(motion.Event), <-chan motion.Event) {
	ch := make(chan motion.Event, n)
	return func(ev motion.Event) { ch <- ev }, ch
}

func next(t *testing.T, ch <-chan motion.Event) motion.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return motion.Event{}
	}
}

func TestMockValues(t *testing.T) {
	x, y, z := MockValues(motion.Accelerometer, 0)
	test.That(t, x, test.ShouldEqual, 0.0)
	test.That(t, y, test.ShouldEqual, 1.5)
	test.That(t, z, test.ShouldEqual, standardGravity)

	x, y, z = MockValues(motion.LinearAcceleration, 0)
	test.That(t, x, test.ShouldEqual, 0.0)
	test.That(t, y, test.ShouldEqual, 1.5)
	test.That(t, z, test.ShouldEqual, 0.0)

	x, y, z = MockValues(motion.Gyroscope, 0)
	test.That(t, x, test.ShouldEqual, 0.0)
	test.That(t, y, test.ShouldEqual, 0.375)
	test.That(t, z, test.ShouldEqual, 0.0)

	x, _, _ = MockValues(motion.LinearAcceleration, math.Pi/2)
	test.That(t, x, test.ShouldAlmostEqual, 2.0)
}

func TestMockSourceTicks(t *testing.T) {
	mock := clock.NewMock()
	src := NewMockSource(mock, 100*time.Millisecond, zaptest.NewLogger(t).Sugar())

	deliver, ch := collect(4)
	sub, err := src.Subscribe(motion.Gyroscope, deliver)
	test.That(t, err, test.ShouldBeNil)

	mock.Add(100 * time.Millisecond)
	ev := next(t, ch)
	test.That(t, ev.Sensor, test.ShouldEqual, motion.Gyroscope)
	test.That(t, ev.Time.Equal(mock.Now()), test.ShouldBeTrue)
	wantX, wantY, wantZ := MockValues(motion.Gyroscope, 0.1)
	test.That(t, ev.Values.X, test.ShouldAlmostEqual, wantX)
	test.That(t, ev.Values.Y, test.ShouldAlmostEqual, wantY)
	test.That(t, ev.Values.Z, test.ShouldAlmostEqual, wantZ)

	test.That(t, sub.Close(), test.ShouldBeNil)
	mock.Add(time.Second)
	select {
	case ev := <-ch:
		t.Fatalf("delivery after close: %+v", ev)
	default:
	}
}

func TestMockSourceUnknownType(t *testing.T) {
	src := NewMockSource(clock.NewMock(), time.Second, zaptest.NewLogger(t).Sugar())
	_, err := src.Subscribe(motion.Unknown, func(motion.Event) {})
	test.That(t, errors.Is(err, motion.ErrSensorUnavailable), test.ShouldBeTrue)
}

func TestPollingSkipsReadErrors(t *testing.T) {
	mock := clock.NewMock()
	calls := 0
	reads := make(chan struct{}, 4)
	read := func(now time.Time) (motion.Event, error) {
		calls++
		reads <- struct{}{}
		if calls == 1 {
			return motion.Event{}, errors.New("bus busy")
		}
		return motion.NewEvent(motion.Accelerometer, float64(calls), 0, 0, now), nil
	}
	deliver, ch := collect(4)
	sub := startPolling(mock, time.Second, read, deliver, zaptest.NewLogger(t).Sugar())
	defer sub.Close()

	mock.Add(time.Second)
	<-reads
	mock.Add(time.Second)
	<-reads
	ev := next(t, ch)
	test.That(t, ev.Values.X, test.ShouldEqual, 2.0)
}

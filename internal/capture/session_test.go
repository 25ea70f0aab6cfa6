package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/relabs-tech/motion_logger/internal/csvexport"
	"github.com/relabs-tech/motion_logger/internal/motion"
	"github.com/relabs-tech/motion_logger/internal/samplelog"
)

type fakeSource struct {
	mu        sync.Mutex
	available map[motion.SensorType]bool
	delivers  map[motion.SensorType]func(motion.Event)
	closed    []motion.SensorType
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

func (f *fakeSource) Subscribe(t motion.SensorType, deliver func(motion.Event)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available[t] {
		return nil, motion.Unavailable(t)
	}
	f.delivers[t] = deliver
	return SubscriptionFunc(func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.delivers, t)
		f.closed = append(f.closed, t)
		return nil
	}), nil
}

func (f *fakeSource) deliverFunc(t motion.SensorType) func(motion.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivers[t]
}

func (f *fakeSource) emit(t motion.SensorType, x, y, z float64) bool {
	deliver := f.deliverFunc(t)
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

type recorder struct {
	mu      sync.Mutex
	updates []Update
	resets  []Reset
}

func (r *recorder) OnUpdate(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) OnReset(rs Reset) {
	r.mu.Lock()
	r.resets = append(r.resets, rs)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]Update, []Reset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...), append([]Reset(nil), r.resets...)
}

type sink struct {
	bytes.Buffer
	fail bool
}

func (s *sink) Write(p []byte) (int, error) {
	if s.fail {
		return 0, errors.New("storage went away")
	}
	return s.Buffer.Write(p)
}

func (s *sink) Close() error { return nil }

func opener(s *sink) csvexport.Opener {
	return func() (io.WriteCloser, error) { return s, nil }
}

func startSession(t *testing.T, src Source, opts Options) (*Session, *clock.Mock, *recorder) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 18, 12, 0, 1, 0, time.Local))
	opts.Clock = mock
	opts.Logger = zaptest.NewLogger(t).Sugar()

	s := New(src, opts)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	rec := &recorder{}
	test.That(t, s.AddObserver(context.Background(), rec), test.ShouldBeNil)
	return s, mock, rec
}

// settle returns once every delivery queued so far has been handled.
func settle(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.Status(context.Background())
	test.That(t, err, test.ShouldBeNil)
}

func TestSessionLogsInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer)
	s, mock, rec := startSession(t, src, Options{})

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	test.That(t, src.emit(motion.Accelerometer, 1.0, 2.0, 3.0), test.ShouldBeTrue)
	settle(t, s)
	mock.Add(time.Second)
	test.That(t, src.emit(motion.Accelerometer, -1.5, 0.0, 9.81), test.ShouldBeTrue)

	samples, err := s.Samples(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldResemble, []samplelog.Sample{
		{Timestamp: "12:00:01", X: 1.0, Y: 2.0, Z: 3.0},
		{Timestamp: "12:00:02", X: -1.5, Y: 0.0, Z: 9.81},
	})

	updates, resets := rec.snapshot()
	test.That(t, updates, test.ShouldHaveLength, 2)
	test.That(t, updates[1].Elapsed, test.ShouldEqual, 1.0)
	test.That(t, updates[1].Size, test.ShouldEqual, 2)
	test.That(t, updates[1].Labels.AxisUnit, test.ShouldEqual, "m/s²")
	test.That(t, resets, test.ShouldHaveLength, 1)
	test.That(t, resets[0].Reason, test.ShouldEqual, ReasonSelect)

	snap, labels, err := s.Chart(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labels.Title, test.ShouldEqual, "Accelerometer")
	test.That(t, snap.Len(), test.ShouldEqual, 2)
	test.That(t, snap.Z[1].V, test.ShouldEqual, 9.81)
}

func TestSessionUnknownSensorStillLogged(t *testing.T) {
	ctx := context.Background()
	s, _, rec := startSession(t, newFakeSource(), Options{})

	s.Deliver(motion.NewEvent(motion.Unknown, math.NaN(), 1, 2, time.Time{}))

	samples, err := s.Samples(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldHaveLength, 1)
	test.That(t, math.IsNaN(samples[0].X), test.ShouldBeTrue)

	updates, _ := rec.snapshot()
	test.That(t, updates[0].Labels, test.ShouldResemble, motion.LabelsFor(motion.Unknown))
	test.That(t, updates[0].Labels.AxisUnit, test.ShouldEqual, "")
}

func TestSessionSelectResetsAndSwitches(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer, motion.Gyroscope)
	s, _, _ := startSession(t, src, Options{})

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	src.emit(motion.Accelerometer, 1, 1, 1)
	staleDeliver := src.deliverFunc(motion.Accelerometer)

	test.That(t, s.SelectSensor(ctx, motion.Gyroscope), test.ShouldBeNil)
	test.That(t, src.closedTypes(), test.ShouldResemble, []motion.SensorType{motion.Accelerometer})
	test.That(t, src.deliverFunc(motion.Accelerometer), test.ShouldBeNil)

	// A reading from the old registration racing the switch is dropped.
	staleDeliver(motion.NewEvent(motion.Accelerometer, 7, 7, 7, time.Time{}))
	src.emit(motion.Gyroscope, 0.1, 0.2, 0.3)

	st, err := s.Status(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Active, test.ShouldEqual, motion.Gyroscope)
	test.That(t, st.Labels.AxisUnit, test.ShouldEqual, "rad/s")
	test.That(t, st.Size, test.ShouldEqual, 1)

	samples, _ := s.Samples(ctx)
	test.That(t, samples[0].X, test.ShouldEqual, 0.1)
}

func TestSessionSelectUnavailable(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer)
	s, _, rec := startSession(t, src, Options{})

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	src.emit(motion.Accelerometer, 1, 2, 3)

	err := s.SelectSensor(ctx, motion.LinearAcceleration)
	test.That(t, errors.Is(err, motion.ErrSensorUnavailable), test.ShouldBeTrue)
	test.That(t, src.emit(motion.Accelerometer, 4, 5, 6), test.ShouldBeFalse)

	st, err := s.Status(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Active, test.ShouldEqual, motion.LinearAcceleration)
	test.That(t, st.Size, test.ShouldEqual, 0)

	_, resets := rec.snapshot()
	test.That(t, resets[len(resets)-1].Labels.Title, test.ShouldEqual, "Linear acceleration")

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	test.That(t, src.emit(motion.Accelerometer, 4, 5, 6), test.ShouldBeTrue)
	st, _ = s.Status(ctx)
	test.That(t, st.Size, test.ShouldEqual, 1)
}

func TestSessionClear(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Gyroscope)
	s, mock, rec := startSession(t, src, Options{})

	test.That(t, s.SelectSensor(ctx, motion.Gyroscope), test.ShouldBeNil)
	for i := 0; i < 5; i++ {
		src.emit(motion.Gyroscope, float64(i), 0, 0)
		settle(t, s)
		mock.Add(time.Second)
	}
	test.That(t, s.Clear(ctx), test.ShouldBeNil)

	samples, err := s.Samples(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldBeEmpty)

	src.emit(motion.Gyroscope, 9, 9, 9)
	settle(t, s)
	updates, resets := rec.snapshot()
	test.That(t, resets[len(resets)-1].Reason, test.ShouldEqual, ReasonClear)
	test.That(t, updates[len(updates)-1].Elapsed, test.ShouldEqual, 0.0)
	test.That(t, updates[len(updates)-1].Size, test.ShouldEqual, 1)
}

func TestSessionPauseResume(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer)
	s, _, _ := startSession(t, src, Options{})

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	src.emit(motion.Accelerometer, 1, 1, 1)

	test.That(t, s.Pause(ctx), test.ShouldBeNil)
	test.That(t, src.emit(motion.Accelerometer, 2, 2, 2), test.ShouldBeFalse)
	st, _ := s.Status(ctx)
	test.That(t, st.Paused, test.ShouldBeTrue)
	test.That(t, st.Size, test.ShouldEqual, 1)

	test.That(t, s.Resume(ctx), test.ShouldBeNil)
	test.That(t, src.emit(motion.Accelerometer, 3, 3, 3), test.ShouldBeTrue)
	st, _ = s.Status(ctx)
	test.That(t, st.Paused, test.ShouldBeFalse)
	test.That(t, st.Size, test.ShouldEqual, 2)

	// Resume while running is a no-op.
	test.That(t, s.Resume(ctx), test.ShouldBeNil)
}

func TestSessionSelectWhilePaused(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer, motion.Gyroscope)
	s, _, _ := startSession(t, src, Options{})

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	test.That(t, s.Pause(ctx), test.ShouldBeNil)

	err := s.SelectSensor(ctx, motion.LinearAcceleration)
	test.That(t, errors.Is(err, motion.ErrSensorUnavailable), test.ShouldBeTrue)

	test.That(t, s.SelectSensor(ctx, motion.Gyroscope), test.ShouldBeNil)
	test.That(t, src.emit(motion.Gyroscope, 1, 1, 1), test.ShouldBeFalse)
	st, err := s.Status(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Paused, test.ShouldBeTrue)
	test.That(t, st.Active, test.ShouldEqual, motion.Gyroscope)

	test.That(t, s.Resume(ctx), test.ShouldBeNil)
	test.That(t, src.emit(motion.Gyroscope, 1, 1, 1), test.ShouldBeTrue)
	settle(t, s)
	st, _ = s.Status(ctx)
	test.That(t, st.Size, test.ShouldEqual, 1)
}

func TestSessionExport(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer)
	s, mock, _ := startSession(t, src, Options{})

	empty := &sink{}
	n, err := s.Export(ctx, opener(empty))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, empty.String(), test.ShouldEqual, "Time,X,Y,Z\n")

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	src.emit(motion.Accelerometer, 1.0, 2.0, 3.0)
	settle(t, s)
	mock.Add(time.Second)
	src.emit(motion.Accelerometer, -1.5, 0.0, 9.81)

	first, second := &sink{}, &sink{}
	n, err = s.Export(ctx, opener(first))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	_, err = s.Export(ctx, opener(second))
	test.That(t, err, test.ShouldBeNil)

	want := "Time,X,Y,Z\n12:00:01,1.0,2.0,3.0\n12:00:02,-1.5,0.0,9.81\n"
	test.That(t, first.String(), test.ShouldEqual, want)
	test.That(t, second.String(), test.ShouldEqual, want)
}

func TestSessionExportFailureKeepsLog(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(motion.Accelerometer)
	s, _, _ := startSession(t, src, Options{})

	test.That(t, s.SelectSensor(ctx, motion.Accelerometer), test.ShouldBeNil)
	src.emit(motion.Accelerometer, 1, 2, 3)

	_, err := s.Export(ctx, opener(&sink{fail: true}))
	var failure *csvexport.ExportFailure
	test.That(t, errors.As(err, &failure), test.ShouldBeTrue)
	test.That(t, failure.Op, test.ShouldEqual, csvexport.OpWrite)

	src.emit(motion.Accelerometer, 4, 5, 6)
	samples, err := s.Samples(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldHaveLength, 2)
	test.That(t, samples[0].X, test.ShouldEqual, 1.0)
	test.That(t, samples[1].X, test.ShouldEqual, 4.0)
}

func TestSessionMaxSamples(t *testing.T) {
	ctx := context.Background()
	s, _, _ := startSession(t, newFakeSource(), Options{MaxSamples: 2, ChartWindow: 2})
	for i := 0; i < 4; i++ {
		s.Deliver(motion.NewEvent(motion.Accelerometer, float64(i), 0, 0, time.Time{}))
	}
	samples, err := s.Samples(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldHaveLength, 2)
	test.That(t, samples[0].X, test.ShouldEqual, 2.0)

	snap, _, err := s.Chart(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snap.Len(), test.ShouldEqual, 2)
}

func TestSessionClosed(t *testing.T) {
	src := newFakeSource(motion.Gyroscope)
	s := New(src, Options{Logger: zaptest.NewLogger(t).Sugar()})
	test.That(t, s.ID(), test.ShouldNotBeEmpty)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	test.That(t, s.SelectSensor(context.Background(), motion.Gyroscope), test.ShouldBeNil)
	cancel()
	test.That(t, <-errCh, test.ShouldEqual, context.Canceled)
	test.That(t, src.closedTypes(), test.ShouldResemble, []motion.SensorType{motion.Gyroscope})

	test.That(t, s.Clear(context.Background()), test.ShouldEqual, ErrClosed)
	_, err := s.Status(context.Background())
	test.That(t, err, test.ShouldEqual, ErrClosed)
	s.Deliver(motion.NewEvent(motion.Gyroscope, 1, 2, 3, time.Time{}))
}

func TestSessionRequestContextCancelled(t *testing.T) {
	s := New(newFakeSource(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Run was never started, so only the context can end the request.
	test.That(t, s.Clear(ctx), test.ShouldEqual, context.Canceled)
}

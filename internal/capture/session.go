// Package capture runs a capture session: it routes sensor readings into the
// sample log and chart series, and serves clear, export and sensor
// selection requests from the UI.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/chart"
	"github.com/relabs-tech/motion_logger/internal/csvexport"
	"github.com/relabs-tech/motion_logger/internal/motion"
	"github.com/relabs-tech/motion_logger/internal/samplelog"
)

// ErrClosed is returned by requests made after Run has returned.
var ErrClosed = errors.New("capture session closed")

// Reset reasons reported to observers.
const (
	ReasonClear  = "clear"
	ReasonSelect = "select"
)

// Update describes one routed reading.
type Update struct {
	Sensor  motion.SensorType `json:"sensor"`
	Labels  motion.Labels     `json:"labels"`
	Sample  samplelog.Sample  `json:"sample"`
	Elapsed float64           `json:"elapsed"`
	Size    int               `json:"size"`
}

// Reset describes a wholesale reset of the log and chart.
type Reset struct {
	Active motion.SensorType `json:"active"`
	Labels motion.Labels     `json:"labels"`
	Reason string            `json:"reason"`
}

// Observer is notified on the session goroutine; implementations must not
// block.
type Observer interface {
	OnUpdate(Update)
	OnReset(Reset)
}

// Status is a point-in-time view of the session.
type Status struct {
	ID      string            `json:"id"`
	Active  motion.SensorType `json:"active"`
	Labels  motion.Labels     `json:"labels"`
	Size    int               `json:"size"`
	Paused  bool              `json:"paused"`
	Started time.Time         `json:"started"`
}

// Options configures a Session.
type Options struct {
	MaxSamples  int // 0 = unbounded
	ChartWindow int // 0 = unbounded
	EventBuffer int
	Clock       clock.Clock
	Logger      *zap.SugaredLogger
}

type delivery struct {
	gen uint64 // 0 = not tied to a subscription
	ev  motion.Event
}

// Session owns the sample log and chart series for one capture session.
// All state is confined to the goroutine running Run.
type Session struct {
	id     string
	source Source
	clk    clock.Clock
	logger *zap.SugaredLogger

	log    *samplelog.Log
	series *chart.Series

	active    motion.SensorType
	paused    bool
	origin    time.Time
	started   time.Time
	gen       uint64
	sub       Subscription
	stopSub   chan struct{}
	observers []Observer

	events chan delivery
	cmds   chan func()
	done   chan struct{}
}

// New returns a session reading from source. Call Run to start it.
func New(source Source, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	now := opts.Clock.Now()
	id := uuid.NewString()
	return &Session{
		id:      id,
		source:  source,
		clk:     opts.Clock,
		logger:  opts.Logger.With("session", id),
		log:     samplelog.NewLog(opts.MaxSamples),
		series:  chart.New(opts.ChartWindow),
		origin:  now,
		started: now,
		events:  make(chan delivery, opts.EventBuffer),
		cmds:    make(chan func()),
		done:    make(chan struct{}),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Run processes deliveries and requests until ctx is done. It closes the
// active subscription before returning.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.unsubscribe()

	s.logger.Infow("capture session started", "max_samples", s.log.Max())
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("capture session stopped", "samples", s.log.Size())
			return ctx.Err()
		case d := <-s.events:
			s.handle(d)
		case cmd := <-s.cmds:
			s.drain()
			cmd()
		}
	}
}

// drain handles every delivery already queued, so a request sees the
// readings that arrived before it.
func (s *Session) drain() {
	for {
		select {
		case d := <-s.events:
			s.handle(d)
		default:
			return
		}
	}
}

// Deliver routes ev as if it came from the active subscription.
func (s *Session) Deliver(ev motion.Event) {
	select {
	case s.events <- delivery{ev: ev}:
	case <-s.done:
	}
}

func (s *Session) handle(d delivery) {
	if d.gen != 0 && d.gen != s.gen {
		return // left over from a closed subscription
	}
	now := s.clk.Now()
	ev := d.ev
	ts := now.Format(samplelog.TimeLayout)
	s.log.Append(ts, ev.Values.X, ev.Values.Y, ev.Values.Z)
	elapsed := now.Sub(s.origin).Seconds()
	s.series.Add(elapsed, ev.Values)

	u := Update{
		Sensor: ev.Sensor,
		Labels: motion.LabelsFor(ev.Sensor),
		Sample: samplelog.Sample{
			Timestamp: ts,
			X:         ev.Values.X,
			Y:         ev.Values.Y,
			Z:         ev.Values.Z,
		},
		Elapsed: elapsed,
		Size:    s.log.Size(),
	}
	for _, o := range s.observers {
		o.OnUpdate(u)
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(finished); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// AddObserver registers o for updates and resets.
func (s *Session) AddObserver(ctx context.Context, o Observer) error {
	return s.do(ctx, func() { s.observers = append(s.observers, o) })
}

func (s *Session) reset(reason string) {
	s.log.Clear()
	s.series.Reset()
	s.origin = s.clk.Now()
	r := Reset{Active: s.active, Labels: motion.LabelsFor(s.active), Reason: reason}
	for _, o := range s.observers {
		o.OnReset(r)
	}
}

func (s *Session) subscribe() error {
	s.gen++
	gen := s.gen
	stop := make(chan struct{})
	deliver := func(ev motion.Event) {
		select {
		case s.events <- delivery{gen: gen, ev: ev}:
		case <-stop:
		case <-s.done:
		}
	}

	sub, err := s.source.Subscribe(s.active, deliver)
	if err != nil {
		close(stop)
		if errors.Is(err, motion.ErrSensorUnavailable) {
			s.logger.Warnw("sensor not available", "sensor", s.active)
		} else {
			s.logger.Errorw("sensor subscribe failed", "sensor", s.active, "error", err)
		}
		return err
	}
	s.sub, s.stopSub = sub, stop
	s.logger.Infow("sensor registered", "sensor", s.active)
	return nil
}

// probe subscribes to the active type and closes the subscription again.
func (s *Session) probe() error {
	sub, err := s.source.Subscribe(s.active, func(motion.Event) {})
	if err != nil {
		if errors.Is(err, motion.ErrSensorUnavailable) {
			s.logger.Warnw("sensor not available", "sensor", s.active)
		}
		return err
	}
	return sub.Close()
}

func (s *Session) unsubscribe() {
	if s.sub == nil {
		return
	}
	close(s.stopSub)
	if err := s.sub.Close(); err != nil {
		s.logger.Warnw("sensor unregister failed", "sensor", s.active, "error", err)
	}
	s.sub, s.stopSub = nil, nil
	s.gen++
}

// SelectSensor switches to sensor type t: the current delivery stops, the
// log and chart are reset and delivery of t starts. If the source has no
// such sensor the error wraps motion.ErrSensorUnavailable and nothing is
// logged until another type is selected. While paused the source is only
// checked for t; delivery starts on Resume.
func (s *Session) SelectSensor(ctx context.Context, t motion.SensorType) error {
	var err error
	if derr := s.do(ctx, func() {
		s.unsubscribe()
		s.active = t
		s.reset(ReasonSelect)
		if s.paused {
			err = s.probe()
		} else {
			err = s.subscribe()
		}
	}); derr != nil {
		return derr
	}
	return err
}

// Clear empties the log and the chart and restarts the chart's time axis.
func (s *Session) Clear(ctx context.Context) error {
	return s.do(ctx, func() {
		s.logger.Infow("log cleared", "samples", s.log.Size())
		s.reset(ReasonClear)
	})
}

// Pause stops delivery without touching the log.
func (s *Session) Pause(ctx context.Context) error {
	return s.do(ctx, func() {
		s.unsubscribe()
		s.paused = true
	})
}

// Resume restarts delivery of the active sensor type.
func (s *Session) Resume(ctx context.Context) error {
	var err error
	if derr := s.do(ctx, func() {
		if !s.paused {
			return
		}
		s.paused = false
		err = s.subscribe()
	}); derr != nil {
		return derr
	}
	return err
}

// Samples returns a copy of the log.
func (s *Session) Samples(ctx context.Context) ([]samplelog.Sample, error) {
	var out []samplelog.Sample
	err := s.do(ctx, func() { out = s.log.ReadAll() })
	return out, err
}

// Chart returns a copy of the chart series and the active labels.
func (s *Session) Chart(ctx context.Context) (chart.Snapshot, motion.Labels, error) {
	var (
		snap   chart.Snapshot
		labels motion.Labels
	)
	err := s.do(ctx, func() {
		snap = s.series.Snapshot()
		labels = motion.LabelsFor(s.active)
	})
	return snap, labels, err
}

// Status reports the active sensor and log size.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() {
		st = Status{
			ID:      s.id,
			Active:  s.active,
			Labels:  motion.LabelsFor(s.active),
			Size:    s.log.Size(),
			Paused:  s.paused,
			Started: s.started,
		}
	})
	return st, err
}

// Export writes the current log to the sink returned by open. The log is
// copied on the session goroutine and written from the caller's, so
// readings keep flowing during slow writes. A failed export returns a
// *csvexport.ExportFailure and leaves the log untouched.
func (s *Session) Export(ctx context.Context, open csvexport.Opener) (int, error) {
	samples, err := s.Samples(ctx)
	if err != nil {
		return 0, err
	}
	if err := csvexport.ExportTo(open, samples); err != nil {
		s.logger.Errorw("export failed", "samples", len(samples), "error", err)
		return 0, err
	}
	s.logger.Infow("export written", "samples", len(samples))
	return len(samples), nil
}

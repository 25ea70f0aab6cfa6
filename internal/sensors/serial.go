package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

// TypeMOT is the sentence type emitted by the serial sensor board:
//
//	$IIMOT,<tag>,<x>,<y>,<z>*hh
const TypeMOT = "MOT"

// MOT is one motion reading sent by the serial sensor board.
type MOT struct {
	nmea.BaseSentence
	Tag string
	X   float64
	Y   float64
	Z   float64
}

func newMOT(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeMOT)
	m := MOT{
		BaseSentence: s,
		Tag:          p.String(0, "sensor tag"),
		X:            p.Float64(1, "x"),
		Y:            p.Float64(2, "y"),
		Z:            p.Float64(3, "z"),
	}
	return m, p.Err()
}

var motParser = nmea.SentenceParser{
	CustomParsers: map[string]nmea.ParserFunc{TypeMOT: newMOT},
}

// ParseMOT parses one line. Sentences of other types return an error.
func ParseMOT(line string) (MOT, error) {
	s, err := motParser.Parse(line)
	if err != nil {
		return MOT{}, err
	}
	m, ok := s.(MOT)
	if !ok {
		return MOT{}, fmt.Errorf("unexpected sentence type %s", s.DataType())
	}
	return m, nil
}

// Event converts the sentence to a motion event. Unrecognized tags become
// motion.Unknown.
func (m MOT) Event() motion.Event {
	return motion.NewEvent(motion.ParseSensorType(m.Tag), m.X, m.Y, m.Z, time.Time{})
}

// SerialOptions returns go-serial options for an 8N1 line at baud.
func SerialOptions(port string, baud int) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
}

type serialSub struct {
	sensor  motion.SensorType
	deliver func(motion.Event)
}

// SerialSource reads MOT sentences from a serial port. The port is opened
// with the first subscription and closed after the last one; each sentence
// goes to the subscriptions for its sensor type.
type SerialSource struct {
	name      string
	available map[motion.SensorType]bool
	logger    *zap.SugaredLogger
	open      func() (io.ReadCloser, error)

	mu     sync.Mutex
	port   io.ReadCloser
	subs   map[int]serialSub
	nextID int
}

// NewSerialSource reads from the port described by opts. sensors lists the
// tags the board emits.
func NewSerialSource(opts serial.OpenOptions, sensors []string, logger *zap.SugaredLogger) (*SerialSource, error) {
	open := func() (io.ReadCloser, error) { return serial.Open(opts) }
	return newSerialSource(opts.PortName, open, sensors, logger)
}

// NewSerialSourceFromConfig uses the SERIAL_* keys.
func NewSerialSourceFromConfig(cfg *config.Config, logger *zap.SugaredLogger) (*SerialSource, error) {
	return NewSerialSource(SerialOptions(cfg.SerialPort, cfg.SerialBaudRate), cfg.SerialSensors, logger)
}

func newSerialSource(name string, open func() (io.ReadCloser, error), sensors []string, logger *zap.SugaredLogger) (*SerialSource, error) {
	available := make(map[motion.SensorType]bool)
	for _, tag := range sensors {
		t := motion.ParseSensorType(tag)
		if !t.Known() {
			return nil, fmt.Errorf("serial sensors: unknown sensor tag %q", tag)
		}
		available[t] = true
	}
	return &SerialSource{
		name:      name,
		available: available,
		logger:    logger.With("port", name),
		open:      open,
		subs:      make(map[int]serialSub),
	}, nil
}

// Subscribe delivers readings of type t from the board.
func (s *SerialSource) Subscribe(t motion.SensorType, deliver func(motion.Event)) (capture.Subscription, error) {
	if !s.available[t] {
		return nil, motion.Unavailable(t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		port, err := s.open()
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", s.name, err)
		}
		s.port = port
		s.logger.Info("serial port opened")
		go s.readLoop(port)
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = serialSub{sensor: t, deliver: deliver}

	return capture.SubscriptionFunc(func() error { return s.unsubscribe(id) }), nil
}

func (s *SerialSource) unsubscribe(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	if len(s.subs) > 0 || s.port == nil {
		return nil
	}
	port := s.port
	s.port = nil
	if err := port.Close(); err != nil {
		return fmt.Errorf("close serial port %s: %w", s.name, err)
	}
	s.logger.Info("serial port closed")
	return nil
}

func (s *SerialSource) readLoop(port io.ReadCloser) {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		m, err := ParseMOT(line)
		if err != nil {
			s.logger.Debugw("sentence dropped", "line", line, "error", err)
			continue
		}
		s.dispatch(port, m.Event())
	}

	// The port died under its subscribers. Drop it so the next Subscribe
	// reopens the device.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != port {
		return
	}
	s.port = nil
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.logger.Errorw("serial read error", "error", err)
	} else {
		s.logger.Warn("serial port reached end of input")
	}
	if err := port.Close(); err != nil {
		s.logger.Debugw("serial port close error", "error", err)
	}
}

// dispatch hands ev to every subscription for its type while port is still
// the open port. Readings with an unrecognized tag cannot be attributed to
// one sensor and go to every subscription unchanged.
func (s *SerialSource) dispatch(port io.ReadCloser, ev motion.Event) {
	s.mu.Lock()
	var targets []func(motion.Event)
	if s.port == port {
		for _, sub := range s.subs {
			if sub.sensor == ev.Sensor || ev.Sensor == motion.Unknown {
				targets = append(targets, sub.deliver)
			}
		}
	}
	s.mu.Unlock()

	for _, deliver := range targets {
		deliver(ev)
	}
}

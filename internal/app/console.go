package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"

	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/logging"
	"github.com/relabs-tech/motion_logger/internal/motion"
	"github.com/relabs-tech/motion_logger/internal/samplelog"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

// Printer writes one coloured line per reading:
//
//	12:00:01 [GYROSCOPE] Gyroscope x: 0.5 rad/s | Gyroscope y: 0 rad/s | ...
type Printer struct {
	mu   sync.Mutex
	out  io.Writer
	clk  clock.Clock
	tags map[motion.SensorType]*color.Color
}

// NewPrinter prints to out, stamping lines with clk.
func NewPrinter(out io.Writer, clk clock.Clock) *Printer {
	return &Printer{
		out: out,
		clk: clk,
		tags: map[motion.SensorType]*color.Color{
			motion.Accelerometer:      color.New(color.FgRed, color.Bold),
			motion.LinearAcceleration: color.New(color.FgYellow, color.Bold),
			motion.Gyroscope:          color.New(color.FgGreen, color.Bold),
		},
	}
}

// Print writes ev. It is safe for concurrent use.
func (p *Printer) Print(ev motion.Event) error {
	labels := motion.LabelsFor(ev.Sensor)
	tag, ok := p.tags[ev.Sensor]
	if !ok {
		tag = color.New(color.FgWhite)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, "%s %s %s | %s | %s\n",
		p.clk.Now().Format(samplelog.TimeLayout),
		tag.Sprintf("[%s]", ev.Sensor),
		labels.Readout("x", ev.Values.X),
		labels.Readout("y", ev.Values.Y),
		labels.Readout("z", ev.Values.Z),
	)
	return err
}

// RunConsole prints every sensor type the configured source offers until
// SIGINT or SIGTERM.
func RunConsole() error {
	cfg := config.Get()
	logger := logging.Named("console")
	clk := clock.New()

	src, release, err := sensors.New(cfg, cfg.MQTTClientIDConsole, clk, logger)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := NewPrinter(color.Output, clk)
	err = Forward(ctx, src, motion.SensorTypes, printer.Print, logger)
	logger.Info("console: shutting down")
	return err
}

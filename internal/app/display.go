package app

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/logging"
	"github.com/relabs-tech/motion_logger/internal/motion"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
	maxChars      = displayWidth / 7
)

// panel is the drawing surface of an SSD1306.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Display keeps the latest routed reading for the OLED.
type Display struct {
	mu     sync.Mutex
	labels motion.Labels
	last   *capture.Update
	size   int
}

// OnUpdate implements capture.Observer.
func (d *Display) OnUpdate(u capture.Update) {
	d.mu.Lock()
	d.labels = u.Labels
	d.last = &u
	d.size = u.Size
	d.mu.Unlock()
}

// OnReset implements capture.Observer.
func (d *Display) OnReset(r capture.Reset) {
	d.mu.Lock()
	d.labels = r.Labels
	d.last = nil
	d.size = 0
	d.mu.Unlock()
}

// Frame draws the current state.
func (d *Display) Frame() *image1bit.VerticalLSB {
	d.mu.Lock()
	labels, last, size := d.labels, d.last, d.size
	d.mu.Unlock()

	var lines []string
	if last == nil {
		lines = []string{labels.Title, "Waiting..."}
	} else {
		unit := asciiUnit(labels.AxisUnit)
		lines = []string{
			fmt.Sprintf("%s %s", labels.Title, unit),
			fmt.Sprintf("X:%10.3f", last.Sample.X),
			fmt.Sprintf("Y:%10.3f", last.Sample.Y),
			fmt.Sprintf("Z:%10.3f", last.Sample.Z),
			fmt.Sprintf("%s n=%d", last.Sample.Timestamp, size),
		}
	}
	return drawLines(lines)
}

// asciiUnit rewrites a unit for the 7x13 ASCII font.
func asciiUnit(unit string) string {
	return strings.NewReplacer("²", "2", "°", "deg").Replace(unit)
}

func drawLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if len(line) > maxChars {
			line = line[:maxChars]
		}
		drawer.Dot = fixed.P(0, lineHeight*(i+1)-2)
		drawer.DrawString(line)
	}
	return img
}

// refresh redraws dev every interval until ctx is done.
func (d *Display) refresh(ctx context.Context, dev panel, clk clock.Clock, interval time.Duration, logger *zap.SugaredLogger) error {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), d.Frame(), image.Point{}); err != nil {
				logger.Warnw("display: error updating display", "error", err)
			}
		}
	}
}

func openDisplay(bus string) (*ssd1306.Dev, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open I2C bus %q: %w", bus, err)
	}
	dev, err := ssd1306.NewI2C(b, &ssd1306.DefaultOpts)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	return dev, b.Close, nil
}

// RunDisplay captures SENSOR_TYPE and shows the latest reading on an SSD1306
// OLED until SIGINT or SIGTERM.
func RunDisplay() error {
	cfg := config.Get()
	logger := logging.Named("display")
	clk := clock.New()

	dev, closeBus, err := openDisplay(cfg.DisplayI2CBus)
	if err != nil {
		return err
	}
	defer closeBus()
	logger.Infow("display initialized", "bus", cfg.DisplayI2CBus)

	if err := dev.Draw(dev.Bounds(), drawLines([]string{"Motion logger", "Starting..."}), image.Point{}); err != nil {
		logger.Warnw("display: error showing splash", "error", err)
	}

	src, release, err := sensors.New(cfg, cfg.MQTTClientIDDisplay, clk, logger)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := newSession(cfg, src, clk, logger.Named("capture"))
	display := &Display{}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runSession(ctx, session) })
	g.Go(func() error {
		if err := session.AddObserver(ctx, display); err != nil {
			return err
		}
		if err := selectConfigured(ctx, session, cfg, logger); err != nil {
			return err
		}
		logger.Info("display: starting update loop")
		return display.refresh(ctx, dev, clk, millis(cfg.DisplayUpdateInterval), logger)
	})
	err = g.Wait()
	dev.Halt()
	return err
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

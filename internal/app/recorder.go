package app

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/csvexport"
	"github.com/relabs-tech/motion_logger/internal/logging"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

// Record waits for ctx to end and then exports the session's log to a new
// file in dir. It returns the file path and the number of samples written.
func Record(ctx context.Context, session *capture.Session, clk clock.Clock, dir string) (string, int, error) {
	<-ctx.Done()
	path := filepath.Join(dir, csvexport.DefaultFileName(clk.Now()))
	n, err := session.Export(context.Background(), csvexport.FileOpener(path))
	return path, n, err
}

// RunLogger captures SENSOR_TYPE for d, or until SIGINT or SIGTERM, and
// writes the log as CSV to EXPORT_DIR. A zero d records until a signal.
func RunLogger(d time.Duration) error {
	cfg := config.Get()
	logger := logging.Named("logger")
	clk := clock.New()

	src, release, err := sensors.New(cfg, cfg.MQTTClientIDLogger, clk, logger)
	if err != nil {
		return err
	}
	defer release()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	waitCtx := sigCtx
	if d > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = clk.WithTimeout(sigCtx, d)
		defer cancel()
	}

	session := newSession(cfg, src, clk, logger.Named("capture"))
	runCtx, stopSession := context.WithCancel(context.Background())
	defer stopSession()

	var g errgroup.Group
	g.Go(func() error { return runSession(runCtx, session) })
	g.Go(func() error {
		defer stopSession()
		if err := selectConfigured(waitCtx, session, cfg, logger); err != nil {
			return err
		}
		logger.Infow("recording", "sensor_type", cfg.SensorType, "duration", d)
		path, n, err := Record(waitCtx, session, clk, cfg.ExportDir)
		if err != nil {
			return err
		}
		logger.Infow("recording saved", "path", path, "samples", n)
		return nil
	})
	return g.Wait()
}

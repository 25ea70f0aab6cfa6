package app

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

func newSession(cfg *config.Config, src capture.Source, clk clock.Clock, logger *zap.SugaredLogger) *capture.Session {
	return capture.New(src, capture.Options{
		MaxSamples:  cfg.LogMaxSamples,
		ChartWindow: cfg.ChartWindow,
		Clock:       clk,
		Logger:      logger,
	})
}

// selectConfigured activates SENSOR_TYPE. A missing sensor is not fatal: the
// session stays idle until another type is selected.
func selectConfigured(ctx context.Context, session *capture.Session, cfg *config.Config, logger *zap.SugaredLogger) error {
	t := motion.ParseSensorType(cfg.SensorType)
	if !t.Known() {
		logger.Warnw("unknown SENSOR_TYPE, using accelerometer", "sensor_type", cfg.SensorType)
		t = motion.Accelerometer
	}
	err := session.SelectSensor(ctx, t)
	if errors.Is(err, motion.ErrSensorUnavailable) {
		return nil
	}
	return err
}

// runSession wraps Session.Run so that a cancelled context is a clean stop.
func runSession(ctx context.Context, session *capture.Session) error {
	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

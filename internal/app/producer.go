package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/logging"
	"github.com/relabs-tech/motion_logger/internal/motion"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

const publishTimeout = 2 * time.Second

// Forward subscribes src to every type in types and passes each reading to
// handle until ctx is done. Unavailable types are skipped; it fails only
// when none is available. handle may be called from several goroutines.
func Forward(ctx context.Context, src capture.Source, types []motion.SensorType, handle func(motion.Event) error, logger *zap.SugaredLogger) (err error) {
	var subs []capture.Subscription
	for _, t := range types {
		sensor := t
		sub, serr := src.Subscribe(sensor, func(ev motion.Event) {
			if herr := handle(ev); herr != nil {
				logger.Warnw("reading dropped", "sensor", sensor, "error", herr)
			}
		})
		if errors.Is(serr, motion.ErrSensorUnavailable) {
			logger.Warnw("sensor not available", "sensor", sensor)
			continue
		}
		if serr != nil {
			err = serr
			break
		}
		logger.Infow("sensor registered", "sensor", sensor)
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			err = multierr.Append(err, sub.Close())
		}
	}()
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("none of %v is available", types)
	}

	<-ctx.Done()
	return nil
}

// RunProducer reads every sensor of the local source and publishes the
// readings to MQTT, one topic per sensor type.
func RunProducer() error {
	cfg := config.Get()
	logger := logging.Named("producer")
	logger.Infow("starting motion producer", "source", cfg.Source, "broker", cfg.MQTTBroker)

	src, err := sensors.NewLocal(cfg, clock.New(), logger)
	if err != nil {
		return err
	}

	client, err := sensors.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer, logger)
	if err != nil {
		return err
	}
	defer sensors.DisconnectMQTT(client)

	topics := sensors.Topics(cfg)
	pub := sensors.NewPublisher(client, topics, publishTimeout)
	types := make([]motion.SensorType, 0, len(topics))
	for _, t := range motion.SensorTypes {
		if _, ok := topics[t]; ok {
			types = append(types, t)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("connected to MQTT, starting publish loop")
	err = Forward(ctx, src, types, pub.Publish, logger)
	logger.Info("producer stopped")
	return err
}

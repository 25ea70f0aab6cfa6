// Package sensors provides the sources that deliver motion readings to a
// capture session: a mock generator, an MQTT feed, an MPU9250 on SPI and a
// serial sensor board.
package sensors

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
)

// New builds the source selected by cfg.Source. clientID names the MQTT
// client when the source is mqtt. The returned func releases the source.
func New(cfg *config.Config, clientID string, clk clock.Clock, logger *zap.SugaredLogger) (capture.Source, func(), error) {
	logger = logger.With("source", cfg.Source)
	switch cfg.Source {
	case config.SourceMock:
		return NewMockSource(clk, millis(cfg.MockSampleInterval), logger), func() {}, nil

	case config.SourceMPU9250:
		return NewMPU9250Source(IMUSettingsFromConfig(cfg), clk, logger), func() {}, nil

	case config.SourceSerial:
		src, err := NewSerialSourceFromConfig(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil

	case config.SourceMQTT:
		client, err := ConnectMQTT(cfg.MQTTBroker, clientID, logger)
		if err != nil {
			return nil, nil, err
		}
		return NewMQTTSource(client, Topics(cfg), logger), func() { DisconnectMQTT(client) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// NewLocal builds a source that reads hardware directly, for publishing to
// MQTT. SOURCE=mqtt is rejected since it would read back its own output.
func NewLocal(cfg *config.Config, clk clock.Clock, logger *zap.SugaredLogger) (capture.Source, error) {
	if cfg.Source == config.SourceMQTT {
		return nil, fmt.Errorf("SOURCE=%s cannot feed the producer", cfg.Source)
	}
	src, _, err := New(cfg, "", clk, logger)
	return src, err
}

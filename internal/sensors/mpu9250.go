// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

// imuDevice is the part of the MPU9250 driver used for sampling.
type imuDevice interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

// IMUSettings selects the MPU9250 wiring and ranges.
type IMUSettings struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	Interval   time.Duration
}

// IMUSettingsFromConfig reads the IMU_* keys.
func IMUSettingsFromConfig(cfg *config.Config) IMUSettings {
	return IMUSettings{
		SPIDevice:  cfg.IMUSPIDevice,
		CSPin:      cfg.IMUCSPin,
		AccelRange: cfg.IMUAccelRange,
		GyroRange:  cfg.IMUGyroRange,
		Interval:   millis(cfg.IMUSampleInterval),
	}
}

// AccelScale converts raw accelerometer counts to m/s² for range r.
func AccelScale(r byte) float64 {
	return float64(int(2)<<r) / 32768 * standardGravity
}

// GyroScale converts raw gyroscope counts to rad/s for range r.
func GyroScale(r byte) float64 {
	return float64(int(250)<<r) / 32768 * math.Pi / 180
}

// MPU9250Source samples an MPU9250 over SPI. The chip has no linear
// acceleration output, so that type is unavailable.
type MPU9250Source struct {
	settings IMUSettings
	clk      clock.Clock
	logger   *zap.SugaredLogger
	open     func(IMUSettings) (imuDevice, error)

	once    sync.Once
	openErr error
	mu      sync.Mutex // serializes bus access between subscriptions
	dev     imuDevice
}

// NewMPU9250Source creates a source. The device is opened on the first
// subscription.
func NewMPU9250Source(settings IMUSettings, clk clock.Clock, logger *zap.SugaredLogger) *MPU9250Source {
	s := &MPU9250Source{settings: settings, clk: clk, logger: logger}
	s.open = s.openDevice
	return s
}

func (s *MPU9250Source) openDevice(st IMUSettings) (imuDevice, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(st.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("CS pin %q not found", st.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(st.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("SPI transport (%s): %w", st.SPIDevice, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("device creation: %w", err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("initialization: %w", err)
	}

	if err := imu.SetAccelRange(st.AccelRange); err != nil {
		return nil, fmt.Errorf("set accel range: %w", err)
	}
	s.logger.Infow("accelerometer range set", "range", st.AccelRange, "g", 2<<st.AccelRange)

	if err := imu.SetGyroRange(st.GyroRange); err != nil {
		return nil, fmt.Errorf("set gyro range: %w", err)
	}
	s.logger.Infow("gyroscope range set", "range", st.GyroRange, "deg_per_s", 250<<st.GyroRange)

	if err := imu.Calibrate(); err != nil {
		s.logger.Warnw("IMU calibration failed", "error", err)
	} else {
		s.logger.Info("IMU calibration complete")
	}
	return imu, nil
}

func (s *MPU9250Source) device() (imuDevice, error) {
	s.once.Do(func() {
		s.dev, s.openErr = s.open(s.settings)
		if s.openErr != nil {
			s.logger.Errorw("MPU9250 unavailable", "spi", s.settings.SPIDevice, "error", s.openErr)
		}
	})
	return s.dev, s.openErr
}

// Subscribe polls the accelerometer or gyroscope every interval. If the chip
// cannot be opened every type is unavailable.
func (s *MPU9250Source) Subscribe(t motion.SensorType, deliver func(motion.Event)) (capture.Subscription, error) {
	var read func(imuDevice) (x, y, z int16, err error)
	var scale float64
	switch t {
	case motion.Accelerometer:
		read, scale = readAccel, AccelScale(s.settings.AccelRange)
	case motion.Gyroscope:
		read, scale = readGyro, GyroScale(s.settings.GyroRange)
	default:
		return nil, motion.Unavailable(t)
	}

	dev, err := s.device()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", motion.Unavailable(t), err)
	}

	poll := func(now time.Time) (motion.Event, error) {
		s.mu.Lock()
		x, y, z, err := read(dev)
		s.mu.Unlock()
		if err != nil {
			return motion.Event{}, err
		}
		return motion.NewEvent(t, float64(x)*scale, float64(y)*scale, float64(z)*scale, now), nil
	}
	return startPolling(s.clk, s.settings.Interval, poll, deliver, s.logger.With("sensor", t)), nil
}

func readAccel(d imuDevice) (x, y, z int16, err error) {
	if x, err = d.GetAccelerationX(); err != nil {
		return 0, 0, 0, fmt.Errorf("accel X: %w", err)
	}
	if y, err = d.GetAccelerationY(); err != nil {
		return 0, 0, 0, fmt.Errorf("accel Y: %w", err)
	}
	if z, err = d.GetAccelerationZ(); err != nil {
		return 0, 0, 0, fmt.Errorf("accel Z: %w", err)
	}
	return x, y, z, nil
}

func readGyro(d imuDevice) (x, y, z int16, err error) {
	if x, err = d.GetRotationX(); err != nil {
		return 0, 0, 0, fmt.Errorf("gyro X: %w", err)
	}
	if y, err = d.GetRotationY(); err != nil {
		return 0, 0, 0, fmt.Errorf("gyro Y: %w", err)
	}
	if z, err = d.GetRotationZ(); err != nil {
		return 0, 0, 0, fmt.Errorf("gyro Z: %w", err)
	}
	return x, y, z, nil
}

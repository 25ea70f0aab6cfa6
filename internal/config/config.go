package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/a8m/envsubst"
)

// Sensor sources selectable with SOURCE.
const (
	SourceMQTT    = "mqtt"
	SourceMock    = "mock"
	SourceMPU9250 = "mpu9250"
	SourceSerial  = "serial"
)

// Config holds all application configuration values.
type Config struct {
	// Capture
	Source        string // mqtt, mock, mpu9250, serial
	SensorType    string // tag selected at startup
	LogMaxSamples int    // 0 = unbounded
	ChartWindow   int    // points kept per chart series, 0 = unbounded

	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string
	MQTTClientIDLogger   string

	// Topics, one per sensor type
	TopicAccelerometer      string
	TopicLinearAcceleration string
	TopicGyroscope          string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Serial sensor board
	SerialPort     string
	SerialBaudRate int
	SerialSensors  []string // tags the board emits

	// Timing
	IMUSampleInterval  int // milliseconds
	MockSampleInterval int // milliseconds

	// Web Server
	WebServerPort int
	WebRoot       string
	ExportDir     string

	// Display
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds

	// Logging
	LogLevel string
	LogFile  string
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		Source:                  SourceMQTT,
		SensorType:              "ACCELEROMETER",
		ChartWindow:             500,
		MQTTBroker:              "tcp://localhost:1883",
		MQTTClientIDProducer:    "motion-producer",
		MQTTClientIDConsole:     "motion-console",
		MQTTClientIDWeb:         "motion-web",
		MQTTClientIDDisplay:     "motion-display",
		MQTTClientIDLogger:      "motion-logger",
		TopicAccelerometer:      "motion/accelerometer",
		TopicLinearAcceleration: "motion/linear_acceleration",
		TopicGyroscope:          "motion/gyroscope",
		IMUSPIDevice:            "/dev/spidev0.0",
		IMUCSPin:                "8",
		IMUSampleInterval:       100,
		SerialBaudRate:          115200,
		SerialSensors:           []string{"ACCELEROMETER", "GYROSCOPE"},
		MockSampleInterval:      100,
		WebServerPort:           8080,
		WebRoot:                 "web",
		ExportDir:               ".",
		DisplayI2CBus:           "",
		DisplayUpdateInterval:   250,
		LogLevel:                "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default. Values may reference
// environment variables as ${NAME}.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value, err := envsubst.String(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("config line %d: expand %s: %w", lineNum, key, err)
		}

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseRange(key, value string, max int) (byte, error) {
	val, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if val < 0 || val > max {
		return 0, fmt.Errorf("%s must be 0-%d, got %d", key, max, val)
	}
	return byte(val), nil
}

func parseInt(key, value string) (int, error) {
	val, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, val)
	}
	return val, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Capture
	case "SOURCE":
		c.Source = strings.ToLower(value)
	case "SENSOR_TYPE":
		c.SensorType = strings.ToUpper(value)
	case "LOG_MAX_SAMPLES":
		c.LogMaxSamples, err = parseInt(key, value)
	case "CHART_WINDOW":
		c.ChartWindow, err = parseInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_LOGGER":
		c.MQTTClientIDLogger = value

	// Topics
	case "TOPIC_ACCELEROMETER":
		c.TopicAccelerometer = value
	case "TOPIC_LINEAR_ACCELERATION":
		c.TopicLinearAcceleration = value
	case "TOPIC_GYROSCOPE":
		c.TopicGyroscope = value

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(key, value, 3)
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(key, value, 3)

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value)
	case "SERIAL_SENSORS":
		c.SerialSensors = nil
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.ToUpper(strings.TrimSpace(tag)); tag != "" {
				c.SerialSensors = append(c.SerialSensors, tag)
			}
		}

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parseInt(key, value)
	case "MOCK_SAMPLE_INTERVAL":
		c.MockSampleInterval, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "WEB_ROOT":
		c.WebRoot = value
	case "EXPORT_DIR":
		c.ExportDir = value

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FILE":
		c.LogFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that the fields the selected source needs are set.
func (c *Config) validate() error {
	switch c.Source {
	case SourceMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for SOURCE=%s", c.Source)
		}
	case SourceMock:
		if c.MockSampleInterval <= 0 {
			return fmt.Errorf("MOCK_SAMPLE_INTERVAL must be positive for SOURCE=%s", c.Source)
		}
	case SourceMPU9250:
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for SOURCE=%s", c.Source)
		}
		if c.IMUSampleInterval <= 0 {
			return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive for SOURCE=%s", c.Source)
		}
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SOURCE=%s", c.Source)
		}
		if c.SerialBaudRate == 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE is required for SOURCE=%s", c.Source)
		}
	default:
		return fmt.Errorf("unknown SOURCE %q (want mqtt, mock, mpu9250 or serial)", c.Source)
	}
	if c.WebServerPort == 0 {
		return fmt.Errorf("WEB_SERVER_PORT is required")
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls are no-ops.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

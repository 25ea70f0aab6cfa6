package sensors

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/motion"
)

const (
	mqttQoS           = 0
	disconnectQuiesce = 250 // milliseconds
)

// Topics maps each sensor type to its MQTT topic. Types with an empty
// topic are left out.
func Topics(cfg *config.Config) map[motion.SensorType]string {
	topics := make(map[motion.SensorType]string)
	for t, topic := range map[motion.SensorType]string{
		motion.Accelerometer:      cfg.TopicAccelerometer,
		motion.LinearAcceleration: cfg.TopicLinearAcceleration,
		motion.Gyroscope:          cfg.TopicGyroscope,
	} {
		if topic != "" {
			topics[t] = topic
		}
	}
	return topics
}

// ConnectMQTT connects to broker. A random suffix is appended to clientID so
// several instances can share one broker.
func ConnectMQTT(broker, clientID string, logger *zap.SugaredLogger) (mqtt.Client, error) {
	id := clientID + "-" + uuid.NewString()[:8]
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(id).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("MQTT connection lost", "broker", broker, "error", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	logger.Infow("connected to MQTT broker", "broker", broker, "client_id", id)
	return client, nil
}

// DisconnectMQTT closes client, waiting briefly for in-flight work.
func DisconnectMQTT(client mqtt.Client) {
	client.Disconnect(disconnectQuiesce)
}

type mqttSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTSource delivers events published as JSON on one topic per sensor type.
type MQTTSource struct {
	client mqttSubscriber
	topics map[motion.SensorType]string
	logger *zap.SugaredLogger
}

// NewMQTTSource reads from client using the given topic map.
func NewMQTTSource(client mqttSubscriber, topics map[motion.SensorType]string, logger *zap.SugaredLogger) *MQTTSource {
	return &MQTTSource{client: client, topics: topics, logger: logger}
}

// Subscribe subscribes to the topic of t. Payloads that fail to decode are
// logged and dropped. A payload without a sensor tag is stamped with t.
func (s *MQTTSource) Subscribe(t motion.SensorType, deliver func(motion.Event)) (capture.Subscription, error) {
	topic, ok := s.topics[t]
	if !ok {
		return nil, motion.Unavailable(t)
	}

	// paho calls handlers from one goroutine unless ordering is disabled
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var ev motion.Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			s.logger.Warnw("event unmarshal error", "topic", msg.Topic(), "error", err)
			return
		}
		if ev.Sensor == motion.Unknown {
			ev.Sensor = t
		}
		deliver(ev)
	}

	if token := s.client.Subscribe(topic, mqttQoS, handler); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT subscribe %s: %w", topic, token.Error())
	}
	s.logger.Infow("subscribed", "topic", topic, "sensor", t)

	return capture.SubscriptionFunc(func() error {
		if token := s.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
			return fmt.Errorf("MQTT unsubscribe %s: %w", topic, token.Error())
		}
		s.logger.Infow("unsubscribed", "topic", topic)
		return nil
	}), nil
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends events to the topic of their sensor type.
type Publisher struct {
	client  mqttPublisher
	topics  map[motion.SensorType]string
	timeout time.Duration
}

// NewPublisher publishes through client. A zero timeout waits forever.
func NewPublisher(client mqttPublisher, topics map[motion.SensorType]string, timeout time.Duration) *Publisher {
	return &Publisher{client: client, topics: topics, timeout: timeout}
}

// Publish marshals ev and publishes it retained, so late subscribers see the
// last reading.
func (p *Publisher) Publish(ev motion.Event) error {
	topic, ok := p.topics[ev.Sensor]
	if !ok {
		return fmt.Errorf("no topic for %s", ev.Sensor)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Sensor, err)
	}
	token := p.client.Publish(topic, mqttQoS, true, payload)
	if p.timeout > 0 {
		if !token.WaitTimeout(p.timeout) {
			return fmt.Errorf("MQTT publish %s: timed out after %s", topic, p.timeout)
		}
	} else {
		token.Wait()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish %s: %w", topic, err)
	}
	return nil
}

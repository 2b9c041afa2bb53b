package publisher

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/sparkvision/pipeline/logging"
)

// MQTTConfig configures the MQTT fan-out channel.
type MQTTConfig struct {
	// Broker is the broker URI, e.g. "tcp://localhost:1883".
	Broker      string
	ClientID    string
	TopicPrefix string
	// PublishTimeout bounds how long a mirror waits for broker ack.
	PublishTimeout time.Duration
}

const defaultPublishTimeout = 2 * time.Second

// mqttFanOut mirrors batch events on <prefix>/camera/<cameraId> and
// immediate updates on <prefix>/slot/<slotId>.
type mqttFanOut struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	logger  logging.Logger
}

// NewMQTTFanOut connects (with automatic retry in the background; a broker
// that is down at startup is tolerated) and returns a FanOut over it.
func NewMQTTFanOut(cfg MQTTConfig, logger logging.Logger) (FanOut, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker uri cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sparkvision-pipeline"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "sparking/detection"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Infow("connected to mqtt broker", "broker", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("mqtt connection lost", "error", err)
		})
	client := mqtt.NewClient(opts)
	// fire and forget: connect retries run in the background and mirrors
	// simply fail until the broker is reachable
	client.Connect()

	return &mqttFanOut{
		client:  client,
		prefix:  cfg.TopicPrefix,
		timeout: cfg.PublishTimeout,
		logger:  logger,
	}, nil
}

func (m *mqttFanOut) MirrorEvent(event *DetectionEvent) error {
	return m.publish(m.prefix+"/camera/"+event.CameraID, event)
}

func (m *mqttFanOut) MirrorSlotUpdate(update *SlotUpdateEvent) error {
	return m.publish(m.prefix+"/slot/"+update.SlotID, update)
}

func (m *mqttFanOut) publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding mqtt payload")
	}
	token := m.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(m.timeout) {
		return errors.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (m *mqttFanOut) Close() error {
	m.client.Disconnect(250)
	return nil
}

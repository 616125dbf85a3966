// Package mqttsub implements the MQTT-subscribe ingestion integration: a
// paho client with auto-reconnect and keepalive, dual
// plain-text/JSON payload parsing, and an arbitrary set of topic
// subscriptions driven by config rather than a fixed topic.
package mqttsub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Config mirrors config.MQTTSubConfig to keep this package independent
// of the top-level config package.
type Config struct {
	Hostname string
	Port     int
	Username string
	Password string
}

type valueEnvelope struct {
	Value float64 `json:"value"`
}

// Subscriber wraps a single paho client and fans out topic
// subscriptions registered via Subscribe.
type Subscriber struct {
	log    *logrus.Entry
	client mqtt.Client
}

func NewSubscriber(cfg Config, clientID string, log *logrus.Entry) *Subscriber {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Hostname, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)

	s := &Subscriber{log: log}
	opts.SetConnectionLostHandler(s.onConnectionLost)
	s.client = mqtt.NewClient(opts)
	return s
}

// Connect blocks until the broker connection succeeds or fails.
// Callers should wrap a failure as a core.IntegrationInitError.
func (s *Subscriber) Connect() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

func (s *Subscriber) Disconnect() {
	s.client.Disconnect(250)
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.log.Errorf("MQTT connection lost: %v", err)
}

// SubscribeNumeric subscribes to topic and calls report with every
// successfully parsed reading, accepting either a bare number or a
// {"value": ...} JSON object on the wire.
func (s *Subscriber) SubscribeNumeric(topic string, report func(float64)) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		value, err := parseValue(msg.Payload())
		if err != nil {
			s.log.Errorf("failed to parse MQTT payload on %s: %v", topic, err)
			return
		}
		report(value)
	}

	if token := s.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	s.log.Infof("subscribed to MQTT topic %s", topic)
	return nil
}

func parseValue(payload []byte) (float64, error) {
	if json.Valid(payload) {
		var env valueEnvelope
		if err := json.Unmarshal(payload, &env); err == nil {
			return env.Value, nil
		}
	}
	return strconv.ParseFloat(string(payload), 64)
}

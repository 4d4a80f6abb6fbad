// Package notify publishes bridge events to an MQTT broker.
//
// Every event is published as JSON to <prefix>/<kind>. Connection events are additionally
// published, retained, to <prefix>/state so that late subscribers see the current connection
// state. The broker is told to publish "offline" to <prefix>/availability if the process goes
// away without closing the sink.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/bridge"
)

const (
	DefaultPrefix = "tedee/lock"

	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrPublishFailed    = errors.New("mqtt publish failed")
	ErrInvalidQoS       = errors.New("invalid qos")
)

// Publisher is the subset of mqtt.Client used by Sink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Options configure a broker connection.
type Options struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
}

// Sink is a bridge.Sink that forwards events to MQTT.
type Sink struct {
	publisher Publisher
	client    mqtt.Client
	prefix    string
	qos       byte
	timeout   time.Duration
}

// NewSink publishes through an existing publisher. An empty prefix selects DefaultPrefix.
func NewSink(publisher Publisher, prefix string, qos byte) (*Sink, error) {
	if qos > maxQoS {
		return nil, ErrInvalidQoS
	}
	if prefix = strings.TrimRight(prefix, "/"); prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{publisher: publisher, prefix: prefix, qos: qos, timeout: defaultPublishTimeout}, nil
}

func (s *Sink) topic(name string) string {
	return s.prefix + "/" + name
}

// Connect dials the broker described by options and returns a Sink that owns the connection.
func Connect(options Options) (*Sink, error) {
	sink, err := NewSink(nil, options.Prefix, options.QoS)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(options.Broker)
	if options.ClientID != "" {
		opts.SetClientID(options.ClientID)
	}
	if options.Username != "" {
		opts.SetUsername(options.Username)
		opts.SetPassword(options.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(sink.topic("availability"), "offline", 1, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("Connected to MQTT broker %s", options.Broker)
		c.Publish(sink.topic("availability"), 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warning("Lost connection to MQTT broker: %s", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	sink.client = client
	sink.publisher = client
	return sink, nil
}

// Close announces the sink going offline and disconnects from the broker. Sinks created with
// NewSink do not own their publisher, and Close does nothing.
func (s *Sink) Close() {
	if s.client == nil {
		return
	}
	if err := s.publish("availability", true, "offline"); err != nil {
		log.Warning("%s", err)
	}
	s.client.Disconnect(defaultDisconnectQuiesce)
}

func (s *Sink) publish(name string, retained bool, payload interface{}) error {
	token := s.publisher.Publish(s.topic(name), s.qos, retained, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, s.topic(name), s.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, s.topic(name), err)
	}
	return nil
}

// HandleEvent publishes event. Failures are logged; events are never retried.
func (s *Sink) HandleEvent(event bridge.HostEvent) {
	payload, err := json.Marshal(&event)
	if err != nil {
		log.Error("Could not encode %s event: %s", event.Kind, err)
		return
	}
	if err := s.publish(string(event.Kind), false, payload); err != nil {
		log.Warning("%s", err)
	}
	if event.Kind == bridge.KindConnection || event.Reset {
		if err := s.publish("state", true, event.StateName); err != nil {
			log.Warning("%s", err)
		}
	}
}

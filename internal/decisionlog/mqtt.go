package decisionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within the configured timeout.
var ErrPublishTimeout = errors.New("decisionlog: mqtt publish timed out")

// MQTTClient is the subset of the paho client used by MQTTSink.
// This allows us to mock MQTT calls in tests
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// pahoClient wraps the paho MQTT client
type pahoClient struct {
	client mqtt.Client
}

func (p *pahoClient) Connect() mqtt.Token { return p.client.Connect() }

func (p *pahoClient) Disconnect(quiesce uint) { p.client.Disconnect(quiesce) }

func (p *pahoClient) IsConnected() bool { return p.client.IsConnected() }

func (p *pahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return p.client.Publish(topic, qos, retained, payload)
}

// MQTTOptions configures an MQTTSink.
type MQTTOptions struct {
	Broker   string // tcp://host:port
	Topic    string // records go to <Topic>/<tier>
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration // connect and publish acknowledgement timeout
}

// MQTTSink publishes each record as JSON to a per-tier topic.
type MQTTSink struct {
	client MQTTClient
	opts   MQTTOptions
	logger *slog.Logger
}

// NewMQTTSink connects to the broker in opts.
func NewMQTTSink(opts MQTTOptions, logger *slog.Logger) (*MQTTSink, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("decisionlog: mqtt broker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "decisionlog", "sink", "mqtt")

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetKeepAlive(30 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetMaxReconnectInterval(30 * time.Second)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	return NewMQTTSinkWithClient(opts, &pahoClient{client: mqtt.NewClient(clientOpts)}, logger)
}

// NewMQTTSinkWithClient creates a sink over an existing client, connecting
// it if needed.
func NewMQTTSinkWithClient(opts MQTTOptions, client MQTTClient, logger *slog.Logger) (*MQTTSink, error) {
	if opts.Topic == "" {
		opts.Topic = "clawroute/decisions"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &MQTTSink{
		client: client,
		opts:   opts,
		logger: logger.With("component", "decisionlog", "sink", "mqtt"),
	}

	if !client.IsConnected() {
		token := client.Connect()
		if !token.WaitTimeout(opts.Timeout) {
			return nil, fmt.Errorf("decisionlog: mqtt connect to %s timed out", opts.Broker)
		}
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("decisionlog: mqtt connect: %w", err)
		}
		s.logger.Info("mqtt connected", "broker", opts.Broker)
	}
	return s, nil
}

// Topic returns the topic a record is published to.
func (s *MQTTSink) Topic(rec Record) string {
	return s.opts.Topic + "/" + strings.ToLower(rec.Tier.String())
}

// Write publishes rec and waits for the broker acknowledgement, the
// timeout or ctx, whichever comes first.
func (s *MQTTSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decisionlog: marshal record: %w", err)
	}

	token := s.client.Publish(s.Topic(rec), s.opts.QoS, false, payload)

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("decisionlog: mqtt publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

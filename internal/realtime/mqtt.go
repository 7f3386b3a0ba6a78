package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler processes one MQTT message
type MessageHandler func(topic string, payload []byte) error

// MQTTConfig selects the relay broker
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// MQTTClient keeps its subscriptions across reconnects
type MQTTClient struct {
	client mqtt.Client
	logger *zap.Logger

	mu            sync.Mutex
	subscriptions map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	c := &MQTTClient{
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.resubscribe(client)
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return c, nil
}

// Subscribe registers handler for topic; it is restored after every reconnect
func (c *MQTTClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if token := c.client.Subscribe(topic, qos, c.callback(handler)); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MQTTClient) callback(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}
}

func (c *MQTTClient) resubscribe(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		token := client.Subscribe(topic, sub.qos, c.callback(sub.handler))
		if token.Wait() && token.Error() != nil {
			c.logger.Error("Failed to restore MQTT subscription", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
	if len(subs) > 0 {
		c.logger.Info("MQTT subscriptions restored", zap.Int("count", len(subs)))
	}
}

// relayEnvelope is the mirrored push as carried on the relay topic
type relayEnvelope struct {
	Type    models.EventType   `json:"type"`
	Message models.PushMessage `json:"message"`
	At      time.Time          `json:"at"`
}

// MQTTPublisher is the subset of MQTTClient the mirror needs
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Mirror republishes every dispatched push message on {topic}/{type}, covering
// agents that have no browser push endpoint.
type Mirror struct {
	client MQTTPublisher
	topic  string
}

func NewMirror(client MQTTPublisher, topic string) *Mirror {
	return &Mirror{client: client, topic: strings.TrimRight(topic, "/")}
}

func (m *Mirror) Publish(_ context.Context, eventType models.EventType, msg models.PushMessage) error {
	body, err := json.Marshal(relayEnvelope{Type: eventType, Message: msg, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	return m.client.Publish(m.topic+"/"+string(eventType), 1, false, body)
}

// MQTTSubscriber is the subset of MQTTClient the relay listener needs
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// RelayListener turns mirrored push messages back into events for the intake
type RelayListener struct {
	client MQTTSubscriber
	topic  string
	intake IntakeFunc
	logger *zap.Logger
}

func NewRelayListener(client MQTTSubscriber, topic string, intake IntakeFunc, logger *zap.Logger) *RelayListener {
	return &RelayListener{
		client: client,
		topic:  strings.TrimRight(topic, "/"),
		intake: intake,
		logger: logger,
	}
}

func (l *RelayListener) Start() error {
	if err := l.client.Subscribe(l.topic+"/#", 1, l.handle); err != nil {
		return err
	}
	l.logger.Info("Relay listener started", zap.String("topic", l.topic+"/#"))
	return nil
}

func (l *RelayListener) handle(topic string, payload []byte) error {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode relay message: %w", err)
	}

	raw, err := json.Marshal(env.Message.Data)
	if err != nil {
		return fmt.Errorf("encode relay data: %w", err)
	}
	var ev models.AlarmEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode relay event: %w", err)
	}
	if ev.Type == "" {
		ev.Type = env.Type
	}

	l.logger.Debug("Relay message received", zap.String("topic", topic), zap.String("type", string(ev.Type)))
	l.intake(ev, "relay")
	return nil
}

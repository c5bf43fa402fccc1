package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"vera-home/config"
	"vera-home/internal/domain"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
)

// CommandHandler executes a command received on a device set topic.
type CommandHandler func(ctx context.Context, cmd *domain.Command) (string, error)

// Client publishes device state to a broker and forwards set-topic
// commands. Subscriptions are restored after a reconnect.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]pahomqtt.MessageHandler
}

func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		cfg:      cfg,
		topics:   Topics{Prefix: cfg.TopicPrefix},
		logger:   logger,
		handlers: make(map[string]pahomqtt.MessageHandler),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(c.topics.BridgeStatus(), string(buildStatusPayload("offline", cfg.ClientID, "unexpected_disconnect")), 1, true)
	opts.SetOnConnectHandler(func(pc pahomqtt.Client) {
		c.onConnect(pc)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

func (c *Client) onConnect(pc pahomqtt.Client) {
	c.logger.Info("mqtt connected", "host", c.cfg.Host, "client_id", c.cfg.ClientID)
	pc.Publish(c.topics.BridgeStatus(), c.cfg.QoS, true, buildStatusPayload("online", c.cfg.ClientID, ""))

	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, h := range c.handlers {
		pc.Subscribe(topic, c.cfg.QoS, h)
	}
}

func (c *Client) Name() string { return "mqtt" }

func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// HandleState publishes the retained state document and any alerts.
func (c *Client) HandleState(_ context.Context, snap domain.DeviceSnapshot) error {
	payload, err := BuildStatePayload(snap)
	if err != nil {
		return fmt.Errorf("encoding state for device %d: %w", snap.ID, err)
	}
	if err := c.Publish(c.topics.DeviceState(snap.ID), payload, true); err != nil {
		return err
	}

	for _, alert := range snap.Alerts {
		b, err := json.Marshal(alert)
		if err != nil {
			continue
		}
		if err := c.Publish(c.topics.DeviceAlert(snap.ID), b, false); err != nil {
			return err
		}
	}
	return nil
}

// HandleCommands subscribes to every device set topic and passes decoded
// commands to fn. Invalid payloads are logged and dropped.
func (c *Client) HandleCommands(ctx context.Context, fn CommandHandler) error {
	topic := c.topics.AllDeviceSets()

	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		id, ok := c.topics.DeviceID(msg.Topic())
		if !ok {
			c.logger.Warn("mqtt command on unexpected topic", "topic", msg.Topic())
			return
		}
		cmd, err := ParseCommand(id, msg.Payload())
		if err != nil {
			c.logger.Warn("mqtt command rejected", "topic", msg.Topic(), "error", err)
			return
		}
		result, err := fn(ctx, cmd)
		if err != nil {
			c.logger.Error("mqtt command failed", "device_id", id, "action", cmd.Action, "error", err)
			return
		}
		c.logger.Info("mqtt command executed", "device_id", id, "result", result)
	}

	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()

	if !c.IsConnected() {
		// restored by onConnect
		return nil
	}
	token := c.client.Subscribe(topic, c.cfg.QoS, handler)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.BridgeStatus(), c.cfg.QoS, true, buildStatusPayload("offline", c.cfg.ClientID, "graceful_shutdown"))
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

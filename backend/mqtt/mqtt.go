// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/fieldlink/device-gateway/backend"
	"github.com/fieldlink/device-gateway/types"
)

// PublishTimeout is the timeout before giving up on a confirmed publish
var PublishTimeout = 10 * time.Second

// New returns a new MQTT backend
func New(config Config, ctx log.Interface) (*MQTT, error) {
	mqtt := new(MQTT)

	mqtt.ctx = ctx.WithField("Connector", "MQTT")

	mqttOpts := paho.NewClientOptions()
	for _, broker := range config.Brokers {
		mqttOpts.AddBroker(broker)
	}
	if config.TLSConfig != nil {
		mqttOpts.SetTLSConfig(config.TLSConfig)
	}
	mqttOpts.SetClientID(fmt.Sprintf("gateway-%s", uuid.NewString()))
	mqttOpts.SetUsername(config.Username)
	mqttOpts.SetPassword(config.Password)
	mqttOpts.SetKeepAlive(30 * time.Second)
	mqttOpts.SetPingTimeout(10 * time.Second)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		mqtt.ctx.Warnf("Received unhandled message on MQTT: %v", msg)
	})

	mqtt.subscriptions = make(map[string]subscription)
	var reconnecting bool
	mqttOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		mqtt.ctx.Warnf("Disconnected (%s). Reconnecting...", err.Error())
		reconnecting = true
	})
	mqttOpts.SetOnConnectHandler(func(_ paho.Client) {
		mqtt.ctx.Info("Connected")
		if reconnecting {
			mqtt.resubscribe()
			reconnecting = false
		}
	})

	mqtt.client = paho.NewClient(mqttOpts)
	mqtt.config = config

	return mqtt, nil
}

// QoS indicates the MQTT Quality of Service level.
// 0: The broker/client will deliver the message once, with no confirmation.
// 1: The broker/client will deliver the message at least once, with confirmation required.
var (
	AsyncPublishQoS     byte = 0x00
	ConfirmedPublishQoS byte = 0x01
	SubscribeQoS        byte = 0x01
)

// BufferSize indicates the maximum number of MQTT messages that should be buffered
var BufferSize = 10

// Topic formats for device traffic, commands and command responses
var (
	DownstreamTopicFormat      = "%s/%s"          // endpoint/tenant
	CommandTopicFormat         = "command/req/%s/%s"
	CommandResponseTopicFormat = "command/res/%s" // tenant
)

// Config contains configuration for MQTT
type Config struct {
	Brokers   []string
	Username  string
	Password  string
	TLSConfig *tls.Config

	// IncludeAssertion makes senders request a registration assertion
	// that is attached to every downstream message.
	IncludeAssertion bool
}

type subscription struct {
	handler paho.MessageHandler
	cancel  func()
}

// MQTT backend of the gateway
type MQTT struct {
	ctx           log.Interface
	config        Config
	client        paho.Client
	subscriptions map[string]subscription
	mu            sync.Mutex
}

var (
	// ConnectRetries says how many times the client should retry a failed connection
	ConnectRetries = 10
	// ConnectRetryDelay says how long the client should wait between retries
	ConnectRetryDelay = time.Second
)

// Connect to MQTT
func (c *MQTT) Connect() error {
	var err error
	for retries := 0; retries < ConnectRetries; retries++ {
		token := c.client.Connect()
		finished := token.WaitTimeout(1 * time.Second)
		if !finished {
			c.ctx.Warn("MQTT connection took longer than expected...")
			token.Wait()
		}
		err = token.Error()
		if err == nil {
			break
		}
		c.ctx.Warnf("Could not connect to MQTT (%s). Retrying...", err.Error())
		<-time.After(ConnectRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("Could not connect to MQTT (%s)", err)
	}
	return err
}

// Disconnect from MQTT
func (c *MQTT) Disconnect() error {
	c.client.Disconnect(100)
	return nil
}

func (c *MQTT) subscribe(topic string, handler paho.MessageHandler, cancel func()) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	wrappedHandler := func(client paho.Client, msg paho.Message) {
		if msg.Retained() {
			c.ctx.WithField("Topic", msg.Topic()).Debug("Ignore retained message")
			return
		}
		handler(client, msg)
	}
	c.subscriptions[topic] = subscription{wrappedHandler, cancel}
	return c.client.Subscribe(topic, SubscribeQoS, wrappedHandler)
}

func (c *MQTT) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, subscription := range c.subscriptions {
		c.client.Subscribe(topic, SubscribeQoS, subscription.handler)
	}
}

func (c *MQTT) unsubscribe(topic string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subscription, ok := c.subscriptions[topic]; ok && subscription.cancel != nil {
		subscription.cancel()
	}
	delete(c.subscriptions, topic)
	return c.client.Unsubscribe(topic)
}

// downstreamEnvelope is the JSON wire format for telemetry and event messages
type downstreamEnvelope struct {
	TenantID              string                 `json:"tenant_id"`
	DeviceID              string                 `json:"device_id"`
	Address               string                 `json:"address"`
	ContentType           string                 `json:"content_type,omitempty"`
	Payload               []byte                 `json:"payload,omitempty"`
	RegistrationAssertion string                 `json:"registration_assertion,omitempty"`
	Properties            map[string]interface{} `json:"properties,omitempty"`
}

// commandEnvelope is the JSON wire format for commands towards devices
type commandEnvelope struct {
	ID            string                 `json:"id,omitempty"`
	Subject       string                 `json:"subject"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	ReplyTo       string                 `json:"reply_to,omitempty"`
	ContentType   string                 `json:"content_type,omitempty"`
	Payload       []byte                 `json:"payload,omitempty"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
}

// responseEnvelope is the JSON wire format for command responses
type responseEnvelope struct {
	CorrelationID string `json:"correlation_id"`
	DeviceID      string `json:"device_id,omitempty"`
	ReplyToID     string `json:"reply_to_id,omitempty"`
	Status        int    `json:"status"`
	ContentType   string `json:"content_type,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
}

// notificationEnvelope is the JSON wire format for connection notifications
type notificationEnvelope struct {
	TenantID    string `json:"tenant_id"`
	DeviceID    string `json:"device_id"`
	ContentType string `json:"content_type"`
	TTD         int    `json:"ttd"`
}

// NewSender returns a sender that publishes messages of the given endpoint
// for the given tenant.
func (c *MQTT) NewSender(tenantID, endpoint string) (backend.Sender, error) {
	return &sender{
		backend:          c,
		topic:            fmt.Sprintf(DownstreamTopicFormat, endpoint, tenantID),
		includeAssertion: c.config.IncludeAssertion,
	}, nil
}

type sender struct {
	backend          *MQTT
	topic            string
	includeAssertion bool
}

func (s *sender) envelope(message *backend.Message) ([]byte, error) {
	envelope := downstreamEnvelope{
		TenantID:    message.TenantID,
		DeviceID:    message.DeviceID,
		Address:     message.Address,
		ContentType: message.ContentType,
		Payload:     message.Payload,
		Properties:  message.Properties,
	}
	if s.includeAssertion {
		envelope.RegistrationAssertion = message.RegistrationAssertion
	}
	return json.Marshal(envelope)
}

func (s *sender) Send(_ context.Context, message *backend.Message) error {
	msg, err := s.envelope(message)
	if err != nil {
		return err
	}
	ctx := s.backend.ctx.WithField("Topic", s.topic)
	token := s.backend.client.Publish(s.topic, AsyncPublishQoS, false, msg)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			ctx.WithError(err).Warn("Could not publish message")
			return
		}
		ctx.Debug("Published message")
	}()
	return nil
}

func (s *sender) SendAndAwaitOutcome(ctx context.Context, message *backend.Message) error {
	msg, err := s.envelope(message)
	if err != nil {
		return err
	}
	return s.backend.publishConfirmed(ctx, s.topic, msg)
}

func (s *sender) RegistrationAssertionRequired() bool {
	return s.includeAssertion
}

func (s *sender) Close() error {
	return nil
}

func (c *MQTT) publishConfirmed(ctx context.Context, topic string, msg []byte) error {
	token := c.client.Publish(topic, ConfirmedPublishQoS, false, msg)
	deadline := PublishTimeout
	if ctxDeadline, ok := ctx.Deadline(); ok {
		deadline = time.Until(ctxDeadline)
	}
	if !token.WaitTimeout(deadline) {
		return context.DeadlineExceeded
	}
	return token.Error()
}

// CreateCommandConsumer subscribes to the command topic of the given device.
// Received commands are buffered and handed to onCommand one at a time; the
// next command is only handed out after credit has been replenished for the
// previous one. The broker connection is checked every checkInterval, onClose
// fires when it is lost.
func (c *MQTT) CreateCommandConsumer(_ context.Context, tenantID, deviceID string, onCommand backend.CommandHandler, onClose func(), checkInterval time.Duration) (backend.CommandConsumer, error) {
	ctx := c.ctx.WithField("TenantID", tenantID).WithField("DeviceID", deviceID)
	topic := fmt.Sprintf(CommandTopicFormat, tenantID, deviceID)
	consumer := &commandConsumer{
		backend:  c,
		topic:    topic,
		commands: make(chan *types.Command, BufferSize),
		credit:   make(chan struct{}, BufferSize),
		done:     make(chan struct{}),
	}
	token := c.subscribe(topic, func(_ paho.Client, msg paho.Message) {
		var envelope commandEnvelope
		if err := json.Unmarshal(msg.Payload(), &envelope); err != nil {
			ctx.WithError(err).Warn("Could not unmarshal command")
			return
		}
		message := &types.Message{
			ID:          envelope.ID,
			Subject:     envelope.Subject,
			ReplyTo:     envelope.ReplyTo,
			ContentType: envelope.ContentType,
			Payload:     envelope.Payload,
			Properties:  envelope.Properties,
		}
		if envelope.CorrelationID != "" {
			message.CorrelationID = envelope.CorrelationID
		}
		select {
		case consumer.commands <- types.CommandFromMessage(message, tenantID, deviceID):
		default:
			ctx.Warn("Could not handle command: buffer full")
		}
	}, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-consumer.done:
				return
			case <-ticker.C:
				if !c.client.IsConnectionOpen() {
					ctx.Warn("Command subscription lost")
					consumer.Close()
					onClose()
					return
				}
			case command := <-consumer.commands:
				onCommand(&commandContext{ctx: ctx, command: command, consumer: consumer})
				select {
				case <-consumer.credit:
				case <-consumer.done:
					return
				}
			}
		}
	}()
	ctx.Debug("Created command consumer")
	return consumer, nil
}

type commandConsumer struct {
	backend   *MQTT
	topic     string
	commands  chan *types.Command
	credit    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *commandConsumer) Close() {
	c.closeOnce.Do(func() {
		c.backend.unsubscribe(c.topic)
		close(c.done)
	})
}

type commandContext struct {
	ctx      log.Interface
	command  *types.Command
	consumer *commandConsumer
}

func (c *commandContext) Command() *types.Command {
	return c.command
}

// Accept is a no-op: MQTT has no per-message settlement towards the broker.
func (c *commandContext) Accept() {}

func (c *commandContext) Reject(reason types.Condition) {
	c.ctx.WithField("Reason", reason.Description).Warn("Command rejected")
}

func (c *commandContext) Release() {
	c.ctx.Warn("Command released")
}

func (c *commandContext) Flow(credits int) {
	for i := 0; i < credits; i++ {
		select {
		case c.consumer.credit <- struct{}{}:
		default:
		}
	}
}

// SendCommandResponse forwards a device's response to the tenant's command
// response topic.
func (c *MQTT) SendCommandResponse(ctx context.Context, tenantID string, response *types.CommandResponse) error {
	msg, err := json.Marshal(responseEnvelope{
		CorrelationID: response.CorrelationID,
		DeviceID:      response.DeviceID,
		ReplyToID:     response.ReplyToID,
		Status:        response.Status,
		ContentType:   response.ContentType,
		Payload:       response.Payload,
	})
	if err != nil {
		return err
	}
	return c.publishConfirmed(ctx, fmt.Sprintf(CommandResponseTopicFormat, tenantID), msg)
}

// SendConnectedEvent publishes an empty notification telling consumers that
// the device is ready to receive commands.
func (c *MQTT) SendConnectedEvent(ctx context.Context, tenantID, deviceID string, _ *types.Identity) error {
	return c.sendNotification(ctx, tenantID, deviceID, -1)
}

// SendDisconnectedEvent publishes an empty notification telling consumers
// that the device is no longer reachable.
func (c *MQTT) SendDisconnectedEvent(ctx context.Context, tenantID, deviceID string, _ *types.Identity) error {
	return c.sendNotification(ctx, tenantID, deviceID, 0)
}

func (c *MQTT) sendNotification(ctx context.Context, tenantID, deviceID string, ttd int) error {
	msg, err := json.Marshal(notificationEnvelope{
		TenantID:    tenantID,
		DeviceID:    deviceID,
		ContentType: types.ContentTypeEmptyNotification,
		TTD:         ttd,
	})
	if err != nil {
		return err
	}
	return c.publishConfirmed(ctx, fmt.Sprintf(DownstreamTopicFormat, types.EndpointEvent, tenantID), msg)
}

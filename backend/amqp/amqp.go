// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package amqp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/fieldlink/device-gateway/backend"
	"github.com/fieldlink/device-gateway/types"
)

// New returns a new AMQP backend
func New(config Config, ctx log.Interface) (*AMQP, error) {
	backend := new(AMQP)

	if config.ExchangeName == "" {
		config.ExchangeName = "amq.topic"
	}

	if config.ConsumerPrefix == "" {
		config.ConsumerPrefix = "gateway"
		if user, err := user.Current(); err == nil {
			config.ConsumerPrefix += "-" + user.Username
		}
		if hostname, err := os.Hostname(); err == nil {
			config.ConsumerPrefix += "@" + hostname
		}
	}

	backend.ctx = ctx.WithField("Connector", "AMQP")
	backend.config = config
	backend.publish.ch = make(chan publishMessage, BufferSize)
	backend.connection.Add(1)

	return backend, nil
}

// BufferSize indicates the maximum number of messages that should be buffered
var BufferSize = 10

// Routing key formats for device traffic, command responses and the queues
// that carry commands towards devices
var (
	DownstreamRoutingKeyFormat      = "%s.%s"          // endpoint.tenant
	CommandResponseRoutingKeyFormat = "command.res.%s" // tenant
	CommandQueueFormat              = "command.req.%s.%s"
)

// Header names used on the messaging fabric
const (
	TenantHeader    = "tenant-id"
	DeviceHeader    = "device-id"
	AddressHeader   = "orig-address"
	AssertionHeader = "registration-assertion"
	ReplyHeader     = "reply-to-id"
	StatusHeader    = "status"
	TTDHeader       = "ttd"
)

// Config contains configuration for AMQP
type Config struct {
	Address        string
	Username       string
	Password       string
	VHost          string
	ExchangeName   string
	ConsumerPrefix string
	TLSConfig      *tls.Config

	// IncludeAssertion makes senders request a registration assertion
	// that is attached to every downstream message.
	IncludeAssertion bool
}

func (c Config) url() (url string) {
	if c.TLSConfig != nil {
		url += "amqps://"
	} else {
		url += "amqp://"
	}
	if c.Username != "" {
		url += c.Username
		if c.Password != "" {
			url += ":" + c.Password
		}
		url += "@"
	}
	url += c.Address
	if c.VHost != "" {
		url += "/" + c.VHost
	}
	return
}

type publishMessage struct {
	routingKey string
	publishing amqp.Publishing
}

// AMQP backend of the gateway
type AMQP struct {
	config     Config
	ctx        log.Interface
	connection struct {
		*amqp.Connection
		sync.RWMutex
		sync.WaitGroup
		once sync.Once
	}
	publish struct {
		ch      chan publishMessage
		channel *amqp.Channel
		sync.Mutex
		once sync.Once
	}
	confirm struct {
		channel  *amqp.Channel
		confirms chan amqp.Confirmation
		sync.Mutex
	}
}

var (
	// ConnectRetries says how many times the client should retry a failed connection
	ConnectRetries = 10
	// ConnectRetryDelay says how long the client should wait between retries
	ConnectRetryDelay = time.Second
)

func (c *AMQP) connect() (err error) {
	var conn *amqp.Connection
	if c.config.TLSConfig != nil {
		conn, err = amqp.DialTLS(c.config.url(), c.config.TLSConfig)
	} else {
		conn, err = amqp.Dial(c.config.url())
	}
	c.connection.Lock()
	c.connection.Connection = conn
	c.connection.Unlock()
	c.connection.once.Do(func() {
		c.connection.Done()
	})
	if err != nil {
		return err
	}
	if err := c.setup(); err != nil {
		return err
	}
	return nil
}

func (c *AMQP) channel() (*amqp.Channel, error) {
	c.connection.Wait()
	c.connection.RLock()
	defer c.connection.RUnlock()
	return c.connection.Channel()
}

func (c *AMQP) setup() (err error) {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclarePassive(c.config.ExchangeName, "topic", true, false, false, false, nil); err != nil {
		c.ctx.WithError(err).Warnf("Exchange %s does not exist, trying to create...", c.config.ExchangeName)
		ch, err := c.channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		if err := ch.ExchangeDeclare(c.config.ExchangeName, "topic", true, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Connect to AMQP
func (c *AMQP) Connect() error {
	go c.autoReconnect()
	return nil
}

// autoReconnect connects to AMQP and automatically reconnects when the connection is lost
func (c *AMQP) autoReconnect() (err error) {
	for {
		retries := ConnectRetries
		for {
			err = c.connect()
			if err == nil {
				break // Connected, break without err
			}
			c.ctx.WithError(err).Warn("Error trying to connect")
			retries--
			if retries <= 0 {
				break // Out of retries, break with err
			}
			time.Sleep(ConnectRetryDelay)
		}
		if err != nil {
			break // Unable to connect, stop trying
		}

		c.ctx.Info("Connected")

		// Monitor the connection and reconnect on error
		ch := make(chan *amqp.Error)
		c.connection.NotifyClose(ch)
		if amqpErr, hasErr := <-ch; hasErr {
			err = errors.New(amqpErr.Error())
		} else {
			break
		}
		c.ctx.WithError(err).Warn("Connection closed")
		time.Sleep(ConnectRetryDelay)
	}
	if err != nil {
		c.ctx.WithError(err).Error("Could not connect")
	} else {
		c.ctx.Info("Connection closed")
	}
	return
}

// Disconnect from AMQP
func (c *AMQP) Disconnect() error {
	return c.connection.Close()
}

func (c *AMQP) autoRecreatePublishChannel() (err error) {
	var channel *amqp.Channel
	for {
		retries := ConnectRetries
		for {
			channel, err = c.channel()
			if err == nil {
				break // Got channel, break without err
			}
			c.ctx.WithError(err).Warn("Error trying to get channel")
			retries--
			if retries <= 0 {
				break // Out of retries, break with err
			}
			time.Sleep(ConnectRetryDelay)
		}
		if err != nil {
			break // Unable to get channel, stop trying
		}

		c.ctx.Info("Got publish channel")
		c.publish.channel = channel

		// Monitor the channel
		ch := make(chan *amqp.Error)
		channel.NotifyClose(ch)

	handle:
		for {
			select {
			case amqpErr, hasErr := <-ch:
				if hasErr {
					err = errors.New(amqpErr.Error())
					break handle
				}
				break handle
			case msg, ok := <-c.publish.ch:
				if !ok {
					break handle
				}
				ctx := c.ctx.WithField("RoutingKey", msg.routingKey)
				err := c.publish.channel.Publish(c.config.ExchangeName, msg.routingKey, false, false, msg.publishing)
				if err != nil {
					ctx.WithError(err).Warn("Error during publish")
				} else {
					ctx.Debug("Published message")
				}
			}
		}
		if err == nil {
			break
		}
		c.ctx.WithError(err).Warn("Publish channel closed")
		time.Sleep(ConnectRetryDelay)
	}
	if err != nil {
		c.ctx.WithError(err).Error("Error in publish channel")
	} else {
		c.ctx.Info("Publish channel closed")
	}
	return
}

// publishAsync queues a message without waiting for a broker outcome.
func (c *AMQP) publishAsync(routingKey string, publishing amqp.Publishing) error {
	c.publish.once.Do(func() {
		go c.autoRecreatePublishChannel()
	})
	select {
	case c.publish.ch <- publishMessage{routingKey: routingKey, publishing: publishing}:
	default:
		c.ctx.Warn("Not publishing message [buffer full]")
	}
	return nil
}

// publishConfirmed publishes a message on a channel in confirm mode and waits
// for the broker to ack or nack it.
func (c *AMQP) publishConfirmed(ctx context.Context, routingKey string, publishing amqp.Publishing) error {
	c.confirm.Lock()
	defer c.confirm.Unlock()
	if c.confirm.channel == nil {
		channel, err := c.channel()
		if err != nil {
			return err
		}
		if err := channel.Confirm(false); err != nil {
			channel.Close()
			return err
		}
		c.confirm.channel = channel
		c.confirm.confirms = channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	if err := c.confirm.channel.Publish(c.config.ExchangeName, routingKey, false, false, publishing); err != nil {
		c.confirm.channel = nil
		return err
	}
	select {
	case confirmation, ok := <-c.confirm.confirms:
		if !ok {
			c.confirm.channel = nil
			return errors.New("confirm channel closed")
		}
		if !confirmation.Ack {
			return errors.New("message not accepted by broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewSender returns a sender that publishes messages of the given endpoint
// for the given tenant.
func (c *AMQP) NewSender(tenantID, endpoint string) (backend.Sender, error) {
	return &sender{
		backend:          c,
		routingKey:       fmt.Sprintf(DownstreamRoutingKeyFormat, endpoint, tenantID),
		includeAssertion: c.config.IncludeAssertion,
	}, nil
}

type sender struct {
	backend          *AMQP
	routingKey       string
	includeAssertion bool
}

func (s *sender) publishing(message *backend.Message) amqp.Publishing {
	headers := amqp.Table{
		TenantHeader:  message.TenantID,
		DeviceHeader:  message.DeviceID,
		AddressHeader: message.Address,
	}
	if s.includeAssertion && message.RegistrationAssertion != "" {
		headers[AssertionHeader] = message.RegistrationAssertion
	}
	for name, value := range message.Properties {
		headers[name] = value
	}
	return amqp.Publishing{
		MessageId:    uuid.NewString(),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  message.ContentType,
		Headers:      headers,
		Body:         message.Payload,
	}
}

func (s *sender) Send(_ context.Context, message *backend.Message) error {
	return s.backend.publishAsync(s.routingKey, s.publishing(message))
}

func (s *sender) SendAndAwaitOutcome(ctx context.Context, message *backend.Message) error {
	return s.backend.publishConfirmed(ctx, s.routingKey, s.publishing(message))
}

func (s *sender) RegistrationAssertionRequired() bool {
	return s.includeAssertion
}

func (s *sender) Close() error {
	return nil
}

// CreateCommandConsumer opens a consumer on the command queue of the given
// device. Commands are handed to onCommand one at a time; the next command is
// only delivered once the previous one has been settled. The queue is checked
// every checkInterval, onClose fires when it is gone or the channel fails.
func (c *AMQP) CreateCommandConsumer(_ context.Context, tenantID, deviceID string, onCommand backend.CommandHandler, onClose func(), checkInterval time.Duration) (backend.CommandConsumer, error) {
	ctx := c.ctx.WithField("TenantID", tenantID).WithField("DeviceID", deviceID)
	channel, err := c.channel()
	if err != nil {
		return nil, err
	}
	queueName := fmt.Sprintf(CommandQueueFormat, tenantID, deviceID)
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, err
	}
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		return nil, err
	}
	consumerName := c.config.ConsumerPrefix + "-" + queueName
	deliveries, err := channel.Consume(queueName, consumerName, false, false, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, err
	}
	consumer := &commandConsumer{
		ctx:          ctx,
		channel:      channel,
		consumerName: consumerName,
	}
	closed := make(chan *amqp.Error)
	channel.NotifyClose(closed)
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case amqpErr, hasErr := <-closed:
				if hasErr {
					ctx.WithError(errors.New(amqpErr.Error())).Warn("Command channel closed")
				}
				onClose()
				return
			case <-ticker.C:
				if _, err := channel.QueueDeclarePassive(queueName, true, false, false, false, nil); err != nil {
					ctx.WithError(err).Warn("Command queue gone")
					consumer.Close()
					onClose()
					return
				}
			case delivery, ok := <-deliveries:
				if !ok {
					deliveries = nil
					continue
				}
				command := types.CommandFromMessage(commandMessage(&delivery), tenantID, deviceID)
				onCommand(&commandContext{command: command, delivery: delivery})
			}
		}
	}()
	ctx.Debug("Created command consumer")
	return consumer, nil
}

// commandMessage converts a broker delivery into a gateway message.
func commandMessage(delivery *amqp.Delivery) *types.Message {
	message := &types.Message{
		ID:          delivery.MessageId,
		Subject:     delivery.Type,
		ReplyTo:     delivery.ReplyTo,
		ContentType: delivery.ContentType,
		Payload:     delivery.Body,
	}
	if delivery.CorrelationId != "" {
		message.CorrelationID = delivery.CorrelationId
	}
	if len(delivery.Headers) > 0 {
		message.Properties = make(map[string]interface{}, len(delivery.Headers))
		for name, value := range delivery.Headers {
			message.Properties[name] = value
		}
	}
	return message
}

type commandConsumer struct {
	ctx          log.Interface
	channel      *amqp.Channel
	consumerName string
	closeOnce    sync.Once
}

func (c *commandConsumer) Close() {
	c.closeOnce.Do(func() {
		if err := c.channel.Cancel(c.consumerName, false); err != nil {
			c.ctx.WithError(err).Warn("Could not cancel command consumer")
		}
		c.channel.Close()
	})
}

type commandContext struct {
	command  *types.Command
	delivery amqp.Delivery
}

func (c *commandContext) Command() *types.Command {
	return c.command
}

func (c *commandContext) Accept() {
	c.delivery.Ack(false)
}

func (c *commandContext) Reject(types.Condition) {
	c.delivery.Nack(false, false)
}

func (c *commandContext) Release() {
	c.delivery.Nack(false, true)
}

// Flow is a no-op: the prefetch window replenishes when a delivery settles.
func (c *commandContext) Flow(int) {}

// SendCommandResponse forwards a device's response to the tenant's command
// response address.
func (c *AMQP) SendCommandResponse(ctx context.Context, tenantID string, response *types.CommandResponse) error {
	return c.publishConfirmed(ctx, fmt.Sprintf(CommandResponseRoutingKeyFormat, tenantID), amqp.Publishing{
		MessageId:     uuid.NewString(),
		CorrelationId: response.CorrelationID,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		ContentType:   response.ContentType,
		Headers: amqp.Table{
			StatusHeader: int32(response.Status),
			DeviceHeader: response.DeviceID,
			ReplyHeader:  response.ReplyToID,
		},
		Body: response.Payload,
	})
}

// SendConnectedEvent publishes an empty notification telling consumers that
// the device is ready to receive commands.
func (c *AMQP) SendConnectedEvent(ctx context.Context, tenantID, deviceID string, _ *types.Identity) error {
	return c.sendNotification(ctx, tenantID, deviceID, -1)
}

// SendDisconnectedEvent publishes an empty notification telling consumers
// that the device is no longer reachable.
func (c *AMQP) SendDisconnectedEvent(ctx context.Context, tenantID, deviceID string, _ *types.Identity) error {
	return c.sendNotification(ctx, tenantID, deviceID, 0)
}

func (c *AMQP) sendNotification(ctx context.Context, tenantID, deviceID string, ttd int32) error {
	return c.publishConfirmed(ctx, fmt.Sprintf(DownstreamRoutingKeyFormat, types.EndpointEvent, tenantID), amqp.Publishing{
		MessageId:    uuid.NewString(),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  types.ContentTypeEmptyNotification,
		Headers: amqp.Table{
			TenantHeader: tenantID,
			DeviceHeader: deviceID,
			TTDHeader:    ttd,
		},
	})
}

// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package transporttest provides a scriptable in-memory transport
// implementation for testing the gateway without a wire codec.
package transporttest

import (
	"sync"
	"time"

	"github.com/fieldlink/device-gateway/transport"
	"github.com/fieldlink/device-gateway/types"
)

// Connection is a scriptable transport.Connection.
type Connection struct {
	mu sync.Mutex

	identity        *types.Identity
	remoteContainer string
	localContainer  string

	opened         bool
	closed         bool
	closeCondition *types.Condition

	disconnectHandler   func()
	remoteCloseHandler  func(error)
	sessionOpenHandler  func(transport.Session)
	receiverOpenHandler func(transport.ReceiverLink)
	senderOpenHandler   func(transport.SenderLink)
}

// NewConnection returns a connection for the given identity (nil = anonymous).
func NewConnection(identity *types.Identity) *Connection {
	return &Connection{identity: identity, remoteContainer: "test-device"}
}

// AuthenticatedIdentity implements transport.Connection.
func (c *Connection) AuthenticatedIdentity() *types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// RemoteContainer implements transport.Connection.
func (c *Connection) RemoteContainer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteContainer
}

// SetRemoteContainer sets the container name the fake peer advertises.
func (c *Connection) SetRemoteContainer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteContainer = name
}

// SetContainer implements transport.Connection.
func (c *Connection) SetContainer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localContainer = name
}

// Container returns the local container name set by the gateway.
func (c *Connection) Container() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localContainer
}

// Open implements transport.Connection.
func (c *Connection) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = true
}

// Close implements transport.Connection.
func (c *Connection) Close(condition *types.Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCondition = condition
}

// HandleDisconnect implements transport.Connection.
func (c *Connection) HandleDisconnect(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectHandler = handler
}

// HandleRemoteClose implements transport.Connection.
func (c *Connection) HandleRemoteClose(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteCloseHandler = handler
}

// HandleSessionOpen implements transport.Connection.
func (c *Connection) HandleSessionOpen(handler func(transport.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionOpenHandler = handler
}

// HandleReceiverOpen implements transport.Connection.
func (c *Connection) HandleReceiverOpen(handler func(transport.ReceiverLink)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiverOpenHandler = handler
}

// HandleSenderOpen implements transport.Connection.
func (c *Connection) HandleSenderOpen(handler func(transport.SenderLink)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senderOpenHandler = handler
}

// Opened reports whether the gateway accepted the connection.
func (c *Connection) Opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// Closed reports whether the gateway closed the connection.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCondition returns the condition the gateway closed with, if any.
func (c *Connection) CloseCondition() *types.Condition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCondition
}

// OpenSession simulates the peer beginning a session.
func (c *Connection) OpenSession() *Session {
	c.mu.Lock()
	handler := c.sessionOpenHandler
	c.mu.Unlock()
	session := &Session{}
	if handler != nil {
		handler(session)
	}
	return session
}

// OpenReceiver simulates the peer attaching an uploading link.
func (c *Connection) OpenReceiver(receiver *Receiver) {
	c.mu.Lock()
	handler := c.receiverOpenHandler
	c.mu.Unlock()
	if handler != nil {
		handler(receiver)
	}
}

// OpenSender simulates the peer attaching a command-receiving link.
func (c *Connection) OpenSender(sender *Sender) {
	c.mu.Lock()
	handler := c.senderOpenHandler
	c.mu.Unlock()
	if handler != nil {
		handler(sender)
	}
}

// FireDisconnect simulates losing the connection without a close frame.
func (c *Connection) FireDisconnect() {
	c.mu.Lock()
	handler := c.disconnectHandler
	c.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// FireRemoteClose simulates the peer closing the connection.
func (c *Connection) FireRemoteClose(err error) {
	c.mu.Lock()
	handler := c.remoteCloseHandler
	c.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// Session is a scriptable transport.Session.
type Session struct {
	mu     sync.Mutex
	window uint32
	opened bool
}

// SetIncomingWindow implements transport.Session.
func (s *Session) SetIncomingWindow(size uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = size
}

// Open implements transport.Session.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
}

// Window returns the incoming window the gateway advertised.
func (s *Session) Window() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Opened reports whether the gateway opened the session.
func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

type link struct {
	mu sync.Mutex

	name         string
	remoteSource string
	remoteTarget string
	remoteQoS    transport.QoS

	localSource string
	localTarget string
	localQoS    transport.QoS

	opened         bool
	closed         bool
	closeCondition *types.Condition

	detachHandler func()
	closeHandler  func()
}

func (l *link) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

func (l *link) RemoteSource() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSource
}

func (l *link) RemoteTarget() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteTarget
}

func (l *link) RemoteQoS() transport.QoS {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteQoS
}

func (l *link) SetSource(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localSource = address
}

func (l *link) SetTarget(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localTarget = address
}

func (l *link) SetQoS(qos transport.QoS) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localQoS = qos
}

func (l *link) Open() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = true
}

func (l *link) Close(condition *types.Condition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.closeCondition = condition
}

func (l *link) HandleDetach(handler func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detachHandler = handler
}

func (l *link) HandleClose(handler func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeHandler = handler
}

// Opened reports whether the gateway opened the link.
func (l *link) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// Closed reports whether the gateway closed the link.
func (l *link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// CloseCondition returns the condition the gateway closed the link with.
func (l *link) CloseCondition() *types.Condition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCondition
}

// QoS returns the QoS the gateway set on the link.
func (l *link) QoS() transport.QoS {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localQoS
}

// Source returns the source address the gateway set on the link.
func (l *link) Source() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localSource
}

// FireDetach simulates the peer detaching the link.
func (l *link) FireDetach() {
	l.mu.Lock()
	handler := l.detachHandler
	l.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// FireClose simulates the peer closing the link.
func (l *link) FireClose() {
	l.mu.Lock()
	handler := l.closeHandler
	l.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// Receiver is a scriptable uploading link.
type Receiver struct {
	link

	prefetch       int
	autoSettle     bool
	flowed         int
	messageHandler func(transport.Delivery, *types.Message)
}

// NewReceiver returns an uploading link with the given remote properties.
func NewReceiver(name string, qos transport.QoS) *Receiver {
	r := &Receiver{autoSettle: true}
	r.name = name
	r.remoteQoS = qos
	return r
}

// SetRemoteTarget sets the target address the fake peer requests.
func (r *Receiver) SetRemoteTarget(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteTarget = address
}

// SetPrefetch implements transport.ReceiverLink.
func (r *Receiver) SetPrefetch(credits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefetch = credits
}

// SetAutoSettle implements transport.ReceiverLink.
func (r *Receiver) SetAutoSettle(auto bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoSettle = auto
}

// HandleMessage implements transport.ReceiverLink.
func (r *Receiver) HandleMessage(handler func(transport.Delivery, *types.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageHandler = handler
}

// Flow implements transport.ReceiverLink.
func (r *Receiver) Flow(credits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowed += credits
}

// Prefetch returns the credit window the gateway issued.
func (r *Receiver) Prefetch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefetch
}

// AutoSettle returns the auto-settle mode the gateway set.
func (r *Receiver) AutoSettle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoSettle
}

// Flowed returns the total credit the gateway replenished.
func (r *Receiver) Flowed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flowed
}

// HasMessageHandler reports whether the gateway attached a message handler.
func (r *Receiver) HasMessageHandler() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageHandler != nil
}

// Deliver simulates the peer uploading a message and returns the delivery for
// observing the gateway's disposition.
func (r *Receiver) Deliver(message *types.Message, settled bool) *Delivery {
	r.mu.Lock()
	handler := r.messageHandler
	r.mu.Unlock()
	delivery := &Delivery{settled: settled, done: make(chan struct{})}
	if handler != nil {
		handler(delivery, message)
	}
	return delivery
}

// Delivery records the gateway's disposition for one uploaded message.
type Delivery struct {
	mu      sync.Mutex
	settled bool
	state   transport.DeliveryState
	reason  *types.Condition
	done    chan struct{}
}

// RemotelySettled implements transport.Delivery.
func (d *Delivery) RemotelySettled() bool {
	return d.settled
}

// Accept implements transport.Delivery.
func (d *Delivery) Accept() {
	d.settle(transport.DeliveryAccepted, nil)
}

// Reject implements transport.Delivery.
func (d *Delivery) Reject(reason types.Condition) {
	d.settle(transport.DeliveryRejected, &reason)
}

// Release implements transport.Delivery.
func (d *Delivery) Release() {
	d.settle(transport.DeliveryReleased, nil)
}

func (d *Delivery) settle(state transport.DeliveryState, reason *types.Condition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != transport.DeliveryNone {
		return
	}
	d.state = state
	d.reason = reason
	close(d.done)
}

// State returns the recorded disposition.
func (d *Delivery) State() transport.DeliveryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reason returns the rejection condition, if any.
func (d *Delivery) Reason() *types.Condition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// WaitState blocks until a disposition is recorded or the timeout elapses.
func (d *Delivery) WaitState(timeout time.Duration) transport.DeliveryState {
	select {
	case <-d.done:
	case <-time.After(timeout):
	}
	return d.State()
}

type pendingSend struct {
	message *types.Message
	outcome func(transport.Outcome)
}

// Sender is a scriptable command-receiving link.
type Sender struct {
	link

	forcedClosed bool
	sent         []*types.Message
	pending      []pendingSend

	// OutcomeFunc, when set, settles every send immediately.
	OutcomeFunc func(*types.Message) transport.Outcome
}

// NewSender returns a command-receiving link with the given remote source.
func NewSender(name, source string) *Sender {
	s := &Sender{}
	s.name = name
	s.remoteSource = source
	return s
}

// IsOpen implements transport.SenderLink.
func (s *Sender) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened && !s.closed && !s.forcedClosed
}

// SetOpen forces the link's open state, for simulating a link that dropped
// without its teardown having run yet.
func (s *Sender) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedClosed = !open
}

// Send implements transport.SenderLink.
func (s *Sender) Send(message *types.Message, outcome func(transport.Outcome)) {
	s.mu.Lock()
	s.sent = append(s.sent, message)
	auto := s.OutcomeFunc
	if auto == nil {
		s.pending = append(s.pending, pendingSend{message: message, outcome: outcome})
	}
	s.mu.Unlock()
	if auto != nil {
		outcome(auto(message))
	}
}

// Sent returns the messages the gateway pushed down the link.
func (s *Sender) Sent() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Message(nil), s.sent...)
}

// CompleteNext settles the oldest pending send with the given outcome.
func (s *Sender) CompleteNext(outcome transport.Outcome) bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	next.outcome(outcome)
	return true
}

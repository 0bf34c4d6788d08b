package iotmqtt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nickarthur/aws-sdk-ios/internal/mqttutil"
)

// reconnectSafetyCeiling bounds the reconnect timer regardless of how a
// caller configures MaximumReconnectTime, grounded on the mutual-exclusion
// timer-install guard described for the reconnect scheduler: a single
// event-loop goroutine ever installs this timer, so no separate lock is
// needed, but the bounded wait itself is still enforced here.
const reconnectSafetyCeiling = 1800 * time.Second

const heartbeatInterval = 60 * time.Second

// Client is the lifecycle controller: it owns the transport, the session,
// and the reconnect state machine, grounded on the teacher's Client
// (client.go) generalized from a single-shot connect to the transport
// duality and reconnect loop this system's ClientConfig demands.
type Client struct {
	config    ClientConfig
	transport TransportSpec

	mu               sync.Mutex
	userConnected    bool
	userDisconnected bool
	sess             *session
	conn             Connection
	statusCb         StatusCallback

	subs     *subscriptionRegistry
	acks     *ackRegistry
	pids     *mqttutil.PIDGenerator
	backoff  *reconnectController
	dispatch *dispatcher

	stopCh       chan struct{}
	stopOnce     sync.Once
	loopDone     chan struct{}
	shutdownOnce sync.Once
}

// NewClient builds a Client for the given configuration and transport.
// Connect must be called before Publish/Subscribe/Unsubscribe.
func NewClient(config ClientConfig, transport TransportSpec) *Client {
	config.applyDefaults()
	return &Client{
		config:    config,
		transport: transport,
		subs:      newSubscriptionRegistry(),
		acks:      newAckRegistry(),
		pids:      mqttutil.NewPIDGenerator(),
		backoff:   newReconnectController(config),
		dispatch:  newDispatcher(),
	}
}

// Connect initiates the connection lifecycle. It returns ErrAlreadyConnecting
// if a connect has already been issued and no completed Disconnect has been
// observed since, and ErrConfigurationError if the client id is missing or
// the transport spec is invalid. Otherwise it returns immediately; progress
// is reported to statusCb, which is invoked on the background work pool.
func (c *Client) Connect(statusCb StatusCallback) error {
	c.mu.Lock()
	if c.userConnected {
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}
	c.mu.Unlock()

	if c.config.ClientID == "" {
		return ErrConfigurationError
	}
	if _, err := newConnectionFn(c.transport); err != nil {
		return ErrConfigurationError
	}

	c.mu.Lock()
	c.userConnected = true
	c.userDisconnected = false
	c.statusCb = statusCb
	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.stopOnce = sync.Once{}
	c.shutdownOnce = sync.Once{}
	c.dispatch = newDispatcher() // the previous one was closed by the last shutdown
	c.mu.Unlock()

	c.backoff.reset()
	if c.config.CleanSession {
		c.subs.clear()
	}

	c.dispatch.start()
	c.setState(Connecting)
	go c.runLoop()
	return nil
}

// Disconnect is idempotent: only the first call (whether issued by the
// caller or by an internal protocol error) performs the teardown.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.userDisconnected {
		c.mu.Unlock()
		return nil
	}
	wasConnected := c.userConnected
	c.mu.Unlock()

	if !wasConnected {
		return ErrNotConnected
	}

	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.loopDone
	c.shutdown()
	return nil
}

// Publish sends payload to topic. QoS must be 0 or 1; ackCallback must be
// nil for QoS 0 and may be nil for QoS 1 (fire-and-forget).
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool, ackCallback func(err error)) error {
	if qos > 1 || (qos == 0 && ackCallback != nil) {
		return ErrInvalidArgument
	}
	sess, err := c.activeSession()
	if err != nil {
		return err
	}

	if qos == 0 {
		sess.publish(&publishPacket{TopicName: topic, Payload: payload, Retain: retain})
		return nil
	}

	pid := c.pids.NextID()
	if err := c.acks.add(pid, c.wrapAck(pid, ackCallback)); err != nil {
		c.pids.FreeID(pid)
		return err
	}
	sess.publish(&publishPacket{QoSLevel: 1, TopicName: topic, Payload: payload, Retain: retain, packetID: pid})
	return nil
}

// Subscribe registers handler for filter and issues SUBSCRIBE at the
// requested QoS. Re-subscribing an existing filter replaces its handler
// and QoS.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler, ackCallback func(err error)) error {
	if qos > 1 {
		return ErrInvalidArgument
	}
	sess, err := c.activeSession()
	if err != nil {
		return err
	}

	c.subs.add(filter, qos, handler)

	pid := c.pids.NextID()
	if err := c.acks.add(pid, c.wrapAck(pid, ackCallback)); err != nil {
		c.pids.FreeID(pid)
		return err
	}
	sess.subscribe(&subscribePacket{packetID: pid, topicFilters: []string{filter}, requestedQoS: []byte{qos}})
	return nil
}

// Unsubscribe removes filter from the registry and issues UNSUBSCRIBE.
func (c *Client) Unsubscribe(filter string, ackCallback func(err error)) error {
	sess, err := c.activeSession()
	if err != nil {
		return err
	}

	c.subs.remove(filter)

	pid := c.pids.NextID()
	if err := c.acks.add(pid, c.wrapAck(pid, ackCallback)); err != nil {
		c.pids.FreeID(pid)
		return err
	}
	sess.unsubscribe(&unsubscribePacket{packetID: pid, topicFilters: []string{filter}})
	return nil
}

func (c *Client) wrapAck(pid uint16, ackCallback func(err error)) func(interface{}, error) {
	return func(_ interface{}, err error) {
		c.pids.FreeID(pid)
		if ackCallback != nil {
			c.dispatch.post(func() { ackCallback(err) })
		}
	}
}

func (c *Client) activeSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userDisconnected {
		return nil, ErrAlreadyDisconnected
	}
	if !c.userConnected || c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

func (c *Client) setState(state ConnectionState) {
	c.dispatch.post(func() {
		if c.statusCb != nil {
			c.statusCb(state)
		}
	})
}

func (c *Client) setSession(sess *session, conn Connection) {
	c.mu.Lock()
	c.sess = sess
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) clearSession() (sess *session, conn Connection) {
	c.mu.Lock()
	sess, conn = c.sess, c.conn
	c.sess, c.conn = nil, nil
	c.mu.Unlock()
	return sess, conn
}

// runLoop is the dedicated event-loop goroutine: it owns dial/handshake,
// the reconnect state machine, and the per-connection serve loop. Exactly
// one runLoop is alive per completed Connect call.
func (c *Client) runLoop() {
	defer close(c.loopDone)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.setState(Connecting)
		sess, ack, err := c.dialAndHandshake()
		if err != nil {
			c.setState(ConnectionError)
			if !c.sleepBeforeRetry(heartbeat) {
				return
			}
			continue
		}

		if ack.ReturnCode != connAckAccepted {
			// No automatic retry from ConnectionRefused; the loop ends and
			// the client stays connected-but-refused until the caller
			// issues an explicit Disconnect.
			c.setState(ConnectionRefused)
			return
		}

		sess.run()
		c.setSession(sess, sess.transportConn)
		c.backoff.noteConnected()
		c.setState(Connected)
		if c.config.AutoResubscribe {
			c.resubscribeAll(sess)
		}

		lost := c.serve(sess, heartbeat)
		c.teardownSession()

		if lost == nil {
			// Stopped by an explicit Disconnect; shutdown() runs there.
			return
		}
		if errors.Is(lost, ErrProtocol) {
			c.setState(ProtocolError)
			c.shutdown()
			return
		}

		c.setState(ConnectionError)
		c.config.CleanSession = false // forced false on every reconnect
		if !c.sleepBeforeRetry(heartbeat) {
			return
		}
	}
}

// dialAndHandshake opens a fresh transport and performs CONNECT/CONNACK,
// bounding both by ClientConfig's ConnectionTimeout/PacketTimeout.
func (c *Client) dialAndHandshake() (*session, *connAckPacket, error) {
	conn, err := newConnectionFn(c.transport)
	if err != nil {
		return nil, nil, err
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), c.config.ConnectionTimeout)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	rw, err := conn.Connect(dialCtx)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	sess := newSession(rw, time.Duration(c.config.KeepAlive)*time.Second, c.config.Logger)
	sess.transportConn = conn

	type result struct {
		ack *connAckPacket
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := sess.handshake(c.buildConnectPacket())
		done <- result{ack, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			conn.Close()
			return nil, nil, r.err
		}
		return sess, r.ack, nil
	case <-time.After(c.config.PacketTimeout):
		conn.Close()
		<-done
		return nil, nil, errors.New("iotmqtt: timed out waiting for CONNACK")
	case <-c.stopCh:
		conn.Close()
		<-done
		return nil, nil, errors.New("iotmqtt: connect aborted by disconnect")
	}
}

func (c *Client) buildConnectPacket() *connectPacket {
	pkt := &connectPacket{
		CleanSession: c.config.CleanSession,
		KeepAlive:    c.config.KeepAlive,
		ClientID:     c.config.ClientID,
		UserName:     c.config.username(),
	}
	if c.config.Will != nil {
		pkt.WillFlag = true
		pkt.WillQoS = c.config.Will.QoS
		pkt.WillRetain = c.config.Will.Retain
		pkt.WillTopic = c.config.Will.Topic
		pkt.WillPayload = c.config.Will.Payload
	}
	return pkt
}

func (c *Client) resubscribeAll(sess *session) {
	for _, e := range c.subs.all() {
		pid := c.pids.NextID()
		sess.subscribe(&subscribePacket{packetID: pid, topicFilters: []string{e.filter}, requestedQoS: []byte{e.qos}})
	}
}

// serve drains sess.events until the session is lost, a protocol error
// occurs, or the caller disconnects. A nil return means the stop signal
// fired; a non-nil return is the fault that ended the session.
func (c *Client) serve(sess *session, heartbeat *time.Ticker) error {
	for {
		select {
		case ev := <-sess.events:
			switch ev.kind {
			case eventMessage:
				c.routeMessage(ev)
			case eventPubAck:
				c.acks.complete(ev.packetID, nil, nil)
			case eventSubAck:
				c.acks.complete(ev.packetID, ev.subAck, nil)
			case eventUnsubAck:
				c.acks.complete(ev.packetID, ev.unsubAck, nil)
			case eventProtocolError, eventConnectionLost:
				return ev.err
			}
		case <-heartbeat.C:
			// Liveness tick only; keeps the loop from ever being judged
			// idle while a session is up.
		case <-c.stopCh:
			sess.disconnect()
			c.shutdown()
			return nil
		}
	}
}

func (c *Client) routeMessage(ev sessionEvent) {
	for _, e := range c.subs.match(ev.topic) {
		entry := e
		topic, payload, qos, retain := ev.topic, ev.payload, ev.qos, ev.retain
		c.dispatch.post(func() {
			if entry.handler != nil {
				entry.handler(topic, payload, qos, retain)
			}
		})
	}
}

func (c *Client) teardownSession() {
	sess, conn := c.clearSession()
	if conn != nil {
		conn.Close()
	}
	if sess != nil {
		sess.close()
	}
}

// sleepBeforeRetry waits the backoff-controller's next delay, capped at
// reconnectSafetyCeiling, or returns false immediately if stopCh fires.
func (c *Client) sleepBeforeRetry(heartbeat *time.Ticker) bool {
	delay := c.backoff.nextDelay()
	if delay > reconnectSafetyCeiling {
		delay = reconnectSafetyCeiling
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case <-heartbeat.C:
		case <-c.stopCh:
			c.shutdown()
			return false
		}
	}
}

// shutdown performs the one-time terminal cleanup shared by an explicit
// Disconnect and an internal protocol-error-triggered disconnect: it tears
// down any live session/transport, fails every pending ack, clears the
// subscription registry, marks the client disconnected, and stops the
// dispatcher.
func (c *Client) shutdown() {
	c.shutdownOnce.Do(func() {
		c.teardownSession()
		c.acks.failAll(ErrAlreadyDisconnected)
		c.subs.clear()

		c.mu.Lock()
		c.userConnected = false
		c.userDisconnected = true
		c.mu.Unlock()

		c.setState(Disconnected)
		c.dispatch.stop()
	})
}

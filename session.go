package iotmqtt

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// sessionEventKind tags the payload carried on a session's event channel.
// The lifecycle controller's event loop is the sole reader; nothing else
// ever touches these values, so they stay unexported.
type sessionEventKind int

const (
	eventMessage sessionEventKind = iota
	eventPubAck
	eventSubAck
	eventUnsubAck
	eventProtocolError
	eventConnectionLost
)

type sessionEvent struct {
	kind sessionEventKind

	// eventMessage
	topic   string
	payload []byte
	qos     byte
	retain  bool

	// eventPubAck / eventSubAck / eventUnsubAck
	packetID uint16
	subAck   *subAckPacket
	unsubAck *unsubAckPacket

	// eventProtocolError / eventConnectionLost
	err error
}

// session runs one MQTT connection's CONNECT/CONNACK handshake and then
// the read/write/keepalive loop over a live Connection, grounded on the
// teacher's protocolHandler (client.go): a sender goroutine draining an
// outbound channel, a receiver goroutine decoding inbound packets, and a
// pinger goroutine driving the keep-alive ticker. Where the teacher
// coordinates those three with a bare sync.WaitGroup and a hand-rolled
// stop-once, this session uses errgroup.Group so a failure in any one of
// them cancels a shared context the others select on, replacing the
// teacher's shutdown(err)/sync.Once dance with the group's own
// first-error-wins semantics. The 3.1.1 trim drops QoS 2
// (PUBREC/PUBREL/PUBCOMP) and the message store those packets need.
type session struct {
	rw       io.ReadWriter
	outbound chan controlPacket
	events   chan sessionEvent

	// transportConn is the Connection that produced rw. The session never
	// reads or writes it directly; the lifecycle controller closes it to
	// unblock a pending receiveLoop read on teardown.
	transportConn Connection

	keepAlive        time.Duration
	keepAliveTicker  *time.Ticker
	pingRespReceived chan struct{}

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	logger *log.Logger
}

func newSession(rw io.ReadWriter, keepAlive time.Duration, logger *log.Logger) *session {
	base, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(base)
	return &session{
		rw:               rw,
		outbound:         make(chan controlPacket, 8),
		events:           make(chan sessionEvent, 8),
		keepAlive:        keepAlive,
		pingRespReceived: make(chan struct{}, 1),
		ctx:              ctx,
		cancel:           cancel,
		group:            group,
		logger:           logger,
	}
}

// handshake sends CONNECT and blocks for CONNACK. It does not start the
// background loops; callers only do that once the CONNACK's return code
// is accepted, since a refused connection has nothing further to run.
func (s *session) handshake(connect *connectPacket) (*connAckPacket, error) {
	if err := s.writePacket(connect); err != nil {
		return nil, err
	}
	pkt, err := readFrom(s.rw)
	if err != nil {
		return nil, err
	}
	ack, ok := pkt.(*connAckPacket)
	if !ok {
		return nil, ErrProtocol
	}
	return ack, nil
}

// run starts the sender, receiver, and (if keepAlive > 0) pinger
// goroutines under the session's errgroup. Call once, after a successful
// handshake.
func (s *session) run() {
	s.group.Go(s.sendLoop)
	s.group.Go(s.receiveLoop)

	if s.keepAlive > 0 {
		s.keepAliveTicker = time.NewTicker(s.keepAlive)
		s.group.Go(s.pingLoop)
	}
}

// close cancels the session's context and waits for every background
// goroutine to exit. The receive loop only unblocks once the underlying
// Connection has been closed by the caller, exactly as in the teacher's
// reconnector (conn.Close() before ph.waitForCompletion()); close does
// not close rw itself, since the transport owns that lifecycle.
func (s *session) close() {
	s.cancel()
	_ = s.group.Wait()
	if s.keepAliveTicker != nil {
		s.keepAliveTicker.Stop()
	}
}

// publish enqueues a PUBLISH for sending. QoS 1 callers correlate the
// response via the ack registry keyed on packetID before calling this.
func (s *session) publish(p *publishPacket) {
	select {
	case s.outbound <- p:
	case <-s.ctx.Done():
	}
}

func (s *session) subscribe(p *subscribePacket) {
	select {
	case s.outbound <- p:
	case <-s.ctx.Done():
	}
}

func (s *session) unsubscribe(p *unsubscribePacket) {
	select {
	case s.outbound <- p:
	case <-s.ctx.Done():
	}
}

// disconnect sends a DISCONNECT best-effort; the caller tears down the
// transport regardless of whether this send succeeds.
func (s *session) disconnect() error {
	return s.writePacket(&disconnectPacket{})
}

func (s *session) sendLoop() error {
	for {
		select {
		case pkt := <-s.outbound:
			if err := s.writePacket(pkt); err != nil {
				s.fail(err)
				return err
			}
		case <-s.ctx.Done():
			return nil
		}
	}
}

func (s *session) receiveLoop() error {
	for {
		pkt, err := readFrom(s.rw)
		if err != nil {
			s.fail(err)
			return err
		}
		s.resetKeepAliveTimer()
		if err := s.dispatchInbound(pkt); err != nil {
			s.fail(err)
			return err
		}
	}
}

func (s *session) pingLoop() error {
	awaitingPingResp := false
	for {
		select {
		case <-s.keepAliveTicker.C:
			if awaitingPingResp {
				err := errors.New("iotmqtt: PINGRESP not received within keep-alive interval")
				s.fail(err)
				return err
			}
			if err := s.writePacket(&pingReqPacket{}); err != nil {
				s.fail(err)
				return err
			}
			awaitingPingResp = true
		case <-s.pingRespReceived:
			awaitingPingResp = false
		case <-s.ctx.Done():
			return nil
		}
	}
}

func (s *session) resetKeepAliveTimer() {
	if s.keepAliveTicker != nil {
		s.keepAliveTicker.Reset(s.keepAlive)
	}
}

func (s *session) dispatchInbound(pkt controlPacket) error {
	switch p := pkt.(type) {
	case *publishPacket:
		if p.QoSLevel == 1 {
			if err := s.writePacket(&pubAckPacket{packetID: p.packetID}); err != nil {
				return err
			}
		}
		s.emit(sessionEvent{kind: eventMessage, topic: p.TopicName, payload: p.Payload, qos: p.QoSLevel, retain: p.Retain})
		return nil
	case *pubAckPacket:
		s.emit(sessionEvent{kind: eventPubAck, packetID: p.packetID})
		return nil
	case *subAckPacket:
		s.emit(sessionEvent{kind: eventSubAck, packetID: p.packetID, subAck: p})
		return nil
	case *unsubAckPacket:
		s.emit(sessionEvent{kind: eventUnsubAck, packetID: p.packetID, unsubAck: p})
		return nil
	case *pingRespPacket:
		select {
		case s.pingRespReceived <- struct{}{}:
		default:
		}
		return nil
	default:
		s.logger.Warnf("iotmqtt: unexpected packet type %T on established session", pkt)
		return ErrProtocol
	}
}

func (s *session) fail(err error) {
	kind := eventConnectionLost
	if errors.Is(err, ErrProtocol) {
		kind = eventProtocolError
	}
	s.emit(sessionEvent{kind: kind, err: err})
}

func (s *session) emit(e sessionEvent) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

// writePacket serializes pkt through a pooled bufio.Writer, grounded on
// the teacher's sendPacket (client.go), guarded by writeMu since the
// sender goroutine and disconnect/handshake calls can race otherwise.
func (s *session) writePacket(pkt controlPacket) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	bw := bufioWriterPool.Get().(*bufio.Writer)
	bw.Reset(s.rw)
	defer func() {
		bw.Reset(nil)
		bufioWriterPool.Put(bw)
	}()

	if err := writeTo(pkt, bw); err != nil {
		return err
	}
	return bw.Flush()
}

var bufioWriterPool = sync.Pool{
	New: func() interface{} { return bufio.NewWriterSize(nil, 2*1024) },
}

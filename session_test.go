package iotmqtt

import (
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_HandshakeAccepted(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()
	defer broker.Close()

	go func() {
		pkt, err := readFrom(broker)
		if err != nil {
			return
		}
		if _, ok := pkt.(*connectPacket); !ok {
			return
		}
		writeTo(&connAckPacket{ReturnCode: connAckAccepted}, broker)
	}()

	s := newSession(client, 0, log.StandardLogger())
	ack, err := s.handshake(&connectPacket{ClientID: "dev-1", CleanSession: true})
	require.NoError(t, err)
	assert.Equal(t, connAckAccepted, ack.ReturnCode)
}

func TestSession_HandshakeRefused(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()
	defer broker.Close()

	go func() {
		readFrom(broker)
		writeTo(&connAckPacket{ReturnCode: connAckNotAuthorized}, broker)
	}()

	s := newSession(client, 0, log.StandardLogger())
	ack, err := s.handshake(&connectPacket{ClientID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, connAckNotAuthorized, ack.ReturnCode)
}

func TestSession_PublishQoS0DeliversMessageEvent(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()
	defer broker.Close()

	s := newSession(client, 0, log.StandardLogger())
	s.run()
	defer func() { client.Close(); s.close() }()

	go writeTo(&publishPacket{QoSLevel: 0, TopicName: "devices/d1/telemetry", Payload: []byte("hi")}, broker)

	select {
	case ev := <-s.events:
		require.Equal(t, eventMessage, ev.kind)
		assert.Equal(t, "devices/d1/telemetry", ev.topic)
		assert.Equal(t, []byte("hi"), ev.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
}

func TestSession_PublishQoS1SendsPubAckAndEmitsMessage(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()
	defer broker.Close()

	s := newSession(client, 0, log.StandardLogger())
	s.run()
	defer func() { client.Close(); s.close() }()

	go writeTo(&publishPacket{QoSLevel: 1, TopicName: "t", Payload: []byte("x"), packetID: 7}, broker)

	pubAckCh := make(chan *pubAckPacket, 1)
	go func() {
		pkt, err := readFrom(broker)
		if err == nil {
			if pa, ok := pkt.(*pubAckPacket); ok {
				pubAckCh <- pa
			}
		}
	}()

	select {
	case ev := <-s.events:
		assert.Equal(t, eventMessage, ev.kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
	select {
	case pa := <-pubAckCh:
		assert.EqualValues(t, 7, pa.packetID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PUBACK to be sent")
	}
}

func TestSession_SubAckEvent(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()
	defer broker.Close()

	s := newSession(client, 0, log.StandardLogger())
	s.run()
	defer func() { client.Close(); s.close() }()

	go writeTo(&subAckPacket{packetID: 3, Payload: []subAckReturnCode{subAckGrantedQoS1}}, broker)

	select {
	case ev := <-s.events:
		require.Equal(t, eventSubAck, ev.kind)
		assert.EqualValues(t, 3, ev.packetID)
		require.NotNil(t, ev.subAck)
		assert.Equal(t, subAckGrantedQoS1, ev.subAck.Payload[0])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for suback event")
	}
}

func TestSession_ConnectionLostOnReadError(t *testing.T) {
	client, broker := net.Pipe()
	defer client.Close()

	s := newSession(client, 0, log.StandardLogger())
	s.run()
	defer s.close()

	broker.Close()

	select {
	case ev := <-s.events:
		assert.Equal(t, eventConnectionLost, ev.kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection-lost event")
	}
}

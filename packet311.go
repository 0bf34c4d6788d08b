package iotmqtt

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/nickarthur/aws-sdk-ios/internal/mqttutil"
	"github.com/nickarthur/aws-sdk-ios/internal/packettype"
)

// This file consolidates the MQTT 3.1.1 control packet codecs that the
// teacher spread across connect.go/connack.go/publish.go/... one type per
// file. 3.1.1 has no property lists, so each codec here is the teacher's
// equivalent minus the properties.* encode/decode calls and minus the
// QoS2/MQTT5-only fields (NoLocal, RetainAsPublished, RetainHandling,
// reason strings, user properties).

var (
	errInvalidProtocolName = errors.New("iotmqtt: invalid protocol name")
	errInvalidConnectFlags = errors.New("iotmqtt: invalid connect flags")
	errNoTopicsPresent     = errors.New("iotmqtt: subscription payload must contain at least one topic")
)

const protocolLevel311 = byte(0x04)

// controlPacket is the MQTT control packet codec interface, unchanged
// from the teacher's packet.go.
type controlPacket interface {
	encode(w io.Writer) error
	decode(r io.Reader, remainingLen uint32) error
}

func readFrom(r io.Reader) (controlPacket, error) {
	byte0, remainingLength, err := readFixedHeader(r)
	if err != nil {
		return nil, err
	}

	p, err := newPacketWithHeader(byte0)
	if err != nil {
		return nil, err
	}

	body := make([]byte, remainingLength)
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, err
	}
	err = p.decode(bytes.NewBuffer(body), remainingLength)
	return p, err
}

func writeTo(p controlPacket, w io.Writer) error {
	return p.encode(w)
}

func newPacketWithHeader(byte0 byte) (controlPacket, error) {
	pktType := packettype.PacketType(byte0 >> 4)
	switch pktType {
	case packettype.CONNECT:
		return &connectPacket{}, nil
	case packettype.CONNACK:
		return &connAckPacket{}, nil
	case packettype.PUBLISH:
		qos, dup, retain := decodePublishHeader(byte0)
		return &publishPacket{QoSLevel: qos, DUPFlag: dup, Retain: retain}, nil
	case packettype.PUBACK:
		return &pubAckPacket{}, nil
	case packettype.SUBSCRIBE:
		return &subscribePacket{}, nil
	case packettype.SUBACK:
		return &subAckPacket{}, nil
	case packettype.UNSUBSCRIBE:
		return &unsubscribePacket{}, nil
	case packettype.UNSUBACK:
		return &unsubAckPacket{}, nil
	case packettype.PINGREQ:
		return &pingReqPacket{}, nil
	case packettype.PINGRESP:
		return &pingRespPacket{}, nil
	case packettype.DISCONNECT:
		return &disconnectPacket{}, nil
	}
	return nil, fmt.Errorf("iotmqtt: unsupported packet type 0x%x", pktType)
}

func readFixedHeader(r io.Reader) (byte, uint32, error) {
	byte0, err := mqttutil.DecodeByte(r)
	if err != nil {
		return 0, 0, err
	}
	remainingLength, _, err := mqttutil.DecodeVarUint32(r)
	if err != nil {
		return 0, 0, err
	}
	return byte0, remainingLength, nil
}

// --- CONNECT ---

type connectPacket struct {
	CleanSession bool
	KeepAlive    uint16
	WillFlag     bool
	WillQoS      byte
	WillRetain   bool
	WillTopic    string
	WillPayload  []byte
	ClientID     string
	UserName     string
	Password     []byte
}

func (c *connectPacket) encode(w io.Writer) error {
	remainingLength := uint32(10 + 2 + len(c.ClientID))

	connectFlags := byte(0)
	if c.CleanSession {
		connectFlags |= 0x02
	}
	if c.WillFlag {
		connectFlags |= 0x04
		connectFlags |= c.WillQoS << 3
		if c.WillRetain {
			connectFlags |= 0x20
		}
		remainingLength += uint32(len(c.WillTopic) + 2 + len(c.WillPayload) + 2)
	}
	if len(c.UserName) > 0 {
		connectFlags |= 0x80
		remainingLength += uint32(2 + len(c.UserName))
	}
	if len(c.Password) > 0 {
		connectFlags |= 0x40
		remainingLength += uint32(2 + len(c.Password))
	}

	var packet bytes.Buffer
	packet.Grow(int(remainingLength + 1 + mqttutil.EncodedVarUint32Size(remainingLength)))
	if err := mqttutil.EncodeByte(&packet, byte(packettype.CONNECT<<4)); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, remainingLength); err != nil {
		return err
	}
	if _, err := packet.Write([]byte{0x0, 0x4, 'M', 'Q', 'T', 'T', protocolLevel311}); err != nil {
		return err
	}
	if err := packet.WriteByte(connectFlags); err != nil {
		return err
	}
	if err := mqttutil.EncodeBigEndianUint16(&packet, c.KeepAlive); err != nil {
		return err
	}
	if err := mqttutil.EncodeUTF8String(&packet, c.ClientID); err != nil {
		return err
	}
	if c.WillFlag {
		if err := mqttutil.EncodeUTF8String(&packet, c.WillTopic); err != nil {
			return err
		}
		if err := mqttutil.EncodeBinaryData(&packet, c.WillPayload); err != nil {
			return err
		}
	}
	if len(c.UserName) > 0 {
		if err := mqttutil.EncodeUTF8String(&packet, c.UserName); err != nil {
			return err
		}
	}
	if len(c.Password) > 0 {
		if err := mqttutil.EncodeBinaryData(&packet, c.Password); err != nil {
			return err
		}
	}

	_, err := packet.WriteTo(w)
	return err
}

func (c *connectPacket) decode(r io.Reader, remainingLen uint32) error {
	var pname [6]byte
	if _, err := io.ReadFull(r, pname[:]); err != nil {
		return err
	}
	if !bytes.Equal(pname[:], []byte{0, 4, 'M', 'Q', 'T', 'T'}) {
		return errInvalidProtocolName
	}

	if _, err := mqttutil.DecodeByte(r); err != nil { // protocol level, unused on decode
		return err
	}

	connectFlag, err := mqttutil.DecodeByte(r)
	if err != nil {
		return err
	}
	if connectFlag&0x01 != 0 {
		return errInvalidConnectFlags
	}
	c.CleanSession = connectFlag&0x02 > 0
	c.WillFlag = connectFlag&0x04 > 0
	passwordFlag := connectFlag&0x40 > 0
	usernameFlag := connectFlag&0x80 > 0

	c.KeepAlive, err = mqttutil.DecodeBigEndianUint16(r)
	if err != nil {
		return err
	}

	c.ClientID, _, err = mqttutil.DecodeUTF8String(r)
	if err != nil {
		return err
	}

	if c.WillFlag {
		c.WillQoS = 0x03 & (connectFlag >> 3)
		c.WillRetain = connectFlag&0x20 > 0
		c.WillTopic, _, err = mqttutil.DecodeUTF8String(r)
		if err != nil {
			return err
		}
		c.WillPayload, _, err = mqttutil.DecodeBinaryData(r)
		if err != nil {
			return err
		}
	}
	if usernameFlag {
		c.UserName, _, err = mqttutil.DecodeUTF8String(r)
		if err != nil {
			return err
		}
	}
	if passwordFlag {
		c.Password, _, err = mqttutil.DecodeBinaryData(r)
	}
	return err
}

// --- CONNACK ---

// connAckReturnCode is the MQTT 3.1.1 CONNACK return code space (§3.2.2.3),
// a flat byte enum rather than the MQTT5 unified reason-code space the
// teacher used.
type connAckReturnCode byte

const (
	connAckAccepted                    connAckReturnCode = 0x00
	connAckUnacceptableProtocolVersion connAckReturnCode = 0x01
	connAckIdentifierRejected          connAckReturnCode = 0x02
	connAckServerUnavailable           connAckReturnCode = 0x03
	connAckBadUsernameOrPassword       connAckReturnCode = 0x04
	connAckNotAuthorized               connAckReturnCode = 0x05
)

type connAckPacket struct {
	SessionPresent bool
	ReturnCode     connAckReturnCode
}

func (c *connAckPacket) encode(w io.Writer) error {
	var packet bytes.Buffer
	packet.Grow(4)
	if err := mqttutil.EncodeByte(&packet, byte(packettype.CONNACK<<4)); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, 2); err != nil {
		return err
	}
	if err := mqttutil.EncodeBool(&packet, c.SessionPresent); err != nil {
		return err
	}
	if err := mqttutil.EncodeByte(&packet, byte(c.ReturnCode)); err != nil {
		return err
	}
	_, err := packet.WriteTo(w)
	return err
}

func (c *connAckPacket) decode(r io.Reader, remainingLen uint32) error {
	sessionPresentByte, err := mqttutil.DecodeByte(r)
	if err != nil {
		return err
	}
	c.SessionPresent = sessionPresentByte&0x01 > 0

	code, err := mqttutil.DecodeByte(r)
	if err != nil {
		return err
	}
	c.ReturnCode = connAckReturnCode(code)
	return nil
}

// --- PUBLISH ---

type publishPacket struct {
	QoSLevel  byte
	DUPFlag   bool
	Retain    bool
	TopicName string
	packetID  uint16
	Payload   []byte
}

func decodePublishHeader(byte0 byte) (qos byte, dup bool, retain bool) {
	return (byte0 >> 1) & 0x03, byte0&0x08 > 0, byte0&0x01 > 0
}

func (p *publishPacket) encode(w io.Writer) error {
	remainingLength := uint32(len(p.TopicName) + 2 + len(p.Payload))
	if p.QoSLevel > 0 {
		remainingLength += 2
	}

	var packet bytes.Buffer
	packet.Grow(int(1 + remainingLength + mqttutil.EncodedVarUint32Size(remainingLength)))
	byte0 := byte(packettype.PUBLISH<<4) | mqttutil.BoolToByte(p.DUPFlag)<<3 | p.QoSLevel<<1 | mqttutil.BoolToByte(p.Retain)
	if err := mqttutil.EncodeByte(&packet, byte0); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, remainingLength); err != nil {
		return err
	}
	if err := mqttutil.EncodeUTF8String(&packet, p.TopicName); err != nil {
		return err
	}
	// A PUBLISH packet MUST NOT contain a packet identifier when QoS is 0.
	if p.QoSLevel > 0 {
		if err := mqttutil.EncodeBigEndianUint16(&packet, p.packetID); err != nil {
			return err
		}
	}
	if err := mqttutil.EncodeBinaryDataNoLen(&packet, p.Payload); err != nil {
		return err
	}

	_, err := packet.WriteTo(w)
	return err
}

func (p *publishPacket) decode(r io.Reader, remainingLen uint32) error {
	topicName, _, err := mqttutil.DecodeUTF8String(r)
	if err != nil {
		return err
	}
	p.TopicName = topicName
	remainingLen -= uint32(len(topicName) + 2)

	if p.QoSLevel > 0 {
		p.packetID, err = mqttutil.DecodeBigEndianUint16(r)
		if err != nil {
			return err
		}
		if p.packetID == 0 {
			return ErrProtocol
		}
		remainingLen -= 2
	}

	p.Payload, _, err = mqttutil.DecodeBinaryDataNoLength(r, int(remainingLen))
	return err
}

// --- PUBACK ---

type pubAckPacket struct {
	packetID uint16
}

func (pa *pubAckPacket) encode(w io.Writer) error {
	var packet bytes.Buffer
	packet.Grow(4)
	if err := mqttutil.EncodeByte(&packet, byte(packettype.PUBACK<<4)); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, 2); err != nil {
		return err
	}
	if err := mqttutil.EncodeBigEndianUint16(&packet, pa.packetID); err != nil {
		return err
	}
	_, err := packet.WriteTo(w)
	return err
}

func (pa *pubAckPacket) decode(r io.Reader, remainingLen uint32) error {
	id, err := mqttutil.DecodeBigEndianUint16(r)
	if err != nil {
		return err
	}
	pa.packetID = id
	return nil
}

// --- SUBSCRIBE / SUBACK ---

// subAckReturnCode is the MQTT 3.1.1 SUBACK return code space (§3.9.3):
// granted QoS 0/1, or 0x80 failure.
type subAckReturnCode byte

const (
	subAckGrantedQoS0 subAckReturnCode = 0x00
	subAckGrantedQoS1 subAckReturnCode = 0x01
	subAckFailure     subAckReturnCode = 0x80
)

type subscribePacket struct {
	packetID     uint16
	topicFilters []string
	requestedQoS []byte
}

func (s *subscribePacket) encode(w io.Writer) error {
	const fixedHeader = byte(0x82)
	if len(s.topicFilters) == 0 {
		return errNoTopicsPresent
	}

	remainingLength := uint32(2)
	for _, tf := range s.topicFilters {
		remainingLength += uint32(len(tf) + 2 + 1)
	}

	var packet bytes.Buffer
	packet.Grow(int(1 + remainingLength + mqttutil.EncodedVarUint32Size(remainingLength)))
	if err := mqttutil.EncodeByte(&packet, fixedHeader); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, remainingLength); err != nil {
		return err
	}
	if err := mqttutil.EncodeBigEndianUint16(&packet, s.packetID); err != nil {
		return err
	}
	for i, tf := range s.topicFilters {
		if err := mqttutil.EncodeUTF8String(&packet, tf); err != nil {
			return err
		}
		if err := mqttutil.EncodeByte(&packet, s.requestedQoS[i]&0x03); err != nil {
			return err
		}
	}

	_, err := packet.WriteTo(w)
	return err
}

func (s *subscribePacket) decode(r io.Reader, remainingLen uint32) error {
	id, err := mqttutil.DecodeBigEndianUint16(r)
	if err != nil {
		return err
	}
	s.packetID = id
	remainingLen -= 2

	for remainingLen > 0 {
		tf, _, err := mqttutil.DecodeUTF8String(r)
		if err != nil {
			return err
		}
		qosByte, err := mqttutil.DecodeByte(r)
		if err != nil {
			return err
		}
		s.topicFilters = append(s.topicFilters, tf)
		s.requestedQoS = append(s.requestedQoS, qosByte&0x03)
		remainingLen -= uint32(len(tf) + 2 + 1)
	}

	if len(s.topicFilters) == 0 {
		return errNoTopicsPresent
	}
	return nil
}

type subAckPacket struct {
	packetID uint16
	Payload  []subAckReturnCode
}

func (s *subAckPacket) encode(w io.Writer) error {
	remainingLength := uint32(2 + len(s.Payload))
	var packet bytes.Buffer
	packet.Grow(int(1 + remainingLength + mqttutil.EncodedVarUint32Size(remainingLength)))
	if err := mqttutil.EncodeByte(&packet, byte(packettype.SUBACK<<4)); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, remainingLength); err != nil {
		return err
	}
	if err := mqttutil.EncodeBigEndianUint16(&packet, s.packetID); err != nil {
		return err
	}
	for _, code := range s.Payload {
		if err := mqttutil.EncodeByte(&packet, byte(code)); err != nil {
			return err
		}
	}
	_, err := packet.WriteTo(w)
	return err
}

func (s *subAckPacket) decode(r io.Reader, remainingLen uint32) error {
	id, err := mqttutil.DecodeBigEndianUint16(r)
	if err != nil {
		return err
	}
	s.packetID = id
	remainingLen -= 2

	payload, _, err := mqttutil.DecodeBinaryDataNoLength(r, int(remainingLen))
	if err != nil {
		return err
	}
	for _, b := range payload {
		s.Payload = append(s.Payload, subAckReturnCode(b))
	}
	return nil
}

// --- UNSUBSCRIBE / UNSUBACK ---

type unsubscribePacket struct {
	packetID     uint16
	topicFilters []string
}

func (us *unsubscribePacket) encode(w io.Writer) error {
	const fixedHeader = byte(0xA2)
	remainingLength := uint32(2)
	for _, tf := range us.topicFilters {
		remainingLength += uint32(len(tf) + 2)
	}

	var packet bytes.Buffer
	packet.Grow(int(1 + remainingLength + mqttutil.EncodedVarUint32Size(remainingLength)))
	if err := mqttutil.EncodeByte(&packet, fixedHeader); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, remainingLength); err != nil {
		return err
	}
	if err := mqttutil.EncodeBigEndianUint16(&packet, us.packetID); err != nil {
		return err
	}
	for _, tf := range us.topicFilters {
		if err := mqttutil.EncodeUTF8String(&packet, tf); err != nil {
			return err
		}
	}

	_, err := packet.WriteTo(w)
	return err
}

func (us *unsubscribePacket) decode(r io.Reader, remainingLen uint32) error {
	id, err := mqttutil.DecodeBigEndianUint16(r)
	if err != nil {
		return err
	}
	us.packetID = id
	remainingLen -= 2

	for remainingLen > 0 {
		tf, _, err := mqttutil.DecodeUTF8String(r)
		if err != nil {
			return err
		}
		us.topicFilters = append(us.topicFilters, tf)
		remainingLen -= uint32(len(tf) + 2)
	}
	if len(us.topicFilters) == 0 {
		return errNoTopicsPresent
	}
	return nil
}

type unsubAckPacket struct {
	packetID uint16
}

func (us *unsubAckPacket) encode(w io.Writer) error {
	var packet bytes.Buffer
	packet.Grow(4)
	if err := mqttutil.EncodeByte(&packet, byte(packettype.UNSUBACK<<4)); err != nil {
		return err
	}
	if err := mqttutil.EncodeVarUint32(&packet, 2); err != nil {
		return err
	}
	if err := mqttutil.EncodeBigEndianUint16(&packet, us.packetID); err != nil {
		return err
	}
	_, err := packet.WriteTo(w)
	return err
}

func (us *unsubAckPacket) decode(r io.Reader, remainingLen uint32) error {
	id, err := mqttutil.DecodeBigEndianUint16(r)
	if err != nil {
		return err
	}
	us.packetID = id
	return nil
}

// --- PINGREQ / PINGRESP ---

type pingReqPacket struct{}

func (p *pingReqPacket) encode(w io.Writer) error {
	_, err := w.Write([]byte{byte(packettype.PINGREQ << 4), 0x00})
	return err
}

func (p *pingReqPacket) decode(r io.Reader, remainingLen uint32) error { return nil }

type pingRespPacket struct{}

func (p *pingRespPacket) encode(w io.Writer) error {
	_, err := w.Write([]byte{byte(packettype.PINGRESP << 4), 0x00})
	return err
}

func (p *pingRespPacket) decode(r io.Reader, remainingLen uint32) error { return nil }

// --- DISCONNECT ---

// disconnectPacket has no variable header or payload in MQTT 3.1.1: the
// reason-code byte the teacher's Disconnect type carries is an MQTT5
// addition.
type disconnectPacket struct{}

func (d *disconnectPacket) encode(w io.Writer) error {
	_, err := w.Write([]byte{byte(packettype.DISCONNECT << 4), 0x00})
	return err
}

func (d *disconnectPacket) decode(r io.Reader, remainingLen uint32) error { return nil }

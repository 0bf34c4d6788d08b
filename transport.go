package iotmqtt

import (
	"context"
	"io"
)

// Connection is the duplex byte channel abstraction the session codec
// reads and writes MQTT control packets through, grounded on the
// teacher's Connection interface (connection.go). Exactly one concrete
// implementation is active per client, chosen by TransportSpec: either a
// mutually-authenticated TLS socket or a SigV4-signed WebSocket.
type Connection interface {
	// BrokerURL identifies the broker for logging purposes.
	BrokerURL() string
	// Connect dials the transport and returns a stream the session codec
	// can read/write framed MQTT packets through. If Connect returns an
	// error the lifecycle controller schedules a backoff reconnect.
	Connect(ctx context.Context) (io.ReadWriter, error)
	// Close tears down the underlying socket. Safe to call more than
	// once and safe to call when never connected.
	Close()
}

// newConnectionFn is a seam for tests to substitute a fake Connection
// without a real socket or WebSocket server; production code always
// leaves it at newConnection.
var newConnectionFn = newConnection

// newConnection builds the Connection implementation selected by spec.
// Exactly one of spec.DirectTLS / spec.SignedWebSocket must be set; this
// is the only place that checks it, and Client.Connect calls it once up
// front to reject an invalid spec with ErrConfigurationError.
func newConnection(spec TransportSpec) (Connection, error) {
	switch {
	case spec.DirectTLS != nil && spec.SignedWebSocket != nil:
		return nil, ErrConfigurationError
	case spec.DirectTLS != nil:
		return newTLSTransport(*spec.DirectTLS)
	case spec.SignedWebSocket != nil:
		return newWSTransport(*spec.SignedWebSocket)
	default:
		return nil, ErrConfigurationError
	}
}

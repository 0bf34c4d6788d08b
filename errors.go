package iotmqtt

import "errors"

// Errors returned by the lifecycle controller's public entrypoints and by
// the SigV4 signer. These are precondition-failure or configuration
// errors, not transient faults; the reconnect loop never returns them.
var (
	// ErrAlreadyConnecting is returned by Connect when a connect has
	// already been issued and no terminal lifecycle event has been
	// observed since.
	ErrAlreadyConnecting = errors.New("iotmqtt: connect already in progress or connected")

	// ErrNotConnected is returned by Publish/Subscribe/Unsubscribe when
	// no Connect has been issued yet or no session is currently
	// established, and by Disconnect when no Connect has been issued.
	ErrNotConnected = errors.New("iotmqtt: client has not been connected")

	// ErrAlreadyDisconnected is returned by Publish/Subscribe/Unsubscribe
	// once Disconnect has been issued.
	ErrAlreadyDisconnected = errors.New("iotmqtt: client has been disconnected")

	// ErrInvalidArgument covers QoS > 1, or an ack callback supplied for
	// a QoS 0 publish.
	ErrInvalidArgument = errors.New("iotmqtt: invalid argument")

	// ErrConfigurationError covers a missing client identifier, a
	// SignedWebSocket transport without a credentials provider, or a
	// DirectTLS transport whose certificate identity could not be found.
	ErrConfigurationError = errors.New("iotmqtt: missing or invalid configuration")

	// ErrSigningFailed wraps a failure of the underlying HMAC/SHA
	// primitives during SigV4 signing. Not expected in normal operation.
	ErrSigningFailed = errors.New("iotmqtt: failed to sign request")

	// ErrProtocol is returned by the session codec on a malformed or
	// out-of-sequence packet.
	ErrProtocol = errors.New("iotmqtt: protocol error")
)

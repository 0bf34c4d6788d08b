package iotmqtt

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// LastWill is the message the broker publishes on behalf of the client
// if it disconnects ungracefully.
type LastWill struct {
	Topic   string
	Payload []byte
	QoS     byte // 0 or 1
	Retain  bool
}

// ClientConfig is immutable once the first Connect call has been issued.
type ClientConfig struct {
	ClientID     string
	KeepAlive    uint16 // seconds
	CleanSession bool
	Will         *LastWill

	MetricsEnabled bool

	// Reconnect tuning, field names grounded on the AWS IoT device SDK's
	// options shape (base/maximum/minimum reconnect windows).
	BaseReconnectTime     time.Duration
	MaximumReconnectTime  time.Duration
	MinimumConnectionTime time.Duration

	AutoResubscribe bool

	// PublishRetryThrottle is carried in the configuration but is not
	// read by this module: the session does not retransmit QoS 1
	// publishes.
	PublishRetryThrottle time.Duration

	// ConnectionTimeout bounds the transport dial and PacketTimeout bounds
	// the wait for CONNACK. Acks for SUBSCRIBE/UNSUBSCRIBE/PUBLISH(QoS1)
	// are not timed out; their callbacks run when the ack arrives or when
	// the client shuts down.
	ConnectionTimeout time.Duration
	PacketTimeout     time.Duration

	// SDKPlatform / SDKVersion feed the metrics string appended to the
	// MQTT username when MetricsEnabled is true:
	// "?SDK=<platform>&Version=<version>".
	SDKPlatform string
	SDKVersion  string

	// Logger is the logrus logger the session writes to. Defaults to
	// logrus.StandardLogger() when nil. The WebSocket transport always
	// logs to the standard logger.
	Logger *log.Logger
}

const (
	defaultBaseReconnectTime     = 1 * time.Second
	defaultMaximumReconnectTime  = 128 * time.Second
	defaultMinimumConnectionTime = 20 * time.Second
	defaultConnectionTimeout     = 15 * time.Second
	defaultPacketTimeout         = 10 * time.Second
)

// DefaultClientConfig returns a ClientConfig with the defaults named in
// spec.md §6.
func DefaultClientConfig(clientID string) ClientConfig {
	return ClientConfig{
		ClientID:              clientID,
		CleanSession:          true,
		MetricsEnabled:        true,
		AutoResubscribe:       true,
		BaseReconnectTime:     defaultBaseReconnectTime,
		MaximumReconnectTime:  defaultMaximumReconnectTime,
		MinimumConnectionTime: defaultMinimumConnectionTime,
		ConnectionTimeout:     defaultConnectionTimeout,
		PacketTimeout:         defaultPacketTimeout,
		SDKPlatform:           "go",
		SDKVersion:            "1.0",
	}
}

func (c *ClientConfig) applyDefaults() {
	if c.BaseReconnectTime <= 0 {
		c.BaseReconnectTime = defaultBaseReconnectTime
	}
	if c.MaximumReconnectTime <= 0 {
		c.MaximumReconnectTime = defaultMaximumReconnectTime
	}
	if c.MinimumConnectionTime <= 0 {
		c.MinimumConnectionTime = defaultMinimumConnectionTime
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = defaultConnectionTimeout
	}
	if c.PacketTimeout <= 0 {
		c.PacketTimeout = defaultPacketTimeout
	}
	if c.Logger == nil {
		c.Logger = log.StandardLogger()
	}
}

// username builds the MQTT CONNECT username field. Empty when metrics are
// disabled, per spec.md §6.
func (c *ClientConfig) username() string {
	if !c.MetricsEnabled {
		return ""
	}
	return "?SDK=" + c.SDKPlatform + "&Version=" + c.SDKVersion
}

// Credentials is the tuple an asynchronous CredentialsProvider resolves
// to: an AWS access key, secret key, and an optional session token for
// temporary credentials.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CredentialsProvider yields Credentials asynchronously. Implementations
// must respect ctx cancellation; the lifecycle controller cancels the
// context passed here when Disconnect is called mid-fetch.
type CredentialsProvider interface {
	Retrieve(ctx context.Context) (Credentials, error)
}

// StaticCredentialsProvider returns a fixed set of credentials. Useful
// for tests and for callers who rotate credentials out of band.
type StaticCredentialsProvider struct {
	Credentials Credentials
}

func (s StaticCredentialsProvider) Retrieve(ctx context.Context) (Credentials, error) {
	return s.Credentials, nil
}

// CertificateIdentity references a client X.509 identity (certificate +
// private key) usable as a tls.Certificate. How the identity is located
// (keychain, PEM files, PKCS#12) is outside this module's scope; callers
// supply it already resolved.
type CertificateIdentity struct {
	Certificates []byte // PEM-encoded certificate chain
	PrivateKey   []byte // PEM-encoded private key
}

// TransportSpec is a tagged variant: exactly one of DirectTLS or
// SignedWebSocket must be non-nil.
type TransportSpec struct {
	DirectTLS       *DirectTLSSpec
	SignedWebSocket *SignedWebSocketSpec
}

// DirectTLSSpec configures a mutually-authenticated TLS socket transport.
type DirectTLSSpec struct {
	Host string
	Port uint16
	// Identity is the client certificate presented during the TLS
	// handshake. When nil, peer-name verification is disabled instead
	// (accept any peer; caller's responsibility per spec.md §4.2).
	Identity *CertificateIdentity
}

// SignedWebSocketSpec configures a SigV4-signed WebSocket transport.
type SignedWebSocketSpec struct {
	Endpoint    string // host only, e.g. "xxxx.iot.us-east-1.amazonaws.com"
	Region      string
	Credentials CredentialsProvider
}

package iotmqtt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWSTransport_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{wssSubprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Send one non-binary frame first; the client must discard it.
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ignore me")))
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("hello-mqtt")))

		mt, data, err := conn.ReadMessage()
		if err == nil {
			require.Equal(t, websocket.BinaryMessage, mt)
			require.Equal(t, "echo-back", string(data))
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	transport := &wsTransport{
		spec: SignedWebSocketSpec{
			Endpoint:    strings.TrimPrefix(wsURL, "ws://"),
			Region:      "us-east-1",
			Credentials: StaticCredentialsProvider{Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"}},
		},
		clock: SystemClock{},
	}
	// Bypass SigV4 signing for the loopback test server by dialing the
	// plain ws URL directly rather than through Connect's signed URL
	// construction, which targets a wss:// AWS hostname.
	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second, Subprotocols: []string{wssSubprotocol}}
	conn, _, err := dialer.DialContext(context.Background(), wsURL, nil)
	require.NoError(t, err)
	transport.conn = conn
	transport.pipe = newBoundedPipe()
	pumpCtx, cancel := context.WithCancel(context.Background())
	transport.cancel = cancel
	go transport.pumpIncoming(pumpCtx)
	rw := &wsReadWriter{conn: conn, pipe: transport.pipe}

	buf := make([]byte, len("hello-mqtt"))
	n, err := rw.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello-mqtt", string(buf[:n]))

	_, err = rw.Write([]byte("echo-back"))
	require.NoError(t, err)

	transport.Close()
}

func TestNewWSTransport_RequiresConfig(t *testing.T) {
	_, err := newWSTransport(SignedWebSocketSpec{})
	require.ErrorIs(t, err, ErrConfigurationError)
}

func TestNewTLSTransport_RequiresConfig(t *testing.T) {
	_, err := newTLSTransport(DirectTLSSpec{})
	require.ErrorIs(t, err, ErrConfigurationError)
}

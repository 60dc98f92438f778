package messaging

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestServer(t *testing.T) (*httptest.Server, *Router) {
	t.Helper()
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	muxRouter := mux.NewRouter()
	router.RegisterRoutes(muxRouter)
	srv := httptest.NewServer(muxRouter)
	t.Cleanup(srv.Close)
	return srv, router
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TestAcceptanceFlow exercises spec §8 scenario 6: a client connects, the
// app accepts it, and the client's subsequent "cap" reaches the app with
// the originating client id injected and no other fields altered.
func TestAcceptanceFlow(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	srv, _ := newTestServer(t)

	appConn := dialWS(t, srv, "/messaging/out/e")
	clientConn := dialWS(t, srv, "/messaging/in/e")

	require.NoError(t, clientConn.WriteJSON(NewConnectMessage()))

	// App observes the connect request and learns the client's id.
	var connFrame ConnectMessage
	require.NoError(t, appConn.ReadJSON(&connFrame))
	require.NotEmpty(t, connFrame.Client)
	clientID := connFrame.Client

	require.NoError(t, appConn.WriteJSON(AccessMessage{
		Version: ProtocolVersion, Type: TypeAccess, Accepted: true, Client: clientID,
	}))

	var accFrame AccessMessage
	require.NoError(t, clientConn.ReadJSON(&accFrame))
	require.True(t, accFrame.Accepted)
	require.Empty(t, accFrame.Client, "client field must be stripped before reaching the client")

	require.NoError(t, clientConn.WriteJSON(CapabilityMessage{
		Version: ProtocolVersion, Type: TypeCapability, Body: json.RawMessage(`{"k":1}`),
	}))

	var capFrame CapabilityMessage
	require.NoError(t, appConn.ReadJSON(&capFrame))
	require.Equal(t, clientID, capFrame.Client)
	require.JSONEq(t, `{"k":1}`, string(capFrame.Body))
}

// TestCapRejectedBeforeAcceptance verifies a client that hasn't been
// admitted cannot reach the app with anything but "con".
func TestCapRejectedBeforeAcceptance(t *testing.T) {
	srv, _ := newTestServer(t)

	appConn := dialWS(t, srv, "/messaging/out/e")
	clientConn := dialWS(t, srv, "/messaging/in/e")

	require.NoError(t, clientConn.WriteJSON(CapabilityMessage{
		Version: ProtocolVersion, Type: TypeCapability, Body: json.RawMessage(`{}`),
	}))

	// The app must never see this frame. A subsequent con/cap flow should
	// be the first thing it observes.
	require.NoError(t, clientConn.WriteJSON(NewConnectMessage()))

	var frame ConnectMessage
	require.NoError(t, appConn.ReadJSON(&frame))
	require.Equal(t, TypeConnect, frame.Type)
}

// TestMissingClientElicitsHeartbeat verifies spec §8's "missing-client
// notification" property: an app targeting an absent client id gets back
// exactly one chb{up:false} and no delivery happens.
func TestMissingClientElicitsHeartbeat(t *testing.T) {
	srv, _ := newTestServer(t)

	appConn := dialWS(t, srv, "/messaging/out/e")

	require.NoError(t, appConn.WriteJSON(ApplicationMessage{
		Version: ProtocolVersion, Type: TypeApplication, Client: "ghost", Body: json.RawMessage(`{}`),
	}))

	var frame ClientHeartbeatMessage
	require.NoError(t, appConn.ReadJSON(&frame))
	require.False(t, frame.Up)
	require.Equal(t, []string{"ghost"}, frame.Clients)
}

// TestHeartbeatLiveness verifies spec §8: within 600ms of connecting, both
// app and client have received at least one heartbeat frame.
func TestHeartbeatLiveness(t *testing.T) {
	srv, router := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		router.Run(ctx)
		close(done)
	}()

	appConn := dialWS(t, srv, "/messaging/out/e")
	clientConn := dialWS(t, srv, "/messaging/in/e")

	_ = appConn.SetReadDeadline(time.Now().Add(600 * time.Millisecond))
	_ = clientConn.SetReadDeadline(time.Now().Add(600 * time.Millisecond))

	var chb ClientHeartbeatMessage
	require.NoError(t, appConn.ReadJSON(&chb))
	require.True(t, chb.Up)

	var ahb AppHeartbeatMessage
	require.NoError(t, clientConn.ReadJSON(&ahb))
	require.True(t, ahb.Up)

	cancel()
	<-done
}

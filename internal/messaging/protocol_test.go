package messaging

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []Message{
		NewConnectMessage(),
		AccessMessage{Version: ProtocolVersion, Type: TypeAccess, Accepted: true, Client: "client-1"},
		AppHeartbeatMessage{Version: ProtocolVersion, Type: TypeAppHeartbeat, Up: true},
		ClientHeartbeatMessage{Version: ProtocolVersion, Type: TypeClientHeartbeat, Up: true, Clients: []string{"a", "b"}},
		CapabilityMessage{Version: ProtocolVersion, Type: TypeCapability, Body: json.RawMessage(`{"k":1}`), Req: "r1"},
		ApplicationMessage{Version: ProtocolVersion, Type: TypeApplication, Body: json.RawMessage(`{"k":1}`), Client: "client-1"},
		DisplaySettingsMessage{Version: ProtocolVersion, Type: TypeDisplaySettings, Settings: DisplaySettings{EndTime: int64Ptr(123)}},
		LifecycleMessage{Version: ProtocolVersion, Type: TypeLifecycle, Paused: true},
	}

	for _, want := range cases {
		raw, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(raw)
		require.NoError(t, err)

		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch for %T (-want +got):\n%s", want, diff)
		}
	}
}

// TestApplicationMessageStripsClientForSocket verifies the one documented
// exception to the round-trip property (spec §8): the client field is
// stripped before an app→client reply reaches the client's own socket.
func TestApplicationMessageStripsClientForSocket(t *testing.T) {
	msg := ApplicationMessage{Version: ProtocolVersion, Type: TypeApplication, Client: "abc", Body: json.RawMessage(`{}`)}
	stripped := forClientSocket(msg).(ApplicationMessage)
	assert.Empty(t, stripped.Client)
	assert.Equal(t, "abc", msg.Client, "original message must not be mutated")
}

func TestDecodeUnknownTypeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"version":1,"type":"nope"}`))
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMissingTypeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"version":1}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestDecodeBadVersionIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"version":2,"type":"con"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestWithClientInjectsSenderID(t *testing.T) {
	msg := withClient(NewConnectMessage(), "client-42")
	con, ok := msg.(ConnectMessage)
	require.True(t, ok)
	assert.Equal(t, "client-42", con.Client)
}

func TestLockValueRoundTripsBoolAndInt(t *testing.T) {
	boolLock := LockValue{Closed: true}
	raw, err := json.Marshal(boolLock)
	require.NoError(t, err)
	assert.Equal(t, "true", string(raw))

	var decoded LockValue
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, boolLock, decoded)

	intLock := LockValue{N: 3}
	raw, err = json.Marshal(intLock)
	require.NoError(t, err)
	assert.Equal(t, "3", string(raw))

	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, intLock, decoded)
}

func int64Ptr(v int64) *int64 { return &v }

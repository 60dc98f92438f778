// Package messaging brokers the typed WebSocket protocol between one "app"
// socket and many "client" sockets per experience (spec §4.4). protocol.go
// defines the wire message variants, grounded on the original's
// api/protocol/messages.py dataclass-per-MessageType shape
// (_examples/original_source/api/protocol/messages.py), but modeled as
// tagged Go structs instead of runtime attribute probing (spec §9: "Dynamic
// JSON with hasattr(message,'client')" is redesigned into variants where the
// presence of `client` is a property of the type, not a runtime check).
package messaging

import "encoding/json"

// ProtocolVersion is the only wire version this router accepts; the
// original's PROTOCOL_VERSION constant (messages.py).
const ProtocolVersion = 1

// Type is the short wire discriminator spec.md's §4.4 table uses. These
// stand in for the original's MessageType enum values (APP_HEARTBEAT=0,
// CLIENT_HEARTBEAT=1, CONNECT=2, ACCESS=3, APPLICATION=4,
// DISPLAY_SETTINGS=5, LIFECYCLE=6), kept readable as Go constant names
// while the value on the wire stays the short tag.
type Type string

const (
	TypeConnect         Type = "con"
	TypeAccess          Type = "acc"
	TypeAppHeartbeat    Type = "ahb"
	TypeClientHeartbeat Type = "chb"
	TypeCapability      Type = "cap"
	TypeApplication     Type = "app"
	TypeDisplaySettings Type = "dse"
	TypeLifecycle       Type = "lcy"
)

// Message is implemented by every wire variant. Kind lets the router branch
// without reflecting on fields.
type Message interface {
	Kind() Type
}

// envelope is decoded first to read type/version before committing to a
// concrete variant.
type envelope struct {
	Version int  `json:"version"`
	Type    Type `json:"type"`
}

// ConnectMessage is a client's request to connect to its app (client→app).
// Client is never set on the wire by the client itself; the router injects
// it before forwarding to the app, the way send_handler adds
// message["client"] in the original (routes/messaging.py).
type ConnectMessage struct {
	Version int    `json:"version"`
	Type    Type   `json:"type"`
	Client  string `json:"client,omitempty"`
}

func (ConnectMessage) Kind() Type { return TypeConnect }

// NewConnectMessage builds the frame a client sends to request access.
func NewConnectMessage() ConnectMessage {
	return ConnectMessage{Version: ProtocolVersion, Type: TypeConnect}
}

// AccessMessage is the app's admit/refuse decision for one client
// (app→client). Client names which client it targets; it is stripped
// before the frame reaches that client's own socket (spec §4.4).
type AccessMessage struct {
	Version  int    `json:"version"`
	Type     Type   `json:"type"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Client   string `json:"client,omitempty"`
}

func (AccessMessage) Kind() Type { return TypeAccess }

// AppHeartbeatMessage ("ahb") reports app liveness to one client.
type AppHeartbeatMessage struct {
	Version int  `json:"version"`
	Type    Type `json:"type"`
	Up      bool `json:"up"`
}

func (AppHeartbeatMessage) Kind() Type { return TypeAppHeartbeat }

// ClientHeartbeatMessage ("chb") reports the client roster to an app: a
// periodic sweep (Up=true, Clients=all currently connected ids) or a
// synthetic single-entry notice when the app addressed a client that isn't
// connected (Up=false).
type ClientHeartbeatMessage struct {
	Version int      `json:"version"`
	Type    Type     `json:"type"`
	Up      bool     `json:"up"`
	Clients []string `json:"clients"`
}

func (ClientHeartbeatMessage) Kind() Type { return TypeClientHeartbeat }

// CapabilityMessage ("cap") is an application-defined client→app request.
// Client is absent on the wire from the client and injected by the router
// before the frame reaches the app's queue, mirroring the original's
// _AppBoundMessageInfo wrapping (routes/messaging.py).
type CapabilityMessage struct {
	Version int             `json:"version"`
	Type    Type            `json:"type"`
	Body    json.RawMessage `json:"body"`
	Req     string          `json:"req,omitempty"`
	Client  string          `json:"client,omitempty"`
}

func (CapabilityMessage) Kind() Type { return TypeCapability }

// ApplicationMessage ("app") is an application-defined app→client reply.
// Client is stripped before the frame reaches the named client's socket.
type ApplicationMessage struct {
	Version int             `json:"version"`
	Type    Type            `json:"type"`
	Body    json.RawMessage `json:"body"`
	Req     string          `json:"req,omitempty"`
	Client  string          `json:"client,omitempty"`
}

func (ApplicationMessage) Kind() Type { return TypeApplication }

// DisplaySettings carries the subset of CurrentExperience an app may patch
// over the socket instead of the operator HTTP API (spec §4.4).
type DisplaySettings struct {
	EndTime *int64     `json:"end_time,omitempty"`
	Lock    *LockValue `json:"lock,omitempty"`
}

// DisplaySettingsMessage ("dse") forwards straight to the Controller; the
// router never stores it.
type DisplaySettingsMessage struct {
	Version  int             `json:"version"`
	Type     Type            `json:"type"`
	Settings DisplaySettings `json:"settings"`
}

func (DisplaySettingsMessage) Kind() Type { return TypeDisplaySettings }

// LifecycleMessage ("lcy") is an app pause/resume notification, forwarded
// to the Controller and otherwise not acted on by the router.
type LifecycleMessage struct {
	Version int  `json:"version"`
	Type    Type `json:"type"`
	Paused  bool `json:"paused"`
}

func (LifecycleMessage) Kind() Type { return TypeLifecycle }

// Decode parses one wire frame. An unknown type or a missing/mismatched
// version is a protocol error (spec §7): the caller logs it and drops the
// frame without closing the socket.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ProtocolError{Cause: err}
	}
	if env.Type == "" {
		return nil, &ProtocolError{Cause: ErrMissingType}
	}
	if env.Version != ProtocolVersion {
		return nil, &ProtocolError{Cause: ErrBadVersion}
	}

	switch env.Type {
	case TypeConnect:
		var m ConnectMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAccess:
		var m AccessMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAppHeartbeat:
		var m AppHeartbeatMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeClientHeartbeat:
		var m ClientHeartbeatMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeCapability:
		var m CapabilityMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeApplication:
		var m ApplicationMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeDisplaySettings:
		var m DisplaySettingsMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeLifecycle:
		var m LifecycleMessage
		if err := unmarshalVariant(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, &ProtocolError{Cause: ErrUnknownType}
	}
}

func unmarshalVariant(raw []byte, v Message) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &ProtocolError{Cause: err}
	}
	return nil
}

// Encode serializes a frame for the wire. Kept as a thin wrapper so call
// sites never reach for encoding/json directly.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// withClient returns a copy of a client-originated message carrying the
// sending client's id, for the app's queue. Only con/cap carry a client
// identity; other kinds pass through unchanged.
func withClient(msg Message, clientID string) Message {
	switch m := msg.(type) {
	case ConnectMessage:
		m.Client = clientID
		return m
	case CapabilityMessage:
		m.Client = clientID
		return m
	default:
		return msg
	}
}

// forClientSocket strips the client field before a frame is written to that
// client's own socket: the client already knows who it is (spec §4.4, and
// the original's `del serialized_message["client"]`).
func forClientSocket(msg Message) Message {
	switch m := msg.(type) {
	case AccessMessage:
		m.Client = ""
		return m
	case ApplicationMessage:
		m.Client = ""
		return m
	default:
		return msg
	}
}

// Package protocol defines the JSON wire messages exchanged between clients
// and the relay. Every text frame carries exactly one message tagged with a
// snake_case "type" field; snapshot payloads travel base64-encoded in "data".
// The field names are a contract with non-Go clients and must not change.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Message type tags.
const (
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeSync       = "sync"
	TypeAwareness  = "awareness"
	TypeJoined     = "joined"
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
	TypeError      = "error"
)

// CursorPosition is a canvas-space pointer location.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UserInfo identifies a participant for presence display.
type UserInfo struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ClientMessage is implemented by every client-to-server message.
type ClientMessage interface{ clientMessage() }

// ServerMessage is implemented by every server-to-client message.
type ServerMessage interface{ serverMessage() }

// Join asks the relay to add the connection to a room.
type Join struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// Leave asks the relay to remove the connection from its room.
type Leave struct {
	Type string `json:"type"`
}

// SyncRequest carries a base64 snapshot to fan out to the room.
type SyncRequest struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// AwarenessRequest carries ephemeral presence state. PeerID is the sender's
// document actor id, distinct from the relay connection id.
type AwarenessRequest struct {
	Type   string          `json:"type"`
	PeerID uint64          `json:"peer_id"`
	Cursor *CursorPosition `json:"cursor,omitempty"`
	User   *UserInfo       `json:"user,omitempty"`
}

func (Join) clientMessage()             {}
func (Leave) clientMessage()            {}
func (SyncRequest) clientMessage()      {}
func (AwarenessRequest) clientMessage() {}

// Joined confirms a join. PeerCount is the room's membership including the
// joiner; InitialSync carries the room's cached snapshot when one exists.
type Joined struct {
	Type        string `json:"type"`
	Room        string `json:"room"`
	PeerCount   int    `json:"peer_count"`
	InitialSync string `json:"initial_sync,omitempty"`
}

// PeerJoined announces a new room member by connection id.
type PeerJoined struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// PeerLeft announces a departed room member.
type PeerLeft struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// SyncBroadcast relays a peer's snapshot. From is the sender's connection
// id.
type SyncBroadcast struct {
	Type string `json:"type"`
	From string `json:"from"`
	Data string `json:"data"`
}

// AwarenessBroadcast relays a peer's presence state.
type AwarenessBroadcast struct {
	Type   string          `json:"type"`
	From   string          `json:"from"`
	PeerID uint64          `json:"peer_id"`
	Cursor *CursorPosition `json:"cursor,omitempty"`
	User   *UserInfo       `json:"user,omitempty"`
}

// ErrorReply reports a protocol-level problem without closing the
// connection.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (Joined) serverMessage()             {}
func (PeerJoined) serverMessage()         {}
func (PeerLeft) serverMessage()           {}
func (SyncBroadcast) serverMessage()      {}
func (AwarenessBroadcast) serverMessage() {}
func (ErrorReply) serverMessage()         {}

// EncodeClient serializes a client message, stamping its type tag.
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch v := m.(type) {
	case Join:
		v.Type = TypeJoin
		return json.Marshal(v)
	case Leave:
		v.Type = TypeLeave
		return json.Marshal(v)
	case SyncRequest:
		v.Type = TypeSync
		return json.Marshal(v)
	case AwarenessRequest:
		v.Type = TypeAwareness
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("encode client message: unsupported type %T", m)
}

// EncodeServer serializes a server message, stamping its type tag.
func EncodeServer(m ServerMessage) ([]byte, error) {
	switch v := m.(type) {
	case Joined:
		v.Type = TypeJoined
		return json.Marshal(v)
	case PeerJoined:
		v.Type = TypePeerJoined
		return json.Marshal(v)
	case PeerLeft:
		v.Type = TypePeerLeft
		return json.Marshal(v)
	case SyncBroadcast:
		v.Type = TypeSync
		return json.Marshal(v)
	case AwarenessBroadcast:
		v.Type = TypeAwareness
		return json.Marshal(v)
	case ErrorReply:
		v.Type = TypeError
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("encode server message: unsupported type %T", m)
}

// DecodeClient parses a client-to-server text frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	tag, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeJoin:
		var m Join
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeLeave:
		var m Leave
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSync:
		var m SyncRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAwareness:
		var m AwarenessRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("decode client message: unknown type %q", tag)
}

// DecodeServer parses a server-to-client text frame.
func DecodeServer(data []byte) (ServerMessage, error) {
	tag, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeJoined:
		var m Joined
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypePeerJoined:
		var m PeerJoined
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypePeerLeft:
		var m PeerLeft
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSync:
		var m SyncBroadcast
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAwareness:
		var m AwarenessBroadcast
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeError:
		var m ErrorReply
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("decode server message: unknown type %q", tag)
}

func peekType(data []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("decode message envelope: %w", err)
	}
	if probe.Type == "" {
		return "", fmt.Errorf("decode message envelope: missing type tag")
	}
	return probe.Type, nil
}

// EncodeSyncData base64-encodes a raw snapshot for the "data" field.
func EncodeSyncData(snapshot []byte) string {
	return base64.StdEncoding.EncodeToString(snapshot)
}

// DecodeSyncData reverses EncodeSyncData.
func DecodeSyncData(data string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode sync payload: %w", err)
	}
	return out, nil
}

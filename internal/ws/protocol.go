package ws

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Frame types of the realtime channel. The envelope mirrors the graphql-ws
// handshake the service's clients speak: init/ack, then per-operation start,
// data stream, error and complete.
const (
	MsgConnectionInit = "connection_init"
	MsgConnectionAck  = "connection_ack"
	MsgStart          = "start"
	MsgStop           = "stop"
	MsgData           = "data"
	MsgError          = "error"
	MsgComplete       = "complete"
)

// BaseProtocol is the sub-protocol negotiated for the realtime channel.
const BaseProtocol = "graphql-ws"

// headerProtocolPrefix marks the sub-protocol entry smuggling the auth
// header: "header-" + base64url(JSON auth object), no padding.
const headerProtocolPrefix = "header-"

var ErrNoAuthProtocol = errors.New("no auth sub-protocol present")

// Envelope is the wire frame exchanged on the realtime channel.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthHeader is the JSON auth object carried in the sub-protocol list at
// connect time. Either a bearer identity token or a fallback API key.
type AuthHeader struct {
	Authorization string `json:"Authorization,omitempty"`
	APIKey        string `json:"x-api-key,omitempty"`
	Host          string `json:"host,omitempty"`
}

// EncodeAuthProtocol renders the auth object as a sub-protocol token.
func EncodeAuthProtocol(auth AuthHeader) string {
	raw, _ := json.Marshal(auth)
	return headerProtocolPrefix + base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeAuthProtocol extracts the auth object from a client's offered
// sub-protocol list.
func DecodeAuthProtocol(protocols []string) (AuthHeader, error) {
	for _, proto := range protocols {
		if !strings.HasPrefix(proto, headerProtocolPrefix) {
			continue
		}
		token := strings.TrimRight(strings.TrimPrefix(proto, headerProtocolPrefix), "=")
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return AuthHeader{}, err
		}
		var auth AuthHeader
		if err := json.Unmarshal(raw, &auth); err != nil {
			return AuthHeader{}, err
		}
		return auth, nil
	}
	return AuthHeader{}, ErrNoAuthProtocol
}

// StartPayload is the operation payload of a start frame.
type StartPayload struct {
	Query     string         `json:"query,omitempty"`
	Variables StartVariables `json:"variables"`
}

// StartVariables carries the subscription filter.
type StartVariables struct {
	RoomID string `json:"roomId"`
}

// ParseStartPayload accepts both the direct payload form and the wrapped
// form where the operation is a JSON-encoded string under "data".
func ParseStartPayload(raw json.RawMessage) (StartPayload, error) {
	var wrapped struct {
		Data string `json:"data"`
		StartPayload
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return StartPayload{}, err
	}
	if wrapped.Data == "" {
		return wrapped.StartPayload, nil
	}
	var payload StartPayload
	if err := json.Unmarshal([]byte(wrapped.Data), &payload); err != nil {
		return StartPayload{}, err
	}
	return payload, nil
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Errors []ErrorEntry `json:"errors"`
}

type ErrorEntry struct {
	Message string `json:"message"`
}

// NewErrorEnvelope builds an error frame for an operation.
func NewErrorEnvelope(opID, message string) Envelope {
	payload, _ := json.Marshal(ErrorPayload{Errors: []ErrorEntry{{Message: message}}})
	return Envelope{Type: MsgError, ID: opID, Payload: payload}
}

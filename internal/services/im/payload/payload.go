// Package payload defines the closed set of payload kinds routed between nodes.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a routed payload variant. Each kind owns one route path
// and one client event name.
type Kind string

const (
	KindMessage        Kind = "message"
	KindRevokedMessage Kind = "revoked-message"
	KindSessionStatus  Kind = "session-status"
	KindKick           Kind = "kick"
)

const routeRoot = "/im/route/"

var kinds = []Kind{KindMessage, KindRevokedMessage, KindSessionStatus, KindKick}

// Kinds returns every routed kind in route registration order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// RoutePath is the path, relative to the internal prefix, that receives this kind.
func (k Kind) RoutePath() string {
	return routeRoot + string(k)
}

// EventName is the frame type pushed to clients for this kind.
func (k Kind) EventName() string {
	switch k {
	case KindMessage:
		return "im.message"
	case KindRevokedMessage:
		return "im.message.revoked"
	case KindSessionStatus:
		return "im.session.status"
	case KindKick:
		return "im.kick"
	default:
		return ""
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind resolves a kind from its name.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.TrimSpace(value))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown payload kind %q", value)
	}
	return kind, nil
}

// Payload is implemented only by the variants in this package.
type Payload interface {
	Kind() Kind
	isPayload()
}

// ChatMessage is a message sent by a user (or the system) into a session.
type ChatMessage struct {
	MessageID       string            `json:"messageId"`
	ClientMessageID string            `json:"clientMessageId,omitempty"`
	SessionID       string            `json:"sessionId"`
	SenderUserID    string            `json:"senderUserId"`
	Body            string            `json:"body"`
	SentAt          time.Time         `json:"sentAt"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// RevokeCommand withdraws a previously delivered message.
type RevokeCommand struct {
	MessageID      string    `json:"messageId"`
	SessionID      string    `json:"sessionId"`
	OperatorUserID string    `json:"operatorUserId"`
	RevokedAt      time.Time `json:"revokedAt"`
}

// SessionStatusChanged announces a session lifecycle transition.
type SessionStatusChanged struct {
	SessionID string    `json:"sessionId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changedAt"`
}

// Kick asks the owning node to close one of its connections.
type Kick struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

func (ChatMessage) Kind() Kind { return KindMessage }
func (RevokeCommand) Kind() Kind { return KindRevokedMessage }
func (SessionStatusChanged) Kind() Kind { return KindSessionStatus }
func (Kick) Kind() Kind { return KindKick }

func (ChatMessage) isPayload() {}
func (RevokeCommand) isPayload() {}
func (SessionStatusChanged) isPayload() {}
func (Kick) isPayload() {}

// Encode marshals a payload body.
func Encode(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// Decode unmarshals a payload body of the given kind.
func Decode(kind Kind, data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode %s payload: empty body", kind)
	}
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindMessage:
		var v ChatMessage
		err = json.Unmarshal(data, &v)
		p = v
	case KindRevokedMessage:
		var v RevokeCommand
		err = json.Unmarshal(data, &v)
		p = v
	case KindSessionStatus:
		var v SessionStatusChanged
		err = json.Unmarshal(data, &v)
		p = v
	case KindKick:
		var v Kick
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// Package route carries payloads between nodes over the internal HTTP surface.
package route

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louisbranch/imrelay/internal/services/im/payload"
)

// MetadataConnectionID narrows delivery to a single connection on the target node.
const MetadataConnectionID = "connectionId"

// Envelope is the JSON body of every route call.
type Envelope struct {
	SessionID               string            `json:"sessionId"`
	Payload                 json.RawMessage   `json:"payload"`
	ReceiveUserID           string            `json:"receiveUserId"`
	ReceiveClientDeviceType string            `json:"receiveClientDeviceType"`
	Metadata                map[string]string `json:"metadata,omitempty"`

	kind payload.Kind
}

// Target addresses one user's device inside a session.
type Target struct {
	SessionID    string
	UserID       string
	DeviceType   string
	ConnectionID string
	Metadata     map[string]string
}

// NewEnvelope encodes p for delivery to target.
func NewEnvelope(target Target, p payload.Payload) (Envelope, error) {
	body, err := payload.Encode(p)
	if err != nil {
		return Envelope{}, err
	}
	metadata := make(map[string]string, len(target.Metadata)+1)
	for key, value := range target.Metadata {
		metadata[key] = value
	}
	if target.ConnectionID != "" {
		metadata[MetadataConnectionID] = target.ConnectionID
	}
	return Envelope{
		SessionID:               target.SessionID,
		Payload:                 body,
		ReceiveUserID:           target.UserID,
		ReceiveClientDeviceType: target.DeviceType,
		Metadata:                metadata,
		kind:                    p.Kind(),
	}, nil
}

// Kind returns the payload kind the envelope was built for.
func (e Envelope) Kind() payload.Kind {
	return e.kind
}

// ConnectionID returns the single connection the envelope targets, if any.
func (e Envelope) ConnectionID() string {
	return strings.TrimSpace(e.Metadata[MetadataConnectionID])
}

// Validate checks the addressing fields of an inbound envelope.
func (e Envelope) Validate() error {
	switch {
	case strings.TrimSpace(e.SessionID) == "":
		return fmt.Errorf("sessionId is required")
	case strings.TrimSpace(e.ReceiveUserID) == "":
		return fmt.Errorf("receiveUserId is required")
	case len(e.Payload) == 0:
		return fmt.Errorf("payload is required")
	}
	return nil
}

// DecodePayload decodes the envelope body as kind.
func (e Envelope) DecodePayload(kind payload.Kind) (payload.Payload, error) {
	return payload.Decode(kind, e.Payload)
}

package ws

import (
	"encoding/json"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
)

// Frame is the single JSON envelope exchanged on the socket in both
// directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the body of an EventError frame.
type ErrorPayload struct {
	Code      apperrors.Code `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
}

// EventError is the frame type for rejected client frames.
const EventError = "im.error"

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

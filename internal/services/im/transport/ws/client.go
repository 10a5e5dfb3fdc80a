package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/requestctx"
	"golang.org/x/net/websocket"
)

// ErrClientClosed is returned by writes after Close.
var ErrClientClosed = errors.New("websocket client closed")

// Client is one accepted socket. Writes are serialized; reads belong to the
// server loop.
type Client struct {
	id        string
	sessionID string
	identity  requestctx.Identity
	conn      *websocket.Conn

	mu      sync.Mutex
	encoder *json.Encoder
	closed  atomic.Bool
	once    sync.Once
}

func newClient(id, sessionID string, identity requestctx.Identity, conn *websocket.Conn) *Client {
	return &Client{
		id:        id,
		sessionID: sessionID,
		identity:  identity,
		conn:      conn,
		encoder:   json.NewEncoder(conn),
	}
}

func (c *Client) ID() string                    { return c.id }
func (c *Client) SessionID() string             { return c.sessionID }
func (c *Client) Identity() requestctx.Identity { return c.identity }

// SendEvent writes one frame. The context deadline bounds the write.
func (c *Client) SendEvent(ctx context.Context, event string, data []byte) error {
	return c.writeFrame(ctx, Frame{Type: event, Payload: json.RawMessage(data)})
}

// SendReply writes an event frame answering requestID.
func (c *Client) SendReply(ctx context.Context, requestID, event string, data []byte) error {
	return c.writeFrame(ctx, Frame{Type: event, RequestID: requestID, Payload: json.RawMessage(data)})
}

// SendError writes an EventError frame answering requestID.
func (c *Client) SendError(ctx context.Context, requestID string, code apperrors.Code, message string) error {
	body, err := json.Marshal(ErrorPayload{Code: code, Message: message, Retryable: code.Retryable()})
	if err != nil {
		return err
	}
	return c.writeFrame(ctx, Frame{Type: EventError, RequestID: requestID, Payload: body})
}

func (c *Client) writeFrame(ctx context.Context, frame Frame) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.encoder.Encode(frame); err != nil {
		return err
	}
	return nil
}

// IsChannelOpen reports whether Close has not been called and the read loop
// is still running.
func (c *Client) IsChannelOpen() bool {
	return !c.closed.Load()
}

// Close closes the socket. Later calls are no-ops.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

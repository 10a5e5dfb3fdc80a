// Package imfakes provides in-memory collaborators for IM relay tests.
package imfakes

import (
	"context"
	"sync"

	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/route"
)

// Event is one frame written to a Channel.
type Event struct {
	Name string
	Data []byte
}

// Channel is a transport channel fake that records sent events.
type Channel struct {
	mu      sync.Mutex
	closed  bool
	events  []Event
	SendErr error
}

// NewChannel returns an open channel.
func NewChannel() *Channel {
	return &Channel{}
}

func (c *Channel) SendEvent(_ context.Context, event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.events = append(c.events, Event{Name: event, Data: append([]byte(nil), data...)})
	return nil
}

func (c *Channel) IsChannelOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Events returns a copy of the recorded events.
func (c *Channel) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// ForwardCall is one recorded route call.
type ForwardCall struct {
	NodeAddress string
	Envelope    route.Envelope
}

// Forwarder records route calls and optionally hands them to Handler.
type Forwarder struct {
	mu      sync.Mutex
	calls   []ForwardCall
	Err     error
	Handler func(ctx context.Context, nodeAddress string, env route.Envelope) error
}

func (f *Forwarder) Forward(ctx context.Context, nodeAddress string, env route.Envelope) error {
	f.mu.Lock()
	f.calls = append(f.calls, ForwardCall{NodeAddress: nodeAddress, Envelope: env})
	handler, err := f.Handler, f.Err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if handler != nil {
		return handler(ctx, nodeAddress, env)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (f *Forwarder) Calls() []ForwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ForwardCall(nil), f.calls...)
}

// LocalConn builds a Local connection on node backed by a fresh Channel.
func LocalConn(id, userID, sessionID string, device connection.DeviceType, node string) (*connection.Local, *Channel) {
	channel := NewChannel()
	return connection.NewLocal(connection.Descriptor{
		ID:         id,
		UserID:     userID,
		SessionID:  sessionID,
		DeviceType: device,
		Metadata:   map[string]string{connection.MetaNodeAddress: node},
	}, channel), channel
}

package connection

import (
	"context"
	"fmt"
	"maps"

	"github.com/louisbranch/imrelay/internal/platform/timeouts"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
)

// Channel is the per-client send primitive exposed by the transport.
type Channel interface {
	SendEvent(ctx context.Context, event string, data []byte) error
	IsChannelOpen() bool
	Close() error
}

// Local is a connection whose socket is terminated by this node.
type Local struct {
	desc    Descriptor
	channel Channel
}

// NewLocal binds desc to the transport channel that owns the socket.
func NewLocal(desc Descriptor, channel Channel) *Local {
	return &Local{desc: desc.Clone(), channel: channel}
}

func (l *Local) ID() string { return l.desc.ID }
func (l *Local) UserID() string { return l.desc.UserID }
func (l *Local) SessionID() string { return l.desc.SessionID }
func (l *Local) DeviceType() DeviceType { return l.desc.DeviceType }
func (l *Local) Metadata() map[string]string { return maps.Clone(l.desc.Metadata) }
func (l *Local) Descriptor() Descriptor { return l.desc.Clone() }
func (l *Local) IsLocal() bool { return true }

// Send writes the payload's event frame to the socket.
func (l *Local) Send(ctx context.Context, p payload.Payload) *Completion {
	if p == nil {
		return Completed(fmt.Errorf("payload is required"))
	}
	if !l.IsAlive() {
		return Completed(fmt.Errorf("connection %s: %w", l.desc.ID, ErrClosed))
	}
	data, err := payload.Encode(p)
	if err != nil {
		return Completed(err)
	}
	event := p.Kind().EventName()
	return Async(func() error {
		sendCtx, cancel := context.WithTimeout(ctx, timeouts.LocalDelivery)
		defer cancel()
		if err := l.channel.SendEvent(sendCtx, event, data); err != nil {
			return fmt.Errorf("connection %s: send %s: %w", l.desc.ID, event, err)
		}
		return nil
	})
}

// Close closes the underlying channel.
func (l *Local) Close() error {
	if l.channel == nil {
		return nil
	}
	return l.channel.Close()
}

// IsAlive reflects the channel state.
func (l *Local) IsAlive() bool {
	return l.channel != nil && l.channel.IsChannelOpen()
}

package connection

import (
	"context"
	"errors"
	"maps"

	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"github.com/louisbranch/imrelay/internal/services/im/route"
)

// ErrClosed reports a send on a closed channel.
var ErrClosed = errors.New("channel closed")

// Forwarder posts a route envelope to another node.
type Forwarder interface {
	Forward(ctx context.Context, nodeAddress string, env route.Envelope) error
}

// Remote is a stateless proxy for a connection held by another node.
type Remote struct {
	desc      Descriptor
	forwarder Forwarder
}

// NewRemote builds a proxy from a stored descriptor.
func NewRemote(desc Descriptor, forwarder Forwarder) *Remote {
	return &Remote{desc: desc.Clone(), forwarder: forwarder}
}

func (r *Remote) ID() string { return r.desc.ID }
func (r *Remote) UserID() string { return r.desc.UserID }
func (r *Remote) SessionID() string { return r.desc.SessionID }
func (r *Remote) DeviceType() DeviceType { return r.desc.DeviceType }
func (r *Remote) Metadata() map[string]string { return maps.Clone(r.desc.Metadata) }
func (r *Remote) Descriptor() Descriptor { return r.desc.Clone() }
func (r *Remote) IsLocal() bool { return false }

// NodeAddress is where Send posts.
func (r *Remote) NodeAddress() string { return r.desc.NodeAddress() }

// Send forwards p to the owning node's route for p's kind.
func (r *Remote) Send(ctx context.Context, p payload.Payload) *Completion {
	if p == nil {
		return Completed(errors.New("payload is required"))
	}
	if r.forwarder == nil {
		return Completed(errors.New("route forwarder is not configured"))
	}
	env, err := route.NewEnvelope(route.Target{
		SessionID:    r.desc.SessionID,
		UserID:       r.desc.UserID,
		DeviceType:   string(r.desc.DeviceType),
		ConnectionID: r.desc.ID,
		Metadata:     r.desc.Metadata,
	}, p)
	if err != nil {
		return Completed(err)
	}
	return Async(func() error {
		return r.forwarder.Forward(ctx, r.desc.NodeAddress(), env)
	})
}

// Close is a no-op; the owning node manages the socket.
func (r *Remote) Close() error { return nil }

// IsAlive is optimistic; no cross-node check happens on the hot path.
func (r *Remote) IsAlive() bool { return true }

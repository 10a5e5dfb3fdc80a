package connection

import (
	"context"

	"github.com/louisbranch/imrelay/internal/services/im/payload"
)

// Connection is one client link as seen by the session layer.
type Connection interface {
	ID() string
	UserID() string
	SessionID() string
	DeviceType() DeviceType
	Metadata() map[string]string
	// Descriptor projects the connection for the shared store.
	Descriptor() Descriptor
	// Send delivers p asynchronously.
	Send(ctx context.Context, p payload.Payload) *Completion
	Close() error
	IsAlive() bool
	// IsLocal reports whether the socket lives on this node.
	IsLocal() bool
}

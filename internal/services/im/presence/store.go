// Package presence holds the cross-node user id to descriptor list mapping.
package presence

import (
	"context"

	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

// Mutator transforms a user's descriptor list. It must be free of side
// effects because stores may call it again after a write conflict.
type Mutator func(current []connection.Descriptor) ([]connection.Descriptor, error)

// Store is the shared presence store. Update is atomic per user id.
type Store interface {
	Load(ctx context.Context, userID string) ([]connection.Descriptor, error)
	Update(ctx context.Context, userID string, mutate Mutator) ([]connection.Descriptor, error)
	// Users lists every user id holding at least one descriptor.
	Users(ctx context.Context) ([]string, error)
	// Renew extends the lease of each user's entry. Users without an entry
	// are skipped.
	Renew(ctx context.Context, userIDs []string) error
}

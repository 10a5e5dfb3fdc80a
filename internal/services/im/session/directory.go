package session

import (
	"context"
	"time"
)

// Record is the persisted state of a session.
type Record struct {
	ID        string
	Name      string
	Type      Type
	Policy    Policy
	Status    Status
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession describes a session to provision. An empty ID asks the
// directory to generate one.
type NewSession struct {
	ID       string
	Name     string
	Type     Type
	Policy   Policy
	Metadata map[string]string
	Members  []string
}

// Directory persists session records and membership. Implementations
// serialize conflicting writes themselves and return a NOT_FOUND domain
// error for unknown ids.
type Directory interface {
	CreateIfAbsent(ctx context.Context, input NewSession) (string, error)
	GetSession(ctx context.Context, id string) (Record, error)
	UpdateSessionStatus(ctx context.Context, id string, status Status) error
	UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]string) error
	Exists(ctx context.Context, id string) (bool, error)
	SessionExistUser(ctx context.Context, id, userID string) (bool, error)
	GetSessionMembers(ctx context.Context, id string) ([]string, error)
	AddSessionMember(ctx context.Context, id, userID string) error
}

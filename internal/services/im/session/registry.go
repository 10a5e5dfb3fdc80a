package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/presence"
	"go.uber.org/zap"
)

// StatusListener observes status transitions. Most are reported after the
// directory commits them; DELETED is reported before members are
// disconnected, so a destroy that then fails may have announced it early.
type StatusListener func(ctx context.Context, s *Session, from Status)

// Config wires a Registry.
type Config struct {
	Directory   Directory
	Store       presence.Store
	Forwarder   connection.Forwarder
	NodeAddress string // internal address other nodes use to reach this one
	Logger      *zap.Logger

	// Cache is this node's live connection cache. Nil creates one.
	Cache *Cache
}

// Registry looks up, provisions and transitions sessions.
type Registry struct {
	shared *shared

	mu        sync.RWMutex
	listeners []StatusListener
}

// NewRegistry validates cfg and returns a Registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("session directory is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("presence store is required")
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache()
	}
	return &Registry{shared: &shared{
		directory: cfg.Directory,
		store:     cfg.Store,
		cache:     cache,
		forwarder: cfg.Forwarder,
		node:      strings.TrimSpace(cfg.NodeAddress),
		logger:    logging.OrNop(cfg.Logger).Named("session"),
	}}, nil
}

// Cache exposes the node-local connection cache.
func (r *Registry) Cache() *Cache { return r.shared.cache }

// NodeAddress is this node's advertised internal address.
func (r *Registry) NodeAddress() string { return r.shared.node }

// OnStatusChange registers a listener for committed transitions.
func (r *Registry) OnStatusChange(listener StatusListener) {
	if listener == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// GetSession builds a view of session id.
func (r *Registry) GetSession(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "session id is required")
	}
	record, err := r.shared.directory.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Session{record: record, shared: r.shared}, nil
}

// Exists reports whether the directory knows id.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	return r.shared.directory.Exists(ctx, strings.TrimSpace(id))
}

// CreateSession provisions a session unless one with the same id exists,
// then returns its view.
func (r *Registry) CreateSession(ctx context.Context, input NewSession) (*Session, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "session name is required")
	}
	id, err := r.shared.directory.CreateIfAbsent(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return r.GetSession(ctx, id)
}

// AddMember provisions userID as a member of session id.
func (r *Registry) AddMember(ctx context.Context, id, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}
	return r.shared.directory.AddSessionMember(ctx, strings.TrimSpace(id), strings.TrimSpace(userID))
}

// UpdateMetadata replaces the metadata of session id.
func (r *Registry) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error {
	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}
	return r.shared.directory.UpdateSessionMetadata(ctx, strings.TrimSpace(id), metadata)
}

// ActivateSession moves id to ACTIVE.
func (r *Registry) ActivateSession(ctx context.Context, id string) error {
	_, err := r.transition(ctx, id, StatusActive)
	return err
}

// SuspendSession moves id to SUSPENDED.
func (r *Registry) SuspendSession(ctx context.Context, id string) error {
	_, err := r.transition(ctx, id, StatusSuspended)
	return err
}

// DestroySession removes every member's connections, then marks id DELETED.
func (r *Registry) DestroySession(ctx context.Context, id string) error {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	from := s.record.Status
	if !CanTransition(from, StatusDeleted) {
		return invalidTransition(from, StatusDeleted)
	}
	members, err := r.shared.directory.GetSessionMembers(ctx, s.ID())
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	// Listeners hear about the deletion while members are still connected.
	s.record.Status = StatusDeleted
	r.notify(ctx, s, from)
	for _, userID := range members {
		if err := s.RemoveUser(ctx, userID); err != nil {
			return err
		}
	}
	if err := r.shared.directory.UpdateSessionStatus(ctx, s.ID(), StatusDeleted); err != nil {
		return fmt.Errorf("mark session deleted: %w", err)
	}
	return nil
}

func (r *Registry) transition(ctx context.Context, id string, to Status) (*Session, error) {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	from := s.record.Status
	if from == to {
		return s, nil
	}
	if !CanTransition(from, to) {
		return nil, invalidTransition(from, to)
	}
	if err := r.shared.directory.UpdateSessionStatus(ctx, s.ID(), to); err != nil {
		return nil, fmt.Errorf("update session status: %w", err)
	}
	s.record.Status = to
	r.notify(ctx, s, from)
	return s, nil
}

func (r *Registry) notify(ctx context.Context, s *Session, from Status) {
	r.mu.RLock()
	listeners := append([]StatusListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, listener := range listeners {
		listener(ctx, s, from)
	}
}

func invalidTransition(from, to Status) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidStatusTransition,
		fmt.Sprintf("cannot move session from %s to %s", from, to),
		map[string]string{"from": string(from), "to": string(to)})
}

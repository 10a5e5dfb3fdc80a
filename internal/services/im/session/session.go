package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
	"github.com/louisbranch/imrelay/internal/services/im/presence"
	"go.uber.org/zap"
)

// shared holds the node-wide collaborators every Session view uses.
type shared struct {
	directory Directory
	store     presence.Store
	cache     *Cache
	forwarder connection.Forwarder
	node      string
	logger    *zap.Logger
}

// Session is a per-request view of one conversation. It is rebuilt from the
// directory on every lookup and holds no state of its own beyond the record.
type Session struct {
	record Record
	*shared
}

func (s *Session) ID() string { return s.record.ID }
func (s *Session) Status() Status { return s.record.Status }
func (s *Session) Policy() Policy { return s.record.Policy }
func (s *Session) Type() Type { return s.record.Type }

// Record returns a copy of the persisted state the view was built from.
func (s *Session) Record() Record {
	record := s.record
	record.Metadata = maps.Clone(record.Metadata)
	return record
}

// JoinUser admits conn for userID under the session's connection policy.
// Rejected connections are closed. A policy rejection returns false with no
// error; membership and status failures return a domain error.
func (s *Session) JoinUser(ctx context.Context, userID string, conn connection.Connection) (bool, error) {
	userID = strings.TrimSpace(userID)
	if conn == nil {
		return false, apperrors.New(apperrors.CodeInvalidArgument, "connection is required")
	}
	if userID == "" || conn.UserID() != userID || conn.SessionID() != s.ID() {
		_ = conn.Close()
		return false, apperrors.New(apperrors.CodeInvalidArgument, "connection does not belong to this user and session")
	}
	logger := s.logger.With(
		zap.String("session_id", s.ID()),
		zap.String("user_id", userID),
		zap.String("connection_id", conn.ID()),
		zap.String("device_type", string(conn.DeviceType())),
	)

	if !s.record.Status.AcceptsConnections() {
		_ = conn.Close()
		return false, apperrors.WithMetadata(apperrors.CodeSessionInactive, "session does not accept connections",
			map[string]string{"status": string(s.record.Status)})
	}
	member, err := s.directory.SessionExistUser(ctx, s.ID(), userID)
	if err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		_ = conn.Close()
		logger.Info("join rejected: not a member")
		return false, apperrors.New(apperrors.CodeNotSessionMember, "user is not a member of the session")
	}

	incoming := conn.Descriptor()
	s.cache.Put(conn)

	var admission Admission
	_, err = s.store.Update(ctx, userID, func(current []connection.Descriptor) ([]connection.Descriptor, error) {
		admission = Admit(s.record.Policy, current, incoming)
		return admission.Next, nil
	})
	if err != nil {
		s.cache.Take(conn.ID(), s.ID())
		_ = conn.Close()
		return false, fmt.Errorf("admit connection: %w", err)
	}
	if !admission.Admitted {
		s.cache.Take(conn.ID(), s.ID())
		_ = conn.Close()
		logger.Info("join rejected by policy", zap.String("policy", string(s.record.Policy)))
		return false, nil
	}

	s.evict(ctx, admission.Evicted, "replaced by a newer connection")
	logger.Debug("connection joined", zap.Int("evicted", len(admission.Evicted)))
	return true, nil
}

// RemoveUser closes every connection userID holds in this session, on any
// node, and drops their descriptors.
func (s *Session) RemoveUser(ctx context.Context, userID string) error {
	var removed []connection.Descriptor
	_, err := s.store.Update(ctx, userID, func(current []connection.Descriptor) ([]connection.Descriptor, error) {
		removed = nil
		kept := make([]connection.Descriptor, 0, len(current))
		for _, d := range current {
			if d.SessionID == s.ID() {
				removed = append(removed, d)
				continue
			}
			kept = append(kept, d)
		}
		return kept, nil
	})
	if err != nil {
		return fmt.Errorf("remove user %s: %w", userID, err)
	}
	s.evict(ctx, removed, "removed from session")
	return nil
}

// LeaveConnection closes a local connection and drops its descriptor.
// Unknown ids are ignored, so repeated calls are safe.
func (s *Session) LeaveConnection(ctx context.Context, connectionID string) error {
	conn, ok := s.cache.Take(connectionID, s.ID())
	if !ok {
		return nil
	}
	_ = conn.Close()
	_, err := s.store.Update(ctx, conn.UserID(), func(current []connection.Descriptor) ([]connection.Descriptor, error) {
		return slices.DeleteFunc(current, func(d connection.Descriptor) bool {
			return d.ID == connectionID
		}), nil
	})
	if err != nil {
		return fmt.Errorf("leave connection %s: %w", connectionID, err)
	}
	return nil
}

// EvictLocal closes a cached connection without touching the shared store.
// The node that evicted its descriptor already removed it.
func (s *Session) EvictLocal(connectionID string) bool {
	conn, ok := s.cache.Take(connectionID, s.ID())
	if !ok {
		return false
	}
	_ = conn.Close()
	return true
}

// evict closes evicted connections after their descriptors are gone. Local
// ones are closed directly. Ones held by other nodes get a best-effort kick
// through their owner's route endpoint, so no socket outlives its descriptor.
func (s *Session) evict(ctx context.Context, evicted []connection.Descriptor, reason string) {
	for _, d := range evicted {
		if conn, ok := s.cache.Take(d.ID, d.SessionID); ok {
			_ = conn.Close()
			continue
		}
		node := d.NodeAddress()
		if node == "" || node == s.node {
			continue
		}
		done := connection.NewRemote(d, s.forwarder).Send(context.WithoutCancel(ctx), payload.Kick{ConnectionID: d.ID, Reason: reason})
		go func(d connection.Descriptor) {
			<-done.Done()
			if err := done.Err(); err != nil {
				s.logger.Warn("remote kick failed",
					zap.String("session_id", d.SessionID),
					zap.String("connection_id", d.ID),
					zap.String("node", d.NodeAddress()),
					zap.Error(err))
			}
		}(d)
	}
}

// UserConnections resolves one connection per descriptor userID holds in
// this session: the cached Local when this node owns it, a Remote otherwise.
func (s *Session) UserConnections(ctx context.Context, userID string) ([]connection.Connection, error) {
	descriptors, err := s.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	conns := make([]connection.Connection, 0, len(descriptors))
	for _, d := range descriptors {
		if d.SessionID != s.ID() {
			continue
		}
		if conn, ok := s.cache.Get(d.ID); ok {
			conns = append(conns, conn)
			continue
		}
		conns = append(conns, connection.NewRemote(d, s.forwarder))
	}
	return conns, nil
}

// Connections resolves the connections of every member.
func (s *Session) Connections(ctx context.Context) ([]connection.Connection, error) {
	members, err := s.directory.GetSessionMembers(ctx, s.ID())
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	var conns []connection.Connection
	for _, userID := range members {
		userConns, err := s.UserConnections(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve connections for %s: %w", userID, err)
		}
		conns = append(conns, userConns...)
	}
	return conns, nil
}

// UserIDs returns the session's members, sorted.
func (s *Session) UserIDs(ctx context.Context) ([]string, error) {
	members, err := s.directory.GetSessionMembers(ctx, s.ID())
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	members = slices.Clone(members)
	slices.Sort(members)
	return members, nil
}

// IsUserOnline reports whether any resolved connection of userID is alive.
func (s *Session) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	conns, err := s.UserConnections(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, conn := range conns {
		if conn.IsAlive() {
			return true, nil
		}
	}
	return false, nil
}

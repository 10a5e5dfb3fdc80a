package imfakes

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/services/im/session"
)

// Directory is an in-memory session.Directory.
type Directory struct {
	mu      sync.Mutex
	records map[string]session.Record
	members map[string]map[string]struct{}
	Err     error
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		records: make(map[string]session.Record),
		members: make(map[string]map[string]struct{}),
	}
}

// Seed stores a session with the given status and members.
func (d *Directory) Seed(id string, policy session.Policy, status session.Status, members ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().UTC()
	d.records[id] = session.Record{
		ID:        id,
		Name:      id,
		Type:      session.TypeGroup,
		Policy:    policy,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	d.members[id] = set
}

func (d *Directory) CreateIfAbsent(_ context.Context, input session.NewSession) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return "", d.Err
	}
	id := input.ID
	if id == "" {
		id = "session-" + input.Name
	}
	if _, ok := d.records[id]; ok {
		return id, nil
	}
	now := time.Now().UTC()
	d.records[id] = session.Record{
		ID:        id,
		Name:      input.Name,
		Type:      input.Type,
		Policy:    input.Policy,
		Status:    session.StatusCreated,
		Metadata:  maps.Clone(input.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	set := make(map[string]struct{}, len(input.Members))
	for _, m := range input.Members {
		set[m] = struct{}{}
	}
	d.members[id] = set
	return id, nil
}

func (d *Directory) GetSession(_ context.Context, id string) (session.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return session.Record{}, d.Err
	}
	record, ok := d.records[id]
	if !ok {
		return session.Record{}, apperrors.New(apperrors.CodeNotFound, "session not found")
	}
	record.Metadata = maps.Clone(record.Metadata)
	return record, nil
}

func (d *Directory) UpdateSessionStatus(_ context.Context, id string, status session.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.records[id]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "session not found")
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	d.records[id] = record
	return nil
}

func (d *Directory) UpdateSessionMetadata(_ context.Context, id string, metadata map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.records[id]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "session not found")
	}
	record.Metadata = maps.Clone(metadata)
	d.records[id] = record
	return nil
}

func (d *Directory) Exists(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.records[id]
	return ok, nil
}

func (d *Directory) SessionExistUser(_ context.Context, id, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	_, ok := d.members[id][userID]
	return ok, nil
}

func (d *Directory) GetSessionMembers(_ context.Context, id string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	members := make([]string, 0, len(d.members[id]))
	for m := range d.members[id] {
		members = append(members, m)
	}
	slices.Sort(members)
	return members, nil
}

func (d *Directory) AddSessionMember(_ context.Context, id, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.records[id]; !ok {
		return apperrors.New(apperrors.CodeNotFound, "session not found")
	}
	if d.members[id] == nil {
		d.members[id] = make(map[string]struct{})
	}
	d.members[id][userID] = struct{}{}
	return nil
}

// Package sqlite provides the SQLite-backed session directory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/id"
	sqlitemigrate "github.com/louisbranch/imrelay/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/imrelay/internal/services/im/session"
	"github.com/louisbranch/imrelay/internal/services/im/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists session records and membership in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var errSessionNotFound = apperrors.New(apperrors.CodeNotFound, "session not found")

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session directory and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS, "")
	if err != nil {
		return nil, err
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateIfAbsent inserts the session and its members unless the id exists.
// It returns the id of the stored session.
func (s *Store) CreateIfAbsent(ctx context.Context, input session.NewSession) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sessionID := strings.TrimSpace(input.ID)
	if sessionID == "" {
		generated, err := id.NewID()
		if err != nil {
			return "", err
		}
		sessionID = generated
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "session name is required")
	}
	sessionType := input.Type
	if sessionType == "" {
		sessionType = session.TypeGroup
	}
	metadata, err := encodeMetadata(input.Metadata)
	if err != nil {
		return "", err
	}
	now := toMillis(s.now())

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (
		   id, name, session_type, connection_policy, status, metadata_json, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sessionID, name, string(sessionType), string(input.Policy), string(session.StatusCreated), metadata, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	if inserted == 0 {
		return sessionID, nil
	}
	for _, userID := range input.Members {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_members (session_id, user_id, added_at) VALUES (?, ?, ?)`,
			sessionID, userID, now,
		); err != nil {
			return "", fmt.Errorf("insert member %s: %w", userID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create session: %w", err)
	}
	return sessionID, nil
}

// GetSession loads one session record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Record, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, session_type, connection_policy, status, metadata_json, created_at, updated_at
		 FROM sessions WHERE id = ?`,
		sessionID,
	)
	var (
		record                      session.Record
		sessionType, policy, status string
		metadata                    string
		createdAt, updatedAt        int64
	)
	if err := row.Scan(&record.ID, &record.Name, &sessionType, &policy, &status, &metadata, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Record{}, errSessionNotFound
		}
		return session.Record{}, fmt.Errorf("get session: %w", err)
	}
	record.Type = session.Type(sessionType)
	record.Policy = session.Policy(policy)
	parsed, err := session.ParseStatus(status)
	if err != nil {
		return session.Record{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	record.Status = parsed
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
		return session.Record{}, fmt.Errorf("decode session metadata: %w", err)
	}
	return record, nil
}

// UpdateSessionStatus stores a new lifecycle status.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status session.Status) error {
	return s.updateOne(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(s.now()), sessionID,
	)
}

// UpdateSessionMetadata replaces the metadata map.
func (s *Store) UpdateSessionMetadata(ctx context.Context, sessionID string, metadata map[string]string) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.updateOne(ctx,
		`UPDATE sessions SET metadata_json = ?, updated_at = ? WHERE id = ?`,
		encoded, toMillis(s.now()), sessionID,
	)
}

func (s *Store) updateOne(ctx context.Context, query string, args ...any) error {
	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return errSessionNotFound
	}
	return nil
}

// Exists reports whether the session id is stored.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return true, nil
}

// SessionExistUser reports whether userID is a member of the session.
func (s *Store) SessionExistUser(ctx context.Context, sessionID, userID string) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM session_members WHERE session_id = ? AND user_id = ?`,
		sessionID, userID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return true, nil
}

// GetSessionMembers lists members ordered by user id.
func (s *Store) GetSessionMembers(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id FROM session_members WHERE session_id = ? ORDER BY user_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// AddSessionMember provisions a member. Adding an existing member is a no-op.
func (s *Store) AddSessionMember(ctx context.Context, sessionID, userID string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO session_members (session_id, user_id, added_at) VALUES (?, ?, ?)`,
		sessionID, userID, toMillis(s.now()),
	)
	switch {
	case err == nil, isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY):
		return nil
	case isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY):
		return errSessionNotFound
	default:
		return fmt.Errorf("add member: %w", err)
	}
}

func isConstraint(err error, code int) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == code
	}
	return false
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode session metadata: %w", err)
	}
	return string(encoded), nil
}

var _ session.Directory = (*Store)(nil)

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "im:presence:user:"
	defaultMaxTries   = 16
	defaultTTL        = 24 * time.Hour
	scanBatch         = 256
	retryInitialDelay = 5 * time.Millisecond
	retryMaxDelay     = 200 * time.Millisecond
)

// RedisStore keeps descriptor lists as JSON values, one key per user.
// Updates use WATCH/MULTI and retry on conflicting writers.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	maxTries  uint
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces keys, e.g. per environment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if strings.TrimSpace(prefix) != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithTTL sets the lease refreshed on every write. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxTries bounds optimistic transaction attempts.
func WithMaxTries(tries uint) RedisOption {
	return func(s *RedisStore) {
		if tries > 0 {
			s.maxTries = tries
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       defaultTTL,
		maxTries:  defaultMaxTries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(userID string) string {
	return s.keyPrefix + userID
}

func (s *RedisStore) Load(ctx context.Context, userID string) ([]connection.Descriptor, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load presence %s: %w", userID, err)
	}
	return decodeDescriptors(raw)
}

func (s *RedisStore) Update(ctx context.Context, userID string, mutate Mutator) ([]connection.Descriptor, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	key := s.key(userID)

	attempt := func() ([]connection.Descriptor, error) {
		var committed []connection.Descriptor
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var current []connection.Descriptor
			raw, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if current, err = decodeDescriptors(raw); err != nil {
					return err
				}
			}

			next, err := mutate(current)
			if err != nil {
				return &mutateError{err: err}
			}
			var encoded []byte
			if len(next) > 0 {
				if encoded, err = json.Marshal(next); err != nil {
					return fmt.Errorf("encode descriptors: %w", err)
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(next) == 0 {
					pipe.Del(ctx, key)
					return nil
				}
				pipe.Set(ctx, key, encoded, s.ttl)
				return nil
			})
			if err == nil {
				committed = next
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return committed, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialDelay
	policy.MaxInterval = retryMaxDelay

	committed, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxTries),
	)
	if err != nil {
		var mErr *mutateError
		if errors.As(err, &mErr) {
			return nil, mErr.err
		}
		return nil, fmt.Errorf("update presence %s: %w", userID, err)
	}
	return committed, nil
}

func (s *RedisStore) Users(ctx context.Context) ([]string, error) {
	var users []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence keys: %w", err)
	}
	return users, nil
}

// Renew re-applies the TTL to each user's key in one pipeline. It is a no-op
// when expiry is disabled.
func (s *RedisStore) Renew(ctx context.Context, userIDs []string) error {
	if s.ttl <= 0 || len(userIDs) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, userID := range userIDs {
			pipe.Expire(ctx, s.key(userID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("renew presence: %w", err)
	}
	return nil
}

type mutateError struct{ err error }

func (e *mutateError) Error() string { return e.err.Error() }
func (e *mutateError) Unwrap() error { return e.err }

func decodeDescriptors(raw []byte) ([]connection.Descriptor, error) {
	var descriptors []connection.Descriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return nil, fmt.Errorf("decode descriptors: %w", err)
	}
	return descriptors, nil
}

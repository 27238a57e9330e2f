package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlacklistStore keeps revoked tokens in Redis. Tokens are stored under
// a digest key so arbitrarily long bearer strings never become key material.
// An optional TTL lets entries expire alongside the tokens they revoke.
type RedisBlacklistStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ BlacklistStore = (*RedisBlacklistStore)(nil)

// RedisBlacklistOption configures a RedisBlacklistStore.
type RedisBlacklistOption func(*RedisBlacklistStore)

// WithRedisKeyPrefix overrides the default key prefix.
func WithRedisKeyPrefix(prefix string) RedisBlacklistOption {
	return func(s *RedisBlacklistStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisTTL expires blacklist entries after d. Zero keeps them forever.
func WithRedisTTL(d time.Duration) RedisBlacklistOption {
	return func(s *RedisBlacklistStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewRedisBlacklistStore builds a Redis-backed store.
func NewRedisBlacklistStore(client *redis.Client, opts ...RedisBlacklistOption) *RedisBlacklistStore {
	s := &RedisBlacklistStore{
		client: client,
		prefix: "guard:blacklist",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBlacklistStore) key(rule *Rule, token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + ":" + rule.Name + ":" + hex.EncodeToString(sum[:])
}

// Add marks the token revoked. Revoking an already revoked token fails to
// preserve the never-updated contract of blacklist entries.
func (s *RedisBlacklistStore) Add(ctx context.Context, rule *Rule, token string, extra map[string]any) error {
	set, err := s.client.SetNX(ctx, s.key(rule, token), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return NewPersistenceError(err, "blacklist.add")
	}
	if !set {
		return NewPersistenceError(errDuplicateBlacklistEntry, "blacklist.add")
	}
	return nil
}

var errDuplicateBlacklistEntry = errors.New("token already blacklisted")

// Contains checks membership by token digest.
func (s *RedisBlacklistStore) Contains(ctx context.Context, rule *Rule, token string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(rule, token)).Result()
	if err != nil {
		return false, NewPersistenceError(err, "blacklist.contains")
	}
	return n > 0, nil
}

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/repository"
)

const (
	sessionFieldID        = "id"
	sessionFieldUserID    = "user_id"
	sessionFieldRole      = "role"
	sessionFieldCreatedAt = "created_at"
	sessionFieldExpiresAt = "expires_at"
)

// SessionCache mirrors active sessions in Redis hashes keyed by token hash,
// so request validation avoids a Postgres round trip on the hot path.
type SessionCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewSessionCache constructs a cache using the provided client and key prefix.
func NewSessionCache(client *redis.Client, keyPrefix string) *SessionCache {
	return &SessionCache{client: client, keyPrefix: keyPrefix}
}

// Set stores the session under its token hash with the given TTL.
func (c *SessionCache) Set(ctx context.Context, session domain.Session, ttl time.Duration) error {
	if session.TokenHash == "" {
		return fmt.Errorf("session token hash is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	key := c.key(session.TokenHash)
	fields := map[string]any{
		sessionFieldID:        session.ID,
		sessionFieldUserID:    session.UserID,
		sessionFieldRole:      string(session.Role),
		sessionFieldCreatedAt: strconv.FormatInt(session.CreatedAt.UnixNano(), 10),
		sessionFieldExpiresAt: strconv.FormatInt(session.ExpiresAt.UnixNano(), 10),
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset session: %w", err)
	}

	return nil
}

// Get loads the cached session for a token hash. Returns repository.ErrNotFound on miss.
func (c *SessionCache) Get(ctx context.Context, tokenHash string) (*domain.Session, error) {
	values, err := c.client.HGetAll(ctx, c.key(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall session: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	createdAt, err := strconv.ParseInt(values[sessionFieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(values[sessionFieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &domain.Session{
		ID:        values[sessionFieldID],
		UserID:    values[sessionFieldUserID],
		TokenHash: tokenHash,
		Role:      domain.Role(values[sessionFieldRole]),
		CreatedAt: time.Unix(0, createdAt),
		ExpiresAt: time.Unix(0, expiresAt),
	}, nil
}

// Delete removes the cached session. Missing keys are not an error.
func (c *SessionCache) Delete(ctx context.Context, tokenHash string) error {
	if err := c.client.Del(ctx, c.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

func (c *SessionCache) key(tokenHash string) string {
	if c.keyPrefix == "" {
		return tokenHash
	}
	return fmt.Sprintf("%s:%s", c.keyPrefix, tokenHash)
}

var _ port.SessionCache = (*SessionCache)(nil)

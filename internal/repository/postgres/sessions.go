package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/repository"
)

// SessionRepository implements port.SessionRepository for PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	sql, args, err := r.builder.Insert("auth.sessions").
		Columns(
			"id",
			"user_id",
			"token_hash",
			"role",
			"ip",
			"user_agent",
			"created_at",
			"expires_at",
			"revoked_at",
			"revoke_reason",
		).
		Values(
			session.ID,
			session.UserID,
			session.TokenHash,
			session.Role,
			session.IP,
			session.UserAgent,
			session.CreatedAt,
			session.ExpiresAt,
			session.RevokedAt,
			session.RevokeReason,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByTokenHash returns the session with the given token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"user_id",
		"token_hash",
		"role",
		"ip",
		"user_agent",
		"created_at",
		"expires_at",
		"revoked_at",
		"revoke_reason",
	).
		From("auth.sessions").
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var session domain.Session
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.Role,
		&session.IP,
		&session.UserAgent,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.RevokedAt,
		&session.RevokeReason,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return &session, nil
}

// Revoke marks a session revoked. Already-revoked and unknown sessions
// report repository.ErrNotFound so callers can treat logout as idempotent.
func (r *SessionRepository) Revoke(ctx context.Context, tokenHash string, at time.Time, reason string) error {
	sql, args, err := r.builder.Update("auth.sessions").
		Set("revoked_at", at).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke session sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeleteExpiredBefore removes sessions whose expiry passed before the
// cutoff. Used by the maintenance path, never by request handling.
func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	sql, args, err := r.builder.Delete("auth.sessions").
		Where(squirrel.Lt{"expires_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired sessions sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)

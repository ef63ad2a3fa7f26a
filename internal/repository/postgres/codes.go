package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CodeRepository implements port.CodeRepository using PostgreSQL. Rows are
// never deleted by the online path; retention is handled by an external job.
type CodeRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCodeRepository constructs a code repository backed by the provided executor.
func NewCodeRepository(exec pgExecutor) *CodeRepository {
	return &CodeRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new verification code row.
func (r *CodeRepository) Create(ctx context.Context, code domain.VerificationCode) error {
	sql, args, err := r.builder.Insert("auth.verification_codes").
		Columns(
			"id",
			"email",
			"code_hash",
			"attempt_count",
			"created_at",
			"expires_at",
			"consumed_at",
			"superseded_at",
		).
		Values(
			code.ID,
			code.Email,
			code.CodeHash,
			code.AttemptCount,
			code.CreatedAt,
			code.ExpiresAt,
			code.ConsumedAt,
			code.SupersededAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert verification code sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert verification code: %w", err)
	}

	return nil
}

// GetCurrentByEmail returns the newest unconsumed, unsuperseded code for the
// email. Expiry is judged by the caller.
func (r *CodeRepository) GetCurrentByEmail(ctx context.Context, email string) (*domain.VerificationCode, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"email",
		"code_hash",
		"attempt_count",
		"created_at",
		"expires_at",
		"consumed_at",
		"superseded_at",
	).
		From("auth.verification_codes").
		Where(squirrel.Eq{"email": email}).
		Where("consumed_at IS NULL").
		Where("superseded_at IS NULL").
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select verification code sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var code domain.VerificationCode
	if err := row.Scan(
		&code.ID,
		&code.Email,
		&code.CodeHash,
		&code.AttemptCount,
		&code.CreatedAt,
		&code.ExpiresAt,
		&code.ConsumedAt,
		&code.SupersededAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan verification code: %w", err)
	}

	return &code, nil
}

// SupersedeActive invalidates every active code for the email so only the
// newest issuance is ever verifiable.
func (r *CodeRepository) SupersedeActive(ctx context.Context, email string, at time.Time) (int, error) {
	sql, args, err := r.builder.Update("auth.verification_codes").
		Set("superseded_at", at).
		Where(squirrel.Eq{"email": email}).
		Where("consumed_at IS NULL").
		Where("superseded_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build supersede codes sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("supersede codes: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// IncrementAttempts bumps the failed-attempt counter atomically and returns
// the new value.
func (r *CodeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	row := r.exec.QueryRow(ctx,
		"UPDATE auth.verification_codes SET attempt_count = attempt_count + 1 WHERE id = $1 RETURNING attempt_count",
		id,
	)

	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment code attempts: %w", err)
	}

	return count, nil
}

// Consume marks the code consumed only if it has not been consumed yet.
// The conditional WHERE is the single atomic operation the whole flow
// relies on: under concurrent duplicate submissions exactly one update
// affects a row and every other caller observes ErrAlreadyConsumed.
func (r *CodeRepository) Consume(ctx context.Context, id string, at time.Time) error {
	sql, args, err := r.builder.Update("auth.verification_codes").
		Set("consumed_at", at).
		Where(squirrel.Eq{"id": id}).
		Where("consumed_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume code sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrAlreadyConsumed
	}

	return nil
}

var _ port.CodeRepository = (*CodeRepository)(nil)

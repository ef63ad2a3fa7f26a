package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
	"github.com/harborlight/portal-auth-service/internal/repository"
)

func TestSessionRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)

	createdAt := time.Now().UTC()
	ip := "198.51.100.10"
	session := domain.Session{
		ID:        "session-1",
		UserID:    "user-1",
		TokenHash: "cafef00d",
		Role:      domain.RoleMember,
		IP:        &ip,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(30 * 24 * time.Hour),
	}

	mock.ExpectExec(`INSERT INTO auth\.sessions`).
		WithArgs(
			session.ID,
			session.UserID,
			session.TokenHash,
			session.Role,
			ip,
			nil,
			session.CreatedAt,
			session.ExpiresAt,
			nil,
			nil,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRepository_GetByTokenHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)

	createdAt := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "user_id", "token_hash", "role", "ip", "user_agent", "created_at", "expires_at", "revoked_at", "revoke_reason",
	}).AddRow(
		"session-1", "user-1", "cafef00d", domain.RoleAdmin, nil, nil, createdAt, createdAt.Add(time.Hour), nil, nil,
	)

	mock.ExpectQuery(`SELECT .*FROM auth\.sessions`).
		WithArgs("cafef00d").
		WillReturnRows(rows)

	session, err := repo.GetByTokenHash(context.Background(), "cafef00d")
	if err != nil {
		t.Fatalf("GetByTokenHash returned error: %v", err)
	}
	if session.ID != "session-1" || session.Role != domain.RoleAdmin {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestSessionRepository_Revoke_Idempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE auth\.sessions SET revoked_at`).
		WithArgs(at, "logout", "cafef00d").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.Revoke(context.Background(), "cafef00d", at, "logout"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for already revoked session, got %v", err)
	}
}

func TestSessionRepository_DeleteExpiredBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)
	cutoff := time.Now().UTC()

	mock.ExpectExec(`DELETE FROM auth\.sessions`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	count, err := repo.DeleteExpiredBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteExpiredBefore returned error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 deleted rows, got %d", count)
	}
}

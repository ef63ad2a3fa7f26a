package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Codes    *CodeRepository
	Sessions *SessionRepository
	Users    *UserRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Codes:    NewCodeRepository(pool),
		Sessions: NewSessionRepository(pool),
		Users:    NewUserRepository(pool),
	}
}

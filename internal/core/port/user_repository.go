package port

import (
	"context"
	"time"

	"github.com/harborlight/portal-auth-service/internal/core/domain"
)

// UserRepository reads and creates portal user records. The wider CRUD
// surface for profiles lives outside this service; only the operations the
// auth flow needs are expressed here.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, user domain.User) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

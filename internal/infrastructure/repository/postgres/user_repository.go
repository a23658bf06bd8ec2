package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// UserRepository reads users provisioned by the external auth service.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	row := r.db.QueryRowContext(ctx, `
SELECT id, email, role
FROM users
WHERE lower(email) = lower($1)
`, email)

	var user domain.User
	if err := row.Scan(&user.ID, &user.Email, &user.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUserNotFound, "get user by email", fmt.Errorf("email=%s", email))
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// IdentityService maps email addresses to user accounts, lazily creating
// placeholder requesters for unknown senders.
type IdentityService struct {
	users repository.UserRepository
}

// NewIdentityService builds the service.
func NewIdentityService(users repository.UserRepository) *IdentityService {
	return &IdentityService{users: users}
}

// NormalizeEmail case-folds and trims an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Resolve returns the user owning the address, creating a requester account
// with no usable credential when none exists. A concurrent create of the
// same address is resolved by treating the unique violation as "already
// exists" and re-fetching.
func (s *IdentityService) Resolve(ctx context.Context, email string) (*domain.User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, apperrors.NewInvalidInput("email required", nil)
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	created := &domain.User{
		Email:  normalized,
		Name:   displayNameFor(normalized),
		Role:   domain.RoleRequester,
		Active: true,
	}
	if err := s.users.Create(ctx, created); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, fetchErr := s.users.GetByEmail(ctx, normalized)
			if fetchErr != nil {
				return nil, apperrors.MapError(fetchErr)
			}
			return existing, nil
		}
		return nil, apperrors.MapError(err)
	}
	return created, nil
}

func displayNameFor(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

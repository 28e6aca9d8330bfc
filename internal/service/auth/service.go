// Package auth verifies bearer tokens issued by the campus identity provider.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	"github.com/splax/teamforge/internal/repository"
	jwtpkg "github.com/splax/teamforge/pkg/jwt"
)

// Service resolves tokens to users.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	secret string
	now    func() time.Time
}

// New constructs a Service verifying tokens signed with secret.
func New(users repository.UserRepository, logger *slog.Logger, secret string) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{users: users, logger: logger, secret: secret, now: func() time.Time { return time.Now().UTC() }}
}

// Authorize validates a bearer token and returns the associated user and
// claims. A valid token for an unknown user that carries an email provisions
// a student account on first use.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, apperr.New(apperr.KindUnauthorized, "token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.secret)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindUnauthorized, "invalid token", err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err == nil {
		return user, claims, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		s.logger.ErrorContext(ctx, "auth store failure", "op", "load user", "error", err)
		return nil, nil, apperr.Wrap(apperr.KindInternal, "internal error", err)
	}
	if claims.Email == "" {
		return nil, nil, apperr.New(apperr.KindUnauthorized, "unknown user")
	}
	user, err = s.provision(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

func (s Service) provision(ctx context.Context, claims *jwtpkg.Claims) (*domain.User, error) {
	user := &domain.User{
		ID:        claims.UserID,
		Email:     domain.NormalizeEmail(claims.Email),
		Role:      domain.RoleStudent,
		CreatedAt: s.now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// The id raced us in, or the email belongs to another account.
			if existing, getErr := s.users.GetUserByID(ctx, claims.UserID); getErr == nil {
				return existing, nil
			}
			return nil, apperr.New(apperr.KindUnauthorized, "email is registered to another account")
		}
		s.logger.ErrorContext(ctx, "auth store failure", "op", "provision user", "error", err)
		return nil, apperr.Wrap(apperr.KindInternal, "internal error", err)
	}
	s.logger.InfoContext(ctx, "user provisioned", "user_id", user.ID)
	return user, nil
}

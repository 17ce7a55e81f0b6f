package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"boutika/backend/internal/domain"
	"boutika/backend/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticate verifies credentials and returns the actor identity used for
// token claims. Unknown users and wrong passwords are indistinguishable to
// the caller.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.Actor, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Actor{}, ErrInvalidCredentials
	}

	account, err := s.repo.GetEmployee(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, ErrInvalidCredentials
		}
		return domain.Actor{}, err
	}
	if !account.Active {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)) != nil {
		return domain.Actor{}, ErrInvalidCredentials
	}

	return domain.Actor{
		Username:  account.Username,
		Role:      account.Role,
		CompanyID: account.CompanyID,
	}, nil
}

// ChangePassword lets an authenticated user rotate their own password.
func (s *Service) ChangePassword(ctx context.Context, current string, next string) error {
	actor, err := requireRole(ctx, domain.RoleEmployee)
	if err != nil {
		return err
	}
	if len(next) < 8 {
		return store.ErrInvalidInput
	}

	account, err := s.repo.GetEmployee(ctx, actor.Username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	return s.repo.UpdateEmployeePassword(ctx, actor.Username, hash)
}

package users

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword rejects passwords below the minimum length.
var ErrWeakPassword = errors.New("users: password must be at least 8 characters")

// ErrInvalidUsername rejects empty or malformed usernames.
var ErrInvalidUsername = errors.New("users: username must not be empty")

// ErrPasswordMismatch rejects a password change with a wrong current password.
var ErrPasswordMismatch = errors.New("users: current password does not match")

// Service manages staff accounts. Passwords are stored as bcrypt hashes and
// never leave this package in clear text.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateInput carries a new account request.
type CreateInput struct {
	Username string
	FullName string
	Password string
}

// Create registers a staff account with a hashed password.
func (s *Service) Create(ctx context.Context, input CreateInput) (User, error) {
	username := strings.TrimSpace(strings.ToLower(input.Username))
	if username == "" {
		return User{}, ErrInvalidUsername
	}
	if len(input.Password) < 8 {
		return User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.Insert(ctx, User{
		Username:     username,
		FullName:     strings.TrimSpace(input.FullName),
		PasswordHash: string(hash),
		Active:       true,
	})
}

// Get loads a single account.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// List lists accounts.
func (s *Service) List(ctx context.Context, filter Filter) ([]User, int, error) {
	return s.repo.List(ctx, filter)
}

// SetActive enables or disables an account. Disabled accounts keep their
// sale history but can no longer log in.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	user.Active = active
	return s.repo.Update(ctx, user)
}

// ChangePassword replaces the stored hash after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, id int64, current, next string) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrPasswordMismatch
	}
	if len(next) < 8 {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	return s.repo.Update(ctx, user)
}

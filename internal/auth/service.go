// Package auth implements credential checks and the session login flow.
package auth

import (
	"context"
	"errors"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/botica-erp/botica/internal/shared"
	"github.com/botica-erp/botica/internal/users"
)

// CredentialSource resolves accounts for login.
type CredentialSource interface {
	GetByUsername(ctx context.Context, username string) (users.User, error)
	GetByID(ctx context.Context, id int64) (users.User, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// dummyHash is a valid bcrypt hash compared against when the username does
// not exist, so both branches cost one bcrypt verification.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Service verifies credentials against stored bcrypt hashes. Lookup failures
// and password mismatches collapse into one error so responses do not leak
// which usernames exist.
type Service struct {
	source CredentialSource
	audit  AuditPort
}

// NewService builds Service.
func NewService(source CredentialSource, audit AuditPort) *Service {
	return &Service{source: source, audit: audit}
}

// Authenticate checks a username/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (users.User, error) {
	user, err := s.source.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			// Burn comparable time so missing users are not distinguishable
			// by response latency.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return users.User{}, shared.ErrInvalidCredentials
		}
		return users.User{}, err
	}
	if !user.Active {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	s.recordAudit(ctx, user.ID)
	return user, nil
}

// CurrentUser resolves the account behind a session user id.
func (s *Service) CurrentUser(ctx context.Context, id int64) (users.User, error) {
	if id <= 0 {
		return users.User{}, shared.ErrUnauthenticated
	}
	user, err := s.source.GetByID(ctx, id)
	if errors.Is(err, users.ErrUserNotFound) {
		return users.User{}, shared.ErrUnauthenticated
	}
	return user, err
}

func (s *Service) recordAudit(ctx context.Context, userID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   "auth:login",
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
	})
}

package users

import (
	"errors"
	"time"
)

// User is a staff account that can operate the point of sale.
type User struct {
	ID           int64
	Username     string
	FullName     string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrUserNotFound indicates a missing user row.
var ErrUserNotFound = errors.New("users: user not found")

// ErrUsernameTaken indicates a duplicate username.
var ErrUsernameTaken = errors.New("users: username already taken")

// Filter narrows user listings.
type Filter struct {
	Active  *bool
	Page    int
	PerPage int
}

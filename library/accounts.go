package library

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

const minPasswordLen = 4

// AccountService creates, authenticates and administers users.
type AccountService struct {
	store UserStore
	cost  int
}

// NewAccountService hashes passwords at bcrypt.DefaultCost.
func NewAccountService(store UserStore) *AccountService {
	return NewAccountServiceWithCost(store, bcrypt.DefaultCost)
}

// NewAccountServiceWithCost lets tests trade hash strength for speed.
func NewAccountServiceWithCost(store UserStore, cost int) *AccountService {
	if store == nil {
		panic("library: nil user store")
	}
	return &AccountService{store: store, cost: cost}
}

func validatePassword(password string) error {
	if len(strings.TrimSpace(password)) < minPasswordLen {
		return invalid("password", "must be at least 4 characters")
	}
	return nil
}

// CreateUser registers a new account. A taken username yields ErrUserExists.
func (s *AccountService) CreateUser(ctx context.Context, username, password string, role Role) (*User, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return nil, invalid("username", "required")
	}
	if !usernamePattern.MatchString(u) {
		return nil, invalid("username", "must be 3-20 chars: letters, numbers, underscore")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}
	user := &User{Username: u, PasswordHash: string(hash), Role: role}
	if err := s.store.AddUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate returns the user when the password matches, nil otherwise.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.store.FindUser(ctx, username)
	if err != nil || u == nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (s *AccountService) FindUser(ctx context.Context, username string) (*User, error) {
	return s.store.FindUser(ctx, username)
}

// ResetPassword replaces the password of an existing user.
func (s *AccountService) ResetPassword(ctx context.Context, username, newPassword string) (bool, error) {
	u, err := s.store.FindUser(ctx, username)
	if err != nil || u == nil {
		return false, err
	}
	if err := validatePassword(newPassword); err != nil {
		return false, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return false, err
	}
	return s.store.UpdatePasswordHash(ctx, u.Username, string(hash))
}

// DeleteUser removes an account with no loan history.
func (s *AccountService) DeleteUser(ctx context.Context, username string) (bool, error) {
	return s.store.DeleteUser(ctx, username)
}

// ListUsers returns all accounts ordered case-insensitively by username.
func (s *AccountService) ListUsers(ctx context.Context) ([]*User, error) {
	return s.store.ListUsers(ctx)
}

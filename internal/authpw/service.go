// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"pirhub/api/internal/store"
)

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
	Department  string
}

// SignUp creates a new user account. The role is fixed at sign-up and
// defaults to requester.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return store.User{}, errors.New("email, password, and display name are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	role := store.Role(req.Role)
	if role == "" {
		role = store.RoleRequester
	}
	if !store.ValidRole(role) {
		return store.User{}, fmt.Errorf("invalid role %q", req.Role)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Check if email already exists
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		DisplayName:  req.DisplayName,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Department:   req.Department,
	})
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}
	return user, nil
}

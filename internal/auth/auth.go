// Package auth registers and authenticates dashboard accounts.
package auth

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lox/sensorfault/internal/models"
	"github.com/lox/sensorfault/internal/store"
)

const (
	MinUsernameLen = 3
	MinPasswordLen = 6

	AdminUsername = "admin"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTooShort   = fmt.Errorf("username must be at least %d characters", MinUsernameLen)
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
)

type Service struct {
	store *store.Store
	cost  int
}

func NewService(s *store.Store) *Service {
	return &Service{store: s, cost: bcrypt.DefaultCost}
}

// Register creates a regular user account.
func (a *Service) Register(username, name, password string) (*models.User, error) {
	return a.create(username, name, password, models.RoleUser)
}

// Create is Register with an explicit role, for admin tooling.
func (a *Service) Create(username, name, password string, role models.Role) (*models.User, error) {
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return a.create(username, name, password, role)
}

func (a *Service) create(username, name, password string, role models.Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < MinUsernameLen {
		return nil, ErrUsernameTooShort
	}
	if len(password) < MinPasswordLen {
		return nil, ErrPasswordTooShort
	}
	if strings.TrimSpace(name) == "" {
		name = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{
		Username:     username,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
	}
	if err := a.store.CreateUser(u); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return &u, nil
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords both return ErrInvalidCredentials.
func (a *Service) Authenticate(username, password string) (*models.User, error) {
	u, err := a.store.GetUser(strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureAdmin seeds the admin account when it does not exist yet. An empty
// password skips seeding.
func (a *Service) EnsureAdmin(password string) error {
	if password == "" {
		return nil
	}
	existing, err := a.store.GetUser(AdminUsername)
	if err != nil {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		return nil
	}
	if _, err := a.create(AdminUsername, "Administrator", password, models.RoleAdmin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	log.Printf("auth: seeded %s account", AdminUsername)
	return nil
}

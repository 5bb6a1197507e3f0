package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/roomwire/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Session is the result of a successful register or login. The user id it
// carries is what other participants put in participantIds.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *store.User
}

// Service registers chat users and issues the tokens the gateway accepts.
type Service struct {
	users store.UserStore
	jwt   *JWTConfig
	now   func() time.Time
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{users: userStore, jwt: jwtConfig, now: time.Now}
}

// Register creates a user and opens a session for it.
func (s *Service) Register(ctx context.Context, username, password string) (*Session, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if errors.Is(err, store.ErrUserExists) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	return s.open(user)
}

// Login checks the password of an existing user and opens a session.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user %q: %w", username, err)
	}

	if ComparePassword(user.PasswordHash, password) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.open(user)
}

func (s *Service) open(user *store.User) (*Session, error) {
	token, err := GenerateToken(s.jwt, user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: s.now().Add(s.jwt.TTL), User: user}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwt, tokenString)
}

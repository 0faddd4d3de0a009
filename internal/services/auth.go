package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/beaconlabs/beacon/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSessionNotFound    = errors.New("session not found")
	ErrWeakPassword       = errors.New("password too short")
)

const (
	sessionKeyPrefix  = "session:"
	sessionTTL        = 30 * 24 * time.Hour
	PasswordMinLength = 8
)

// AuthServiceInterface covers session issuance and validation.
type AuthServiceInterface interface {
	Register(ctx context.Context, username, password string, displayName, email *string) (*models.User, string, error)
	Login(ctx context.Context, username, password string) (*models.User, string, error)
	Logout(ctx context.Context, token string) error
	ValidateSession(ctx context.Context, token string) (uuid.UUID, error)
}

// AuthService owns password verification and opaque session tokens. Tokens
// are stored hashed in Redis with a sliding TTL; the raw token is only ever
// held by the client.
type AuthService struct {
	users UserServiceInterface
	redis RedisClient
}

func NewAuthService(users UserServiceInterface, redisClient RedisClient) *AuthService {
	return &AuthService{users: users, redis: redisClient}
}

func (s *AuthService) Register(ctx context.Context, username, password string, displayName, email *string) (*models.User, string, error) {
	if len(password) < PasswordMinLength {
		return nil, "", ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.users.Create(ctx, models.CreateUserParams{
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: string(hash),
		Searchable:   true,
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, sessionKey(token)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ValidateSession resolves a raw token to a user id, refreshing the sliding
// TTL on success.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (uuid.UUID, error) {
	key := sessionKey(token)
	value, err := s.redis.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrSessionNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("getting session: %w", err)
	}

	userID, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, ErrSessionNotFound
	}

	if err := s.redis.Expire(ctx, key, sessionTTL); err != nil {
		return uuid.Nil, fmt.Errorf("refreshing session: %w", err)
	}
	return userID, nil
}

func (s *AuthService) createSession(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, sessionKey(token), userID.String(), sessionTTL); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return token, nil
}

func generateSessionToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func sessionKey(token string) string {
	hash := sha256.Sum256([]byte(token))
	return sessionKeyPrefix + hex.EncodeToString(hash[:])
}

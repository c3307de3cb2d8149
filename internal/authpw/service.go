// Package authpw provides password authentication and the login-method
// check used by the admin UI login flow.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// MethodPassword is the only supported login backend; SSO clients are
// resolved upstream by the identity provider integration.
const MethodPassword = "password"

// Failure codes returned by the login-method check.
const (
	CodeInvalidEmail  = "invalid_email"
	CodeNoUser        = "no_user"
	CodeNoAdminAccess = "no_admin_access"
	CodeNoPassword    = "no_password"
	CodeThrottled     = "throttled"
)

// CheckError is a login-method failure with a machine-readable code.
type CheckError struct {
	Code   string
	Detail string
}

func (e *CheckError) Error() string {
	return e.Detail
}

var ErrInvalidCredentials = errors.New("invalid email or password")

// UserStore is the storage surface the auth service needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetPersonByEmail(ctx context.Context, email string) (store.Person, error)
}

// Throttle rate-limits login checks per key.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisThrottle implements a fixed-window rate limit in Redis.
type RedisThrottle struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisThrottle creates a throttle allowing limit calls per window.
func NewRedisThrottle(client *redis.Client, limit int, window time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, limit: limit, window: window}
}

func (t *RedisThrottle) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "throttle:" + key
	count, err := t.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("throttle incr: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, redisKey, t.window).Err(); err != nil {
			return false, fmt.Errorf("throttle expire: %w", err)
		}
	}
	return count <= int64(t.limit), nil
}

// NoThrottle allows everything; used when Redis is not configured.
type NoThrottle struct{}

func (NoThrottle) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

type Service struct {
	store    UserStore
	throttle Throttle
}

func NewService(userStore UserStore, throttle Throttle) *Service {
	if throttle == nil {
		throttle = NoThrottle{}
	}
	return &Service{store: userStore, throttle: throttle}
}

// CheckLoginMethod decides how a user should log in, or why they cannot.
// Calls are throttled per email address.
func (s *Service) CheckLoginMethod(ctx context.Context, email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))

	ok, err := s.throttle.Allow(ctx, "check-login:"+normalized)
	if err != nil {
		return "", fmt.Errorf("throttle: %w", err)
	}
	if !ok {
		return "", &CheckError{Code: CodeThrottled, Detail: "Too many requests"}
	}

	if _, err := mail.ParseAddress(normalized); err != nil {
		return "", &CheckError{Code: CodeInvalidEmail, Detail: "Please enter a valid email address"}
	}

	user, err := s.store.GetUserByEmail(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return "", &CheckError{Code: CodeNoUser, Detail: "No user found with this email address"}
	}
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}

	// Admin access requires a person record; a bare user account cannot
	// administer anything.
	if !user.IsSuperuser {
		if _, err := s.store.GetPersonByEmail(ctx, normalized); errors.Is(err, store.ErrNotFound) {
			return "", &CheckError{Code: CodeNoAdminAccess, Detail: "This user does not have admin access"}
		} else if err != nil {
			return "", fmt.Errorf("get person: %w", err)
		}
	}

	if !user.IsActive() || !user.HasUsablePassword() {
		return "", &CheckError{Code: CodeNoPassword, Detail: "This user has no password set"}
	}

	return MethodPassword, nil
}

// Login verifies an email/password pair.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))

	ok, err := s.throttle.Allow(ctx, "login:"+normalized)
	if err != nil {
		return store.User{}, fmt.Errorf("throttle: %w", err)
	}
	if !ok {
		return store.User{}, &CheckError{Code: CodeThrottled, Detail: "Too many requests"}
	}

	user, err := s.store.GetUserByEmail(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get user: %w", err)
	}
	if !user.IsActive() || !user.HasUsablePassword() {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

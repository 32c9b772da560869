package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/healthadvisor/server/internal/auth"
	"github.com/healthadvisor/server/internal/models"
)

type memoryUsers struct {
	users map[string]models.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]models.User)}
}

func (m *memoryUsers) Create(ctx context.Context, user models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memoryUsers) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	for _, user := range m.users {
		if strings.ToLower(user.Username) == key || (user.Email != "" && strings.ToLower(user.Email) == key) {
			found := user
			return &found, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (m *memoryUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &user, nil
}

func (m *memoryUsers) TouchUpdatedAt(ctx context.Context, id string, at time.Time) error {
	user, ok := m.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	user.UpdatedAt = at
	m.users[id] = user
	return nil
}

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	svc, err := auth.NewService("test-secret", time.Hour, newMemoryUsers())
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	registerResult, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if registerResult.Token == "" {
		t.Fatalf("expected token on registration")
	}
	if registerResult.User.Username != "alice" {
		t.Fatalf("expected username alice, got %s", registerResult.User.Username)
	}
	if registerResult.User.PasswordHash != "" {
		t.Fatalf("expected password hash to be stripped from result")
	}

	userID, err := svc.Verify(registerResult.Token)
	if err != nil {
		t.Fatalf("verify token failed: %v", err)
	}
	if userID != registerResult.User.ID {
		t.Fatalf("expected token subject %s, got %s", registerResult.User.ID, userID)
	}

	if _, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "another!",
	}); !errors.Is(err, auth.ErrUserExists) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}

	if _, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "another!",
	}); !errors.Is(err, auth.ErrEmailExists) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}

	loginResult, err := svc.Login(context.Background(), auth.LoginInput{
		Identifier: "alice",
		Password:   "s3cret!",
	})
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}
	if loginResult.Token == "" {
		t.Fatalf("expected token on login")
	}

	if _, err := svc.Login(context.Background(), auth.LoginInput{
		Identifier: "alice",
		Password:   "wrong",
	}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials error, got %v", err)
	}
}

func TestAuthServiceValidation(t *testing.T) {
	svc, err := auth.NewService("test-secret", time.Hour, newMemoryUsers())
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if _, err := svc.Register(context.Background(), auth.RegisterInput{Password: "longenough"}); !errors.Is(err, auth.ErrUsernameRequired) {
		t.Fatalf("expected username-required error, got %v", err)
	}

	if _, err := svc.Register(context.Background(), auth.RegisterInput{Username: "bob", Password: "short"}); !errors.Is(err, auth.ErrPasswordTooWeak) {
		t.Fatalf("expected weak-password error, got %v", err)
	}

	if _, err := auth.NewService("   ", time.Hour, newMemoryUsers()); !errors.Is(err, auth.ErrSecretRequired) {
		t.Fatalf("expected secret-required error, got %v", err)
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	svc, err := auth.NewService("test-secret", time.Hour, newMemoryUsers())
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if _, err := svc.Verify("not-a-token"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vaxsched/vaccine-scheduler/internal/scheduling"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository(), "test-secret", time.Hour)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.Register(ctx, "alice", "Str0ng#pass", scheduling.RoleCaregiver)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Username != "alice" || a.Role != scheduling.RoleCaregiver {
		t.Errorf("unexpected account: %+v", a)
	}
	if a.PasswordHash == "Str0ng#pass" {
		t.Error("password stored in clear")
	}

	token, err := svc.Login(ctx, "alice", "Str0ng#pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	identity, role, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if identity != "alice" || role != scheduling.RoleCaregiver {
		t.Errorf("token carries %s/%s", identity, role)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "Str0ng#pass", scheduling.RolePatient); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "An0ther#pass", scheduling.RolePatient); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got: %v", err)
	}
}

func TestRegister_PasswordPolicy(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	weak := []struct {
		name     string
		password string
	}{
		{"too short", "S#0rt"},
		{"no uppercase", "str0ng#pass"},
		{"no lowercase", "STR0NG#PASS"},
		{"no digit", "Strong#pass"},
		{"no special", "Str0ngpass1"},
		{"wrong special", "Str0ng$pass"},
	}
	for _, tc := range weak {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, "u-"+tc.name, tc.password, scheduling.RolePatient); !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("expected ErrWeakPassword, got: %v", err)
			}
		})
	}

	for _, ok := range []string{"Str0ng#pass", "Abcdef1!", "Xy9?zzzz"} {
		if _, err := svc.Register(ctx, "u-"+ok, ok, scheduling.RolePatient); err != nil {
			t.Errorf("expected %q to pass the policy: %v", ok, err)
		}
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Login(ctx, "ghost", "Str0ng#pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got: %v", err)
	}

	if _, err := svc.Register(ctx, "alice", "Str0ng#pass", scheduling.RolePatient); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "Wr0ng#pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got: %v", err)
	}
}

func TestVerifyToken_RejectsForgedAndExpired(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "Str0ng#pass", scheduling.RolePatient); err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := svc.Login(ctx, "alice", "Str0ng#pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, _, err := svc.VerifyToken(token + "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected tampered token to fail, got: %v", err)
	}

	other := NewService(NewMemoryRepository(), "other-secret", time.Hour)
	if _, _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected token signed with another secret to fail, got: %v", err)
	}

	expired := NewService(svc.repo, "test-secret", -time.Minute)
	expiredToken, err := expired.Login(ctx, "alice", "Str0ng#pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := svc.VerifyToken(expiredToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected expired token to fail, got: %v", err)
	}
}

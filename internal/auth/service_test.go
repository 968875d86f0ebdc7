package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/balancer-core/internal/validation"
)

const strongPassword = "correct-Horse-battery-staple-42"

func newTestService(t *testing.T) (*Service, *SQLiteUserRepository) {
	t.Helper()
	repo := NewUserRepository(testDB(t))
	return NewService(repo, string(testSecret), time.Hour, 50), repo
}

func TestService_Register(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, Credentials{Email: "  Alice@Example.com ", Password: strongPassword})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Username != "alice@example.com" || user.Email != "alice@example.com" {
		t.Errorf("username/email = %q/%q, want normalised email", user.Username, user.Email)
	}
	if user.Role != RoleUser {
		t.Errorf("Role = %q, want user", user.Role)
	}

	claims, err := svc.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if claims.Subject != user.ID || claims.Username != user.Username || claims.Role != RoleUser {
		t.Errorf("claims = %+v, want subject %s", claims, user.ID)
	}

	stored, err := repo.GetByUsername(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if stored.PasswordHash == strongPassword {
		t.Error("password stored in plain text")
	}
}

func TestService_RegisterRejects(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr error
	}{
		{"missing email", Credentials{Password: strongPassword}, validation.ErrInvalid},
		{"bad email", Credentials{Email: "not-an-email", Password: strongPassword}, validation.ErrInvalid},
		{"missing password", Credentials{Email: "a@example.com"}, validation.ErrInvalid},
		{"weak password", Credentials{Email: "a@example.com", Password: "password"}, ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, _, err := svc.Register(context.Background(), tt.creds)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_RegisterDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	creds := Credentials{Email: "bob@example.com", Password: strongPassword}

	if _, _, err := svc.Register(ctx, creds); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	creds.Email = "BOB@example.com"
	if _, _, err := svc.Register(ctx, creds); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("Register(duplicate) error = %v, want ErrUsernameExists", err)
	}
}

func TestService_Login(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, Credentials{Email: "carol@example.com", Password: strongPassword}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	hash, err := HashPassword(strongPassword)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if err := repo.Create(ctx, &User{Username: "dave@example.com", PasswordHash: hash, Role: RoleUser}); err != nil {
		t.Fatalf("Create(inactive) error = %v", err)
	}

	user, token, err := svc.Login(ctx, Credentials{Email: "Carol@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" || user.Username != "carol@example.com" {
		t.Errorf("Login() = %q, %q", user.Username, token)
	}

	failures := []struct {
		name  string
		creds Credentials
	}{
		{"wrong password", Credentials{Email: "carol@example.com", Password: "nope"}},
		{"unknown user", Credentials{Email: "nobody@example.com", Password: strongPassword}},
		{"inactive", Credentials{Email: "dave@example.com", Password: strongPassword}},
		{"empty", Credentials{}},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Login(ctx, tt.creds); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestService_AuthenticateWrongSecret(t *testing.T) {
	svc, _ := newTestService(t)
	other := NewService(nil, "another-secret-another-secret-xx", time.Hour, 0)

	_, token, err := svc.Register(context.Background(), Credentials{Email: "erin@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := other.Authenticate(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Authenticate() error = %v, want ErrTokenInvalid", err)
	}
}

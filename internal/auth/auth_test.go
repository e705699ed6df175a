package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/safe/internal/apperror"
	"github.com/abdul-hamid-achik/safe/internal/db"
)

func testService(t *testing.T) (*Service, *db.Queries) {
	t.Helper()
	sdb, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "db.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sdb.Close() })
	q := db.New(sdb)
	return &Service{
		Queries:        q,
		AccountsOpen:   true,
		FailureLimiter: NewFailureLimiter(nil),
	}, q
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "correct horse" {
		t.Error("password stored unhashed")
	}
	if err := CheckPassword("correct horse", hash); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
	if err := CheckPassword("wrong", hash); err == nil {
		t.Error("CheckPassword() accepted wrong password")
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two tokens collided")
	}
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(a))
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	s, _ := testService(t)

	user, err := s.Register(ctx, "1.1.1.1", "alice", "password1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Token == "" {
		t.Fatal("no token issued")
	}

	t.Run("login with correct credentials", func(t *testing.T) {
		got, err := s.Login(ctx, "1.1.1.1", "alice", "password1")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if got.ID != user.ID {
			t.Errorf("ID = %d, want %d", got.ID, user.ID)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		if _, err := s.Login(ctx, "1.1.1.1", "alice", "nope"); err == nil {
			t.Error("Login() accepted wrong password")
		}
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		_, err := s.Register(ctx, "1.1.1.1", "alice", "password2")
		appErr, ok := apperror.As(err)
		if !ok || appErr.Code != apperror.ErrUsernameTaken.Code {
			t.Errorf("error = %v, want username_taken", err)
		}
	})

	t.Run("root username reserved", func(t *testing.T) {
		if _, err := s.Register(ctx, "1.1.1.1", "ROOT", "password3"); err == nil {
			t.Error("Register(root) = nil error, want reserved")
		}
	})

	t.Run("token resolves the user", func(t *testing.T) {
		got, err := s.ByToken(ctx, user.Token)
		if err != nil {
			t.Fatalf("ByToken() error = %v", err)
		}
		if got.Username != "alice" {
			t.Errorf("Username = %q", got.Username)
		}
	})

	t.Run("bogus token rejected with domain code", func(t *testing.T) {
		_, err := s.ByToken(ctx, "no-such-token")
		appErr, ok := apperror.As(err)
		if !ok || appErr.DomainCode != apperror.CodeInvalidToken {
			t.Errorf("error = %v, want invalid-token domain code", err)
		}
	})
}

func TestEnsureRoot(t *testing.T) {
	ctx := context.Background()
	s, q := testService(t)

	if err := s.EnsureRoot(ctx); err != nil {
		t.Fatalf("EnsureRoot() error = %v", err)
	}
	root, err := q.GetUserByUsername(ctx, "root")
	if err != nil {
		t.Fatalf("root user missing: %v", err)
	}
	if root.Permission < RankSuperadmin {
		t.Errorf("root permission = %d, want superadmin", root.Permission)
	}

	// A populated table is left alone.
	if err := s.EnsureRoot(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := q.CountUsers(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountUsers() = %d, %v, want 1", n, err)
	}
}

func TestFailureLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewFailureLimiter(nil)

	for i := 0; i < maxFailures; i++ {
		if !l.Allow(ctx, "2.2.2.2") {
			t.Fatalf("Allow() = false after %d failures", i)
		}
		l.Record(ctx, "2.2.2.2")
	}
	if l.Allow(ctx, "2.2.2.2") {
		t.Error("Allow() = true past the failure budget")
	}
	// Another IP has its own budget.
	if !l.Allow(ctx, "3.3.3.3") {
		t.Error("budget leaked across IPs")
	}

	var nilLimiter *FailureLimiter
	if !nilLimiter.Allow(ctx, "x") {
		t.Error("nil limiter must allow")
	}
}

func TestLoginRateLimited(t *testing.T) {
	ctx := context.Background()
	s, _ := testService(t)
	if _, err := s.Register(ctx, "9.9.9.9", "mallory", "password1"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < maxFailures; i++ {
		_, _ = s.Login(ctx, "9.9.9.9", "mallory", "wrong")
	}
	_, err := s.Login(ctx, "9.9.9.9", "mallory", "password1")
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code != apperror.ErrRateLimited.Code {
		t.Errorf("error = %v, want rate_limited", err)
	}
}

func TestGroupName(t *testing.T) {
	tests := []struct {
		rank int
		want string
	}{
		{0, "user"},
		{63, "user"},
		{64, "moderator"},
		{128, "admin"},
		{256, "superadmin"},
	}
	for _, tt := range tests {
		if got := GroupName(tt.rank); got != tt.want {
			t.Errorf("GroupName(%d) = %q, want %q", tt.rank, got, tt.want)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername("abc"); err == nil {
		t.Error("short username accepted")
	}
	if err := ValidateUsername(strings.Repeat("a", 33)); err == nil {
		t.Error("long username accepted")
	}
	if err := ValidateUsername("alice"); err != nil {
		t.Errorf("valid username rejected: %v", err)
	}
}

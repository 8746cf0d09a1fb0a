package account

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "accounts.sqlite"), zaptest.NewLogger(t).Sugar(), WithCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterLoginLogout(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(ctx, "alice", "other"); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate register err=%v", err)
	}

	if _, err := s.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong password err=%v", err)
	}
	if _, err := s.Login(ctx, "bob", "pw1"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("unknown user err=%v", err)
	}
	tok, err := s.Login(ctx, "alice", "pw1")
	if err != nil || tok == "" {
		t.Fatalf("login: %q %v", tok, err)
	}
	who, ok, err := s.Owner(ctx, tok)
	if err != nil || !ok || who != "alice" {
		t.Fatalf("owner = %q %v %v", who, ok, err)
	}

	if err := s.Logout(ctx, tok); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := s.Owner(ctx, tok); ok {
		t.Fatalf("token survived logout")
	}
	if err := s.Logout(ctx, "unknown"); err != nil {
		t.Fatalf("logout unknown: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	cases := []struct{ user, pass string }{
		{"", "pw"},
		{"u", ""},
		{strings.Repeat("u", maxUsername+1), "pw"},
		{"u", strings.Repeat("p", maxPassword+1)},
	}
	for _, tc := range cases {
		if err := s.Register(ctx, tc.user, tc.pass); !errors.Is(err, ErrInvalid) {
			t.Fatalf("register(%d,%d) err=%v", len(tc.user), len(tc.pass), err)
		}
	}
}

func TestAccountsPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.sqlite")
	s, err := Open(path, nil, WithCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Register(ctx, "carol", "secret"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Login(ctx, "carol", "secret"); err != nil {
		t.Fatalf("login after reopen: %v", err)
	}
}

package userstore

import (
	"context"
	"errors"
	"testing"

	"github.com/campusreach/authcore"
)

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	u, err := m.Create(ctx, " Alice@Campus.EDU ", "hash-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Email != "alice@campus.edu" || u.ID == "" {
		t.Fatalf("user = %+v", u)
	}
	if _, err := m.Create(ctx, "alice@campus.edu", "hash-2"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate err = %v", err)
	}

	got, err := m.FindByEmail(ctx, "ALICE@campus.edu")
	if err != nil || got.ID != u.ID {
		t.Fatalf("FindByEmail = %+v, %v", got, err)
	}

	if err := m.UpdatePassword(ctx, u.ID, "hash-3"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if got, _ := m.FindByID(ctx, u.ID); got.PasswordHash != "hash-3" {
		t.Fatalf("hash = %q", got.PasswordHash)
	}

	if err := m.SetDisabled(ctx, u.ID, true); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}
	if got, _ := m.FindByEmail(ctx, "alice@campus.edu"); !got.Disabled {
		t.Fatal("user not disabled")
	}
}

func TestMemoryUnknownUser(t *testing.T) {
	m := NewMemory()
	if _, err := m.FindByEmail(context.Background(), "nobody@campus.edu"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("FindByEmail err = %v", err)
	}
	if err := m.UpdatePassword(context.Background(), "missing", "h"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("UpdatePassword err = %v", err)
	}
}

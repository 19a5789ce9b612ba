package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/TiredShaman/assessmatefinal/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logging.Init(false, false)
	st, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return st
}

func TestFindOrCreateUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u1, err := st.FindOrCreateUser(ctx, "google", "sub-1", "ana@cit.edu", "Ana", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !u1.NeedsRoleSelection() {
		t.Fatalf("new user should need role selection")
	}

	u2, err := st.FindOrCreateUser(ctx, "google", "sub-1", "ana@cit.edu", "Ana Cruz", "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u2.ID != u1.ID {
		t.Fatalf("expected same user, got %s and %s", u1.ID, u2.ID)
	}
	if u2.Name != "Ana Cruz" {
		t.Fatalf("expected refreshed name, got %q", u2.Name)
	}

	// same subject at another provider is a different identity
	u3, err := st.FindOrCreateUser(ctx, "oidc", "sub-1", "ana@cit.edu", "Ana", "")
	if err != nil {
		t.Fatalf("create other provider: %v", err)
	}
	if u3.ID == u1.ID {
		t.Fatalf("expected distinct users per provider")
	}

	if _, err := st.FindOrCreateUser(ctx, "", "x", "", "", ""); err == nil {
		t.Fatalf("expected error for empty provider")
	}
}

func TestSetUserRoleOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	u, err := st.FindOrCreateUser(ctx, "dev", "ben", "ben@cit.edu", "Ben", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := st.SetUserRole(ctx, u.ID, "admin"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	got, err := st.SetUserRole(ctx, u.ID, RoleTeacher)
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if got.Role != RoleTeacher || got.NeedsRoleSelection() {
		t.Fatalf("unexpected user after role set: %+v", got)
	}

	got, err = st.SetUserRole(ctx, u.ID, RoleStudent)
	if !errors.Is(err, ErrRoleAlreadySet) {
		t.Fatalf("expected ErrRoleAlreadySet, got %v", err)
	}
	if got == nil || got.Role != RoleTeacher {
		t.Fatalf("role must not change, got %+v", got)
	}
}

func TestUsername(t *testing.T) {
	cases := []struct {
		u    User
		want string
	}{
		{User{ID: "id-1", Email: "carla@cit.edu"}, "carla"},
		{User{ID: "id-2", Email: "nodomain"}, "nodomain"},
		{User{ID: "id-3"}, "id-3"},
	}
	for _, c := range cases {
		if got := c.u.Username(); got != c.want {
			t.Errorf("Username(%+v) = %q, want %q", c.u, got, c.want)
		}
	}
}

func TestAuditLogPrune(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := AuditLog{UserID: "u-1", Provider: "google", Event: "login", Status: "success", Timestamp: time.Now().Add(-48 * time.Hour)}
	fresh := AuditLog{UserID: "u-1", Provider: "google", Event: "login", Status: "error", Detail: "access_denied"}
	for _, e := range []AuditLog{old, fresh} {
		if err := st.RecordAuthEvent(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	n, err := st.PruneAuditLogs(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	logs, err := st.GetUserAuditLogs(ctx, "u-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Detail != "access_denied" {
		t.Fatalf("unexpected remaining logs: %+v", logs)
	}
}

func TestIsPostgresDSN(t *testing.T) {
	for dsn, want := range map[string]bool{
		"postgres://u:p@localhost/db":    true,
		"host=localhost user=u dbname=d": true,
		"assessmate.db":                  false,
		"file::memory:?cache=shared":     false,
	} {
		if got := isPostgresDSN(dsn); got != want {
			t.Errorf("isPostgresDSN(%q) = %v, want %v", dsn, got, want)
		}
	}
}
